package classifier

import (
	"github.com/DerekVonk/vonkfi-sub000/internal/manifest"
	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// Manifest-declared isolation outranks source directives (7) and yields to
// level-forced isolation (9).
const manifestIsolationPriority = 8

// ApplyManifest layers suite-manifest overrides onto classified units:
// tags, prerequisites, and conflicts extend what classification found, and a
// declared isolation type replaces it. Manifest entries win over source
// directives. Applying the same manifest again is a no-op, so cached
// analyses survive repeated runs in watch mode.
func ApplyManifest(units []*models.UnitAnalysis, m *manifest.Manifest) {
	if m == nil {
		return
	}
	for _, unit := range units {
		entry := m.Merged(unit.Path)
		unit.Tags = appendUnique(unit.Tags, entry.Tags)
		unit.Prerequisites = appendUnique(unit.Prerequisites, entry.Prerequisites)
		unit.Conflicts = appendUnique(unit.Conflicts, entry.Conflicts)
		if entry.Isolation != "" {
			unit.Isolation = models.IsolationRequirement{
				Required:   true,
				Type:       entry.Isolation,
				Priority:   manifestIsolationPriority,
				OverheadMS: isolationOverheadMS[entry.Isolation],
			}
		}
	}
}

func appendUnique(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}
	for _, v := range extra {
		if !seen[v] {
			existing = append(existing, v)
			seen[v] = true
		}
	}
	return existing
}
