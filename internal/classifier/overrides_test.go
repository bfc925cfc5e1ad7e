package classifier

import (
	"reflect"
	"testing"

	"github.com/DerekVonk/vonkfi-sub000/internal/manifest"
	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

const overrideManifest = `---
defaults:
  tags: [regression]
---

## tests/banking/transfers.test.ts

- tags: critical
- requires: tests/setup/seed.test.ts
- conflicts: tests/banking/goals.test.ts
- isolation: database
`

func mustManifest(t *testing.T, source string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.NewParser().Parse([]byte(source))
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	return m
}

func TestApplyManifest(t *testing.T) {
	m := mustManifest(t, overrideManifest)

	unit := &models.UnitAnalysis{
		Path:          "tests/banking/transfers.test.ts",
		Tags:          []string{"database"},
		Prerequisites: []string{"tests/setup/accounts.test.ts"},
		Isolation: models.IsolationRequirement{
			Required:   true,
			Type:       models.IsolationTransaction,
			Priority:   7,
			OverheadMS: 100,
		},
	}
	other := &models.UnitAnalysis{Path: "tests/import/camt.test.ts"}

	ApplyManifest([]*models.UnitAnalysis{unit, other}, m)

	wantTags := []string{"database", "regression", "critical"}
	if !reflect.DeepEqual(unit.Tags, wantTags) {
		t.Errorf("tags = %v, want %v", unit.Tags, wantTags)
	}
	wantPrereqs := []string{"tests/setup/accounts.test.ts", "tests/setup/seed.test.ts"}
	if !reflect.DeepEqual(unit.Prerequisites, wantPrereqs) {
		t.Errorf("prerequisites = %v, want %v", unit.Prerequisites, wantPrereqs)
	}
	if !reflect.DeepEqual(unit.Conflicts, []string{"tests/banking/goals.test.ts"}) {
		t.Errorf("conflicts = %v", unit.Conflicts)
	}

	if unit.Isolation.Type != models.IsolationDatabase {
		t.Errorf("isolation type = %v, want database", unit.Isolation.Type)
	}
	if unit.Isolation.Priority != manifestIsolationPriority {
		t.Errorf("isolation priority = %d, want %d", unit.Isolation.Priority, manifestIsolationPriority)
	}
	if unit.Isolation.OverheadMS != isolationOverheadMS[models.IsolationDatabase] {
		t.Errorf("isolation overhead = %d", unit.Isolation.OverheadMS)
	}

	// Units without an entry still pick up the suite defaults.
	if !reflect.DeepEqual(other.Tags, []string{"regression"}) {
		t.Errorf("unlisted unit tags = %v, want defaults only", other.Tags)
	}
	if other.Isolation.Required {
		t.Error("defaults without isolation must not force isolation")
	}
}

func TestApplyManifest_Idempotent(t *testing.T) {
	m := mustManifest(t, overrideManifest)
	unit := &models.UnitAnalysis{Path: "tests/banking/transfers.test.ts"}
	units := []*models.UnitAnalysis{unit}

	ApplyManifest(units, m)
	first := append([]string(nil), unit.Tags...)
	ApplyManifest(units, m)

	if !reflect.DeepEqual(unit.Tags, first) {
		t.Errorf("second application changed tags: %v -> %v", first, unit.Tags)
	}
	if len(unit.Prerequisites) != 1 || len(unit.Conflicts) != 1 {
		t.Errorf("second application duplicated list fields: %v %v", unit.Prerequisites, unit.Conflicts)
	}
}

func TestApplyManifest_NilManifest(t *testing.T) {
	unit := &models.UnitAnalysis{Path: "tests/a.test.ts", Tags: []string{"smoke"}}
	ApplyManifest([]*models.UnitAnalysis{unit}, nil)

	if !reflect.DeepEqual(unit.Tags, []string{"smoke"}) {
		t.Errorf("nil manifest changed tags: %v", unit.Tags)
	}
}
