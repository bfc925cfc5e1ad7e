// Package classifier inspects test-unit sources and produces the per-unit
// analysis (dependency level, resource profile, isolation needs) that drives
// grouping and scheduling. Classification never fails a run: unreadable
// sources get a conservative fallback analysis instead of an error.
package classifier

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

const (
	// MaxDBConnections caps the per-unit connection estimate.
	MaxDBConnections = 5

	baseMemoryMB     = 64
	memoryHeavyMB    = 128
	fallbackMemoryMB = 256
	memoryCeilingMB  = 1024
)

// Isolation setup overhead charged to schedule estimates, per mechanism.
var isolationOverheadMS = map[models.IsolationType]int{
	models.IsolationNamespace:   50,
	models.IsolationTransaction: 100,
	models.IsolationSchema:      500,
	models.IsolationDatabase:    2000,
}

// DurationSource supplies historical duration estimates for units. The
// history store satisfies this; a nil source falls back to heuristics.
type DurationSource interface {
	AverageDuration(path string) (time.Duration, bool)
}

// Classifier turns unit sources into UnitAnalysis values, caching results by
// content hash so unchanged files are not re-analyzed.
type Classifier struct {
	cache   *analysisCache
	history DurationSource
}

// NewClassifier creates a classifier with heuristic duration estimates only.
func NewClassifier() *Classifier {
	return &Classifier{cache: newAnalysisCache()}
}

// NewClassifierWithHistory creates a classifier that prefers historical
// average durations over heuristics when the source has records for a unit.
func NewClassifierWithHistory(history DurationSource) *Classifier {
	return &Classifier{cache: newAnalysisCache(), history: history}
}

// Analyze classifies a single unit source file addressed directly by path.
// Read failures produce the conservative fallback analysis, never an error.
func (c *Classifier) Analyze(path string) *models.UnitAnalysis {
	return c.analyzeAt("", path)
}

// AnalyzeAll classifies every unit beneath root, then derives conflict edges
// between units that write the same shared table. Unit paths are kept as
// given (typically root-relative) so the identity that history records,
// manifests and reports key on stays stable; root only locates the sources
// on disk. The returned slice preserves input order.
func (c *Classifier) AnalyzeAll(root string, paths []string) []*models.UnitAnalysis {
	units := make([]*models.UnitAnalysis, 0, len(paths))
	for _, path := range paths {
		units = append(units, c.analyzeAt(root, path))
	}
	ResolveTableConflicts(units)
	return units
}

func (c *Classifier) analyzeAt(root, path string) *models.UnitAnalysis {
	readPath := path
	if root != "" && !filepath.IsAbs(path) {
		readPath = filepath.Join(root, path)
	}

	source, err := os.ReadFile(readPath)
	if err != nil {
		return c.fallback(path)
	}

	hash := contentHash(source)
	if cached, ok := c.cache.get(path, hash); ok {
		return cached
	}

	analysis := c.analyzeSource(path, string(source), hash)
	c.cache.put(path, analysis)
	return analysis
}

// Invalidate drops the cached analysis for a path. The watch-mode file
// watcher calls this when a source changes.
func (c *Classifier) Invalidate(path string) {
	c.cache.invalidate(path)
}

// CacheSize returns the number of cached analyses.
func (c *Classifier) CacheSize() int {
	return c.cache.size()
}

func (c *Classifier) analyzeSource(path, source, hash string) *models.UnitAnalysis {
	level, _ := matchLevel(source)

	directives := parseDirectives(source)
	if directives.Sequential {
		level = models.LevelSequentialOnly
	}

	profile := deriveProfile(source)
	complexity := complexityScore(source)
	cases := countMatches(testCasePattern, source)

	analysis := &models.UnitAnalysis{
		Path:              path,
		Level:             level,
		Profile:           profile,
		EstimatedDuration: c.estimateDuration(path, cases, complexity, profile),
		Isolation:         isolationFor(level, directives),
		Complexity:        complexity,
		Tags:              directives.Tags,
		Prerequisites:     directives.Prerequisites,
		Conflicts:         directives.Conflicts,
		WrittenTables:     nil,
		ContentHash:       hash,
	}

	if level >= models.LevelSharedWrites {
		analysis.WrittenTables = writtenTables(source)
	}

	return analysis
}

// fallback is the analysis for sources that cannot be read: assume the worst
// so the scheduler serializes the unit behind full isolation.
func (c *Classifier) fallback(path string) *models.UnitAnalysis {
	return &models.UnitAnalysis{
		Path:  path,
		Level: models.LevelSequentialOnly,
		Profile: models.ResourceProfile{
			MemoryMB:      fallbackMemoryMB,
			DBConnections: 1,
		},
		EstimatedDuration: 30 * time.Second,
		Isolation: models.IsolationRequirement{
			Required:   true,
			Type:       models.IsolationDatabase,
			Priority:   10,
			OverheadMS: isolationOverheadMS[models.IsolationDatabase],
		},
		Fallback: true,
	}
}

func deriveProfile(source string) models.ResourceProfile {
	dbOps := countMatches(dbOpPattern, source)
	concurrentHints := countMatches(concurrentHintPattern, source)

	profile := models.ResourceProfile{
		CPUIntensive:     countMatches(cpuHintPattern, source) >= 3,
		NetworkIntensive: countMatches(networkHintPattern, source) >= 2,
		DiskIntensive:    countMatches(diskHintPattern, source) >= 3,
		DBConnections:    dbConnectionNeed(dbOps, concurrentHints),
	}

	memory := baseMemoryMB + 16*(complexityScore(source)/10)
	if countMatches(memoryHintPattern, source) > 0 {
		memory += memoryHeavyMB
	}
	if memory > memoryCeilingMB {
		memory = memoryCeilingMB
	}
	profile.MemoryMB = memory

	return profile
}

// dbConnectionNeed estimates concurrent connections as one per ten database
// operations plus one per concurrency hint, clamped to [1, MaxDBConnections].
func dbConnectionNeed(dbOps, concurrentHints int) int {
	need := int(math.Ceil(float64(dbOps)/10)) + concurrentHints
	if need < 1 {
		need = 1
	}
	if need > MaxDBConnections {
		need = MaxDBConnections
	}
	return need
}

func complexityScore(source string) int {
	cases := countMatches(testCasePattern, source)
	hooks := countMatches(hookPattern, source)
	lines := 1
	for i := 0; i < len(source); i++ {
		if source[i] == '\n' {
			lines++
		}
	}
	return cases*2 + hooks + lines/50
}

// estimateDuration prefers the historical average when one exists; otherwise
// a heuristic built from test-case count, complexity, and the profile.
func (c *Classifier) estimateDuration(path string, cases, complexity int, profile models.ResourceProfile) time.Duration {
	if c.history != nil {
		if avg, ok := c.history.AverageDuration(path); ok && avg > 0 {
			return avg
		}
	}

	estimate := 500*time.Millisecond +
		time.Duration(cases)*200*time.Millisecond +
		time.Duration(complexity)*10*time.Millisecond
	if profile.DBConnections > 1 {
		estimate += time.Second
	}
	if profile.NetworkIntensive {
		estimate += 2 * time.Second
	}
	return estimate
}

func isolationFor(level models.DependencyLevel, d directives) models.IsolationRequirement {
	if d.Isolation != "" {
		return models.IsolationRequirement{
			Required:   true,
			Type:       d.Isolation,
			Priority:   7,
			OverheadMS: isolationOverheadMS[d.Isolation],
		}
	}

	switch level {
	case models.LevelSchemaChanging, models.LevelSequentialOnly:
		return models.IsolationRequirement{
			Required:   true,
			Type:       models.IsolationDatabase,
			Priority:   9,
			OverheadMS: isolationOverheadMS[models.IsolationDatabase],
		}
	case models.LevelSharedWrites:
		return models.IsolationRequirement{
			Required:   true,
			Type:       models.IsolationTransaction,
			Priority:   6,
			OverheadMS: isolationOverheadMS[models.IsolationTransaction],
		}
	default:
		return models.IsolationRequirement{}
	}
}

// ResolveTableConflicts adds conflict declarations between units that write
// the same shared table. Directive- and manifest-declared conflicts are
// preserved; derived entries are appended once per pair.
func ResolveTableConflicts(units []*models.UnitAnalysis) {
	byTable := make(map[string][]*models.UnitAnalysis)
	for _, unit := range units {
		for _, table := range unit.WrittenTables {
			byTable[table] = append(byTable[table], unit)
		}
	}

	tables := make([]string, 0, len(byTable))
	for table := range byTable {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		writers := byTable[table]
		for i := 0; i < len(writers); i++ {
			for j := i + 1; j < len(writers); j++ {
				addConflict(writers[i], writers[j].Path)
				addConflict(writers[j], writers[i].Path)
			}
		}
	}
}

func addConflict(unit *models.UnitAnalysis, path string) {
	for _, c := range unit.Conflicts {
		if c == path {
			return
		}
	}
	unit.Conflicts = append(unit.Conflicts, path)
}
