package models

import (
	"errors"
	"time"
)

// DependencyLevel classifies how a test unit interacts with shared state.
// Levels are ordered from least to most restrictive; a higher level always
// demands stricter scheduling than a lower one.
type DependencyLevel int

const (
	LevelNone           DependencyLevel = iota // no shared state touched
	LevelReadOnly                              // reads shared data, never writes
	LevelIsolatedWrites                        // writes confined to own transaction/namespace
	LevelSharedWrites                          // writes tables other units also touch
	LevelSchemaChanging                        // DDL, migrations, truncates
	LevelSequentialOnly                        // must never overlap with anything
)

var levelNames = map[DependencyLevel]string{
	LevelNone:           "none",
	LevelReadOnly:       "read-only",
	LevelIsolatedWrites: "isolated-writes",
	LevelSharedWrites:   "shared-writes",
	LevelSchemaChanging: "schema-changing",
	LevelSequentialOnly: "sequential-only",
}

func (l DependencyLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseDependencyLevel maps a level name back to its constant.
func ParseDependencyLevel(name string) (DependencyLevel, error) {
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return LevelSequentialOnly, errors.New("unknown dependency level: " + name)
}

// ParallelismFactor returns the scheduling weight of the level, strictly
// decreasing from 1.0 (none) to 0.0 (sequential-only).
func (l DependencyLevel) ParallelismFactor() float64 {
	switch l {
	case LevelNone:
		return 1.0
	case LevelReadOnly:
		return 0.8
	case LevelIsolatedWrites:
		return 0.6
	case LevelSharedWrites:
		return 0.4
	case LevelSchemaChanging:
		return 0.2
	default:
		return 0.0
	}
}

// IsolationType names the mechanism a unit needs to be shielded from its
// neighbors.
type IsolationType string

const (
	IsolationNamespace   IsolationType = "namespace"   // prefixed keys/tables
	IsolationTransaction IsolationType = "transaction" // wrapped in a rolled-back tx
	IsolationSchema      IsolationType = "schema"      // dedicated schema per run
	IsolationDatabase    IsolationType = "database"    // dedicated database per run
)

// ParseIsolationType maps a mechanism name to its constant.
func ParseIsolationType(name string) (IsolationType, error) {
	switch t := IsolationType(name); t {
	case IsolationNamespace, IsolationTransaction, IsolationSchema, IsolationDatabase:
		return t, nil
	}
	return "", errors.New("unknown isolation type: " + name)
}

// IsolationRequirement describes whether and how a unit must be isolated.
type IsolationRequirement struct {
	Required   bool          // unit cannot share state unprotected
	Type       IsolationType // mechanism to use when Required
	Priority   int           // higher wins when isolation capacity is scarce
	OverheadMS int           // setup cost charged to the schedule estimate
}

// ResourceProfile is the per-unit resource demand estimate produced by the
// classifier and aggregated per group.
type ResourceProfile struct {
	MemoryMB         int  // expected peak working set
	CPUIntensive     bool // dominated by computation
	NetworkIntensive bool // dominated by remote calls
	DiskIntensive    bool // dominated by filesystem churn
	DBConnections    int  // concurrent connections needed, 1..5
}

// Add folds another profile into this one for group aggregation. Memory and
// connections sum; the intensity flags are sticky.
func (p *ResourceProfile) Add(other ResourceProfile) {
	p.MemoryMB += other.MemoryMB
	p.DBConnections += other.DBConnections
	p.CPUIntensive = p.CPUIntensive || other.CPUIntensive
	p.NetworkIntensive = p.NetworkIntensive || other.NetworkIntensive
	p.DiskIntensive = p.DiskIntensive || other.DiskIntensive
}

// UnitAnalysis is the classifier's verdict for a single test unit. It is
// immutable once produced; cached copies are reused until the source content
// hash changes.
type UnitAnalysis struct {
	Path              string               // unit source path, unique key
	Level             DependencyLevel      // detected dependency level
	Profile           ResourceProfile      // estimated resource demand
	EstimatedDuration time.Duration        // historical or heuristic estimate
	Isolation         IsolationRequirement // isolation demand
	Complexity        int                  // statement-count score behind the estimate
	Tags              []string             // declared via directives or manifest
	Prerequisites     []string             // unit paths that must complete first
	Conflicts         []string             // unit paths that may not run concurrently
	WrittenTables     []string             // shared tables this unit writes, for conflict derivation
	ContentHash       string               // sha256 of the source, cache key
	Fallback          bool                 // source unreadable, conservative defaults applied
}

// Validate checks the analysis is internally coherent.
func (a *UnitAnalysis) Validate() error {
	if a.Path == "" {
		return errors.New("unit path is required")
	}
	if a.Level < LevelNone || a.Level > LevelSequentialOnly {
		return errors.New("dependency level out of range")
	}
	if a.Profile.DBConnections < 0 {
		return errors.New("negative database connection count")
	}
	if a.Isolation.Required && a.Isolation.Type == "" {
		return errors.New("isolation required but no isolation type set")
	}
	return nil
}

// HasTag reports whether the unit carries the given tag.
func (a *UnitAnalysis) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ConflictsWith reports whether either unit declares the other as a conflict.
func (a *UnitAnalysis) ConflictsWith(other *UnitAnalysis) bool {
	for _, c := range a.Conflicts {
		if c == other.Path {
			return true
		}
	}
	for _, c := range other.Conflicts {
		if c == a.Path {
			return true
		}
	}
	return false
}
