package models

import (
	"time"
)

// GroupPriority orders groups in the scheduler queue.
type GroupPriority int

const (
	PriorityNormal   GroupPriority = iota
	PriorityHigh                   // security-sensitive units
	PriorityCritical               // explicitly tagged critical
)

func (p GroupPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// TestGroup is a set of units the grouping engine decided may share a worker.
// Members are mutually compatible: no conflict edges, no prerequisite
// relations, aggregate memory under the strategy ceiling.
type TestGroup struct {
	ID                string          // stable identifier, used in reports and history
	Units             []*UnitAnalysis // member units in insertion order
	Level             DependencyLevel // highest level among members
	Resources         ResourceProfile // aggregate demand of all members
	EstimatedDuration time.Duration   // sum of member estimates plus isolation overhead
	MaxParallelism    int             // units runnable at once inside the group, >= 1
	RequiresIsolation bool            // any member demands isolation
	Priority          GroupPriority   // queue ordering key
}

// UnitPaths returns the member paths in order.
func (g *TestGroup) UnitPaths() []string {
	paths := make([]string, len(g.Units))
	for i, u := range g.Units {
		paths[i] = u.Path
	}
	return paths
}

// Contains reports whether the group holds the unit with the given path.
func (g *TestGroup) Contains(path string) bool {
	for _, u := range g.Units {
		if u.Path == path {
			return true
		}
	}
	return false
}

// Size returns the number of member units.
func (g *TestGroup) Size() int {
	return len(g.Units)
}
