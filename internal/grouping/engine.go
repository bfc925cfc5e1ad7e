// Package grouping partitions analyzed test units into groups a single
// worker can execute, respecting conflict edges, prerequisite relations,
// memory ceilings, and isolation compatibility.
package grouping

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/depgraph"
	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// Engine builds test groups under one strategy.
type Engine struct {
	strategy Strategy
}

// NewEngine creates a grouping engine for the given strategy.
func NewEngine(strategy Strategy) *Engine {
	return &Engine{strategy: strategy}
}

// Strategy returns the engine's strategy.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// BuildGroups partitions units into groups. Units are bucketed by dependency
// level; within a bucket the engine greedily seeds a group with the next
// ungrouped unit and adds compatible candidates until the group is full or
// no candidate fits.
func (e *Engine) BuildGroups(units []*models.UnitAnalysis, graph *depgraph.Graph) []*models.TestGroup {
	buckets := make(map[models.DependencyLevel][]*models.UnitAnalysis)
	for _, unit := range units {
		buckets[unit.Level] = append(buckets[unit.Level], unit)
	}

	var groups []*models.TestGroup
	seq := 0
	for level := models.LevelNone; level <= models.LevelSequentialOnly; level++ {
		bucket := buckets[level]
		if len(bucket) == 0 {
			continue
		}
		if e.strategy.LoadBalancingKey == "duration" {
			// Longest units first so they seed separate groups.
			sort.SliceStable(bucket, func(i, j int) bool {
				return bucket[i].EstimatedDuration > bucket[j].EstimatedDuration
			})
		}

		grouped := make(map[string]bool, len(bucket))
		for _, seed := range bucket {
			if grouped[seed.Path] {
				continue
			}
			members := []*models.UnitAnalysis{seed}
			grouped[seed.Path] = true

			for _, candidate := range bucket {
				if len(members) >= e.strategy.MaxGroupSize {
					break
				}
				if grouped[candidate.Path] {
					continue
				}
				if e.compatible(members, candidate, graph) {
					members = append(members, candidate)
					grouped[candidate.Path] = true
				}
			}

			seq++
			groups = append(groups, e.buildGroup(seq, members))
		}
	}

	return groups
}

// compatible reports whether the candidate may join every current member:
// no conflict edge, no prerequisite relation in either direction, aggregate
// memory under the ceiling, and identical isolation demand under strict
// strictness.
func (e *Engine) compatible(members []*models.UnitAnalysis, candidate *models.UnitAnalysis, graph *depgraph.Graph) bool {
	memory := candidate.Profile.MemoryMB
	for _, member := range members {
		memory += member.Profile.MemoryMB
	}
	if memory > e.strategy.MemoryCeilingMB {
		return false
	}

	for _, member := range members {
		if graph.HasConflict(member.Path, candidate.Path) {
			return false
		}
		if graph.PrereqRelated(member.Path, candidate.Path) {
			return false
		}
		if e.strategy.Strictness == StrictnessStrict {
			if member.Isolation.Required != candidate.Isolation.Required ||
				member.Isolation.Type != candidate.Isolation.Type {
				return false
			}
		}
	}

	return true
}

func (e *Engine) buildGroup(seq int, members []*models.UnitAnalysis) *models.TestGroup {
	group := &models.TestGroup{
		ID:    fmt.Sprintf("group-%03d", seq),
		Units: members,
	}

	maxOverhead := 0
	for _, unit := range members {
		if unit.Level > group.Level {
			group.Level = unit.Level
		}
		group.Resources.Add(unit.Profile)
		group.EstimatedDuration += unit.EstimatedDuration
		if unit.Isolation.Required {
			group.RequiresIsolation = true
			if unit.Isolation.OverheadMS > maxOverhead {
				maxOverhead = unit.Isolation.OverheadMS
			}
		}
	}
	group.EstimatedDuration += time.Duration(maxOverhead) * time.Millisecond
	group.MaxParallelism = e.maxParallelism(group.Level, len(members))
	group.Priority = groupPriority(members)

	return group
}

// maxParallelism computes floor(strategyMaxParallelism × levelFactor ×
// strategyFactor), clamped to [1, memberCount].
func (e *Engine) maxParallelism(level models.DependencyLevel, memberCount int) int {
	p := int(math.Floor(float64(e.strategy.MaxParallelism) * level.ParallelismFactor() * e.strategy.Factor))
	if p < 1 {
		p = 1
	}
	if p > memberCount {
		p = memberCount
	}
	return p
}

func groupPriority(members []*models.UnitAnalysis) models.GroupPriority {
	priority := models.PriorityNormal
	for _, unit := range members {
		if unit.HasTag("critical") {
			return models.PriorityCritical
		}
		if unit.HasTag("security") || unit.HasTag("security-sensitive") {
			priority = models.PriorityHigh
		}
	}
	return priority
}

// ValidateGroups re-checks conflict safety over finished groups: two units
// with a conflict edge may share a group only when that group runs
// sequentially. A violation means the engine itself is broken.
func ValidateGroups(groups []*models.TestGroup, graph *depgraph.Graph) error {
	for _, group := range groups {
		if group.MaxParallelism <= 1 {
			continue
		}
		for i := 0; i < len(group.Units); i++ {
			for j := i + 1; j < len(group.Units); j++ {
				a, b := group.Units[i], group.Units[j]
				if graph.HasConflict(a.Path, b.Path) {
					return &ConflictViolationError{
						GroupID:     group.ID,
						UnitA:       a.Path,
						UnitB:       b.Path,
						Parallelism: group.MaxParallelism,
					}
				}
			}
		}
	}
	return nil
}
