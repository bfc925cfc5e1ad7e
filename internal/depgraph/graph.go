package depgraph

import (
	"fmt"
	"sort"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// Graph holds the directed prerequisite graph and the undirected conflict
// graph built from classifier output. Prerequisite edges run from a unit to
// the units that depend on it; conflict edges are symmetric.
type Graph struct {
	Units     map[string]*models.UnitAnalysis
	Edges     map[string][]string // prerequisite -> dependent paths
	InDegree  map[string]int      // path -> number of unmet prerequisites
	conflicts map[string]map[string]bool
}

// ValidateUnits checks that the unit set is well-formed: no empty or
// duplicate paths, and every declared prerequisite resolves to a unit in the
// set. A prerequisite on an absent unit can never be satisfied, so it is an
// error; a conflict naming an absent unit constrains nothing and is ignored.
func ValidateUnits(units []*models.UnitAnalysis) error {
	seen := make(map[string]bool)
	for _, unit := range units {
		if unit.Path == "" {
			return fmt.Errorf("unit has empty path")
		}
		if seen[unit.Path] {
			return fmt.Errorf("unit %s: duplicate path", unit.Path)
		}
		seen[unit.Path] = true
	}

	for _, unit := range units {
		for _, prereq := range unit.Prerequisites {
			if !seen[prereq] {
				return fmt.Errorf("unit %s: prerequisite %s not in this run", unit.Path, prereq)
			}
		}
	}

	return nil
}

// Build constructs prerequisite and conflict graphs from analyzed units.
// References to units outside the set are dropped; ValidateUnits reports
// the ones that matter.
func Build(units []*models.UnitAnalysis) *Graph {
	g := &Graph{
		Units:     make(map[string]*models.UnitAnalysis),
		Edges:     make(map[string][]string),
		InDegree:  make(map[string]int),
		conflicts: make(map[string]map[string]bool),
	}

	for _, unit := range units {
		g.Units[unit.Path] = unit
		g.InDegree[unit.Path] = 0
	}

	for _, unit := range units {
		for _, prereq := range unit.Prerequisites {
			if _, exists := g.Units[prereq]; !exists {
				continue
			}
			// prereq -> unit (prereq must complete before unit)
			g.Edges[prereq] = append(g.Edges[prereq], unit.Path)
			g.InDegree[unit.Path]++
		}
		for _, conflict := range unit.Conflicts {
			if _, exists := g.Units[conflict]; !exists {
				continue
			}
			g.addConflict(unit.Path, conflict)
		}
	}

	return g
}

func (g *Graph) addConflict(a, b string) {
	if a == b {
		return
	}
	if g.conflicts[a] == nil {
		g.conflicts[a] = make(map[string]bool)
	}
	if g.conflicts[b] == nil {
		g.conflicts[b] = make(map[string]bool)
	}
	g.conflicts[a][b] = true
	g.conflicts[b][a] = true
}

// HasConflict reports whether a conflict edge exists between two units.
func (g *Graph) HasConflict(a, b string) bool {
	return g.conflicts[a][b]
}

// ConflictNeighbors returns the units that may not run concurrently with the
// given unit, sorted for determinism.
func (g *Graph) ConflictNeighbors(path string) []string {
	neighbors := make([]string, 0, len(g.conflicts[path]))
	for n := range g.conflicts[path] {
		neighbors = append(neighbors, n)
	}
	sort.Strings(neighbors)
	return neighbors
}

// PrereqRelated reports whether either unit declares the other as a
// prerequisite. Only direct declarations count; transitive ordering is
// enforced by tier scheduling, not by group membership.
func (g *Graph) PrereqRelated(a, b string) bool {
	ua, ok := g.Units[a]
	if !ok {
		return false
	}
	ub, ok := g.Units[b]
	if !ok {
		return false
	}
	for _, p := range ua.Prerequisites {
		if p == b {
			return true
		}
	}
	for _, p := range ub.Prerequisites {
		if p == a {
			return true
		}
	}
	return false
}

// HasCycle detects if the prerequisite graph contains a cycle using DFS with
// color marking
func (g *Graph) HasCycle() bool {
	const (
		white = 0 // not visited
		gray  = 1 // visiting
		black = 2 // visited
	)

	colors := make(map[string]int)
	for path := range g.Units {
		colors[path] = white
	}

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray

		for _, neighbor := range g.Edges[node] {
			if colors[neighbor] == gray {
				return true // back edge = cycle
			}
			if colors[neighbor] == white && dfs(neighbor) {
				return true
			}
		}

		colors[node] = black
		return false
	}

	// Self-references first
	for path, unit := range g.Units {
		for _, prereq := range unit.Prerequisites {
			if prereq == path {
				return true
			}
		}
	}

	for path := range g.Units {
		if colors[path] == white {
			if dfs(path) {
				return true
			}
		}
	}

	return false
}

// Tiers computes prerequisite tiers using Kahn's algorithm: units with no
// prerequisites form tier 0, units depending only on tier 0 form tier 1, and
// so on. Paths within a tier are sorted for stable output.
func (g *Graph) Tiers() ([][]string, error) {
	if len(g.Units) == 0 {
		return [][]string{}, nil
	}

	if g.HasCycle() {
		return nil, fmt.Errorf("circular prerequisite chain detected")
	}

	inDegree := make(map[string]int, len(g.InDegree))
	for k, v := range g.InDegree {
		inDegree[k] = v
	}

	var tiers [][]string
	for len(inDegree) > 0 {
		var current []string
		for path, degree := range inDegree {
			if degree == 0 {
				current = append(current, path)
			}
		}

		if len(current) == 0 {
			return nil, fmt.Errorf("graph error: no units with zero in-degree")
		}

		sort.Strings(current)
		tiers = append(tiers, current)

		for _, path := range current {
			delete(inDegree, path)
			for _, dependent := range g.Edges[path] {
				if _, exists := inDegree[dependent]; exists {
					inDegree[dependent]--
				}
			}
		}
	}

	return tiers, nil
}

// TierIndex returns a map from unit path to its tier number. Useful for
// ordering checks without holding the full tier slices.
func (g *Graph) TierIndex() (map[string]int, error) {
	tiers, err := g.Tiers()
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(g.Units))
	for i, tier := range tiers {
		for _, path := range tier {
			index[path] = i
		}
	}
	return index, nil
}
