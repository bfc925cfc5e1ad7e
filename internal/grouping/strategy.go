package grouping

import (
	"fmt"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// IsolationStrictness controls compatibility rule (d): under strict
// strictness two units may share a group only when their isolation demands
// are identical.
type IsolationStrictness int

const (
	StrictnessRelaxed IsolationStrictness = iota
	StrictnessStrict
)

// Strategy bounds how the engine packs units into groups.
type Strategy struct {
	Name             string
	MaxGroupSize     int                 // hard cap on members per group
	MaxParallelism   int                 // strategy term of the parallelism product
	Strictness       IsolationStrictness // isolation compatibility rule
	MemoryCeilingMB  int                 // per-group aggregate memory cap
	Factor           float64             // strategy term of the parallelism product, 0..1
	LoadBalancingKey string              // "count" packs in input order, "duration" longest-first
}

// Built-in strategies. Conservative trades throughput for safety margins;
// performance orders candidates longest-first so large units spread across
// groups.
var strategies = map[string]Strategy{
	"conservative": {
		Name:             "conservative",
		MaxGroupSize:     4,
		MaxParallelism:   2,
		Strictness:       StrictnessStrict,
		MemoryCeilingMB:  512,
		Factor:           0.5,
		LoadBalancingKey: "count",
	},
	"balanced": {
		Name:             "balanced",
		MaxGroupSize:     8,
		MaxParallelism:   4,
		Strictness:       StrictnessRelaxed,
		MemoryCeilingMB:  1024,
		Factor:           0.75,
		LoadBalancingKey: "count",
	},
	"aggressive": {
		Name:             "aggressive",
		MaxGroupSize:     16,
		MaxParallelism:   8,
		Strictness:       StrictnessRelaxed,
		MemoryCeilingMB:  2048,
		Factor:           1.0,
		LoadBalancingKey: "count",
	},
	"performance": {
		Name:             "performance",
		MaxGroupSize:     12,
		MaxParallelism:   6,
		Strictness:       StrictnessRelaxed,
		MemoryCeilingMB:  1536,
		Factor:           0.9,
		LoadBalancingKey: "duration",
	},
}

// DefaultStrategy is used when configuration names none.
const DefaultStrategy = "balanced"

// StrategyByName resolves a configured strategy name.
func StrategyByName(name string) (Strategy, error) {
	if name == "" {
		name = DefaultStrategy
	}
	s, ok := strategies[name]
	if !ok {
		return Strategy{}, fmt.Errorf("unknown grouping strategy %q (want conservative, balanced, aggressive, or performance)", name)
	}
	return s, nil
}

// StrategyNames lists the built-in strategy names for help output.
func StrategyNames() []string {
	return []string{"conservative", "balanced", "aggressive", "performance"}
}

// ApplyIsolationMode overlays the configured isolation mode on a strategy's
// strictness. conservative forces strict matching, aggressive relaxes it,
// balanced keeps the preset's own rule. adaptive goes strict only when the
// unit mix contains schema-changing or sequential-only work, where mixing
// isolation demands inside one group is most likely to mask conflicts.
func ApplyIsolationMode(s Strategy, mode string, units []*models.UnitAnalysis) (Strategy, error) {
	switch mode {
	case "", "balanced":
		return s, nil
	case "conservative":
		s.Strictness = StrictnessStrict
		return s, nil
	case "aggressive":
		s.Strictness = StrictnessRelaxed
		return s, nil
	case "adaptive":
		s.Strictness = StrictnessRelaxed
		for _, unit := range units {
			if unit.Level >= models.LevelSchemaChanging {
				s.Strictness = StrictnessStrict
				break
			}
		}
		return s, nil
	}
	return Strategy{}, fmt.Errorf("unknown isolation mode %q (want conservative, balanced, aggressive, or adaptive)", mode)
}

// IsolationModeNames lists the accepted isolation mode names for help output.
func IsolationModeNames() []string {
	return []string{"conservative", "balanced", "aggressive", "adaptive"}
}
