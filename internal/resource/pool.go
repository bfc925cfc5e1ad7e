package resource

import (
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// PoolType names a governed resource pool.
type PoolType string

const (
	PoolMemoryMB      PoolType = "memory-mb"
	PoolCPUPercent    PoolType = "cpu-percent"
	PoolDBConnections PoolType = "db-connections"
	PoolWorkerSlots   PoolType = "worker-slots"
)

// PoolSpec sizes one pool at construction. Reserved capacity is headroom
// the governor never hands out.
type PoolSpec struct {
	Type     PoolType
	Total    int64
	Reserved int64
}

// pool tracks one resource type. The balance invariant holds before and
// after every operation: Allocated + Available + Reserved == Total.
type pool struct {
	Type        PoolType
	Total       int64
	Available   int64
	Allocated   int64
	Reserved    int64
	allocations map[string]*Allocation
}

func newPool(spec PoolSpec) *pool {
	return &pool{
		Type:        spec.Type,
		Total:       spec.Total,
		Available:   spec.Total - spec.Reserved,
		Reserved:    spec.Reserved,
		allocations: make(map[string]*Allocation),
	}
}

// utilization is the allocated share of total capacity.
func (p *pool) utilization() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Allocated) / float64(p.Total)
}

// balanced reports whether the conservation invariant holds.
func (p *pool) balanced() bool {
	return p.Allocated+p.Available+p.Reserved == p.Total
}

// Request asks the governor for an amount of one resource type. TTL > 0
// gives the allocation an expiry, making it reclaimable once stale.
type Request struct {
	Type     PoolType
	Amount   int64
	Priority models.GroupPriority
	TTL      time.Duration
}

// Allocation is a live claim on a pool. Owned by exactly one pool; released
// by its owner or reclaimed by the governor under pressure.
type Allocation struct {
	ID          string
	Type        PoolType
	Amount      int64
	Owner       string
	Priority    models.GroupPriority
	AllocatedAt time.Time
	ExpiresAt   time.Time // zero means no expiry

	samples []UsageSample
}

// expired reports whether the allocation's expiry has passed.
func (a *Allocation) expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && a.ExpiresAt.Before(now)
}

// PoolSnapshot is a copy of a pool's counters for callers outside the
// governor.
type PoolSnapshot struct {
	Type              PoolType
	Total             int64
	Available         int64
	Allocated         int64
	Reserved          int64
	ActiveAllocations int
}

func (p *pool) snapshot() PoolSnapshot {
	return PoolSnapshot{
		Type:              p.Type,
		Total:             p.Total,
		Available:         p.Available,
		Allocated:         p.Allocated,
		Reserved:          p.Reserved,
		ActiveAllocations: len(p.allocations),
	}
}
