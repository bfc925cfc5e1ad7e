// Package resource implements the governed resource pools behind the
// scheduler: memory, CPU share, database connections, and worker slots.
// Pools are the single source of truth for capacity; every allocation and
// release goes through the Governor, which enforces reserved headroom,
// pressure policies, and the reclamation ladder.
package resource

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/DerekVonk/vonkfi-sub000/internal/events"
	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// Policy thresholds. Pressure is allocated/total on the relevant pool.
const (
	memoryPressureThreshold = 0.8
	cpuPressureThreshold    = 0.9
	dbUtilizationThreshold  = 0.8

	lowEfficiencyFloor   = 0.5
	cpuShrinkPercent     = 30 // non-critical CPU requests shrink by this under pressure
	dbCapUnderPressure   = 2  // non-critical DB requests cap here under pressure
	optimizeLargestCount = 3  // allocations examined by the pressure optimization pass
)

// Logger is the narrow logging surface the governor needs. The console and
// file loggers satisfy it; nil disables logging.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
}

// WaitInfo is the payload of a resource.wait event: who wanted what they
// could not get, and who currently holds that pool. The deadlock detector
// turns these into waits-for edges.
type WaitInfo struct {
	Requester string
	Type      PoolType
	Requested int64
	Holders   []string
}

// ReclaimInfo is the payload of a resource.reclaimed event.
type ReclaimInfo struct {
	AllocationID string
	Owner        string
	Type         PoolType
	Amount       int64
	Reason       string // expired, low-value, optimized
}

// AllocationInfo is the payload of a resource.allocated event.
type AllocationInfo struct {
	AllocationID string
	Owner        string
	Type         PoolType
	Amount       int64
}

// ReleaseInfo is the payload of a resource.released event.
type ReleaseInfo struct {
	AllocationID string
	Owner        string
	Type         PoolType
	Amount       int64
	Efficiency   float64
}

// Governor owns the resource pools. All mutation happens through Allocate,
// Release, and SampleUsage; callers outside see only snapshots.
type Governor struct {
	pools   map[PoolType]*pool
	sampler UsageSampler
	bus     *events.Bus
	logger  Logger
	denials int
}

// NewGovernor builds a governor over the given pools with the conservative
// full-usage sampler and no event bus.
func NewGovernor(specs []PoolSpec) *Governor {
	return NewGovernorWithOptions(specs, FullUsageSampler{}, nil, nil)
}

// NewGovernorWithOptions builds a governor with an explicit sampler, event
// bus, and logger. Any of the three may be nil (sampler falls back to full
// usage).
func NewGovernorWithOptions(specs []PoolSpec, sampler UsageSampler, bus *events.Bus, logger Logger) *Governor {
	if sampler == nil {
		sampler = FullUsageSampler{}
	}
	g := &Governor{
		pools:   make(map[PoolType]*pool, len(specs)),
		sampler: sampler,
		bus:     bus,
		logger:  logger,
	}
	for _, spec := range specs {
		g.pools[spec.Type] = newPool(spec)
	}
	return g
}

// Allocate grants the requests for one requester. Admission requires
// available minus reserved to cover the amount; a shortfall triggers the
// reclamation ladder (expired, then low-priority low-efficiency, then an
// aggressive slack pass) before the request fails. With allowPartial false
// a single failure rolls back every grant made in this call.
//
// The scheduler is the only caller and serializes calls through its
// coordinator loop, so the governor needs no internal locking; snapshots
// are safe because they copy under the same serialization.
func (g *Governor) Allocate(requester string, requests []Request, allowPartial bool) ([]*Allocation, error) {
	var granted []*Allocation
	var failures []*AllocationFailureError

	for _, req := range requests {
		p, ok := g.pools[req.Type]
		if !ok {
			failure := &AllocationFailureError{Requester: requester, Type: req.Type, Requested: req.Amount}
			if !allowPartial {
				g.rollback(granted)
				return nil, failure
			}
			failures = append(failures, failure)
			continue
		}

		amount := g.applyRequestPolicies(p, req)
		if req.Type == PoolMemoryMB && p.utilization() > memoryPressureThreshold {
			g.optimizePass(p, false)
			g.emitPressure(p)
		}

		if p.Available-p.Reserved < amount {
			g.reclaim(p, amount)
		}

		if p.Available-p.Reserved < amount {
			failure := &AllocationFailureError{
				Requester: requester,
				Type:      req.Type,
				Requested: amount,
				Available: p.Available,
			}
			g.denials++
			g.emitWait(requester, p, amount)
			g.warnf("allocation denied: %v", failure)

			if !allowPartial {
				g.rollback(granted)
				return nil, failure
			}
			failures = append(failures, failure)
			continue
		}

		granted = append(granted, g.grant(p, req, amount, requester))
	}

	if len(failures) > 0 {
		return granted, &AllocationBatchError{Failures: failures}
	}
	return granted, nil
}

// Release returns allocations to their pools and emits released events with
// final efficiency. Unknown ids are reported after all known ids are
// processed.
func (g *Governor) Release(ids []string) error {
	var unknown []string
	for _, id := range ids {
		released := false
		for _, p := range g.pools {
			alloc, ok := p.allocations[id]
			if !ok {
				continue
			}
			p.Available += alloc.Amount
			p.Allocated -= alloc.Amount
			delete(p.allocations, id)
			g.emitReleased(alloc)
			released = true
			break
		}
		if !released {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown allocation ids: %v", unknown)
	}
	return nil
}

// SampleUsage records one utilization sample per active allocation. The
// scheduler calls this from its periodic pressure check.
func (g *Governor) SampleUsage() {
	now := time.Now()
	for _, p := range g.pools {
		for _, alloc := range p.allocations {
			alloc.record(g.sampler.Sample(alloc), now)
		}
	}
}

// Snapshot returns a copy of one pool's counters.
func (g *Governor) Snapshot(t PoolType) (PoolSnapshot, bool) {
	p, ok := g.pools[t]
	if !ok {
		return PoolSnapshot{}, false
	}
	return p.snapshot(), true
}

// Snapshots returns copies of every pool's counters, sorted by type.
func (g *Governor) Snapshots() []PoolSnapshot {
	snaps := make([]PoolSnapshot, 0, len(g.pools))
	for _, p := range g.pools {
		snaps = append(snaps, p.snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Type < snaps[j].Type })
	return snaps
}

// Holders returns the distinct owners of a pool's active allocations.
func (g *Governor) Holders(t PoolType) []string {
	p, ok := g.pools[t]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var holders []string
	for _, alloc := range p.allocations {
		if !seen[alloc.Owner] {
			seen[alloc.Owner] = true
			holders = append(holders, alloc.Owner)
		}
	}
	sort.Strings(holders)
	return holders
}

// Denials returns how many requests failed after reclamation.
func (g *Governor) Denials() int {
	return g.denials
}

// applyRequestPolicies shrinks or caps the incoming request under pressure.
// Critical requests are never touched.
func (g *Governor) applyRequestPolicies(p *pool, req Request) int64 {
	amount := req.Amount
	if req.Priority >= models.PriorityCritical {
		return amount
	}

	if req.Type == PoolCPUPercent && p.utilization() > cpuPressureThreshold {
		shrunk := amount * (100 - cpuShrinkPercent) / 100
		if shrunk < 1 {
			shrunk = 1
		}
		if shrunk != amount {
			g.debugf("cpu pressure: shrinking request %d -> %d", amount, shrunk)
			amount = shrunk
		}
	}

	if req.Type == PoolDBConnections && p.utilization() > dbUtilizationThreshold && amount > dbCapUnderPressure {
		g.debugf("db pressure: capping request %d -> %d", amount, int64(dbCapUnderPressure))
		amount = dbCapUnderPressure
	}

	return amount
}

// reclaim walks the ladder until the pool can admit the amount: expired
// allocations first, then low-priority low-efficiency ones, finally an
// aggressive slack pass over everything non-critical.
func (g *Governor) reclaim(p *pool, amount int64) {
	g.reclaimExpired(p)
	if p.Available-p.Reserved >= amount {
		return
	}
	g.reclaimLowValue(p)
	if p.Available-p.Reserved >= amount {
		return
	}
	g.optimizePass(p, true)
}

func (g *Governor) reclaimExpired(p *pool) {
	now := time.Now()
	for id, alloc := range p.allocations {
		if alloc.expired(now) {
			p.Available += alloc.Amount
			p.Allocated -= alloc.Amount
			delete(p.allocations, id)
			g.emitReclaimed(alloc, alloc.Amount, "expired")
		}
	}
}

func (g *Governor) reclaimLowValue(p *pool) {
	for id, alloc := range p.allocations {
		if alloc.Priority == models.PriorityNormal && alloc.efficiency() < lowEfficiencyFloor {
			p.Available += alloc.Amount
			p.Allocated -= alloc.Amount
			delete(p.allocations, id)
			g.emitReclaimed(alloc, alloc.Amount, "low-value")
		}
	}
}

// optimizePass shrinks allocations down to their measured usage. The
// pressure-policy variant touches only the largest few with efficiency
// under the floor; the aggressive variant squeezes the slack out of every
// non-critical allocation.
func (g *Governor) optimizePass(p *pool, aggressive bool) {
	allocs := make([]*Allocation, 0, len(p.allocations))
	for _, a := range p.allocations {
		allocs = append(allocs, a)
	}
	sort.Slice(allocs, func(i, j int) bool {
		if allocs[i].Amount != allocs[j].Amount {
			return allocs[i].Amount > allocs[j].Amount
		}
		return allocs[i].ID < allocs[j].ID
	})

	if !aggressive && len(allocs) > optimizeLargestCount {
		allocs = allocs[:optimizeLargestCount]
	}

	for _, alloc := range allocs {
		if alloc.Priority >= models.PriorityCritical {
			continue
		}
		eff := alloc.efficiency()
		if !aggressive && eff >= lowEfficiencyFloor {
			continue
		}
		slack := int64(float64(alloc.Amount) * (1.0 - eff))
		if slack <= 0 {
			continue
		}
		alloc.Amount -= slack
		p.Available += slack
		p.Allocated -= slack
		g.emitReclaimed(alloc, slack, "optimized")
	}
}

func (g *Governor) grant(p *pool, req Request, amount int64, requester string) *Allocation {
	alloc := &Allocation{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Amount:      amount,
		Owner:       requester,
		Priority:    req.Priority,
		AllocatedAt: time.Now(),
	}
	if req.TTL > 0 {
		alloc.ExpiresAt = alloc.AllocatedAt.Add(req.TTL)
	}

	p.Available -= amount
	p.Allocated += amount
	p.allocations[alloc.ID] = alloc

	if g.bus != nil {
		g.bus.Emit(events.TypeAllocated, AllocationInfo{
			AllocationID: alloc.ID,
			Owner:        alloc.Owner,
			Type:         alloc.Type,
			Amount:       alloc.Amount,
		})
	}
	return alloc
}

// rollback undoes grants made earlier in a failed all-or-nothing call.
func (g *Governor) rollback(granted []*Allocation) {
	for _, alloc := range granted {
		p := g.pools[alloc.Type]
		p.Available += alloc.Amount
		p.Allocated -= alloc.Amount
		delete(p.allocations, alloc.ID)
		g.emitReleased(alloc)
	}
}

func (g *Governor) emitReleased(alloc *Allocation) {
	if g.bus == nil {
		return
	}
	g.bus.Emit(events.TypeReleased, ReleaseInfo{
		AllocationID: alloc.ID,
		Owner:        alloc.Owner,
		Type:         alloc.Type,
		Amount:       alloc.Amount,
		Efficiency:   alloc.efficiency(),
	})
}

func (g *Governor) emitReclaimed(alloc *Allocation, amount int64, reason string) {
	g.infof("reclaimed %d %s from %s (%s)", amount, alloc.Type, alloc.Owner, reason)
	if g.bus == nil {
		return
	}
	g.bus.Emit(events.TypeReclaimed, ReclaimInfo{
		AllocationID: alloc.ID,
		Owner:        alloc.Owner,
		Type:         alloc.Type,
		Amount:       amount,
		Reason:       reason,
	})
}

func (g *Governor) emitWait(requester string, p *pool, requested int64) {
	if g.bus == nil {
		return
	}
	holders := make([]string, 0, len(p.allocations))
	seen := make(map[string]bool)
	for _, alloc := range p.allocations {
		if !seen[alloc.Owner] {
			seen[alloc.Owner] = true
			holders = append(holders, alloc.Owner)
		}
	}
	sort.Strings(holders)
	g.bus.Emit(events.TypeAllocationWait, WaitInfo{
		Requester: requester,
		Type:      p.Type,
		Requested: requested,
		Holders:   holders,
	})
}

func (g *Governor) emitPressure(p *pool) {
	if g.bus == nil {
		return
	}
	g.bus.Emit(events.TypeResourcePressure, p.snapshot())
}

func (g *Governor) debugf(format string, args ...interface{}) {
	if g.logger != nil {
		g.logger.LogDebug(fmt.Sprintf(format, args...))
	}
}

func (g *Governor) infof(format string, args ...interface{}) {
	if g.logger != nil {
		g.logger.LogInfo(fmt.Sprintf(format, args...))
	}
}

func (g *Governor) warnf(format string, args ...interface{}) {
	if g.logger != nil {
		g.logger.LogWarn(fmt.Sprintf(format, args...))
	}
}
