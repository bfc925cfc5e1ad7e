package scheduler

import (
	"sort"

	"github.com/DerekVonk/vonkfi-sub000/internal/events"
	"github.com/DerekVonk/vonkfi-sub000/internal/resource"
)

// DeadlockDetector maintains a resource-ownership graph and a waits-for
// graph from governor events and finds cycles in the latter. Cycles are
// reported, never auto-resolved: breaking a deadlock is the operator's
// call, not the detector's.
//
// Not safe for concurrent use; the coordinator loop feeds and scans it.
type DeadlockDetector struct {
	// ownership: owner -> resource types currently held
	ownership map[string]map[resource.PoolType]bool
	// waits: requester -> holders it is blocked behind
	waits map[string]map[string]bool

	reported int
}

// NewDeadlockDetector creates an empty detector.
func NewDeadlockDetector() *DeadlockDetector {
	return &DeadlockDetector{
		ownership: make(map[string]map[resource.PoolType]bool),
		waits:     make(map[string]map[string]bool),
	}
}

// Observe updates the graphs from one governor event. Allocation events
// record ownership and clear the owner's wait edges (it is no longer
// blocked); release events drop ownership; wait events add waits-for edges
// toward every current holder of the contended pool.
func (d *DeadlockDetector) Observe(ev events.Event) {
	switch ev.Type {
	case events.TypeAllocated:
		info, ok := ev.Payload.(resource.AllocationInfo)
		if !ok {
			return
		}
		held, exists := d.ownership[info.Owner]
		if !exists {
			held = make(map[resource.PoolType]bool)
			d.ownership[info.Owner] = held
		}
		held[info.Type] = true
		delete(d.waits, info.Owner)

	case events.TypeReleased:
		info, ok := ev.Payload.(resource.ReleaseInfo)
		if !ok {
			return
		}
		if held, exists := d.ownership[info.Owner]; exists {
			delete(held, info.Type)
			if len(held) == 0 {
				delete(d.ownership, info.Owner)
			}
		}

	case events.TypeAllocationWait:
		info, ok := ev.Payload.(resource.WaitInfo)
		if !ok {
			return
		}
		edges := make(map[string]bool, len(info.Holders))
		for _, holder := range info.Holders {
			if holder != info.Requester {
				edges[holder] = true
			}
		}
		if len(edges) > 0 {
			d.waits[info.Requester] = edges
		}
	}
}

// Scan runs cycle detection over the waits-for graph and returns one error
// per distinct cycle found.
func (d *DeadlockDetector) Scan() []*DeadlockDetectedError {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current recursion stack
		black = 2 // fully explored
	)

	state := make(map[string]int, len(d.waits))
	var stack []string
	var found []*DeadlockDetectedError

	nodes := make([]string, 0, len(d.waits))
	for n := range d.waits {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var visit func(node string)
	visit = func(node string) {
		state[node] = gray
		stack = append(stack, node)

		targets := make([]string, 0, len(d.waits[node]))
		for t := range d.waits[node] {
			targets = append(targets, t)
		}
		sort.Strings(targets)

		for _, next := range targets {
			switch state[next] {
			case white:
				visit(next)
			case gray:
				// Found a back edge: slice the cycle out of the stack.
				start := 0
				for i, n := range stack {
					if n == next {
						start = i
						break
					}
				}
				cycle := append([]string{}, stack[start:]...)
				cycle = append(cycle, next)
				found = append(found, &DeadlockDetectedError{Cycle: cycle})
			}
		}

		stack = stack[:len(stack)-1]
		state[node] = black
	}

	for _, node := range nodes {
		if state[node] == white {
			visit(node)
		}
	}

	d.reported += len(found)
	return found
}

// Reported returns how many cycles this detector has found in total.
func (d *DeadlockDetector) Reported() int {
	return d.reported
}

// Holdings returns the resource types an owner currently holds, sorted.
func (d *DeadlockDetector) Holdings(owner string) []resource.PoolType {
	held, ok := d.ownership[owner]
	if !ok {
		return nil
	}
	types := make([]resource.PoolType, 0, len(held))
	for t := range held {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Clear drops a requester's wait edges, used when its request is satisfied
// or abandoned outside the event flow.
func (d *DeadlockDetector) Clear(requester string) {
	delete(d.waits, requester)
}
