//go:build ignore
// +build ignore

// Demo script showing the resource governor's admission and reclamation
// behavior. Run with: go run scripts/demo-governor.go
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/DerekVonk/vonkfi-sub000/internal/events"
	"github.com/DerekVonk/vonkfi-sub000/internal/models"
	"github.com/DerekVonk/vonkfi-sub000/internal/resource"
)

func main() {
	banner("Resource Governor Demo")

	bus := events.NewBus()
	defer bus.Close()

	watched := []events.Type{
		events.TypeAllocated,
		events.TypeReleased,
		events.TypeReclaimed,
		events.TypeResourcePressure,
	}
	for _, t := range watched {
		ch, cancel := bus.Subscribe(t, 16)
		defer cancel()
		go func(t events.Type, ch <-chan events.Event) {
			for ev := range ch {
				fmt.Printf("  [event] %s: %v\n", t, ev.Payload)
			}
		}(t, ch)
	}

	governor := resource.NewGovernorWithOptions([]resource.PoolSpec{
		{Type: resource.PoolMemoryMB, Total: 1024, Reserved: 128},
		{Type: resource.PoolDBConnections, Total: 4},
	}, nil, bus, nil)

	section("Demo 1: Admission")
	first, err := governor.Allocate("group-1", []resource.Request{
		{Type: resource.PoolMemoryMB, Amount: 512, Priority: models.PriorityNormal, TTL: time.Minute},
		{Type: resource.PoolDBConnections, Amount: 2, Priority: models.PriorityNormal, TTL: time.Minute},
	}, false)
	report("group-1 wants 512MB + 2 connections", err)
	printSnapshots(governor)

	section("Demo 2: Shortfall rolls the whole claim back")
	_, err = governor.Allocate("group-2", []resource.Request{
		{Type: resource.PoolMemoryMB, Amount: 256, Priority: models.PriorityNormal, TTL: time.Minute},
		{Type: resource.PoolDBConnections, Amount: 3, Priority: models.PriorityNormal, TTL: time.Minute},
	}, false)
	report("group-2 wants 256MB + 3 connections (only 2 left)", err)
	printSnapshots(governor)

	section("Demo 3: Expired allocations are reclaimed under pressure")
	_, err = governor.Allocate("group-3", []resource.Request{
		{Type: resource.PoolMemoryMB, Amount: 300, Priority: models.PriorityNormal, TTL: 50 * time.Millisecond},
	}, false)
	report("group-3 holds 300MB on a 50ms lease", err)

	time.Sleep(100 * time.Millisecond)

	_, err = governor.Allocate("group-4", []resource.Request{
		{Type: resource.PoolMemoryMB, Amount: 350, Priority: models.PriorityCritical, TTL: time.Minute},
	}, false)
	report("group-4 wants 350MB after group-3's lease expired", err)
	printSnapshots(governor)

	ids := make([]string, len(first))
	for i, alloc := range first {
		ids[i] = alloc.ID
	}
	if err := governor.Release(ids); err != nil {
		fmt.Printf("  release failed: %v\n", err)
	}

	// Let the event drains print before exiting
	time.Sleep(50 * time.Millisecond)

	fmt.Printf("\nDenied allocations over the session: %d\n", governor.Denials())
}

func banner(title string) {
	line := strings.Repeat("=", 60)
	fmt.Println(line)
	fmt.Println(title)
	fmt.Println(line)
}

func section(title string) {
	fmt.Println()
	fmt.Println(strings.Repeat("-", 60))
	fmt.Println(title)
	fmt.Println(strings.Repeat("-", 60))
}

func report(attempt string, err error) {
	if err != nil {
		fmt.Printf("%s -> denied: %v\n", attempt, err)
		return
	}
	fmt.Printf("%s -> granted\n", attempt)
}

func printSnapshots(governor *resource.Governor) {
	for _, snap := range governor.Snapshots() {
		fmt.Printf("  pool %-16s total %4d, allocated %4d, available %4d, reserved %3d, claims %d\n",
			snap.Type, snap.Total, snap.Allocated, snap.Available, snap.Reserved, snap.ActiveAllocations)
	}
}
