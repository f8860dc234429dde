package scheduler

import (
	"context"
	"sync"
)

// Driver owns the Clock and the root of the PRNG split tree for one run.
// Each Spawn call gets its own split, so independently spawned schedules
// never share Rand state even though they share the Driver's Clock. Spawn
// is safe to call concurrently from multiple goroutines (the usual way a
// topology drives its ballot/proposal/reproposal schedules side by side);
// the split itself is serialized, the returned child Rand is not shared.
type Driver struct {
	Clock Clock

	mu   sync.Mutex
	root *Rand
}

// NewDriver builds a Driver from a root seed and a Clock (RealClock in
// production, VirtualClock under test).
func NewDriver(seed uint64, clk Clock) *Driver {
	return &Driver{Clock: clk, root: NewRand(seed)}
}

// Spawn runs s to completion (or until ctx is cancelled) in the current
// goroutine, using a freshly split Rand. Callers that want concurrent
// schedules should call Spawn from their own goroutine, or use Par/ParAll
// within a single Schedule.
func Spawn[E any](ctx context.Context, d *Driver, s Schedule[E], emit func(E)) {
	RunWith(ctx, d, d.Fork(), s, emit)
}

// Fork splits the driver's root in call order. A launcher that starts
// several schedules in goroutines must Fork each Rand before the `go`
// statement — splitting inside the goroutines would make the split order,
// and therefore the whole run, depend on goroutine scheduling.
func (d *Driver) Fork() *Rand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root.Split()
}

// RunWith interprets s against d's clock using a previously Forked Rand.
func RunWith[E any](ctx context.Context, d *Driver, r *Rand, s Schedule[E], emit func(E)) {
	s.Run(ctx, d.Clock, r, emit)
}
