package config

import (
	"sync/atomic"

	"github.com/paxoslab/gpaxos/internal/policy"
	"github.com/paxoslab/gpaxos/internal/scheduler"
)

// Build turns a ScheduleSpec into a runnable scheduler.Schedule[E]. leafFn
// resolves a `once` leaf (nil for schedules with no payload, e.g. the
// ballot schedule) into an E value; returning ok=false skips emission.
func Build[E any](spec ScheduleSpec, leafFn func(leaf *PolicyLeaf, r *scheduler.Rand) (E, bool)) scheduler.Schedule[E] {
	if spec.IsZero() {
		return scheduler.Generate(func(*scheduler.Rand) (E, bool) {
			var zero E
			return zero, false
		})
	}
	if len(spec.Parallel) > 0 {
		children := make([]scheduler.Schedule[E], len(spec.Parallel))
		for i, c := range spec.Parallel {
			children[i] = Build(c, leafFn)
		}
		return scheduler.ParAll(children...)
	}

	var base scheduler.Schedule[E]
	switch {
	case spec.Once != nil:
		leaf := spec.Once
		base = scheduler.Generate(func(r *scheduler.Rand) (E, bool) { return leafFn(leaf, r) })
	case spec.Inner != nil:
		base = Build(*spec.Inner, leafFn)
	default:
		base = scheduler.Generate(func(r *scheduler.Rand) (E, bool) { return leafFn(nil, r) })
	}

	if spec.Times != nil {
		base = scheduler.Times(*spec.Times, base)
	}
	switch {
	case spec.Repeat != nil && spec.Period != nil:
		base = scheduler.Repeating(*spec.Repeat, *spec.Period, base)
	case spec.Period != nil:
		base = scheduler.Periodic(*spec.Period, base)
	}
	if spec.Delay != nil {
		base = scheduler.Delayed(*spec.Delay, base)
	}
	return base
}

// PolicyNamer hands out stable, increasing names for generated policies
// ("p0", "p1", ...), so replaying the same seed produces the same names.
func PolicyNamer(prefix string) func() string {
	var n int64
	return func() string {
		i := atomic.AddInt64(&n, 1) - 1
		return prefix + itoa(i)
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// ResolvePolicyLeaf turns a PolicyLeaf into a concrete policy.Policy,
// picking among a weighted list by drawing from r when the leaf is a
// weighted-list form.
func ResolvePolicyLeaf(leaf *PolicyLeaf, r *scheduler.Rand, namer func() string) (policy.Policy, bool) {
	if leaf == nil {
		return nil, false
	}
	if leaf.Weighted != nil {
		total := 0.0
		for _, w := range leaf.Weighted {
			total += w.Weight
		}
		if total <= 0 {
			return nil, false
		}
		pick := r.Float64() * total
		acc := 0.0
		for _, w := range leaf.Weighted {
			acc += w.Weight
			if pick < acc {
				return ResolvePolicyLeaf(&w.Leaf, r, namer)
			}
		}
		return ResolvePolicyLeaf(&leaf.Weighted[len(leaf.Weighted)-1].Leaf, r, namer)
	}
	switch leaf.Kind {
	case KindGood:
		return policy.Good{Name: namer()}, true
	case KindBad:
		return policy.Bad{Name: namer()}, true
	case KindMoody:
		return policy.Moody{Group: leaf.Group, Name: namer()}, true
	default:
		return nil, false
	}
}

// Unit resolves any leaf to a bare tick, for schedules with no payload
// (ballots, reproposal triggers).
func Unit(*PolicyLeaf, *scheduler.Rand) (scheduler.Unit, bool) {
	return scheduler.Unit{}, true
}
