// Package monitor defines the test-facing observation surface over a
// running topology: a snapshot of every role's state, a way to block
// until the run's lifetime ends, and delay-profile injection.
// It holds no state of its own — internal/topology constructs a Handle
// from closures over its own internals, so the monitor never needs write
// access to role state: it reads via atomic snapshots and never mutates.
package monitor

import (
	"context"

	"github.com/paxoslab/gpaxos/internal/errs"
	"github.com/paxoslab/gpaxos/internal/policy"
	"github.com/paxoslab/gpaxos/internal/role"
	"github.com/paxoslab/gpaxos/internal/transport"
)

// AllStates is one atomic snapshot across every role in a topology.
type AllStates struct {
	RunID     string
	Proposers []role.ProposerSnapshot
	Leader    role.LeaderSnapshot
	Acceptors []role.AcceptorSnapshot
	Learners  []role.LearnerSnapshot
	Errors    []errs.Entry
}

// LearnedByLearner returns the policies recorded as Accepted in each
// learner's cstruct, in learner order — a convenience for tests checking
// that proposed policies were learned and that learners agree.
func (s AllStates) LearnedByLearner() [][]policy.Policy {
	out := make([][]policy.Policy, len(s.Learners))
	for i, l := range s.Learners {
		for _, a := range l.Learned.Acceptances() {
			if a.Tag == policy.Accepted {
				out[i] = append(out[i], a.Policy)
			}
		}
	}
	return out
}

// Handle is the monitor API a test (or the CLI) is given back by
// internal/topology.Launch.
type Handle struct {
	snapshotFn     func() AllStates
	awaitFn        func(ctx context.Context) error
	injectDelaysFn func(transport.Delay)
}

// New builds a Handle from the three closures a launcher provides.
func New(snapshot func() AllStates, await func(context.Context) error, injectDelays func(transport.Delay)) *Handle {
	return &Handle{snapshotFn: snapshot, awaitFn: await, injectDelaysFn: injectDelays}
}

// Snapshot returns the current state of every role.
func (h *Handle) Snapshot() AllStates { return h.snapshotFn() }

// AwaitTermination blocks until the topology's configured lifetime has
// elapsed (or ctx is cancelled, whichever comes first).
func (h *Handle) AwaitTermination(ctx context.Context) error { return h.awaitFn(ctx) }

// InjectDelays swaps in a new transport delay profile for the remainder
// of the run.
func (h *Handle) InjectDelays(d transport.Delay) { h.injectDelaysFn(d) }
