// Package cstruct implements the CStruct algebra: a partially-ordered,
// conflict-free collection of accepted/rejected policies, with the GLB/LUB
// operations and the quorum-driven combination rule that reconciles many
// acceptors' views into one.
package cstruct

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/paxoslab/gpaxos/internal/policy"
)

// ErrContradictive is returned whenever an operation would produce (or was
// asked to combine into) an internally-conflicting Configuration.
var ErrContradictive = errors.New("cstruct: contradictive configuration")

// Configuration is the CStruct instance used throughout this module: a set
// of policy.Acceptance values, keyed by (policy identity, tag), with no
// internal pair conflicting.
type Configuration struct {
	entries map[string]policy.Acceptance
}

// Empty returns the empty (bottom) Configuration.
func Empty() Configuration {
	return Configuration{entries: map[string]policy.Acceptance{}}
}

// FromAcceptances builds a Configuration out of already-agreed acceptances.
// It returns an error if the input set is contradictive.
func FromAcceptances(as ...policy.Acceptance) (Configuration, error) {
	c := Empty()
	for _, a := range as {
		var err error
		c, err = c.withRaw(a)
		if err != nil {
			return Configuration{}, err
		}
	}
	return c, nil
}

func (c Configuration) withRaw(a policy.Acceptance) (Configuration, error) {
	for _, existing := range c.entries {
		if existing.Conflicts(a) {
			return Configuration{}, errors.Wrapf(ErrContradictive, "%s conflicts with %s", a, existing)
		}
	}
	next := make(map[string]policy.Acceptance, len(c.entries)+1)
	for k, v := range c.entries {
		next[k] = v
	}
	next[a.Key()] = a
	return Configuration{entries: next}, nil
}

// Len reports the number of acceptances held.
func (c Configuration) Len() int { return len(c.entries) }

// Acceptances returns the held acceptances in a stable (sorted by key)
// order, so callers get reproducible iteration.
func (c Configuration) Acceptances() []policy.Acceptance {
	out := make([]policy.Acceptance, 0, len(c.entries))
	for _, v := range c.entries {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Contains reports whether S extends {Accepted(c)} or S extends
// {Rejected(c)} — i.e. whether a verdict has been recorded for the raw
// policy, regardless of which way it went.
func (c Configuration) Contains(p policy.Policy) bool {
	_, okA := c.entries[policy.NewAccepted(p).Key()]
	if okA {
		return true
	}
	_, okR := c.entries[policy.NewRejected(p).Key()]
	return okR
}

// Verdict returns the acceptance recorded for p, if any.
func (c Configuration) Verdict(p policy.Policy) (policy.Acceptance, bool) {
	if a, ok := c.entries[policy.NewAccepted(p).Key()]; ok {
		return a, true
	}
	if a, ok := c.entries[policy.NewRejected(p).Key()]; ok {
		return a, true
	}
	return policy.Acceptance{}, false
}

// AddCommand returns S ∪ {c} when c agrees with every policy already
// present with an Accepted verdict, else fails. It never records a
// Rejected verdict; use AcceptOrRejectCommand for that.
func (c Configuration) AddCommand(p policy.Policy) (Configuration, error) {
	return c.withRaw(policy.NewAccepted(p))
}

// AcceptOrRejectCommand returns (Accepted(c), S') if c agrees with S, else
// (Rejected(c), S'). Unlike AddCommand this never fails: a conflicting
// command is recorded as Rejected instead.
func AcceptOrRejectCommand(p policy.Policy, c Configuration) (policy.Acceptance, Configuration) {
	if next, err := c.AddCommand(p); err == nil {
		return policy.NewAccepted(p), next
	}
	a := policy.NewRejected(p)
	next, err := c.withRaw(a)
	if err != nil {
		// A Rejected acceptance never conflicts with anything, so this
		// branch is unreachable for a well-formed Configuration.
		panic(err)
	}
	return a, next
}

// Extends implements the CStruct partial order: S1 ≤ S2 iff S1 ⊆ S2.
func Extends(small, large Configuration) bool {
	for k, v := range small.entries {
		other, ok := large.entries[k]
		if !ok || other != v {
			return false
		}
	}
	return true
}

// GLB computes the greatest lower bound: A ∪ B, failing if the union is
// contradictive.
func GLB(a, b Configuration) (Configuration, error) {
	out := a
	for _, v := range b.Acceptances() {
		var err error
		out, err = out.withRaw(v)
		if err != nil {
			return Configuration{}, err
		}
	}
	return out, nil
}

// LUB computes the least upper bound: A ∩ B. Always defined.
func LUB(a, b Configuration) Configuration {
	out := Empty()
	for k, v := range a.entries {
		if other, ok := b.entries[k]; ok && other == v {
			out.entries[k] = v
		}
	}
	return out
}
