package cstruct

import (
	"sort"

	"github.com/paxoslab/gpaxos/internal/policy"
	"github.com/paxoslab/gpaxos/internal/quorum"
)

// Combination reconciles a Votes set of per-acceptor Configurations into a
// single cstruct: it contains exactly those policies for which some
// minimum quorum voted Accepted, plus those for which some minimum quorum
// voted Rejected. It fails if the result would be contradictive.
//
// This is the primary implementation: enumerate minimum quorums, LUB
// (intersect) within each, then GLB (union with conflict check) across
// the resulting sequence.
func Combination(votes quorum.Votes[Configuration]) (Configuration, error) {
	quorums := votes.AllMinQuorumsOf()
	out := Empty()
	for _, q := range quorums {
		if len(q) == 0 {
			continue
		}
		intersection := q[0].Value
		for _, e := range q[1:] {
			intersection = LUB(intersection, e.Value)
		}
		var err error
		out, err = GLB(out, intersection)
		if err != nil {
			return Configuration{}, err
		}
	}
	return out, nil
}

// CombinationByScan is the alternate formulation: iterate over every
// policy mentioned by any vote, and for each check whether some quorum's
// subset of votes all extend {Accepted(p)} or all extend {Rejected(p)}.
// It exists solely as a property-test oracle to check agreement with
// Combination — it scans every vote once per policy and is not used on
// the hot path.
func CombinationByScan(votes quorum.Votes[Configuration]) (Configuration, error) {
	seen := map[string]policy.Policy{}
	for _, e := range votes.Entries() {
		for _, a := range e.Value.Acceptances() {
			seen[a.Policy.Identity()] = a.Policy
		}
	}

	out := Empty()
	for _, p := range sortedPolicies(seen) {
		acc, ok := quorumAgreesOn(votes, p, policy.Accepted)
		if ok {
			var err error
			out, err = out.withRaw(acc)
			if err != nil {
				return Configuration{}, err
			}
			continue
		}
		acc, ok = quorumAgreesOn(votes, p, policy.Rejected)
		if ok {
			var err error
			out, err = out.withRaw(acc)
			if err != nil {
				return Configuration{}, err
			}
		}
	}
	return out, nil
}

func quorumAgreesOn(votes quorum.Votes[Configuration], p policy.Policy, tag policy.Tag) (policy.Acceptance, bool) {
	want := policy.Acceptance{Tag: tag, Policy: p}
	singleton, err := FromAcceptances(want)
	if err != nil {
		return policy.Acceptance{}, false
	}
	count := 0
	for _, e := range votes.Entries() {
		if Extends(singleton, e.Value) {
			count++
		}
	}
	if votes.Family().IsQuorum(count, votes.NumMembers()) {
		return want, true
	}
	return policy.Acceptance{}, false
}

func sortedPolicies(m map[string]policy.Policy) []policy.Policy {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]policy.Policy, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
