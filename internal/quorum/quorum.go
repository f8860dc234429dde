// Package quorum implements the parameterized majority families used to
// classify vote sets: classic (½) and fast (¾), plus the generic
// minimum-quorum and sub-intersection predicates the protocol's safety
// arguments rest on.
package quorum

import "sort"

// AcceptorID is a positive integer identity, stable for a run.
type AcceptorID int

// Family classifies a Votes set by a configured fraction of the full
// acceptor population required to call a set "a quorum". Other
// implementations of this idea tag a vote set with the family at the
// type level; Go generics have no phantom types, so Family instead rides
// along as a plain value on the Votes container.
type Family struct {
	name string
	frac float64
}

func (f Family) String() string { return f.name }

// Frac returns the quorum fraction, e.g. 0.5 for classic majority.
func (f Family) Frac() float64 { return f.frac }

// MajorityQuorum builds a Family requiring more than frac*N acceptors.
func MajorityQuorum(name string, frac float64) Family {
	return Family{name: name, frac: frac}
}

var (
	// ClassicMajority = MajorityQuorum(½).
	ClassicMajority = MajorityQuorum("classic", 0.5)
	// FastMajority = MajorityQuorum(¾).
	FastMajority = MajorityQuorum("fast", 0.75)
)

// IsQuorum reports whether |v| > acceptorsNum * family.frac.
func (f Family) IsQuorum(v int, acceptorsNum int) bool {
	return float64(v) > float64(acceptorsNum)*f.frac
}

// IsMinQuorum reports whether v is a quorum but dropping any one member
// would no longer be a quorum.
func (f Family) IsMinQuorum(v int, acceptorsNum int) bool {
	return f.IsQuorum(v, acceptorsNum) && !f.IsQuorum(v-1, acceptorsNum)
}

// IsSubIntersectionWithQuorum reports whether a vote set of size v is
// guaranteed to intersect any quorum-sized set q (size qSize) in at least
// a majority, derived from |q∩r| ≥ |q|+|r|-N.
func (f Family) IsSubIntersectionWithQuorum(qSize, v, acceptorsNum int) bool {
	return float64(v) > float64(qSize)+float64(acceptorsNum)*(f.frac-1)
}

// MinQuorumSize returns the smallest vote-set size that is a quorum for N
// acceptors under this family.
func (f Family) MinQuorumSize(acceptorsNum int) int {
	for size := 0; size <= acceptorsNum; size++ {
		if f.IsQuorum(size, acceptorsNum) {
			return size
		}
	}
	return acceptorsNum
}

// Votes maps AcceptorID to a per-acceptor value V, tagged by a Family so
// IsQuorum/IsMinQuorum dispatch correctly. The zero value is not usable;
// construct with NewVotes.
type Votes[V any] struct {
	family  Family
	members []AcceptorID // full acceptor population, stable order
	votes   map[AcceptorID]V
}

// NewVotes creates an empty Votes bounded by the given acceptor population.
func NewVotes[V any](family Family, members []AcceptorID) Votes[V] {
	sorted := append([]AcceptorID(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return Votes[V]{family: family, members: sorted, votes: map[AcceptorID]V{}}
}

// Family returns the quorum family tagging this Votes set.
func (vs Votes[V]) Family() Family { return vs.family }

// Set records acceptor id's vote, overwriting any prior vote from it.
func (vs Votes[V]) Set(id AcceptorID, v V) {
	vs.votes[id] = v
}

// Get returns the vote recorded for id, if any.
func (vs Votes[V]) Get(id AcceptorID) (V, bool) {
	v, ok := vs.votes[id]
	return v, ok
}

// Len is the number of acceptors who have voted so far.
func (vs Votes[V]) Len() int { return len(vs.votes) }

// NumMembers is the size of the full acceptor population this Votes set is
// bounded by, regardless of how many have voted so far.
func (vs Votes[V]) NumMembers() int { return len(vs.members) }

// IsQuorum reports whether the votes collected so far form a quorum of the
// full acceptor population under this Votes' family.
func (vs Votes[V]) IsQuorum() bool {
	return vs.family.IsQuorum(len(vs.votes), len(vs.members))
}

// IsMinQuorum reports whether the votes collected so far are a minimum
// quorum: a quorum that stops being one if any single voter is dropped.
func (vs Votes[V]) IsMinQuorum() bool {
	return vs.family.IsMinQuorum(len(vs.votes), len(vs.members))
}

// Entries returns the recorded (id, vote) pairs in ascending id order, for
// reproducible iteration.
func (vs Votes[V]) Entries() []Entry[V] {
	ids := make([]AcceptorID, 0, len(vs.votes))
	for id := range vs.votes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Entry[V], 0, len(ids))
	for _, id := range ids {
		out = append(out, Entry[V]{ID: id, Value: vs.votes[id]})
	}
	return out
}

// Entry is a single (AcceptorID, vote) pair.
type Entry[V any] struct {
	ID    AcceptorID
	Value V
}

// SubVotes returns every subset of the recorded votes whose size satisfies
// predicate. Intended for small acceptor populations (test topologies);
// it walks all 2^n subsets of the n recorded votes.
func (vs Votes[V]) SubVotes(predicate func(int) bool) [][]Entry[V] {
	entries := vs.Entries()
	var out [][]Entry[V]
	n := len(entries)
	for mask := 0; mask < (1 << n); mask++ {
		size := 0
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				size++
			}
		}
		if !predicate(size) {
			continue
		}
		subset := make([]Entry[V], 0, size)
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				subset = append(subset, entries[i])
			}
		}
		out = append(out, subset)
	}
	return out
}

// AllMinQuorumsOf enumerates every minimum-quorum-sized subset of vs.
func (vs Votes[V]) AllMinQuorumsOf() [][]Entry[V] {
	return vs.SubVotes(func(size int) bool { return vs.family.IsMinQuorum(size, len(vs.members)) })
}

// AllQuorumsOf enumerates every quorum-sized (not necessarily minimal)
// subset of vs.
func (vs Votes[V]) AllQuorumsOf() [][]Entry[V] {
	return vs.SubVotes(func(size int) bool { return vs.family.IsQuorum(size, len(vs.members)) })
}
