// Package message defines the typed request records exchanged between
// Paxos roles, addressed by logical role identity rather than by network
// location — the transport resolves addresses to delivery.
package message

import (
	"fmt"

	"github.com/paxoslab/gpaxos/internal/cstruct"
	"github.com/paxoslab/gpaxos/internal/policy"
	"github.com/paxoslab/gpaxos/internal/quorum"
)

// Role names a logical participant class.
type Role string

const (
	RoleProposer Role = "proposer"
	RoleLeader   Role = "leader"
	RoleAcceptor Role = "acceptor"
	RoleLearner  Role = "learner"
)

// Address identifies a message endpoint: a role class plus an instance id.
// Proposer and Leader are singletons (id 0); Acceptor/Learner ids are
// quorum.AcceptorID values.
type Address struct {
	Role Role
	ID   quorum.AcceptorID
}

func (a Address) String() string { return fmt.Sprintf("%s#%d", a.Role, a.ID) }

// Ballot is a totally-ordered, strictly-monotonic-per-acceptor integer
// identifier for a ballot attempt. -1 means "nothing heard".
type Ballot int64

// NoBallot is the initial "nothing heard" value.
const NoBallot Ballot = -1

// Proposal carries a single policy from a Proposer to a Leader (classic)
// or directly to the Acceptors (fast, see FastProposal).
type Proposal struct {
	From   Address
	Policy policy.Policy
}

// Phase1a is the Leader's ballot-opening broadcast to Acceptors.
type Phase1a struct {
	From   Address
	Ballot Ballot
}

// Phase1b is an Acceptor's reply carrying its latest cstruct.
type Phase1b struct {
	From     Address
	Acceptor quorum.AcceptorID
	Ballot   Ballot
	CStruct  cstruct.Configuration
}

// Phase2a is the Leader's proposed cstruct extension for a ballot.
type Phase2a struct {
	From    Address
	Ballot  Ballot
	CStruct cstruct.Configuration
}

// Phase2b is an Acceptor's broadcast of its updated cstruct to learners
// (and, in the fast variant, to the leader as well).
//
// Fast marks whether this vote was produced by the fast path (a
// FastProposal applied directly at the acceptor) rather than a classic
// Phase2a. Learners need this to know which quorum family — Classic or
// Fast — a given vote should be tallied under; it has no wire analogue in
// the source material, which only ever runs one variant per topology, but
// a single Learner implementation serving both variants needs it.
type Phase2b struct {
	From     Address
	Acceptor quorum.AcceptorID
	Ballot   Ballot
	CStruct  cstruct.Configuration
	Fast     bool
}

// FastProposal is sent by a Proposer directly to Acceptors on the fast
// path, carrying the ballot the proposer believes is currently open.
type FastProposal struct {
	From   Address
	Policy policy.Policy
	Ballot Ballot
}
