package role

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/paxoslab/gpaxos/internal/cstruct"
	"github.com/paxoslab/gpaxos/internal/errs"
	"github.com/paxoslab/gpaxos/internal/message"
	"github.com/paxoslab/gpaxos/internal/quorum"
	"github.com/paxoslab/gpaxos/internal/transport"
)

// Acceptor holds (ballot, cstruct), initially (NoBallot, ∅), and answers
// Phase1a/Phase2a/FastProposal messages. In the Classic variant its
// cstruct field is monotonically non-decreasing under cstruct.Extends:
// every commit path below replaces it only with something it Extends.
// The one exception is the Fast variant's recovery override in
// HandlePhase2a, which may adopt a non-extending cstruct.
type Acceptor struct {
	mu sync.Mutex

	id      quorum.AcceptorID
	addr    message.Address
	variant Variant

	ballot  message.Ballot
	cstruct cstruct.Configuration

	// fastBallot is the highest ballot at which this acceptor applied a
	// FastProposal speculatively. A recovery Phase2a whose ballot exceeds
	// it may override the speculative cstruct wholesale.
	fastBallot message.Ballot

	leader    message.Address
	learners  []message.Address
	transport transport.Transport
	errLog    *errs.Log
	log       zerolog.Logger
}

// NewAcceptor builds an Acceptor starting at (NoBallot, ∅).
func NewAcceptor(id quorum.AcceptorID, addr, leader message.Address, learners []message.Address, variant Variant, t transport.Transport, errLog *errs.Log, log zerolog.Logger) *Acceptor {
	return &Acceptor{
		id: id, addr: addr, variant: variant,
		ballot: message.NoBallot, cstruct: cstruct.Empty(), fastBallot: message.NoBallot,
		leader: leader, learners: learners, transport: t, errLog: errLog, log: log,
	}
}

// HandlePhase1a implements: if b > ballot, adopt b and reply Phase1b with
// the current cstruct; otherwise ignore.
func (a *Acceptor) HandlePhase1a(ctx context.Context, m message.Phase1a) {
	a.mu.Lock()
	if m.Ballot <= a.ballot {
		a.mu.Unlock()
		return
	}
	a.ballot = m.Ballot
	reply := message.Phase1b{From: a.addr, Acceptor: a.id, Ballot: a.ballot, CStruct: a.cstruct}
	a.mu.Unlock()

	a.log.Debug().Int64("ballot", int64(m.Ballot)).Msg("phase1a accepted, replying phase1b")
	a.transport.Send(ctx, a.leader, reply)
}

// HandlePhase2a implements: if b == ballot and S extends the local
// cstruct, adopt S and broadcast Phase2b to learners. In the Fast
// variant, a non-extending S is still adopted when the ballot exceeds
// the ballot of the acceptor's last fast speculation: the recovery
// override, reconciling acceptors that speculated divergently.
// Anything else is a protocol violation (or a stale ballot) and is
// dropped.
func (a *Acceptor) HandlePhase2a(ctx context.Context, m message.Phase2a) {
	a.mu.Lock()
	if m.Ballot != a.ballot {
		a.mu.Unlock()
		return
	}
	if !cstruct.Extends(a.cstruct, m.CStruct) {
		if a.variant != Fast || m.Ballot <= a.fastBallot {
			a.mu.Unlock()
			a.errLog.Record(a.addr.String(), errs.ErrProtocolViolation)
			a.log.Warn().Int64("ballot", int64(m.Ballot)).Msg("phase2a does not extend local cstruct, dropping")
			return
		}
		a.log.Info().Int64("ballot", int64(m.Ballot)).Msg("recovery phase2a overrides fast speculation")
	}
	a.cstruct = m.CStruct
	reply := message.Phase2b{From: a.addr, Acceptor: a.id, Ballot: a.ballot, CStruct: a.cstruct}
	a.mu.Unlock()

	a.transport.Broadcast(ctx, a.learners, reply)
}

// HandleFastProposal implements the Fast-variant fast path: the acceptor
// applies the policy locally via cstruct.AcceptOrRejectCommand (which
// never fails) and broadcasts its updated cstruct to learners and the
// leader, so the leader can detect a conflict needing recovery.
func (a *Acceptor) HandleFastProposal(ctx context.Context, m message.FastProposal) {
	a.mu.Lock()
	if m.Ballot < a.ballot {
		// Stale speculation from before a recovery ballot.
		a.mu.Unlock()
		return
	}
	_, next := cstruct.AcceptOrRejectCommand(m.Policy, a.cstruct)
	a.cstruct = next
	if m.Ballot > a.fastBallot {
		a.fastBallot = m.Ballot
	}
	reply := message.Phase2b{From: a.addr, Acceptor: a.id, Ballot: m.Ballot, CStruct: a.cstruct, Fast: true}
	a.mu.Unlock()

	a.transport.Broadcast(ctx, a.learners, reply)
	a.transport.Send(ctx, a.leader, reply)
}

// AcceptorSnapshot is the observable state of an Acceptor.
type AcceptorSnapshot struct {
	ID      quorum.AcceptorID
	Ballot  message.Ballot
	CStruct cstruct.Configuration
}

// Snapshot returns a copy of the acceptor's current (ballot, cstruct).
func (a *Acceptor) Snapshot() AcceptorSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AcceptorSnapshot{ID: a.id, Ballot: a.ballot, CStruct: a.cstruct}
}
