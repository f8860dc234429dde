package role

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/paxoslab/gpaxos/internal/cstruct"
	"github.com/paxoslab/gpaxos/internal/errs"
	"github.com/paxoslab/gpaxos/internal/message"
	"github.com/paxoslab/gpaxos/internal/policy"
	"github.com/paxoslab/gpaxos/internal/quorum"
	"github.com/paxoslab/gpaxos/internal/scheduler"
	"github.com/paxoslab/gpaxos/internal/transport"
)

// LeaderState names the four stages of the leader's ballot state machine.
type LeaderState int

const (
	StateIdle LeaderState = iota
	StateCollecting1b
	StateAnnouncing2a
	StateCollecting2b
)

func (s LeaderState) String() string {
	switch s {
	case StateCollecting1b:
		return "collecting1b"
	case StateAnnouncing2a:
		return "announcing2a"
	case StateCollecting2b:
		return "collecting2b"
	default:
		return "idle"
	}
}

// Leader drives the Classic two-phase ballot and, in the Fast variant,
// also watches the fast-path 2b broadcast to detect a conflict needing
// recovery.
type Leader struct {
	mu sync.Mutex

	addr      message.Address
	variant   Variant
	acceptors []message.Address
	members   []quorum.AcceptorID

	state          LeaderState
	ballot         message.Ballot
	pending        []policy.Policy // queued for the next ballot
	currentPending []policy.Policy // fixed for the in-flight ballot
	votes1b        quorum.Votes[cstruct.Configuration]

	fastVotes     quorum.Votes[cstruct.Configuration]
	recovering    bool
	recoveryDelay time.Duration
	clk           scheduler.Clock

	transport transport.Transport
	errLog    *errs.Log
	log       zerolog.Logger
}

// NewLeader builds an idle Leader. recoveryDelay/clk are only consulted
// when variant == Fast.
func NewLeader(addr message.Address, variant Variant, acceptors []message.Address, members []quorum.AcceptorID, recoveryDelay time.Duration, clk scheduler.Clock, t transport.Transport, errLog *errs.Log, log zerolog.Logger) *Leader {
	return &Leader{
		addr: addr, variant: variant, acceptors: acceptors, members: members,
		state: StateIdle, ballot: message.NoBallot,
		fastVotes: quorum.NewVotes[cstruct.Configuration](quorum.FastMajority, members),
		recoveryDelay: recoveryDelay, clk: clk,
		transport: t, errLog: errLog, log: log,
	}
}

// RememberProposal appends a policy to the pending queue for the next
// ballot. Duplicates are permitted: the CStruct algebra dedups by policy
// identity, so re-proposing is idempotent in effect.
func (l *Leader) RememberProposal(p policy.Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, p)
}

// Phase1a opens a new ballot: if the previous ballot never reached a 1b
// quorum, the ballot is abandoned and its pending policies are carried
// forward; otherwise they were already folded into the 2a extension
// and are dropped. It then fixes currentPending from the queue and
// broadcasts Phase1a(ballot).
func (l *Leader) Phase1a(ctx context.Context) {
	l.mu.Lock()
	if l.state == StateCollecting1b {
		carried := make([]policy.Policy, 0, len(l.currentPending)+len(l.pending))
		carried = append(carried, l.currentPending...)
		carried = append(carried, l.pending...)
		l.pending = carried
	}
	l.ballot++
	l.currentPending = l.pending
	l.pending = nil
	l.state = StateCollecting1b
	l.votes1b = quorum.NewVotes[cstruct.Configuration](quorum.ClassicMajority, l.members)
	ballot := l.ballot
	l.mu.Unlock()

	l.log.Debug().Int64("ballot", int64(ballot)).Int("pending", len(l.currentPending)).Msg("phase1a")
	l.transport.Broadcast(ctx, l.acceptors, message.Phase1a{From: l.addr, Ballot: ballot})
}

// HandlePhase1b records m's vote; on reaching a 1b quorum it combines the
// votes, folds in every policy some acceptor voted on that the
// combination left undecided (an acceptance seen by fewer than a quorum —
// after a fast-path conflict these are the divergently speculated
// commands the recovery ballot exists to settle, and in classic runs they
// are proposals whose 2a only partially delivered), then folds every
// pending policy (in arrival order, for reproducible tie-breaks) into the
// cstruct via AcceptOrRejectCommand, and broadcasts the resulting
// extension as Phase2a.
func (l *Leader) HandlePhase1b(ctx context.Context, m message.Phase1b) {
	l.mu.Lock()
	if m.Ballot != l.ballot || l.state != StateCollecting1b {
		l.mu.Unlock()
		return
	}
	l.votes1b.Set(m.Acceptor, m.CStruct)
	if !l.votes1b.IsQuorum() {
		l.mu.Unlock()
		return
	}

	combined, err := cstruct.Combination(l.votes1b)
	if err != nil {
		l.mu.Unlock()
		l.errLog.Record(l.addr.String(), errs.ErrContradictiveCombination)
		l.log.Warn().Err(err).Msg("1b combination contradictive")
		return
	}
	extension := combined
	for _, e := range l.votes1b.Entries() {
		for _, a := range e.Value.Acceptances() {
			if !extension.Contains(a.Policy) {
				_, extension = cstruct.AcceptOrRejectCommand(a.Policy, extension)
			}
		}
	}
	for _, p := range l.currentPending {
		_, extension = cstruct.AcceptOrRejectCommand(p, extension)
	}
	l.state = StateAnnouncing2a
	ballot := l.ballot
	l.mu.Unlock()

	l.transport.Broadcast(ctx, l.acceptors, message.Phase2a{From: l.addr, Ballot: ballot, CStruct: extension})

	l.mu.Lock()
	if l.state == StateAnnouncing2a {
		l.state = StateCollecting2b
	}
	l.mu.Unlock()
}

// HandlePhase2b is only meaningful in the Fast variant: it watches the
// fast-path 2b broadcast (m.Fast) for a conflict — a ¾ quorum of votes
// that either fails to combine, or combines into a cstruct leaving some
// voted-on policy without any quorum verdict (divergent speculation) —
// and, on detecting one, schedules a classic recovery ballot after
// recoveryDelay.
func (l *Leader) HandlePhase2b(ctx context.Context, m message.Phase2b) {
	if l.variant != Fast || !m.Fast {
		return
	}
	l.mu.Lock()
	l.fastVotes.Set(m.Acceptor, m.CStruct)
	if !l.fastVotes.IsQuorum() {
		l.mu.Unlock()
		return
	}
	if !fastVotesConflict(l.fastVotes) || l.recovering {
		l.mu.Unlock()
		return
	}
	l.recovering = true
	delay := l.recoveryDelay
	l.mu.Unlock()

	l.log.Info().Dur("recovery_delay", delay).Msg("fast path conflict, scheduling classic recovery")
	go func() {
		select {
		case <-l.clk.After(delay):
		case <-ctx.Done():
			return
		}
		l.mu.Lock()
		l.recovering = false
		l.fastVotes = quorum.NewVotes[cstruct.Configuration](quorum.FastMajority, l.members)
		l.mu.Unlock()
		l.Phase1a(ctx)
	}()
}

// fastVotesConflict reports whether a quorum of fast votes needs classic
// recovery: the combination is contradictive, or some policy voted on by
// any acceptor ends up with no quorum verdict at all — the acceptors
// speculated divergently and no fast quorum can agree.
func fastVotesConflict(votes quorum.Votes[cstruct.Configuration]) bool {
	combined, err := cstruct.Combination(votes)
	if err != nil {
		return true
	}
	for _, e := range votes.Entries() {
		for _, a := range e.Value.Acceptances() {
			if !combined.Contains(a.Policy) {
				return true
			}
		}
	}
	return false
}

// LeaderSnapshot is the observable state of a Leader.
type LeaderSnapshot struct {
	State   LeaderState
	Ballot  message.Ballot
	Pending int
}

// Snapshot returns a copy of the leader's current (state, ballot, pending
// count).
func (l *Leader) Snapshot() LeaderSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LeaderSnapshot{State: l.state, Ballot: l.ballot, Pending: len(l.pending) + len(l.currentPending)}
}
