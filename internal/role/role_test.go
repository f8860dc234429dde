package role_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/paxoslab/gpaxos/internal/cstruct"
	"github.com/paxoslab/gpaxos/internal/errs"
	"github.com/paxoslab/gpaxos/internal/message"
	"github.com/paxoslab/gpaxos/internal/policy"
	"github.com/paxoslab/gpaxos/internal/quorum"
	"github.com/paxoslab/gpaxos/internal/role"
	"github.com/paxoslab/gpaxos/internal/scheduler"
	"github.com/paxoslab/gpaxos/internal/transport"
)

// capture is a Transport that records every Send instead of delivering,
// for asserting on a single role's outbound traffic.
type capture struct {
	mu   sync.Mutex
	sent []transport.Envelope
}

func (c *capture) Subscribe(message.Address, func(transport.Envelope)) {}

func (c *capture) Send(_ context.Context, to message.Address, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, transport.Envelope{To: to, Payload: payload})
}

func (c *capture) Broadcast(ctx context.Context, tos []message.Address, payload any) {
	for _, to := range tos {
		c.Send(ctx, to, payload)
	}
}

func (c *capture) all() []transport.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *capture) payloads() []any {
	var out []any
	for _, env := range c.all() {
		out = append(out, env.Payload)
	}
	return out
}

func addr(r message.Role, id int) message.Address {
	return message.Address{Role: r, ID: quorum.AcceptorID(id)}
}

func memberIDs(n int) []quorum.AcceptorID {
	out := make([]quorum.AcceptorID, n)
	for i := range out {
		out[i] = quorum.AcceptorID(i + 1)
	}
	return out
}

func acceptorAddrs(n int) []message.Address {
	out := make([]message.Address, n)
	for i := range out {
		out[i] = addr(message.RoleAcceptor, i+1)
	}
	return out
}

func mustConfig(t *testing.T, as ...policy.Acceptance) cstruct.Configuration {
	t.Helper()
	c, err := cstruct.FromAcceptances(as...)
	require.NoError(t, err)
	return c
}

func newAcceptor(id int, variant role.Variant, tr transport.Transport, errLog *errs.Log) *role.Acceptor {
	return role.NewAcceptor(
		quorum.AcceptorID(id), addr(message.RoleAcceptor, id),
		addr(message.RoleLeader, 0), []message.Address{addr(message.RoleLearner, 1)},
		variant, tr, errLog, zerolog.Nop(),
	)
}

func TestAcceptorAdoptsOnlyHigherBallots(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	a := newAcceptor(1, role.Classic, tr, errLog)
	ctx := context.Background()

	a.HandlePhase1a(ctx, message.Phase1a{Ballot: 3})
	require.Equal(t, message.Ballot(3), a.Snapshot().Ballot)
	require.Len(t, tr.all(), 1)
	reply := tr.all()[0].Payload.(message.Phase1b)
	require.Equal(t, message.Ballot(3), reply.Ballot)
	require.Equal(t, quorum.AcceptorID(1), reply.Acceptor)

	// Lower and equal ballots are ignored silently.
	a.HandlePhase1a(ctx, message.Phase1a{Ballot: 2})
	a.HandlePhase1a(ctx, message.Phase1a{Ballot: 3})
	require.Equal(t, message.Ballot(3), a.Snapshot().Ballot)
	require.Len(t, tr.all(), 1)
	require.True(t, errLog.Empty())
}

func TestAcceptorPhase2aExtending(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	a := newAcceptor(1, role.Classic, tr, errLog)
	ctx := context.Background()

	a.HandlePhase1a(ctx, message.Phase1a{Ballot: 0})
	ext := mustConfig(t, policy.NewAccepted(policy.Good{Name: "p1"}))
	a.HandlePhase2a(ctx, message.Phase2a{Ballot: 0, CStruct: ext})

	snap := a.Snapshot()
	require.True(t, snap.CStruct.Contains(policy.Good{Name: "p1"}))
	// Reply 1b plus the 2b broadcast to one learner.
	require.Len(t, tr.all(), 2)
	b2 := tr.all()[1].Payload.(message.Phase2b)
	require.False(t, b2.Fast)
	require.True(t, b2.CStruct.Contains(policy.Good{Name: "p1"}))
	require.True(t, errLog.Empty())
}

func TestAcceptorPhase2aWrongBallotIgnored(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	a := newAcceptor(1, role.Classic, tr, errLog)
	ctx := context.Background()

	a.HandlePhase1a(ctx, message.Phase1a{Ballot: 1})
	ext := mustConfig(t, policy.NewAccepted(policy.Good{Name: "p1"}))
	a.HandlePhase2a(ctx, message.Phase2a{Ballot: 0, CStruct: ext})

	require.Equal(t, 0, a.Snapshot().CStruct.Len())
	require.True(t, errLog.Empty(), "a stale ballot is not a violation")
}

func TestAcceptorPhase2aNonExtendingIsViolation(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	a := newAcceptor(1, role.Classic, tr, errLog)
	ctx := context.Background()

	a.HandlePhase1a(ctx, message.Phase1a{Ballot: 0})
	a.HandlePhase2a(ctx, message.Phase2a{Ballot: 0, CStruct: mustConfig(t, policy.NewAccepted(policy.Good{Name: "p1"}))})
	// A second 2a at the same ballot that does not include p1 would
	// shrink the acceptor's cstruct: protocol violation, dropped.
	a.HandlePhase2a(ctx, message.Phase2a{Ballot: 0, CStruct: mustConfig(t, policy.NewAccepted(policy.Good{Name: "p2"}))})

	snap := a.Snapshot()
	require.True(t, snap.CStruct.Contains(policy.Good{Name: "p1"}))
	require.False(t, snap.CStruct.Contains(policy.Good{Name: "p2"}))
	require.Equal(t, 1, errLog.Len())
	require.ErrorIs(t, errLog.Entries()[0].Err, errs.ErrProtocolViolation)
}

func TestAcceptorFastProposal(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	a := newAcceptor(1, role.Fast, tr, errLog)
	ctx := context.Background()

	a.HandleFastProposal(ctx, message.FastProposal{Policy: policy.Bad{Name: "b1"}, Ballot: message.NoBallot})
	a.HandleFastProposal(ctx, message.FastProposal{Policy: policy.Bad{Name: "b2"}, Ballot: message.NoBallot})

	snap := a.Snapshot()
	v1, ok := snap.CStruct.Verdict(policy.Bad{Name: "b1"})
	require.True(t, ok)
	require.Equal(t, policy.Accepted, v1.Tag)
	v2, ok := snap.CStruct.Verdict(policy.Bad{Name: "b2"})
	require.True(t, ok)
	require.Equal(t, policy.Rejected, v2.Tag)

	// Each fast application broadcasts to the learner and to the leader.
	require.Len(t, tr.all(), 4)
	for _, env := range tr.all() {
		b2 := env.Payload.(message.Phase2b)
		require.True(t, b2.Fast)
	}
}

func TestAcceptorIgnoresStaleFastProposal(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	a := newAcceptor(1, role.Fast, tr, errLog)
	ctx := context.Background()

	a.HandlePhase1a(ctx, message.Phase1a{Ballot: 2})
	a.HandleFastProposal(ctx, message.FastProposal{Policy: policy.Good{Name: "p1"}, Ballot: 1})
	require.Equal(t, 0, a.Snapshot().CStruct.Len())
}

func TestAcceptorRecoveryOverridesFastSpeculation(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	a := newAcceptor(1, role.Fast, tr, errLog)
	ctx := context.Background()

	// Speculate at the initial ballot.
	a.HandleFastProposal(ctx, message.FastProposal{Policy: policy.Bad{Name: "b1"}, Ballot: message.NoBallot})

	// Classic recovery at a higher ballot decides the other way.
	a.HandlePhase1a(ctx, message.Phase1a{Ballot: 0})
	decided := mustConfig(t,
		policy.NewAccepted(policy.Bad{Name: "b2"}),
		policy.NewRejected(policy.Bad{Name: "b1"}),
	)
	a.HandlePhase2a(ctx, message.Phase2a{Ballot: 0, CStruct: decided})

	snap := a.Snapshot()
	v, ok := snap.CStruct.Verdict(policy.Bad{Name: "b1"})
	require.True(t, ok)
	require.Equal(t, policy.Rejected, v.Tag)
	require.True(t, errLog.Empty(), "recovery override is not a violation")
}

func TestLearnerLearnsOnQuorumExactlyOnce(t *testing.T) {
	errLog := &errs.Log{}
	var learnedCalls [][]policy.Acceptance
	l := role.NewLearner(memberIDs(3), errLog, zerolog.Nop(), func(newly []policy.Acceptance) {
		learnedCalls = append(learnedCalls, newly)
	})

	c := mustConfig(t, policy.NewAccepted(policy.Good{Name: "p1"}))
	l.HandlePhase2b(message.Phase2b{Acceptor: 1, Ballot: 0, CStruct: c})
	require.Equal(t, 0, l.Snapshot().Learned.Len(), "one vote is not a quorum of 3")

	l.HandlePhase2b(message.Phase2b{Acceptor: 2, Ballot: 0, CStruct: c})
	require.True(t, l.Snapshot().Learned.Contains(policy.Good{Name: "p1"}))
	require.Len(t, learnedCalls, 1)
	require.Len(t, learnedCalls[0], 1)

	// A third identical vote must not re-announce the same command.
	l.HandlePhase2b(message.Phase2b{Acceptor: 3, Ballot: 0, CStruct: c})
	require.Len(t, learnedCalls, 1)
	require.True(t, errLog.Empty())
}

func TestLearnerLearnedIsMonotone(t *testing.T) {
	errLog := &errs.Log{}
	l := role.NewLearner(memberIDs(3), errLog, zerolog.Nop(), nil)

	c := mustConfig(t, policy.NewAccepted(policy.Good{Name: "p1"}))
	l.HandlePhase2b(message.Phase2b{Acceptor: 1, CStruct: c})
	l.HandlePhase2b(message.Phase2b{Acceptor: 2, CStruct: c})
	require.Equal(t, 1, l.Snapshot().Learned.Len())

	// Votes that would combine to something smaller leave learned as is.
	l.HandlePhase2b(message.Phase2b{Acceptor: 1, CStruct: cstruct.Empty()})
	l.HandlePhase2b(message.Phase2b{Acceptor: 2, CStruct: cstruct.Empty()})
	l.HandlePhase2b(message.Phase2b{Acceptor: 3, CStruct: cstruct.Empty()})
	require.Equal(t, 1, l.Snapshot().Learned.Len())
}

func TestLearnerKeepsFastAndClassicVotesApart(t *testing.T) {
	errLog := &errs.Log{}
	l := role.NewLearner(memberIDs(5), errLog, zerolog.Nop(), nil)

	c := mustConfig(t, policy.NewAccepted(policy.Good{Name: "p1"}))
	// Three fast votes are a classic majority but not a ¾ fast quorum:
	// nothing may be learned from them.
	l.HandlePhase2b(message.Phase2b{Acceptor: 1, CStruct: c, Fast: true})
	l.HandlePhase2b(message.Phase2b{Acceptor: 2, CStruct: c, Fast: true})
	l.HandlePhase2b(message.Phase2b{Acceptor: 3, CStruct: c, Fast: true})
	require.Equal(t, 0, l.Snapshot().Learned.Len())

	l.HandlePhase2b(message.Phase2b{Acceptor: 4, CStruct: c, Fast: true})
	require.True(t, l.Snapshot().Learned.Contains(policy.Good{Name: "p1"}))
}

func newLeader(variant role.Variant, n int, delay time.Duration, clk scheduler.Clock, tr transport.Transport, errLog *errs.Log) *role.Leader {
	return role.NewLeader(
		addr(message.RoleLeader, 0), variant, acceptorAddrs(n), memberIDs(n),
		delay, clk, tr, errLog, zerolog.Nop(),
	)
}

func TestLeaderClassicRound(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	l := newLeader(role.Classic, 3, 0, scheduler.RealClock{}, tr, errLog)
	ctx := context.Background()

	l.RememberProposal(policy.Good{Name: "p1"})
	l.Phase1a(ctx)

	snap := l.Snapshot()
	require.Equal(t, message.Ballot(0), snap.Ballot)
	require.Equal(t, role.StateCollecting1b, snap.State)
	require.Len(t, tr.all(), 3)
	for _, env := range tr.all() {
		require.Equal(t, message.Ballot(0), env.Payload.(message.Phase1a).Ballot)
	}

	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 1, Ballot: 0, CStruct: cstruct.Empty()})
	require.Len(t, tr.all(), 3, "one 1b is below quorum")

	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 2, Ballot: 0, CStruct: cstruct.Empty()})
	envs := tr.all()
	require.Len(t, envs, 6, "quorum of 1b triggers the 2a broadcast")
	for _, env := range envs[3:] {
		p2a := env.Payload.(message.Phase2a)
		require.Equal(t, message.Ballot(0), p2a.Ballot)
		require.True(t, p2a.CStruct.Contains(policy.Good{Name: "p1"}))
	}
	require.Equal(t, role.StateCollecting2b, l.Snapshot().State)
}

func TestLeaderPhase2aExtendsEvery1b(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	l := newLeader(role.Classic, 3, 0, scheduler.RealClock{}, tr, errLog)
	ctx := context.Background()

	prior := mustConfig(t, policy.NewAccepted(policy.Good{Name: "old"}))
	l.Phase1a(ctx)
	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 1, Ballot: 0, CStruct: prior})
	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 2, Ballot: 0, CStruct: prior})

	envs := tr.all()
	p2a := envs[len(envs)-1].Payload.(message.Phase2a)
	require.True(t, cstruct.Extends(cstruct.LUB(prior, prior), p2a.CStruct))
	require.True(t, p2a.CStruct.Contains(policy.Good{Name: "old"}))
}

func TestLeaderIgnoresStale1b(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	l := newLeader(role.Classic, 3, 0, scheduler.RealClock{}, tr, errLog)
	ctx := context.Background()

	l.Phase1a(ctx)
	l.Phase1a(ctx) // ballot is now 1
	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 1, Ballot: 0, CStruct: cstruct.Empty()})
	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 2, Ballot: 0, CStruct: cstruct.Empty()})
	// Only the two Phase1a broadcasts: the stale 1bs never quorum.
	require.Len(t, tr.all(), 6)
	require.Equal(t, role.StateCollecting1b, l.Snapshot().State)
}

func TestLeaderCarriesPendingAcrossAbandonedBallot(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	l := newLeader(role.Classic, 3, 0, scheduler.RealClock{}, tr, errLog)
	ctx := context.Background()

	l.RememberProposal(policy.Good{Name: "p1"})
	l.Phase1a(ctx)
	// No 1b quorum arrives; the next ballot must carry p1 forward.
	l.Phase1a(ctx)
	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 1, Ballot: 1, CStruct: cstruct.Empty()})
	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 2, Ballot: 1, CStruct: cstruct.Empty()})

	envs := tr.all()
	p2a := envs[len(envs)-1].Payload.(message.Phase2a)
	require.True(t, p2a.CStruct.Contains(policy.Good{Name: "p1"}))
}

func TestLeaderDefersProposalDuringCollecting2b(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	l := newLeader(role.Classic, 3, 0, scheduler.RealClock{}, tr, errLog)
	ctx := context.Background()

	l.Phase1a(ctx)
	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 1, Ballot: 0, CStruct: cstruct.Empty()})
	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 2, Ballot: 0, CStruct: cstruct.Empty()})
	require.Equal(t, role.StateCollecting2b, l.Snapshot().State)

	// Arrives mid-ballot: must go out with the next ballot, not this one.
	l.RememberProposal(policy.Good{Name: "late"})
	l.Phase1a(ctx)
	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 1, Ballot: 1, CStruct: cstruct.Empty()})
	l.HandlePhase1b(ctx, message.Phase1b{Acceptor: 2, Ballot: 1, CStruct: cstruct.Empty()})

	envs := tr.all()
	p2a := envs[len(envs)-1].Payload.(message.Phase2a)
	require.Equal(t, message.Ballot(1), p2a.Ballot)
	require.True(t, p2a.CStruct.Contains(policy.Good{Name: "late"}))
}

func TestLeaderFastConflictSchedulesRecovery(t *testing.T) {
	tr := &capture{}
	errLog := &errs.Log{}
	clk := scheduler.NewVirtualClock()
	l := newLeader(role.Fast, 5, 100*time.Millisecond, clk, tr, errLog)
	ctx := context.Background()

	left := mustConfig(t,
		policy.NewAccepted(policy.Bad{Name: "b1"}),
		policy.NewRejected(policy.Bad{Name: "b2"}),
	)
	right := mustConfig(t,
		policy.NewAccepted(policy.Bad{Name: "b2"}),
		policy.NewRejected(policy.Bad{Name: "b1"}),
	)

	l.HandlePhase2b(ctx, message.Phase2b{Acceptor: 1, CStruct: left, Fast: true})
	l.HandlePhase2b(ctx, message.Phase2b{Acceptor: 2, CStruct: left, Fast: true})
	l.HandlePhase2b(ctx, message.Phase2b{Acceptor: 3, CStruct: right, Fast: true})
	require.Empty(t, tr.all(), "below fast quorum, no recovery yet")

	l.HandlePhase2b(ctx, message.Phase2b{Acceptor: 4, CStruct: right, Fast: true})
	time.Sleep(5 * time.Millisecond)
	require.Empty(t, tr.all(), "recovery is delayed, not immediate")

	clk.Advance(150 * time.Millisecond)
	require.Eventually(t, func() bool {
		for _, env := range tr.all() {
			if _, ok := env.Payload.(message.Phase1a); ok {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "recovery ballot was never opened")
}

// TestFastConflictRecoveryEndToEnd wires a full Fast role set over an
// in-memory transport: two conflicting policies speculated in divergent
// orders, leader-driven recovery, and a single surviving acceptance.
func TestFastConflictRecoveryEndToEnd(t *testing.T) {
	clk := scheduler.NewVirtualClock()
	tr := transport.NewMemory(clk, scheduler.NewRand(1))
	errLog := &errs.Log{}
	ctx := context.Background()

	const n = 5
	leader := newLeader(role.Fast, n, 100*time.Millisecond, clk, tr, errLog)
	learner := role.NewLearner(memberIDs(n), errLog, zerolog.Nop(), nil)

	acceptors := make([]*role.Acceptor, n)
	for i := range acceptors {
		acceptors[i] = newAcceptor(i+1, role.Fast, tr, errLog)
	}

	for i, a := range acceptors {
		a := a
		tr.Subscribe(addr(message.RoleAcceptor, i+1), func(env transport.Envelope) {
			switch m := env.Payload.(type) {
			case message.Phase1a:
				a.HandlePhase1a(ctx, m)
			case message.Phase2a:
				a.HandlePhase2a(ctx, m)
			case message.FastProposal:
				a.HandleFastProposal(ctx, m)
			}
		})
	}
	tr.Subscribe(addr(message.RoleLearner, 1), func(env transport.Envelope) {
		if m, ok := env.Payload.(message.Phase2b); ok {
			learner.HandlePhase2b(m)
		}
	})
	tr.Subscribe(addr(message.RoleLeader, 0), func(env transport.Envelope) {
		switch m := env.Payload.(type) {
		case message.Phase1b:
			leader.HandlePhase1b(ctx, m)
		case message.Phase2b:
			leader.HandlePhase2b(ctx, m)
		}
	})

	b1 := message.FastProposal{Policy: policy.Bad{Name: "b1"}, Ballot: message.NoBallot}
	b2 := message.FastProposal{Policy: policy.Bad{Name: "b2"}, Ballot: message.NoBallot}

	// Acceptors 1-2 see b1 first; 3-5 see b2 first: no ¾ quorum can
	// agree on either policy.
	for i := 0; i < 2; i++ {
		tr.Send(ctx, addr(message.RoleAcceptor, i+1), b1)
		tr.Send(ctx, addr(message.RoleAcceptor, i+1), b2)
	}
	for i := 2; i < 5; i++ {
		tr.Send(ctx, addr(message.RoleAcceptor, i+1), b2)
		tr.Send(ctx, addr(message.RoleAcceptor, i+1), b1)
	}

	require.Equal(t, 0, learner.Snapshot().Learned.Len(), "no fast quorum can learn a conflicting pair")

	// Let the leader's recovery timer fire.
	time.Sleep(5 * time.Millisecond)
	clk.Advance(200 * time.Millisecond)

	require.Eventually(t, func() bool {
		learned := learner.Snapshot().Learned
		return learned.Contains(policy.Bad{Name: "b1"}) && learned.Contains(policy.Bad{Name: "b2"})
	}, time.Second, time.Millisecond, "recovery never reconciled the conflict")

	learned := learner.Snapshot().Learned
	accepted := 0
	for _, a := range learned.Acceptances() {
		if a.Tag == policy.Accepted {
			accepted++
		}
	}
	require.Equal(t, 1, accepted, "exactly one of the conflicting policies survives")
	require.True(t, errLog.Empty(), "recovery must not register protocol violations: %v", errLog.Entries())
}
