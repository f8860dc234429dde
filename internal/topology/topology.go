// Package topology wires one instance of each role into a running system
// per a Config, starts its schedulers and message handlers, and returns a
// monitor.Handle for observation. It is the only package that
// knows how every other package fits together; internal/role,
// internal/cstruct, internal/quorum and internal/scheduler have no
// knowledge of each other's wiring.
package topology

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paxoslab/gpaxos/internal/config"
	"github.com/paxoslab/gpaxos/internal/errs"
	"github.com/paxoslab/gpaxos/internal/logging"
	"github.com/paxoslab/gpaxos/internal/message"
	"github.com/paxoslab/gpaxos/internal/monitor"
	"github.com/paxoslab/gpaxos/internal/policy"
	"github.com/paxoslab/gpaxos/internal/quorum"
	"github.com/paxoslab/gpaxos/internal/role"
	"github.com/paxoslab/gpaxos/internal/scheduler"
	"github.com/paxoslab/gpaxos/internal/transport"
)

// topology owns every role instance and the transport they share. It is
// not exported; callers interact with it only through the
// *monitor.Handle Launch returns.
type topology struct {
	runID     string
	errLog    *errs.Log
	tr        *transport.Memory
	proposer  *role.Proposer
	leader    *role.Leader
	acceptors []*role.Acceptor
	learners  []*role.Learner
}

// Launch builds and starts a full topology from cfg, running against clk
// (RealClock in production, a *scheduler.VirtualClock in tests) seeded by
// seed. It returns a monitor.Handle immediately; the topology keeps
// running in background goroutines until its lifetime elapses or ctx is
// cancelled.
func Launch(ctx context.Context, cfg config.Config, clk scheduler.Clock, seed uint64) (*monitor.Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	base := logging.Console(zerolog.InfoLevel)
	log := logging.ForRun(base, runID)

	variant := role.Classic
	if cfg.Type == "fast" {
		variant = role.Fast
	}

	leaderAddr := message.Address{Role: message.RoleLeader, ID: 0}
	proposerAddr := message.Address{Role: message.RoleProposer, ID: 0}

	acceptorAddrs := make([]message.Address, cfg.Members.Acceptors)
	members := make([]quorum.AcceptorID, cfg.Members.Acceptors)
	for i := 0; i < cfg.Members.Acceptors; i++ {
		id := quorum.AcceptorID(i + 1)
		acceptorAddrs[i] = message.Address{Role: message.RoleAcceptor, ID: id}
		members[i] = id
	}
	learnerAddrs := make([]message.Address, cfg.Members.Learners)
	for i := 0; i < cfg.Members.Learners; i++ {
		learnerAddrs[i] = message.Address{Role: message.RoleLearner, ID: quorum.AcceptorID(i + 1)}
	}

	root := scheduler.NewRand(seed)
	tr := transport.NewMemory(clk, root.Split())
	if d := config.BuildDelay(cfg.Delays, clk); d != nil {
		tr.SetDelay(d)
	}

	errLog := &errs.Log{}
	t := &topology{runID: runID, errLog: errLog, tr: tr}

	t.leader = role.NewLeader(leaderAddr, variant, acceptorAddrs, members, cfg.RecoveryDelay(), clk, tr, errLog, logging.ForRole(log, "leader", 0))

	t.learners = make([]*role.Learner, cfg.Members.Learners)
	for i := range t.learners {
		t.learners[i] = role.NewLearner(members, errLog, logging.ForRole(log, "learner", i+1), func(newly []policy.Acceptance) {
			for _, a := range newly {
				log.Info().Str("acceptance", a.String()).Msg("learned")
			}
		})
	}

	t.acceptors = make([]*role.Acceptor, cfg.Members.Acceptors)
	for i := range t.acceptors {
		id := quorum.AcceptorID(i + 1)
		t.acceptors[i] = role.NewAcceptor(id, acceptorAddrs[i], leaderAddr, learnerAddrs, variant, tr, errLog, logging.ForRole(log, "acceptor", int(id)))
	}

	currentBallot := func() message.Ballot { return t.leader.Snapshot().Ballot }
	t.proposer = role.NewProposer(proposerAddr, variant, leaderAddr, acceptorAddrs, currentBallot, tr, logging.ForRole(log, "proposer", 0))

	// Wire transport subscriptions: each address dispatches by payload
	// type. This is the in-process analogue of a real node's message
	// handler registration.
	for i, addr := range acceptorAddrs {
		a := t.acceptors[i]
		tr.Subscribe(addr, func(env transport.Envelope) {
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
	for i, addr := range learnerAddrs {
		l := t.learners[i]
		tr.Subscribe(addr, func(env transport.Envelope) {
			if m, ok := env.Payload.(message.Phase2b); ok {
				l.HandlePhase2b(m)
			}
		})
	}
	tr.Subscribe(leaderAddr, func(env transport.Envelope) {
		switch m := env.Payload.(type) {
		case message.Proposal:
			t.leader.RememberProposal(m.Policy)
		case message.Phase1b:
			t.leader.HandlePhase1b(ctx, m)
		case message.Phase2b:
			t.leader.HandlePhase2b(ctx, m)
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	namer := config.PolicyNamer("p")
	driver := scheduler.NewDriver(seed, clk)

	// Fork each schedule's Rand before its goroutine starts: split order
	// must follow launch order, not goroutine scheduling, or replaying
	// the same seed would not reproduce the same run.
	ballotSchedule := config.Build[scheduler.Unit](cfg.Ballots, config.Unit)
	ballotRand := driver.Fork()
	go scheduler.RunWith(runCtx, driver, ballotRand, ballotSchedule, func(scheduler.Unit) { t.leader.Phase1a(runCtx) })

	proposalSchedule := config.Build[policy.Policy](cfg.Proposals, func(leaf *config.PolicyLeaf, r *scheduler.Rand) (policy.Policy, bool) {
		return config.ResolvePolicyLeaf(leaf, r, namer)
	})
	proposalRand := driver.Fork()
	go scheduler.RunWith(runCtx, driver, proposalRand, proposalSchedule, func(p policy.Policy) {
		if p != nil {
			t.proposer.Propose(runCtx, p)
		}
	})

	if !cfg.Reproposals.IsZero() {
		reproposalSchedule := config.Build[scheduler.Unit](cfg.Reproposals, config.Unit)
		reproposalRand := driver.Fork()
		go scheduler.RunWith(runCtx, driver, reproposalRand, reproposalSchedule, func(scheduler.Unit) {
			t.proposer.Insist(runCtx)
		})
	}

	go func() {
		select {
		case <-clk.After(cfg.Lifetime()):
		case <-runCtx.Done():
		}
		cancel()
	}()

	h := monitor.New(
		t.snapshot,
		func(waitCtx context.Context) error {
			select {
			case <-runCtx.Done():
				return nil
			case <-waitCtx.Done():
				return waitCtx.Err()
			}
		},
		func(d transport.Delay) { tr.SetDelay(d) },
	)
	return h, nil
}

func (t *topology) snapshot() monitor.AllStates {
	accs := make([]role.AcceptorSnapshot, len(t.acceptors))
	for i, a := range t.acceptors {
		accs[i] = a.Snapshot()
	}
	lrns := make([]role.LearnerSnapshot, len(t.learners))
	for i, l := range t.learners {
		lrns[i] = l.Snapshot()
	}
	return monitor.AllStates{
		RunID:     t.runID,
		Proposers: []role.ProposerSnapshot{t.proposer.Snapshot()},
		Leader:    t.leader.Snapshot(),
		Acceptors: accs,
		Learners:  lrns,
		Errors:    t.errLog.Entries(),
	}
}
