package role

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/paxoslab/gpaxos/internal/message"
	"github.com/paxoslab/gpaxos/internal/policy"
	"github.com/paxoslab/gpaxos/internal/transport"
)

// Proposer holds the list of every policy it has ever proposed and knows
// how to (re)send each one, either to the Leader (Classic) or directly to
// the Acceptors (Fast). Re-sending ("insistence") is driven externally by
// a reproposals schedule; Proposer itself has no retry timer.
type Proposer struct {
	mu        sync.Mutex
	addr      message.Address
	variant   Variant
	leader    message.Address
	acceptors []message.Address
	ballot    func() message.Ballot // current ballot hint for FastProposal, set by the topology
	proposed  []policy.Policy
	transport transport.Transport
	log       zerolog.Logger
}

// NewProposer builds a Proposer for the given variant. ballotHint supplies
// the ballot a FastProposal should be stamped with; it is ignored in the
// Classic variant.
func NewProposer(addr message.Address, variant Variant, leader message.Address, acceptors []message.Address, ballotHint func() message.Ballot, t transport.Transport, log zerolog.Logger) *Proposer {
	return &Proposer{
		addr: addr, variant: variant, leader: leader, acceptors: acceptors,
		ballot: ballotHint, transport: t, log: log,
	}
}

// Propose appends p to the ever-proposed list and sends it immediately.
func (p *Proposer) Propose(ctx context.Context, pol policy.Policy) {
	p.mu.Lock()
	p.proposed = append(p.proposed, pol)
	p.mu.Unlock()

	p.log.Debug().Str("policy", pol.String()).Msg("proposing")
	p.send(ctx, pol)
}

// Insist re-sends every policy ever proposed, without growing the
// proposed list. Duplicate sends are harmless: the CStruct algebra dedups
// by policy identity. An empty reproposal schedule simply never calls
// this — fire-and-forget, relying on recovery.
func (p *Proposer) Insist(ctx context.Context) {
	p.mu.Lock()
	pending := make([]policy.Policy, len(p.proposed))
	copy(pending, p.proposed)
	p.mu.Unlock()

	for _, pol := range pending {
		p.send(ctx, pol)
	}
}

func (p *Proposer) send(ctx context.Context, pol policy.Policy) {
	if p.variant == Fast {
		p.transport.Broadcast(ctx, p.acceptors, message.FastProposal{From: p.addr, Policy: pol, Ballot: p.ballot()})
		return
	}
	p.transport.Send(ctx, p.leader, message.Proposal{From: p.addr, Policy: pol})
}

// ProposerSnapshot is the observable state of a Proposer.
type ProposerSnapshot struct {
	Proposed []policy.Policy
}

// Snapshot returns a copy of the ever-proposed list for monitor reads.
func (p *Proposer) Snapshot() ProposerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]policy.Policy, len(p.proposed))
	copy(out, p.proposed)
	return ProposerSnapshot{Proposed: out}
}
