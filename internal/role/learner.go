package role

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/paxoslab/gpaxos/internal/cstruct"
	"github.com/paxoslab/gpaxos/internal/errs"
	"github.com/paxoslab/gpaxos/internal/message"
	"github.com/paxoslab/gpaxos/internal/policy"
	"github.com/paxoslab/gpaxos/internal/quorum"
)

// Learner accumulates Phase2b votes and grows `learned` monotonically
// under cstruct.Extends. It tracks two independent vote
// sets — one per quorum family — so a single Learner instance can serve
// both the classic 2b broadcast and, in the Fast variant, the fast-path
// 2b broadcast (distinguished by message.Phase2b.Fast); a classic-only
// topology simply never populates the fast set.
type Learner struct {
	mu sync.Mutex

	members []quorum.AcceptorID
	classic quorum.Votes[cstruct.Configuration]
	fast    quorum.Votes[cstruct.Configuration]
	learned cstruct.Configuration
	errLog  *errs.Log
	log     zerolog.Logger
	onLearn func(newly []policy.Acceptance)
}

// NewLearner builds a Learner bounded by members, with onLearn invoked for
// every command that newly enters `learned` (called while the Learner's
// lock is not held).
func NewLearner(members []quorum.AcceptorID, errLog *errs.Log, log zerolog.Logger, onLearn func([]policy.Acceptance)) *Learner {
	return &Learner{
		members: members,
		classic: quorum.NewVotes[cstruct.Configuration](quorum.ClassicMajority, members),
		fast:    quorum.NewVotes[cstruct.Configuration](quorum.FastMajority, members),
		learned: cstruct.Empty(),
		errLog:  errLog,
		log:     log,
		onLearn: onLearn,
	}
}

// HandlePhase2b records m's vote under the family its Fast flag selects,
// and on reaching a quorum attempts to grow `learned`.
func (l *Learner) HandlePhase2b(m message.Phase2b) {
	l.mu.Lock()

	var votes quorum.Votes[cstruct.Configuration]
	if m.Fast {
		l.fast.Set(m.Acceptor, m.CStruct)
		votes = l.fast
	} else {
		l.classic.Set(m.Acceptor, m.CStruct)
		votes = l.classic
	}

	if !votes.IsQuorum() {
		l.mu.Unlock()
		return
	}

	combined, err := cstruct.Combination(votes)
	if err != nil {
		l.mu.Unlock()
		l.errLog.Record("learner", errs.ErrContradictiveCombination)
		l.log.Warn().Err(err).Msg("combination contradictive, learned unchanged")
		return
	}
	if !cstruct.Extends(l.learned, combined) {
		l.mu.Unlock()
		return
	}

	newly := diffAcceptances(l.learned, combined)
	l.learned = combined
	l.mu.Unlock()

	if len(newly) > 0 && l.onLearn != nil {
		l.onLearn(newly)
	}
}

// diffAcceptances returns the acceptances present in next but not prev,
// in a stable order, so callers observe each newly-learned command at
// most once.
func diffAcceptances(prev, next cstruct.Configuration) []policy.Acceptance {
	prevKeys := map[string]bool{}
	for _, a := range prev.Acceptances() {
		prevKeys[a.Key()] = true
	}
	var out []policy.Acceptance
	for _, a := range next.Acceptances() {
		if !prevKeys[a.Key()] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// LearnerSnapshot is the observable state of a Learner.
type LearnerSnapshot struct {
	Learned cstruct.Configuration
}

// Snapshot returns a copy of the currently learned cstruct.
func (l *Learner) Snapshot() LearnerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LearnerSnapshot{Learned: l.learned}
}
