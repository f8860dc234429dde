// Package errs implements the error taxonomy: protocol violations and
// contradictive combinations are recoverable and accumulate in a Log for
// a test (or the CLI's exit code) to inspect; configuration errors are
// fatal before launch. Scheduler exhaustion and timeout-without-quorum are
// not errors at all — they are normal control flow and never reach here.
package errs

import (
	"sync"

	"github.com/pkg/errors"
)

// Sentinel errors identifying each recoverable taxonomy member. Wrap them
// with errors.Wrap/Wrapf to attach the offending message or ballot.
var (
	// ErrProtocolViolation marks a message that a role correctly refused
	// to apply — e.g. a Phase2a whose cstruct does not extend the
	// acceptor's local one at matching ballots. The message is discarded,
	// not retried.
	ErrProtocolViolation = errors.New("errs: protocol violation")

	// ErrContradictiveCombination marks a learner/leader combination that
	// would produce an internally-conflicting cstruct. The caller's state
	// (learned, or the outbound 2a) is left unchanged.
	ErrContradictiveCombination = errors.New("errs: contradictive combination")

	// ErrConfiguration marks a fatal error discovered before launch: bad
	// YAML, an impossible quorum size, or similar. Launch aborts.
	ErrConfiguration = errors.New("errs: configuration error")
)

// Entry is one accumulated recoverable error, tagged with the role it
// occurred at as a free-form string (the leader and acceptors record
// their message.Address in string form; learners record "learner").
type Entry struct {
	Role string
	Err  error
}

// Log accumulates recoverable errors across a run. The zero value is
// ready to use. Tests assert Log.Empty() to confirm a run produced no
// contradictive combinations and no unexpected protocol violations.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

// Record appends err under role unchanged, so a sentinel it carries
// remains discoverable via errors.Is.
func (l *Log) Record(role string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Role: role, Err: err})
}

// Entries returns a snapshot of everything recorded so far.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Empty reports whether nothing has been recorded.
func (l *Log) Empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) == 0
}

// Len reports how many entries have been recorded.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
