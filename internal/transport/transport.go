// Package transport implements the transport contract: reliable-per-send,
// unordered, one-way delivery between (role, id) addresses, with a
// pluggable delay profile. It is the sole external collaborator the
// protocol packages talk to for message movement — nothing in internal/role
// knows whether delivery is happening over an in-memory channel or a real
// socket.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/paxoslab/gpaxos/internal/message"
	"github.com/paxoslab/gpaxos/internal/quorum"
	"github.com/paxoslab/gpaxos/internal/scheduler"
)

// Envelope wraps a single message value with its logical destination.
type Envelope struct {
	To      message.Address
	Payload any
}

// Transport delivers Envelopes to per-address handlers. Send is
// fire-and-forget: it never returns a delivery error, matching the
// "reliable-per-send, unordered" contract — the only way a message fails
// to arrive is a delay profile that drops it (or no handler being
// subscribed at the address). Memory runs the handler inline, in the
// sender's goroutine, for a message with no delay, and in its own
// goroutine for a delayed one.
type Transport interface {
	// Subscribe registers h to receive every Envelope addressed to addr.
	// Only one handler per address is supported; a second Subscribe for
	// the same address replaces the first.
	Subscribe(addr message.Address, h func(Envelope))
	// Send delivers payload to addr, subject to the current delay
	// profile.
	Send(ctx context.Context, to message.Address, payload any)
	// Broadcast delivers payload to every address in tos.
	Broadcast(ctx context.Context, tos []message.Address, payload any)
}

// Delay decides how long to hold a message before delivery, and whether to
// drop it outright. It is evaluated once per Send, from the sender's
// perspective — fn may return (0, true) to deliver immediately, a
// positive duration to delay, or ok=false to drop the message silently
// (a blackout).
type Delay interface {
	Plan(r *scheduler.Rand, to message.Address) (d time.Duration, ok bool)
}

// DelayFunc adapts a plain function to the Delay interface.
type DelayFunc func(r *scheduler.Rand, to message.Address) (time.Duration, bool)

func (f DelayFunc) Plan(r *scheduler.Rand, to message.Address) (time.Duration, bool) {
	return f(r, to)
}

// Constant always delays by d and never drops.
func Constant(d time.Duration) Delay {
	return DelayFunc(func(*scheduler.Rand, message.Address) (time.Duration, bool) { return d, true })
}

// Uniform delays uniformly within [lo, hi) and never drops.
func Uniform(lo, hi time.Duration) Delay {
	span := hi - lo
	return DelayFunc(func(r *scheduler.Rand, _ message.Address) (time.Duration, bool) {
		if span <= 0 {
			return lo, true
		}
		return lo + time.Duration(r.Float64()*float64(span)), true
	})
}

// Blackout drops every message to the acceptors in ids, and otherwise
// applies inner (or delivers immediately if inner is nil). Only acceptor
// addresses are matched: learners and the leader share the same numeric id
// space but are never blacked out by this profile.
func Blackout(ids []quorum.AcceptorID, inner Delay) Delay {
	blocked := make(map[quorum.AcceptorID]bool, len(ids))
	for _, id := range ids {
		blocked[id] = true
	}
	return DelayFunc(func(r *scheduler.Rand, to message.Address) (time.Duration, bool) {
		if to.Role == message.RoleAcceptor && blocked[to.ID] {
			return 0, false
		}
		if inner == nil {
			return 0, true
		}
		return inner.Plan(r, to)
	})
}

// Scoped applies inner only while clk.Now() is within [from, from+dur);
// outside that window messages are delivered immediately.
type Scoped struct {
	Clk   scheduler.Clock
	From  time.Time
	Dur   time.Duration
	Inner Delay
}

func (s Scoped) Plan(r *scheduler.Rand, to message.Address) (time.Duration, bool) {
	now := s.Clk.Now()
	if now.Before(s.From) || !now.Before(s.From.Add(s.Dur)) {
		return 0, true
	}
	return s.Inner.Plan(r, to)
}

// Memory is an in-process Transport backed by a scheduler.Clock (real or
// virtual), so delayed delivery composes with deterministic scenario
// tests: a delayed Send schedules its delivery via clk.After, which a
// VirtualClock only fires when explicitly Advanced.
type Memory struct {
	mu       sync.Mutex
	clk      scheduler.Clock
	rand     *scheduler.Rand
	delay    Delay
	handlers map[message.Address]func(Envelope)
}

// NewMemory builds a Memory transport with no delay (immediate delivery)
// until SetDelay is called.
func NewMemory(clk scheduler.Clock, rand *scheduler.Rand) *Memory {
	return &Memory{clk: clk, rand: rand, handlers: map[message.Address]func(Envelope){}}
}

// SetDelay installs the active delay profile, backing the monitor's
// InjectDelays capability.
func (m *Memory) SetDelay(d Delay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *Memory) Subscribe(addr message.Address, h func(Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[addr] = h
}

func (m *Memory) Send(ctx context.Context, to message.Address, payload any) {
	m.mu.Lock()
	delay := m.delay
	h := m.handlers[to]
	var wait time.Duration
	ok := true
	if h != nil && delay != nil {
		wait, ok = delay.Plan(m.rand, to)
	}
	m.mu.Unlock()
	if h == nil || !ok {
		return
	}
	env := Envelope{To: to, Payload: payload}
	if wait <= 0 {
		h(env)
		return
	}
	go func() {
		select {
		case <-m.clk.After(wait):
			h(env)
		case <-ctx.Done():
		}
	}()
}

func (m *Memory) Broadcast(ctx context.Context, tos []message.Address, payload any) {
	for _, to := range tos {
		m.Send(ctx, to, payload)
	}
}
