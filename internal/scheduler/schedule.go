// Package scheduler implements a small event DSL: a set of combinators
// (Generate, Periodic, Repeating, Times, Delayed, Limited, Par, Bind) that
// describe a timed stream of events, run by a Driver that owns the PRNG
// split tree and the Clock suspension points.
package scheduler

import (
	"context"
	"time"
)

// Gen produces one value of E from a Rand, optionally failing (ok=false)
// to mean "nothing to emit this round".
type Gen[E any] func(r *Rand) (E, bool)

// Unit is the trivial event payload, used by schedules whose events carry
// no data (the ballot and reproposal schedules built with config.Unit).
type Unit struct{}

// Schedule describes a timed stream of E events. It is a thin closure
// wrapper (Run) rather than a data structure, which is what lets Par and
// Bind compose without a combinator-specific AST — each combinator simply
// wraps another schedule's Run function.
type Schedule[E any] struct {
	run func(ctx context.Context, clk Clock, r *Rand, emit func(E))
}

// Run interprets the schedule against ctx/clk, splitting r for this
// schedule's own use, and calling emit for every produced event. Run
// blocks until ctx is done or the schedule naturally exhausts (e.g. a
// Limited or Repeating schedule running out).
func (s Schedule[E]) Run(ctx context.Context, clk Clock, r *Rand, emit func(E)) {
	s.run(ctx, clk, r.Split(), emit)
}

// Generate emits one value drawn from gen, immediately.
func Generate[E any](gen Gen[E]) Schedule[E] {
	return Schedule[E]{run: func(ctx context.Context, clk Clock, r *Rand, emit func(E)) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if v, ok := gen(r); ok {
			emit(v)
		}
	}}
}

// Execute emits v once, immediately: Generate with a constant generator.
func Execute[E any](v E) Schedule[E] {
	return Generate(func(*Rand) (E, bool) { return v, true })
}

// Periodic runs s repeatedly every Δ, forever (until ctx is cancelled).
func Periodic[E any](delta time.Duration, s Schedule[E]) Schedule[E] {
	return Schedule[E]{run: func(ctx context.Context, clk Clock, r *Rand, emit func(E)) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-clk.After(delta):
			}
			s.Run(ctx, clk, r, emit)
		}
	}}
}

// Repeating runs s every Δ, bounded to n invocations.
func Repeating[E any](n int, delta time.Duration, s Schedule[E]) Schedule[E] {
	return Schedule[E]{run: func(ctx context.Context, clk Clock, r *Rand, emit func(E)) {
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case <-clk.After(delta):
			}
			s.Run(ctx, clk, r, emit)
		}
	}}
}

// Times runs s n times, all at the current instant.
func Times[E any](n int, s Schedule[E]) Schedule[E] {
	return Schedule[E]{run: func(ctx context.Context, clk Clock, r *Rand, emit func(E)) {
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.Run(ctx, clk, r, emit)
		}
	}}
}

// Delayed offsets s's start by Δ.
func Delayed[E any](delta time.Duration, s Schedule[E]) Schedule[E] {
	return Schedule[E]{run: func(ctx context.Context, clk Clock, r *Rand, emit func(E)) {
		select {
		case <-ctx.Done():
			return
		case <-clk.After(delta):
		}
		s.Run(ctx, clk, r, emit)
	}}
}

// Limited stops starting new invocations of s once T has elapsed on clk
// (any invocation already in flight still completes).
func Limited[E any](deadline time.Duration, s Schedule[E]) Schedule[E] {
	return Schedule[E]{run: func(ctx context.Context, clk Clock, r *Rand, emit func(E)) {
		limitCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-clk.After(deadline):
				cancel()
			case <-ctx.Done():
			}
		}()
		s.Run(limitCtx, clk, r, emit)
	}}
}

// Par runs s1 and s2 concurrently with independently split Rands, merging
// both into the same emit sink.
func Par[E any](s1, s2 Schedule[E]) Schedule[E] {
	return Schedule[E]{run: func(ctx context.Context, clk Clock, r *Rand, emit func(E)) {
		r1, r2 := r.Split(), r.Split()
		done := make(chan struct{}, 2)
		go func() { defer func() { done <- struct{}{} }(); s1.Run(ctx, clk, r1, emit) }()
		go func() { defer func() { done <- struct{}{} }(); s2.Run(ctx, clk, r2, emit) }()
		<-done
		<-done
	}}
}

// ParAll runs every schedule in ss concurrently, merging into one sink.
func ParAll[E any](ss ...Schedule[E]) Schedule[E] {
	return Schedule[E]{run: func(ctx context.Context, clk Clock, r *Rand, emit func(E)) {
		children := make([]*Rand, len(ss))
		for i := range ss {
			children[i] = r.Split()
		}
		done := make(chan struct{}, len(ss))
		for i, s := range ss {
			s, ri := s, children[i]
			go func() { defer func() { done <- struct{}{} }(); s.Run(ctx, clk, ri, emit) }()
		}
		for range ss {
			<-done
		}
	}}
}

// Bind feeds each output of s1 through f to obtain a dependent schedule,
// whose events are in turn emitted.
func Bind[A, B any](s1 Schedule[A], f func(A) Schedule[B]) Schedule[B] {
	return Schedule[B]{run: func(ctx context.Context, clk Clock, r *Rand, emit func(B)) {
		s1.Run(ctx, clk, r, func(a A) {
			f(a).Run(ctx, clk, r, emit)
		})
	}}
}
