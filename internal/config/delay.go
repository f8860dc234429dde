package config

import (
	"time"

	"github.com/paxoslab/gpaxos/internal/quorum"
	"github.com/paxoslab/gpaxos/internal/scheduler"
	"github.com/paxoslab/gpaxos/internal/transport"
)

// BuildDelay turns a DelaySpec into a transport.Delay. A nil spec means
// immediate, lossless delivery.
func BuildDelay(spec *DelaySpec, clk scheduler.Clock) transport.Delay {
	if spec == nil {
		return nil
	}
	var d transport.Delay
	switch {
	case spec.ConstantMS != nil:
		d = transport.Constant(time.Duration(*spec.ConstantMS) * time.Millisecond)
	case spec.UniformMS != nil:
		d = transport.Uniform(
			time.Duration(spec.UniformMS[0])*time.Millisecond,
			time.Duration(spec.UniformMS[1])*time.Millisecond,
		)
	}
	if len(spec.Blackout) > 0 {
		ids := make([]quorum.AcceptorID, len(spec.Blackout))
		for i, v := range spec.Blackout {
			ids[i] = quorum.AcceptorID(v)
		}
		d = transport.Blackout(ids, d)
	}
	if spec.ScopeSec != nil {
		inner := BuildDelay(spec.Inner, clk)
		if inner == nil {
			inner = d
		}
		d = transport.Scoped{
			Clk:   clk,
			From:  clk.Now().Add(time.Duration(spec.ScopeSec[0] * float64(time.Second))),
			Dur:   time.Duration(spec.ScopeSec[1] * float64(time.Second)),
			Inner: inner,
		}
	}
	return d
}
