// Package config unmarshals the YAML topology grammar. The schedule
// grammar (`once | period | delay | times | repeat | schedule`, plus list
// form for parallel composition) is a tagged union, so ScheduleSpec
// implements a custom UnmarshalYAML rather than relying on struct tags
// alone — mirroring how esaraci-go-paxos and sanketsaagar-Litechain load
// their own cluster/consensus config from YAML.
package config

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/paxoslab/gpaxos/internal/errs"
)

// Config is the top-level topology document.
type Config struct {
	Type        string        `yaml:"type"`
	Members     Members       `yaml:"members"`
	Ballots     ScheduleSpec  `yaml:"ballots"`
	Proposals   ScheduleSpec  `yaml:"proposals"`
	Reproposals ScheduleSpec  `yaml:"reproposals"`
	Delays      *DelaySpec    `yaml:"delays"`
	LifetimeSec float64       `yaml:"lifetime"`
	Fast        *FastSettings `yaml:"fast"`
}

// Members gives the acceptor/learner population sizes. Proposer and
// Leader are singletons and so are not configurable here.
type Members struct {
	Acceptors int `yaml:"acceptors"`
	Learners  int `yaml:"learners"`
}

// FastSettings holds variant-specific settings for the Fast variant: the
// bounded delay before the leader initiates classic recovery after a
// detected fast-path conflict.
type FastSettings struct {
	RecoveryDelaySec float64 `yaml:"recovery_delay"`
}

// Lifetime returns the configured run lifetime as a Duration.
func (c Config) Lifetime() time.Duration {
	return time.Duration(c.LifetimeSec * float64(time.Second))
}

// RecoveryDelay returns the configured Fast recovery delay, or a sane
// default (one second) if the variant is Fast but no value was given.
func (c Config) RecoveryDelay() time.Duration {
	if c.Fast == nil || c.Fast.RecoveryDelaySec <= 0 {
		return time.Second
	}
	return time.Duration(c.Fast.RecoveryDelaySec * float64(time.Second))
}

// Parse unmarshals and validates a YAML document. Configuration errors
// (invalid YAML, impossible quorum sizes) are fatal before launch.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(errs.ErrConfiguration, err.Error())
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects configurations that could never form a quorum or name
// an unknown variant.
func (c Config) Validate() error {
	if c.Type != "classic" && c.Type != "fast" {
		return errors.Wrapf(errs.ErrConfiguration, "unknown type %q, want classic or fast", c.Type)
	}
	if c.Members.Acceptors < 1 {
		return errors.Wrap(errs.ErrConfiguration, "members.acceptors must be >= 1")
	}
	if c.Members.Learners < 1 {
		return errors.Wrap(errs.ErrConfiguration, "members.learners must be >= 1")
	}
	if c.Type == "fast" && c.Members.Acceptors < 4 {
		// A 3/4 quorum and its classic-recovery majority must still
		// intersect meaningfully; below 4 acceptors the fast quorum either
		// has the classic quorum's size (1 or 2 acceptors) or is every
		// acceptor (3), which is legal but almost certainly not what the
		// author intended.
		return errors.Wrap(errs.ErrConfiguration, "fast variant needs members.acceptors >= 4 for a meaningful fast quorum")
	}
	if c.LifetimeSec <= 0 {
		return errors.Wrap(errs.ErrConfiguration, "lifetime must be > 0 seconds")
	}
	return nil
}

// DelaySpec configures the transport delay profile: a constant
// per-address delay, a uniform range, a blackout of specific acceptors,
// and/or a temporally-scoped window during which an inner profile applies.
type DelaySpec struct {
	ConstantMS *int64     `yaml:"constant_ms,omitempty"`
	UniformMS  *[2]int64  `yaml:"uniform_ms,omitempty"`
	Blackout   []int      `yaml:"blackout,omitempty"`
	ScopeSec   *[2]float64 `yaml:"scope_sec,omitempty"` // [from, duration], applies Inner only within that window
	Inner      *DelaySpec  `yaml:"inner,omitempty"`
}
