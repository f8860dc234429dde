package config

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/paxoslab/gpaxos/internal/errs"
)

// ScheduleSpec is the recursive schedule grammar:
//
//	once | period | delay | times | repeat | schedule
//
// plus a list form for parallel composition. The keys of one node combine
// (see Build): `once` (or `schedule`, which nests) gives the event,
// `times` runs it several times at one instant, `period` repeats it over
// time (bounded by `repeat` when given; `repeat` has no effect without
// `period`), and `delay` offsets the start. Parallel is populated instead
// when the YAML node is a sequence.
type ScheduleSpec struct {
	Once     *PolicyLeaf    `yaml:"-"`
	Period   *time.Duration `yaml:"-"`
	Delay    *time.Duration `yaml:"-"`
	Times    *int           `yaml:"-"`
	Repeat   *int           `yaml:"-"`
	Inner    *ScheduleSpec  `yaml:"-"`
	Parallel []ScheduleSpec `yaml:"-"`
}

// IsZero reports whether this node carries no grammar at all — used to
// tell "reproposals: (absent)" apart from an explicit schedule, per Open
// Question #2's resolution (no schedule entries => fire-and-forget).
func (s ScheduleSpec) IsZero() bool {
	return s.Once == nil && s.Period == nil && s.Delay == nil &&
		s.Times == nil && s.Repeat == nil && s.Inner == nil && len(s.Parallel) == 0
}

type rawSchedule struct {
	Once     yaml.Node      `yaml:"once,omitempty"`
	Period   string         `yaml:"period,omitempty"`
	Delay    string         `yaml:"delay,omitempty"`
	Times    *int           `yaml:"times,omitempty"`
	Repeat   *int           `yaml:"repeat,omitempty"`
	Schedule *ScheduleSpec  `yaml:"schedule,omitempty"`
}

// UnmarshalYAML dispatches on node kind: a sequence node means parallel
// composition (list form); a mapping node decodes the scalar grammar
// above.
func (s *ScheduleSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		items := make([]ScheduleSpec, len(node.Content))
		for i, c := range node.Content {
			if err := items[i].UnmarshalYAML(c); err != nil {
				return err
			}
		}
		*s = ScheduleSpec{Parallel: items}
		return nil
	}
	if node.Kind == 0 {
		return nil
	}

	var raw rawSchedule
	if err := node.Decode(&raw); err != nil {
		return errors.Wrap(errs.ErrConfiguration, err.Error())
	}

	out := ScheduleSpec{}
	if raw.Once.Kind != 0 {
		var leaf PolicyLeaf
		if err := leaf.UnmarshalYAML(&raw.Once); err != nil {
			return err
		}
		out.Once = &leaf
	}
	if raw.Period != "" {
		d, err := time.ParseDuration(raw.Period)
		if err != nil {
			return errors.Wrapf(errs.ErrConfiguration, "bad period: %s", err)
		}
		out.Period = &d
	}
	if raw.Delay != "" {
		d, err := time.ParseDuration(raw.Delay)
		if err != nil {
			return errors.Wrapf(errs.ErrConfiguration, "bad delay: %s", err)
		}
		out.Delay = &d
	}
	out.Times = raw.Times
	out.Repeat = raw.Repeat
	out.Inner = raw.Schedule
	*s = out
	return nil
}

// PolicyKind names which Policy constructor a leaf builds.
type PolicyKind int

const (
	KindGood PolicyKind = iota
	KindBad
	KindMoody
)

// PolicyLeaf is a schedule leaf describing what policy.Policy to emit:
// `good`, `bad`, `{moody: n}`, or a weighted list of the above.
type PolicyLeaf struct {
	Kind     PolicyKind
	Group    int
	Weighted []WeightedLeaf // non-nil only for the weighted-list form
}

// WeightedLeaf is one entry of a `[{weight, policy}, ...]` leaf list.
type WeightedLeaf struct {
	Weight float64
	Leaf   PolicyLeaf
}

type rawWeighted struct {
	Weight float64    `yaml:"weight"`
	Policy yaml.Node  `yaml:"policy"`
}

type rawMoody struct {
	Moody int `yaml:"moody"`
}

func (p *PolicyLeaf) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Value {
		case "good":
			*p = PolicyLeaf{Kind: KindGood}
			return nil
		case "bad":
			*p = PolicyLeaf{Kind: KindBad}
			return nil
		}
		return errors.Wrapf(errs.ErrConfiguration, "unknown policy leaf %q", node.Value)
	case yaml.MappingNode:
		var m rawMoody
		if err := node.Decode(&m); err != nil {
			return errors.Wrap(errs.ErrConfiguration, err.Error())
		}
		*p = PolicyLeaf{Kind: KindMoody, Group: m.Moody}
		return nil
	case yaml.SequenceNode:
		var raws []rawWeighted
		if err := node.Decode(&raws); err != nil {
			return errors.Wrap(errs.ErrConfiguration, err.Error())
		}
		out := make([]WeightedLeaf, len(raws))
		for i, r := range raws {
			var leaf PolicyLeaf
			if err := leaf.UnmarshalYAML(&r.Policy); err != nil {
				return err
			}
			out[i] = WeightedLeaf{Weight: r.Weight, Leaf: leaf}
		}
		*p = PolicyLeaf{Weighted: out}
		return nil
	default:
		return errors.Wrap(errs.ErrConfiguration, "malformed policy leaf")
	}
}
