// Package policy defines the command domain used to exercise the CStruct
// algebra: an abstract, conflict-aware command class standing in for the
// opaque "commands" a real deployment would replicate.
package policy

import "fmt"

// Policy is the abstract command class. It is domain-opaque to the
// consensus protocol: the only thing the protocol ever asks of a Policy is
// whether it agrees with another one.
type Policy interface {
	// Agrees reports whether p and other may both appear Accepted in the
	// same Configuration. Agrees must be reflexive: Agrees(p, p) == true
	// for every Policy.
	Agrees(other Policy) bool

	// Identity returns a stable, comparable key for this policy, used as
	// the key component of an Acceptance when building a Configuration.
	Identity() string

	fmt.Stringer
}

// Good agrees with every policy, including other Good and Bad policies.
type Good struct {
	Name string
}

func (g Good) Agrees(Policy) bool { return true }
func (g Good) Identity() string   { return "good:" + g.Name }
func (g Good) String() string     { return fmt.Sprintf("Good(%s)", g.Name) }

// Bad conflicts with every other Bad policy. It agrees with itself and
// with policies of any other kind (Good, Moody).
type Bad struct {
	Name string
}

func (b Bad) Agrees(other Policy) bool {
	o, ok := other.(Bad)
	return !ok || o.Name == b.Name
}
func (b Bad) Identity() string { return "bad:" + b.Name }
func (b Bad) String() string   { return fmt.Sprintf("Bad(%s)", b.Name) }

// Moody conflicts with another Moody policy iff they share a Group, and
// agrees with everything outside its own family.
type Moody struct {
	Group int
	Name  string
}

func (m Moody) Agrees(other Policy) bool {
	o, ok := other.(Moody)
	if !ok {
		return true
	}
	return o.Group != m.Group || o.Name == m.Name
}
func (m Moody) Identity() string { return fmt.Sprintf("moody:%d:%s", m.Group, m.Name) }
func (m Moody) String() string   { return fmt.Sprintf("Moody(%d,%s)", m.Group, m.Name) }

// Tag distinguishes an Accepted outcome from a Rejected one inside a
// Configuration's acceptance set.
type Tag int

const (
	Accepted Tag = iota
	Rejected
)

func (t Tag) String() string {
	if t == Accepted {
		return "Accepted"
	}
	return "Rejected"
}

// Acceptance is the tagged outcome of a Policy under the protocol:
// Accepted(p) or Rejected(p). Rejected never conflicts with anything; two
// Accepted acceptances conflict iff their inner policies conflict.
type Acceptance struct {
	Tag    Tag
	Policy Policy
}

func NewAccepted(p Policy) Acceptance { return Acceptance{Tag: Accepted, Policy: p} }
func NewRejected(p Policy) Acceptance { return Acceptance{Tag: Rejected, Policy: p} }

// Key is the map key identifying this acceptance within a Configuration:
// (policy identity, acceptance tag).
func (a Acceptance) Key() string {
	return a.Policy.Identity() + "#" + a.Tag.String()
}

// Conflicts reports whether a and b cannot coexist in a non-contradictive
// Configuration.
func (a Acceptance) Conflicts(b Acceptance) bool {
	if a.Tag == Rejected || b.Tag == Rejected {
		return false
	}
	return !a.Policy.Agrees(b.Policy) || !b.Policy.Agrees(a.Policy)
}

func (a Acceptance) String() string {
	return fmt.Sprintf("%s(%s)", a.Tag, a.Policy)
}
