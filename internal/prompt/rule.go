package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidRule    = errors.New("invalid prompt rule")
	ErrUnknownProfile = errors.New("unknown prompt profile")
)

// DefaultTerminator is appended to every response before it is sent.
var DefaultTerminator = []byte("\r")

// Policy holds the optional dispatch behaviour shared by every rule of one name.
type Policy struct {
	// Gate names a flag that must be set for the response to be sent.
	// The flag is cleared by the send.
	Gate string
	// Arms names a flag that is set once this rule's response has been sent.
	Arms string
	// ResendAfter, when positive, sends the same payload a second time after
	// the wait.
	ResendAfter time.Duration
}

func (p Policy) IsZero() bool {
	return p.Gate == "" && p.Arms == "" && p.ResendAfter <= 0
}

// Rule pairs a literal console fragment with the name whose response
// sequence it advances.
type Rule struct {
	Pattern string
	Name    string
	Actions [][]byte
	Policy  Policy
}

// Table is the ordered, read-only set of rules for one run. Rules that share
// a name share one action list and one policy.
type Table struct {
	profile    string
	terminator []byte
	rules      []Rule
	names      []string
	byName     map[string]int
}

// NewTable validates rules and freezes them into a Table. A rule that repeats
// an earlier name may leave Actions and Policy empty to inherit them.
func NewTable(profile string, terminator []byte, rules []Rule) (*Table, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: table %q has no rules", ErrInvalidRule, profile)
	}
	if terminator == nil {
		terminator = DefaultTerminator
	}
	t := &Table{
		profile:    strings.TrimSpace(profile),
		terminator: append([]byte(nil), terminator...),
		rules:      make([]Rule, 0, len(rules)),
		names:      []string{},
		byName:     map[string]int{},
	}
	for i, r := range rules {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: rule %d has no name", ErrInvalidRule, i)
		}
		if r.Pattern == "" {
			return nil, fmt.Errorf("%w: rule %d (%s) has an empty pattern", ErrInvalidRule, i, name)
		}
		if r.Policy.ResendAfter < 0 {
			return nil, fmt.Errorf("%w: rule %d (%s) has a negative resend delay", ErrInvalidRule, i, name)
		}
		r.Name = name
		r.Actions = cloneActions(r.Actions)
		if first, seen := t.byName[name]; seen {
			prev := t.rules[first]
			if len(r.Actions) == 0 {
				r.Actions = prev.Actions
			} else if !sameActions(prev.Actions, r.Actions) {
				return nil, fmt.Errorf("%w: rule %d redeclares actions for %s", ErrInvalidRule, i, name)
			}
			if r.Policy.IsZero() {
				r.Policy = prev.Policy
			} else if r.Policy != prev.Policy {
				return nil, fmt.Errorf("%w: rule %d redeclares policy for %s", ErrInvalidRule, i, name)
			}
		} else {
			t.byName[name] = len(t.rules)
			t.names = append(t.names, name)
		}
		t.rules = append(t.rules, r)
	}

	armed := map[string]bool{}
	for _, r := range t.rules {
		if r.Policy.Arms != "" {
			armed[r.Policy.Arms] = true
		}
	}
	for _, r := range t.rules {
		if g := r.Policy.Gate; g != "" && !armed[g] {
			return nil, fmt.Errorf("%w: %s is gated on %q but no rule arms it", ErrInvalidRule, r.Name, g)
		}
	}
	return t, nil
}

func (t *Table) Profile() string { return t.profile }

func (t *Table) Len() int { return len(t.rules) }

// Terminator returns a copy of the line terminator appended to responses.
func (t *Table) Terminator() []byte { return append([]byte(nil), t.terminator...) }

// Rules returns the rules in declaration order. The action slices are shared
// and must not be modified.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Names returns each distinct rule name once, in first-appearance order.
func (t *Table) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

func (t *Table) Actions(name string) [][]byte {
	idx, ok := t.byName[name]
	if !ok {
		return nil
	}
	return t.rules[idx].Actions
}

func (t *Table) Policy(name string) Policy {
	idx, ok := t.byName[name]
	if !ok {
		return Policy{}
	}
	return t.rules[idx].Policy
}

// Flags lists every flag named by a gate or an arm.
func (t *Table) Flags() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, r := range t.rules {
		for _, f := range []string{r.Policy.Gate, r.Policy.Arms} {
			if f != "" && !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

func cloneActions(in [][]byte) [][]byte {
	if in == nil {
		return nil
	}
	out := make([][]byte, len(in))
	for i, a := range in {
		out[i] = append([]byte{}, a...)
	}
	return out
}

func sameActions(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
