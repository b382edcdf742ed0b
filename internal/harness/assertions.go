package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/opscript"
	"github.com/wlococode/openprod-sub001/internal/replica"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Peer     string
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Steps that led here
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Peer != "" {
		fmt.Fprintf(&buf, " on %s", e.Peer)
	}
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nSteps:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s: %s\n", event.Step, event.Kind, strings.Join(event.Peers, " "), event.Summary)
	}
	return buf.String()
}

// checker evaluates one assertion on one replica.
type checker struct {
	h      *Harness
	names  *opscript.Names
	result *Result
	a      Assertion
}

func (c *checker) fail(peer, expected, actual string) error {
	return &AssertionError{Type: c.a.Type, Peer: peer, Expected: expected, Actual: actual, Trace: c.result.Trace}
}

// assertConverged checks that the peers hold equal vector clocks and state
// hashes.
func (c *checker) assertConverged(peers []string) error {
	if len(peers) < 2 {
		return nil
	}
	first, _ := c.result.Peer(peers[0])
	for _, name := range peers[1:] {
		other, _ := c.result.Peer(name)
		if !first.Clock.Equal(other.Clock) {
			return c.fail(name, fmt.Sprintf("clock of %s: %v", first.Name, first.Clock), fmt.Sprintf("%v", other.Clock))
		}
		if first.Hash != other.Hash {
			return c.fail(name, fmt.Sprintf("state hash of %s: %s", first.Name, first.Hash), other.Hash)
		}
	}
	return nil
}

func (c *checker) entity() oplog.EntityID {
	return c.names.Entity(c.a.Entity)
}

// assertField checks a field value, or its absence.
func (c *checker) assertField(peer string, r *replica.Replica) error {
	got, ok := r.FieldValue(c.entity(), c.a.Field)
	ref := c.a.Entity + "." + c.a.Field
	if c.a.Absent {
		if ok {
			return c.fail(peer, ref+" absent", render(got))
		}
		return nil
	}
	want, err := opscript.ToIR(c.a.Value)
	if err != nil {
		return fmt.Errorf("field assertion: value: %w", err)
	}
	if !ok {
		return c.fail(peer, fmt.Sprintf("%s = %s", ref, render(want)), "absent")
	}
	if !ir.Equal(want, got) {
		return c.fail(peer, fmt.Sprintf("%s = %s", ref, render(want)), render(got))
	}
	return nil
}

// assertConflict checks that a field has concurrent tips and, when Values
// is set, that their values are exactly Values.
func (c *checker) assertConflict(peer string, r *replica.Replica) error {
	ref := c.a.Entity + "." + c.a.Field
	view, ok := r.Entity(c.entity())
	if !ok {
		return c.fail(peer, "conflict on "+ref, "no such entity")
	}
	tips, conflicted := view.Conflicts[c.a.Field]
	if !conflicted {
		return c.fail(peer, "conflict on "+ref, "single value")
	}
	if c.a.Values == nil {
		return nil
	}
	want := make([]string, len(c.a.Values))
	for i, v := range c.a.Values {
		iv, err := opscript.ToIR(v)
		if err != nil {
			return fmt.Errorf("conflict assertion: values[%d]: %w", i, err)
		}
		want[i] = render(iv)
	}
	got := make([]string, len(tips))
	for i, t := range tips {
		got[i] = render(t.Value)
	}
	slices.Sort(want)
	slices.Sort(got)
	if !slices.Equal(want, got) {
		return c.fail(peer, fmt.Sprintf("%s tips %v", ref, want), fmt.Sprintf("%v", got))
	}
	return nil
}

func (c *checker) assertNoConflict(peer string, r *replica.Replica) error {
	view, ok := r.Entity(c.entity())
	if !ok {
		return nil
	}
	if tips, conflicted := view.Conflicts[c.a.Field]; conflicted {
		return c.fail(peer, "no conflict on "+c.a.Entity+"."+c.a.Field, fmt.Sprintf("%d tips", len(tips)))
	}
	return nil
}

// assertEdgeOrder checks the live ordered children of a source by target.
func (c *checker) assertEdgeOrder(peer string, r *replica.Replica) error {
	want := make([]string, len(c.a.Targets))
	for i, t := range c.a.Targets {
		want[i] = string(c.names.Entity(t))
	}
	var got []string
	for _, e := range r.Children(c.names.Entity(c.a.Source), c.a.Edge) {
		if !e.Deleted {
			got = append(got, string(e.Target))
		}
	}
	if !slices.Equal(want, got) {
		return c.fail(peer, fmt.Sprintf("%s -%s-> %v", c.a.Source, c.a.Edge, want), fmt.Sprintf("%v", got))
	}
	return nil
}

// assertText checks the rendered value of a text field.
func (c *checker) assertText(peer string, r *replica.Replica) error {
	got, _ := r.FieldValue(c.entity(), c.a.Field)
	s, _ := got.(ir.IRString)
	if string(s) != *c.a.Text {
		return c.fail(peer, fmt.Sprintf("%s.%s text %q", c.a.Entity, c.a.Field, *c.a.Text), fmt.Sprintf("%q", string(s)))
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the harness peers.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(h *Harness, result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		c := &checker{h: h, names: h.names, result: result, a: assertion}
		peers := h.order
		if assertion.Peer != "" {
			peers = []string{assertion.Peer}
		}

		var err error
		switch assertion.Type {
		case AssertConverged:
			if len(assertion.Peers) > 0 {
				peers = assertion.Peers
			}
			err = c.assertConverged(peers)
		case AssertField, AssertConflict, AssertNoConflict, AssertEdgeOrder, AssertText:
			for _, name := range peers {
				if err = c.check(name, h.Replica(name)); err != nil {
					break
				}
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func (c *checker) check(peer string, r *replica.Replica) error {
	switch c.a.Type {
	case AssertField:
		return c.assertField(peer, r)
	case AssertConflict:
		return c.assertConflict(peer, r)
	case AssertNoConflict:
		return c.assertNoConflict(peer, r)
	case AssertEdgeOrder:
		return c.assertEdgeOrder(peer, r)
	default:
		return c.assertText(peer, r)
	}
}

// render prints a value as canonical JSON.
func render(v ir.IRValue) string {
	if v == nil {
		return "<cleared>"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
