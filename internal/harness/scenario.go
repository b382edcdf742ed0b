package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wlococode/openprod-sub001/internal/opscript"
)

// Scenario defines a multi-peer convergence scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is CUE source shared by every peer. Empty means no CRDT
	// fields and no ordered edges.
	Schema string `yaml:"schema,omitempty"`

	// Peers names the replicas, in order.
	Peers []string `yaml:"peers"`

	// Trusted restricts accepted authors to these peers. Empty admits
	// every author.
	Trusted []string `yaml:"trusted,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one of: a commit on Peer, a sync between two peers, or a clock
// advance on Peer (every peer when Peer is empty).
type Step struct {
	Peer string `yaml:"peer,omitempty"`

	Commit *opscript.Script `yaml:"commit,omitempty"`

	// Expect is the error code the commit must fail with. Empty means it
	// must succeed.
	Expect string `yaml:"expect,omitempty"`

	// Sync is [initiator, responder].
	Sync []string `yaml:"sync,omitempty"`

	// PageSize overrides the sync page size.
	PageSize int `yaml:"page_size,omitempty"`

	// Advance is a duration such as "2s".
	Advance string `yaml:"advance,omitempty"`
}

// Kind reports which kind of step s is.
func (s *Step) Kind() string {
	switch {
	case s.Commit != nil:
		return StepCommit
	case len(s.Sync) > 0:
		return StepSync
	case s.Advance != "":
		return StepAdvance
	}
	return ""
}

// Step kinds.
const (
	StepCommit  = "commit"
	StepSync    = "sync"
	StepAdvance = "advance"
)

// Assertion checks final state. Which keys apply depends on Type.
type Assertion struct {
	Type string `yaml:"type"`

	// Peer limits the assertion to one peer (field, conflict, no_conflict,
	// edge_order, text).
	Peer string `yaml:"peer,omitempty"`

	// Peers limits converged to a subset.
	Peers []string `yaml:"peers,omitempty"`

	Entity string `yaml:"entity,omitempty"`
	Field  string `yaml:"field,omitempty"`

	// Value is the expected field value; Absent expects no value.
	Value  any  `yaml:"value,omitempty"`
	Absent bool `yaml:"absent,omitempty"`

	// Values are the expected tip values of a conflict, in any order.
	Values []any `yaml:"values,omitempty"`

	Source  string   `yaml:"source,omitempty"`
	Edge    string   `yaml:"edge,omitempty"`
	Targets []string `yaml:"targets,omitempty"`

	Text *string `yaml:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged  = "converged"
	AssertField      = "field"
	AssertConflict   = "conflict"
	AssertNoConflict = "no_conflict"
	AssertEdgeOrder  = "edge_order"
	AssertText       = "text"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Peers) == 0 {
		return fmt.Errorf("peers list is required and must be non-empty")
	}
	if len(s.Peers) > 255 {
		return fmt.Errorf("at most 255 peers")
	}
	for i, p := range s.Peers {
		if p == "" {
			return fmt.Errorf("peers[%d]: name is required", i)
		}
		if slices.Index(s.Peers, p) != i {
			return fmt.Errorf("peers[%d]: duplicate peer %q", i, p)
		}
	}
	for i, p := range s.Trusted {
		if !slices.Contains(s.Peers, p) {
			return fmt.Errorf("trusted[%d]: unknown peer %q", i, p)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(s, &s.Steps[i]); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(s, &s.Assertions[i]); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(s *Scenario, step *Step) error {
	set := 0
	if step.Commit != nil {
		set++
	}
	if len(step.Sync) > 0 {
		set++
	}
	if step.Advance != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of commit, sync or advance is required")
	}
	if step.Peer != "" && !slices.Contains(s.Peers, step.Peer) {
		return fmt.Errorf("unknown peer %q", step.Peer)
	}

	switch step.Kind() {
	case StepCommit:
		if step.Peer == "" {
			return fmt.Errorf("commit needs a peer")
		}
		if err := step.Commit.Validate(); err != nil {
			return err
		}
	case StepSync:
		if len(step.Sync) != 2 {
			return fmt.Errorf("sync needs [initiator, responder]")
		}
		for _, p := range step.Sync {
			if !slices.Contains(s.Peers, p) {
				return fmt.Errorf("sync: unknown peer %q", p)
			}
		}
		if step.Sync[0] == step.Sync[1] {
			return fmt.Errorf("sync: a peer cannot sync with itself")
		}
	case StepAdvance:
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("advance: clocks only move forward")
		}
	}
	if step.Expect != "" && step.Kind() != StepCommit {
		return fmt.Errorf("expect only applies to commit")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(s *Scenario, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("type is required")
	}
	if a.Peer != "" && !slices.Contains(s.Peers, a.Peer) {
		return fmt.Errorf("unknown peer %q", a.Peer)
	}

	switch a.Type {
	case AssertConverged:
		for _, p := range a.Peers {
			if !slices.Contains(s.Peers, p) {
				return fmt.Errorf("unknown peer %q", p)
			}
		}
	case AssertField:
		if a.Entity == "" || a.Field == "" {
			return fmt.Errorf("entity and field are required for field")
		}
		if (a.Value == nil) == !a.Absent {
			return fmt.Errorf("field needs exactly one of value or absent")
		}
	case AssertConflict, AssertNoConflict:
		if a.Entity == "" || a.Field == "" {
			return fmt.Errorf("entity and field are required for %s", a.Type)
		}
	case AssertEdgeOrder:
		if a.Source == "" || a.Edge == "" {
			return fmt.Errorf("source and edge are required for edge_order")
		}
	case AssertText:
		if a.Entity == "" || a.Field == "" || a.Text == nil {
			return fmt.Errorf("entity, field and text are required for text")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
