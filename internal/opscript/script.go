// Package opscript describes bundles in YAML so they can be committed from
// the command line and from scenario files.
//
//	type: user_edit
//	ops:
//	  - {op: create_entity, entity: task-1}
//	  - {op: set_field, entity: task-1, field: title, value: "Write docs"}
//	  - {op: create_ordered_edge, type: child, source: list-1, target: task-1, as: first}
//	  - {op: move_edge, edge: first, before: second}
//
// Entity and edge references are either literal IDs or names bound by an
// earlier op's "as" key.
package opscript

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wlococode/openprod-sub001/internal/oplog"
)

// Script is one bundle.
type Script struct {
	Type     string `yaml:"type,omitempty"`
	Metadata string `yaml:"metadata,omitempty"`
	Ops      []Op   `yaml:"ops"`
}

// Op is one operation. Which keys apply depends on Op.
type Op struct {
	Op string `yaml:"op"`

	Entity string `yaml:"entity,omitempty"`
	Field  string `yaml:"field,omitempty"`
	Value  any    `yaml:"value,omitempty"`
	Values []any  `yaml:"values,omitempty"`

	Facet    string `yaml:"facet,omitempty"`
	Preserve bool   `yaml:"preserve,omitempty"`

	Index int    `yaml:"index,omitempty"`
	Count int    `yaml:"count,omitempty"`
	Text  string `yaml:"text,omitempty"`

	Edge   string         `yaml:"edge,omitempty"`
	Type   string         `yaml:"type,omitempty"`
	Source string         `yaml:"source,omitempty"`
	Target string         `yaml:"target,omitempty"`
	Props  map[string]any `yaml:"props,omitempty"`
	After  string         `yaml:"after,omitempty"`
	Before string         `yaml:"before,omitempty"`

	Survivor string   `yaml:"survivor,omitempty"`
	Absorbed string   `yaml:"absorbed,omitempty"`
	Fields   []string `yaml:"fields,omitempty"`
	Facets   []string `yaml:"facets,omitempty"`

	// As binds the ID this op creates to a name.
	As string `yaml:"as,omitempty"`
}

// Op names.
const (
	OpCreateEntity      = "create_entity"
	OpDeleteEntity      = "delete_entity"
	OpSetField          = "set_field"
	OpClearField        = "clear_field"
	OpAttachFacet       = "attach_facet"
	OpDetachFacet       = "detach_facet"
	OpRestoreFacet      = "restore_facet"
	OpInsertText        = "insert_text"
	OpDeleteText        = "delete_text"
	OpAppendList        = "append_list"
	OpRemoveList        = "remove_list"
	OpCreateEdge        = "create_edge"
	OpCreateOrderedEdge = "create_ordered_edge"
	OpMoveEdge          = "move_edge"
	OpDeleteEdge        = "delete_edge"
	OpMerge             = "merge"
	OpSplit             = "split"
)

// Load reads a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a script. Unknown keys are rejected.
func Parse(data []byte) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &s, nil
}

// BundleType returns the declared type, defaulting to user_edit.
func (s *Script) BundleType() oplog.BundleType {
	if s.Type == "" {
		return oplog.BundleUserEdit
	}
	return oplog.BundleType(s.Type)
}

// Validate checks that every op names its required keys.
func (s *Script) Validate() error {
	if !s.BundleType().Valid() {
		return fmt.Errorf("unknown bundle type %q", s.Type)
	}
	if len(s.Ops) == 0 {
		return fmt.Errorf("ops list is required and must be non-empty")
	}
	for i := range s.Ops {
		if err := s.Ops[i].validate(); err != nil {
			return fmt.Errorf("ops[%d]: %w", i, err)
		}
	}
	return nil
}

func (o *Op) validate() error {
	need := func(pairs ...string) error {
		for i := 0; i < len(pairs); i += 2 {
			if pairs[i+1] == "" {
				return fmt.Errorf("%s: %s is required", o.Op, pairs[i])
			}
		}
		return nil
	}
	switch o.Op {
	case OpCreateEntity:
		if o.Entity == "" && o.As == "" {
			return fmt.Errorf("%s: entity or as is required", o.Op)
		}
		return nil
	case OpDeleteEntity:
		return need("entity", o.Entity)
	case OpSetField:
		if o.Value == nil {
			return fmt.Errorf("%s: value is required", o.Op)
		}
		return need("entity", o.Entity, "field", o.Field)
	case OpClearField, OpInsertText, OpDeleteText, OpAppendList, OpRemoveList:
		return need("entity", o.Entity, "field", o.Field)
	case OpAttachFacet, OpDetachFacet, OpRestoreFacet:
		return need("entity", o.Entity, "facet", o.Facet)
	case OpCreateEdge, OpCreateOrderedEdge:
		return need("type", o.Type, "source", o.Source, "target", o.Target)
	case OpMoveEdge, OpDeleteEdge:
		return need("edge", o.Edge)
	case OpMerge:
		return need("survivor", o.Survivor, "absorbed", o.Absorbed)
	case OpSplit:
		return need("entity", o.Entity)
	case "":
		return fmt.Errorf("op is required")
	}
	return fmt.Errorf("unknown op %q", o.Op)
}
