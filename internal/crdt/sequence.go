package crdt

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/position"
)

// Element is one item of a sequence: a rune of text or a list value.
type Element struct {
	ID       string
	Position string
	Value    ir.IRValue
}

// Sequence is both the state and the delta of the sequence CRDT: a set of
// live elements ordered by (position, id) plus a set of tombstoned IDs.
// Merging is set union with tombstones winning, so the state forms a join
// semilattice.
type Sequence struct {
	Elements []Element
	Dead     []string
}

// sequenceAdapter renders sequences as text or as a list.
type sequenceAdapter struct {
	kind string
}

// Text returns the adapter for collaboratively edited strings.
func Text() Adapter { return sequenceAdapter{kind: KindText} }

// List returns the adapter for ordered lists of values.
func List() Adapter { return sequenceAdapter{kind: KindList} }

func (a sequenceAdapter) Kind() string { return a.kind }

func (a sequenceAdapter) Init() []byte {
	b, _ := EncodeSequence(Sequence{})
	return b
}

func (a sequenceAdapter) Merge(state, delta []byte) ([]byte, error) {
	s, err := DecodeSequence(state)
	if err != nil {
		return nil, fmt.Errorf("%s merge: state: %w", a.kind, err)
	}
	d, err := DecodeSequence(delta)
	if err != nil {
		return nil, fmt.Errorf("%s merge: delta: %w", a.kind, err)
	}
	return EncodeSequence(Union(s, d))
}

func (a sequenceAdapter) Render(state []byte) (ir.IRValue, error) {
	s, err := DecodeSequence(state)
	if err != nil {
		return nil, fmt.Errorf("%s render: %w", a.kind, err)
	}
	if a.kind == KindList {
		out := make(ir.IRArray, len(s.Elements))
		for i, e := range s.Elements {
			out[i] = e.Value
		}
		return out, nil
	}
	var sb strings.Builder
	for _, e := range s.Elements {
		str, ok := e.Value.(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("text render: element %s is %T, want string", e.ID, e.Value)
		}
		sb.WriteString(string(str))
	}
	return ir.IRString(sb.String()), nil
}

// Union merges two sequences. When the same element ID appears with
// different contents the lower (position, value) wins on every replica.
func Union(a, b Sequence) Sequence {
	dead := make(map[string]struct{}, len(a.Dead)+len(b.Dead))
	for _, id := range a.Dead {
		dead[id] = struct{}{}
	}
	for _, id := range b.Dead {
		dead[id] = struct{}{}
	}

	byID := make(map[string]Element, len(a.Elements)+len(b.Elements))
	for _, e := range slices.Concat(a.Elements, b.Elements) {
		if _, gone := dead[e.ID]; gone {
			continue
		}
		if cur, ok := byID[e.ID]; ok && compareContent(cur, e) <= 0 {
			continue
		}
		byID[e.ID] = e
	}

	out := Sequence{
		Elements: make([]Element, 0, len(byID)),
		Dead:     make([]string, 0, len(dead)),
	}
	for _, e := range byID {
		out.Elements = append(out.Elements, e)
	}
	for id := range dead {
		out.Dead = append(out.Dead, id)
	}
	slices.SortFunc(out.Elements, compareElements)
	slices.Sort(out.Dead)
	return out
}

func compareElements(a, b Element) int {
	if c := strings.Compare(a.Position, b.Position); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func compareContent(a, b Element) int {
	if c := strings.Compare(a.Position, b.Position); c != 0 {
		return c
	}
	av, _ := ir.MarshalCanonical(a.Value)
	bv, _ := ir.MarshalCanonical(b.Value)
	return bytes.Compare(av, bv)
}

// EncodeSequence renders s as canonical JSON:
// {"dead":[ids],"elems":[{"id","pos","v"}]}.
func EncodeSequence(s Sequence) ([]byte, error) {
	elems := make(ir.IRArray, len(s.Elements))
	for i, e := range s.Elements {
		if e.Value == nil {
			return nil, fmt.Errorf("element %s has no value", e.ID)
		}
		elems[i] = ir.IRObject{
			"id":  ir.IRString(e.ID),
			"pos": ir.IRString(e.Position),
			"v":   e.Value,
		}
	}
	dead := make(ir.IRArray, len(s.Dead))
	for i, id := range s.Dead {
		dead[i] = ir.IRString(id)
	}
	return ir.MarshalCanonical(ir.IRObject{"dead": dead, "elems": elems})
}

// DecodeSequence parses EncodeSequence output. Empty input is the empty
// sequence.
func DecodeSequence(data []byte) (Sequence, error) {
	if len(data) == 0 {
		return Sequence{}, nil
	}
	v, err := ir.UnmarshalIRValue(data)
	if err != nil {
		return Sequence{}, err
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return Sequence{}, fmt.Errorf("sequence: want object, got %T", v)
	}

	var s Sequence
	if raw, ok := obj["elems"]; ok {
		arr, ok := raw.(ir.IRArray)
		if !ok {
			return Sequence{}, fmt.Errorf("sequence: elems must be an array")
		}
		for i, item := range arr {
			eo, ok := item.(ir.IRObject)
			if !ok {
				return Sequence{}, fmt.Errorf("sequence: elems[%d] must be an object", i)
			}
			id, idOK := eo["id"].(ir.IRString)
			pos, posOK := eo["pos"].(ir.IRString)
			val, valOK := eo["v"]
			if !idOK || !posOK || !valOK || id == "" {
				return Sequence{}, fmt.Errorf("sequence: elems[%d] needs id, pos and v", i)
			}
			if err := position.Validate(string(pos)); err != nil {
				return Sequence{}, fmt.Errorf("sequence: elems[%d]: %w", i, err)
			}
			s.Elements = append(s.Elements, Element{ID: string(id), Position: string(pos), Value: val})
		}
	}
	if raw, ok := obj["dead"]; ok {
		arr, ok := raw.(ir.IRArray)
		if !ok {
			return Sequence{}, fmt.Errorf("sequence: dead must be an array")
		}
		for i, item := range arr {
			id, ok := item.(ir.IRString)
			if !ok {
				return Sequence{}, fmt.Errorf("sequence: dead[%d] must be a string", i)
			}
			s.Dead = append(s.Dead, string(id))
		}
	}
	return s, nil
}

// InsertValues builds a delta inserting values before the live element at
// index idx of state (idx == length appends). Element IDs are
// idPrefix + "." + n and must be globally unique, so callers pass an
// operation ID.
func InsertValues(state []byte, idx int, values []ir.IRValue, idPrefix string) ([]byte, error) {
	s, err := DecodeSequence(state)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx > len(s.Elements) {
		return nil, fmt.Errorf("insert index %d out of range [0, %d]", idx, len(s.Elements))
	}
	keys := make([]string, len(s.Elements))
	for i, e := range s.Elements {
		keys[i] = e.Position
	}

	lo := ""
	if idx > 0 {
		lo = keys[idx-1]
	}
	hi := ""
	for j := idx; j < len(keys); j++ {
		if keys[j] != lo {
			hi = keys[j]
			break
		}
	}
	positions, err := position.Sequence(lo, hi, len(values))
	if err != nil {
		return nil, err
	}

	var d Sequence
	for i, v := range values {
		d.Elements = append(d.Elements, Element{
			ID:       idPrefix + "." + strconv.Itoa(i),
			Position: positions[i],
			Value:    v,
		})
	}
	return EncodeSequence(d)
}

// InsertText builds a delta inserting text at rune index idx.
func InsertText(state []byte, idx int, text, idPrefix string) ([]byte, error) {
	runes := []rune(text)
	values := make([]ir.IRValue, len(runes))
	for i, r := range runes {
		values[i] = ir.IRString(string(r))
	}
	return InsertValues(state, idx, values, idPrefix)
}

// DeleteRange builds a delta removing n live elements starting at idx.
func DeleteRange(state []byte, idx, n int) ([]byte, error) {
	s, err := DecodeSequence(state)
	if err != nil {
		return nil, err
	}
	if idx < 0 || n < 0 || idx+n > len(s.Elements) {
		return nil, fmt.Errorf("delete range [%d, %d) out of range [0, %d)", idx, idx+n, len(s.Elements))
	}
	var d Sequence
	for _, e := range s.Elements[idx : idx+n] {
		d.Dead = append(d.Dead, e.ID)
	}
	slices.Sort(d.Dead)
	return EncodeSequence(d)
}
