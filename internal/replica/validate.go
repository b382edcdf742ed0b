package replica

import (
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/position"
)

// validate checks a verified bundle against the schema and the current
// state. It must not mutate anything.
func (r *Replica) validate(b *oplog.Bundle) error {
	created := make(map[oplog.EntityID]struct{})
	collides := func(id oplog.EntityID) bool {
		if _, ok := created[id]; ok {
			return true
		}
		created[id] = struct{}{}
		return r.mat.Exists(id)
	}

	for _, op := range b.Operations {
		if err := r.validateOp(op, collides); err != nil {
			return err.WithBundle(b.ID).WithOp(op.ID)
		}
	}
	return nil
}

func (r *Replica) validateOp(op *oplog.Operation, collides func(oplog.EntityID) bool) *oplog.Error {
	s := r.schema
	switch p := op.Payload.(type) {
	case oplog.CreateEntity:
		if p.Entity == "" {
			return oplog.Errorf(oplog.CodeSchemaViolation, "empty entity id")
		}
		if collides(p.Entity) {
			return oplog.Errorf(oplog.CodeEntityCollision, "entity %s already exists", p.Entity)
		}

	case oplog.SetField:
		return r.checkScalarField(p.Field)

	case oplog.ClearField:
		return r.checkScalarField(p.Field)

	case oplog.ApplyCRDT:
		kind, err := r.checkCRDTField(p.Field)
		if err != nil {
			return err
		}
		adapter, lerr := r.mat.CRDTs().Lookup(kind)
		if lerr != nil {
			return oplog.WrapError(oplog.CodeSchemaViolation, lerr, "crdt field "+p.Field)
		}
		if _, merr := adapter.Merge(adapter.Init(), p.Delta); merr != nil {
			return oplog.WrapError(oplog.CodeSchemaViolation, merr, "malformed delta for "+p.Field)
		}

	case oplog.ResetCRDT:
		kind, err := r.checkCRDTField(p.Field)
		if err != nil {
			return err
		}
		if len(p.State) == 0 {
			return nil
		}
		adapter, lerr := r.mat.CRDTs().Lookup(kind)
		if lerr != nil {
			return oplog.WrapError(oplog.CodeSchemaViolation, lerr, "crdt field "+p.Field)
		}
		if _, rerr := adapter.Render(p.State); rerr != nil {
			return oplog.WrapError(oplog.CodeSchemaViolation, rerr, "malformed state for "+p.Field)
		}

	case oplog.CreateEdge:
		if p.Edge == "" || p.Type == "" || p.Source == "" || p.Target == "" {
			return oplog.Errorf(oplog.CodeSchemaViolation, "edge needs id, type, source and target")
		}
		if s.IsOrderedEdge(p.Type) {
			return oplog.Errorf(oplog.CodeSchemaViolation, "edge type %q is ordered", p.Type)
		}

	case oplog.CreateOrderedEdge:
		if p.Edge == "" || p.Type == "" || p.Source == "" || p.Target == "" {
			return oplog.Errorf(oplog.CodeSchemaViolation, "edge needs id, type, source and target")
		}
		if !s.IsOrderedEdge(p.Type) {
			return oplog.Errorf(oplog.CodeSchemaViolation, "edge type %q is not ordered", p.Type)
		}
		if err := position.Validate(p.Position); err != nil {
			return oplog.WrapError(oplog.CodeSchemaViolation, err, "edge position")
		}

	case oplog.MoveOrderedEdge:
		if err := position.Validate(p.Position); err != nil {
			return oplog.WrapError(oplog.CodeSchemaViolation, err, "edge position")
		}

	case oplog.MergeEntity:
		if p.Survivor == "" || p.Survivor == p.Absorbed {
			return oplog.Errorf(oplog.CodeSchemaViolation, "merge needs two distinct entities")
		}

	case oplog.SplitEntity:
		if p.Target == "" || p.Source == p.Target {
			return oplog.Errorf(oplog.CodeSchemaViolation, "split needs a distinct target")
		}
		if collides(p.Target) {
			return oplog.Errorf(oplog.CodeEntityCollision, "split target %s already exists", p.Target)
		}
	}
	return nil
}

func (r *Replica) checkScalarField(field string) *oplog.Error {
	if field == "" {
		return oplog.Errorf(oplog.CodeSchemaViolation, "empty field name")
	}
	canonical := r.schema.CanonicalField(field)
	if kind, ok := r.schema.CRDTKind(canonical); ok {
		return oplog.Errorf(oplog.CodeSchemaViolation, "field %q is a %s crdt field", field, kind)
	}
	return nil
}

func (r *Replica) checkCRDTField(field string) (string, *oplog.Error) {
	kind, ok := r.schema.CRDTKind(r.schema.CanonicalField(field))
	if !ok {
		return "", oplog.Errorf(oplog.CodeSchemaViolation, "field %q is not a crdt field", field)
	}
	return kind, nil
}
