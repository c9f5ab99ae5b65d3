package core

import "fmt"

// StampPreviousState captures the pre-op snapshot of the affected
// element(s) onto the draft payload, so the inverse can be computed
// later without re-deriving state. Called by the append path before
// sequencing; current holds the affected elements as they exist now.
//
// Ops whose inverse needs no prior state (create, move, connect, group)
// are left untouched. Update-style ops capture a single-target snapshot;
// delete captures one per target.
func StampPreviousState(d *OpDraft, current map[string]*Element) error {
	p, err := DecodePayload(d.Type, d.Data)
	if err != nil {
		return err
	}

	single := func() *Element {
		targets := d.Targets()
		if len(targets) != 1 {
			return nil
		}
		if e, ok := current[targets[0]]; ok {
			return e.Clone()
		}
		return nil
	}

	switch v := p.(type) {
	case *UpdatePayload:
		v.Previous = single()
	case *DeletePayload:
		v.Previous = make(map[string]*Element)
		for _, id := range d.Targets() {
			if e, ok := current[id]; ok {
				v.Previous[id] = e.Clone()
			}
		}
	case *ResizePayload:
		v.Previous = single()
	case *SelectPayload:
		v.Previous = single()
	case *DeselectPayload:
		v.Previous = single()
	case *DisconnectPayload:
		v.Previous = single()
	case *UngroupPayload:
		v.Previous = single()
	case *LayerPayload:
		v.Previous = single()
	case *StylePayload:
		v.Previous = single()
	default:
		return nil
	}

	data, err := EncodePayload(p)
	if err != nil {
		return err
	}
	d.Data = data
	return nil
}

// InvertOp derives the draft of an operation that exactly reverses the
// given op's effect on element state. Pure: it never touches the store.
// Returns (nil, nil) when the op cannot be inverted from the op alone
// plus its captured previous state. Undo is the caller appending the
// returned draft as a normal, logged, materialized operation.
func InvertOp(op *Op) (*OpDraft, error) {
	p, err := op.Payload()
	if err != nil {
		return nil, err
	}

	replaceWith := func(prev *Element) (*OpDraft, error) {
		if prev == nil {
			return nil, nil
		}
		return draftFor(OpUpdate, prev.ID, nil, &UpdatePayload{Replace: prev})
	}

	switch v := p.(type) {
	case *CreatePayload:
		var ids []string
		if v.Element != nil {
			ids = append(ids, v.Element.ID)
		}
		for _, e := range v.Elements {
			ids = append(ids, e.ID)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		return draftFor(OpDelete, "", ids, &DeletePayload{})

	case *DeletePayload:
		if len(v.Previous) == 0 {
			return nil, nil
		}
		restore := &CreatePayload{}
		for _, e := range v.Previous {
			restore.Elements = append(restore.Elements, e)
		}
		return draftFor(OpCreate, "", nil, restore)

	case *MovePayload:
		return draftFor(OpMove, op.ElementID, op.ElementIDs, &MovePayload{DX: -v.DX, DY: -v.DY})

	case *UpdatePayload:
		return replaceWith(v.Previous)
	case *ResizePayload:
		return replaceWith(v.Previous)
	case *SelectPayload:
		return replaceWith(v.Previous)
	case *DeselectPayload:
		return replaceWith(v.Previous)
	case *LayerPayload:
		return replaceWith(v.Previous)
	case *StylePayload:
		return replaceWith(v.Previous)

	case *ConnectPayload:
		return draftFor(OpDisconnect, v.ConnectorID, nil, &DisconnectPayload{})

	case *DisconnectPayload:
		if v.Previous == nil {
			return nil, nil
		}
		return draftFor(OpCreate, "", nil, &CreatePayload{Element: v.Previous})

	case *GroupPayload:
		// Synthesize the group snapshot so the inverse knows its members.
		g := &Element{ID: v.GroupID, Type: ElementGroup, Meta: ElementMeta{Members: v.Members}}
		return draftFor(OpUngroup, v.GroupID, nil, &UngroupPayload{Previous: g})

	case *UngroupPayload:
		if v.Previous == nil {
			return nil, nil
		}
		return draftFor(OpGroup, "", nil, &GroupPayload{
			GroupID: v.Previous.ID,
			Members: v.Previous.Meta.Members,
		})
	}

	return nil, fmt.Errorf("%w: cannot invert op type %q", ErrValidation, op.Type)
}

func draftFor(t OpType, elementID string, elementIDs []string, p OpPayload) (*OpDraft, error) {
	data, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	return &OpDraft{Type: t, ElementID: elementID, ElementIDs: elementIDs, Data: data}, nil
}
