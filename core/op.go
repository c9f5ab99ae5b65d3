package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type OpType string

const (
	OpCreate     OpType = "create"
	OpUpdate     OpType = "update"
	OpDelete     OpType = "delete"
	OpMove       OpType = "move"
	OpResize     OpType = "resize"
	OpSelect     OpType = "select"
	OpDeselect   OpType = "deselect"
	OpConnect    OpType = "connect"
	OpDisconnect OpType = "disconnect"
	OpGroup      OpType = "group"
	OpUngroup    OpType = "ungroup"
	OpLayer      OpType = "layer"
	OpStyle      OpType = "style"
)

type (
	// Op is one atomic mutation in the append-only, server-sequenced
	// collaboration log. Immutable once persisted.
	Op struct {
		ID         string          `json:"id"`
		ProjectID  string          `json:"projectId"`
		OpIndex    int64           `json:"opIndex"`
		Type       OpType          `json:"type"`
		ElementID  string          `json:"elementId,omitempty"`
		ElementIDs []string        `json:"elementIds,omitempty"`
		Data       json.RawMessage `json:"data,omitempty"`
		ActorID    string          `json:"actorId"`
		RequestID  string          `json:"requestId,omitempty"`
		ClientTS   *time.Time      `json:"clientTs,omitempty"`
		CreatedAt  time.Time       `json:"createdAt"`
	}

	// OpDraft is a client-supplied op before sequencing.
	OpDraft struct {
		Type       OpType          `json:"type"`
		ElementID  string          `json:"elementId,omitempty"`
		ElementIDs []string        `json:"elementIds,omitempty"`
		Data       json.RawMessage `json:"data,omitempty"`
		RequestID  string          `json:"requestId,omitempty"`
		ClientTS   *time.Time      `json:"clientTs,omitempty"`
	}

	// OpStore defines the persistence layer for the op log. AppendOp
	// must assign the project's next opIndex and persist the op inside
	// one atomic transaction, returning ErrConflict on contention.
	OpStore interface {
		AppendOp(ctx context.Context, op *Op) (int64, error)

		// ListOpsSince returns ops with opIndex >= fromIndex, ascending,
		// capped at limit. An index-ordered range scan, never a full read.
		ListOpsSince(ctx context.Context, projectID string, fromIndex int64, limit int) ([]*Op, error)

		FindOpByRequestID(ctx context.Context, projectID, requestID string) (*Op, error)

		GetOp(ctx context.Context, projectID, opID string) (*Op, error)

		// CurrentOpIndex returns the highest assigned index, -1 when the
		// log is empty.
		CurrentOpIndex(ctx context.Context, projectID string) (int64, error)
	}
)

// OpPayload is the closed union of per-type op payloads.
type OpPayload interface{ isOpPayload() }

type (
	// CreatePayload upserts the contained element(s) as-is. Elements is
	// used by inverse-of-delete ops restoring more than one element.
	CreatePayload struct {
		Element  *Element   `json:"element,omitempty"`
		Elements []*Element `json:"elements,omitempty"`
	}

	// UpdatePayload shallow-merges Patch onto the target. When Replace
	// is set (inverse ops) the element is restored wholesale instead.
	// Previous holds the pre-op snapshot captured before applying.
	UpdatePayload struct {
		Patch    *ElementPatch `json:"patch,omitempty"`
		Replace  *Element      `json:"replace,omitempty"`
		Previous *Element      `json:"previousState,omitempty"`
	}

	// DeletePayload removes the targeted element(s). Previous holds the
	// pre-delete snapshots keyed by id, for undo.
	DeletePayload struct {
		Previous map[string]*Element `json:"previousState,omitempty"`
	}

	// MovePayload adds a delta vector to the targeted element(s).
	MovePayload struct {
		DX float64 `json:"dx"`
		DY float64 `json:"dy"`
	}

	ResizePayload struct {
		Width    *float64 `json:"width,omitempty"`
		Height   *float64 `json:"height,omitempty"`
		Scale    *float64 `json:"scale,omitempty"`
		Rotation *float64 `json:"rotation,omitempty"`
		Previous *Element `json:"previousState,omitempty"`
	}

	SelectPayload struct {
		By       string   `json:"by"`
		Previous *Element `json:"previousState,omitempty"`
	}

	DeselectPayload struct {
		Previous *Element `json:"previousState,omitempty"`
	}

	// ConnectPayload materializes a synthetic connector element between
	// two endpoints. The endpoints themselves are not mutated.
	ConnectPayload struct {
		ConnectorID string  `json:"connectorId"`
		FromID      string  `json:"fromId"`
		ToID        string  `json:"toId"`
		FromAnchor  string  `json:"fromAnchor,omitempty"`
		ToAnchor    string  `json:"toAnchor,omitempty"`
		X           float64 `json:"x,omitempty"`
		Y           float64 `json:"y,omitempty"`
	}

	// DisconnectPayload removes the targeted connector element.
	DisconnectPayload struct {
		Previous *Element `json:"previousState,omitempty"`
	}

	// GroupPayload upserts a group element listing Members and stamps
	// groupId onto each member's metadata.
	GroupPayload struct {
		GroupID string   `json:"groupId"`
		Members []string `json:"members"`
	}

	// UngroupPayload removes the targeted group element and strips
	// groupId from the former members.
	UngroupPayload struct {
		Previous *Element `json:"previousState,omitempty"`
	}

	LayerPayload struct {
		ZIndex   int      `json:"zIndex"`
		Previous *Element `json:"previousState,omitempty"`
	}

	// StylePayload merges the style attributes onto the target's style map.
	StylePayload struct {
		Style    map[string]string `json:"style"`
		Previous *Element          `json:"previousState,omitempty"`
	}
)

func (CreatePayload) isOpPayload()     {}
func (UpdatePayload) isOpPayload()     {}
func (DeletePayload) isOpPayload()     {}
func (MovePayload) isOpPayload()       {}
func (ResizePayload) isOpPayload()     {}
func (SelectPayload) isOpPayload()     {}
func (DeselectPayload) isOpPayload()   {}
func (ConnectPayload) isOpPayload()    {}
func (DisconnectPayload) isOpPayload() {}
func (GroupPayload) isOpPayload()      {}
func (UngroupPayload) isOpPayload()    {}
func (LayerPayload) isOpPayload()      {}
func (StylePayload) isOpPayload()      {}

// DecodePayload parses the raw data blob into the typed payload for the
// op type. Unknown types fail validation.
func DecodePayload(t OpType, data json.RawMessage) (OpPayload, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	var p OpPayload
	switch t {
	case OpCreate:
		p = &CreatePayload{}
	case OpUpdate:
		p = &UpdatePayload{}
	case OpDelete:
		p = &DeletePayload{}
	case OpMove:
		p = &MovePayload{}
	case OpResize:
		p = &ResizePayload{}
	case OpSelect:
		p = &SelectPayload{}
	case OpDeselect:
		p = &DeselectPayload{}
	case OpConnect:
		p = &ConnectPayload{}
	case OpDisconnect:
		p = &DisconnectPayload{}
	case OpGroup:
		p = &GroupPayload{}
	case OpUngroup:
		p = &UngroupPayload{}
	case OpLayer:
		p = &LayerPayload{}
	case OpStyle:
		p = &StylePayload{}
	default:
		return nil, fmt.Errorf("%w: unknown op type %q", ErrValidation, t)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return p, nil
}

// EncodePayload marshals a typed payload back into the data blob.
func EncodePayload(p OpPayload) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return b, nil
}

// Payload decodes the op's data blob by its type.
func (o *Op) Payload() (OpPayload, error) {
	return DecodePayload(o.Type, o.Data)
}

// Targets returns every element id the op names directly.
func (o *Op) Targets() []string {
	if o.ElementID != "" {
		return append([]string{o.ElementID}, o.ElementIDs...)
	}
	return o.ElementIDs
}

// Targets returns every element id the draft names directly.
func (d *OpDraft) Targets() []string {
	if d.ElementID != "" {
		return append([]string{d.ElementID}, d.ElementIDs...)
	}
	return d.ElementIDs
}

// ValidateDraft checks the draft carries the fields its type requires.
func ValidateDraft(d *OpDraft) error {
	p, err := DecodePayload(d.Type, d.Data)
	if err != nil {
		return err
	}
	switch v := p.(type) {
	case *CreatePayload:
		if v.Element == nil && len(v.Elements) == 0 {
			return fmt.Errorf("%w: create requires an element", ErrValidation)
		}
		if v.Element != nil && v.Element.ID == "" {
			return fmt.Errorf("%w: create element missing id", ErrValidation)
		}
	case *UpdatePayload:
		if v.Patch == nil && v.Replace == nil {
			return fmt.Errorf("%w: update requires a patch", ErrValidation)
		}
		if len(d.Targets()) == 0 && v.Replace == nil {
			return fmt.Errorf("%w: update requires a target element", ErrValidation)
		}
	case *DeletePayload, *MovePayload, *ResizePayload, *SelectPayload,
		*DeselectPayload, *DisconnectPayload, *UngroupPayload, *LayerPayload:
		if len(d.Targets()) == 0 {
			return fmt.Errorf("%w: %s requires a target element", ErrValidation, d.Type)
		}
	case *ConnectPayload:
		if v.ConnectorID == "" || v.FromID == "" || v.ToID == "" {
			return fmt.Errorf("%w: connect requires connectorId, fromId, toId", ErrValidation)
		}
	case *GroupPayload:
		if v.GroupID == "" || len(v.Members) == 0 {
			return fmt.Errorf("%w: group requires groupId and members", ErrValidation)
		}
	case *StylePayload:
		if len(d.Targets()) == 0 {
			return fmt.Errorf("%w: style requires a target element", ErrValidation)
		}
		if len(v.Style) == 0 {
			return fmt.Errorf("%w: style requires style attributes", ErrValidation)
		}
	}
	return nil
}
