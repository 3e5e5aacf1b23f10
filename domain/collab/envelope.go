// Package collab defines the wire protocol spoken between collaboration
// clients and the relay: the envelope, message types and typed payloads.
package collab

import (
	"encoding/json"
	"fmt"
	"time"

	"proofcanvas/domain/canvas"
	appErrors "proofcanvas/pkg/errors"
)

// MessageType names the payload carried by an envelope
type MessageType string

const (
	TypePresenceSync    MessageType = "presence_sync"
	TypeUserJoined      MessageType = "user_joined"
	TypeUserLeft        MessageType = "user_left"
	TypeCursorMove      MessageType = "cursor_move"
	TypeSelectionChange MessageType = "selection_change"
	TypeDocumentSync    MessageType = "document_sync"
	TypeDocumentEdit    MessageType = "document_edit"
	TypeCanvasSync      MessageType = "canvas_sync"
	TypeNodeCreate      MessageType = "node_create"
	TypeNodeUpdate      MessageType = "node_update"
	TypeNodeDelete      MessageType = "node_delete"
	TypeNodeMove        MessageType = "node_move"
	TypeNodesMove       MessageType = "nodes_move"
	TypeEdgeCreate      MessageType = "edge_create"
	TypeEdgeDelete      MessageType = "edge_delete"
	TypeError           MessageType = "error"
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
)

// clientTypes are the types a client may send. Everything else is produced
// by the relay only.
var clientTypes = map[MessageType]bool{
	TypeCursorMove:      true,
	TypeSelectionChange: true,
	TypeDocumentSync:    true,
	TypeDocumentEdit:    true,
	TypeCanvasSync:      true,
	TypeNodeCreate:      true,
	TypeNodeUpdate:      true,
	TypeNodeDelete:      true,
	TypeNodeMove:        true,
	TypeNodesMove:       true,
	TypeEdgeCreate:      true,
	TypeEdgeDelete:      true,
	TypePing:            true,
}

// IsClientType reports whether clients are allowed to send t
func IsClientType(t MessageType) bool {
	return clientTypes[t]
}

// IsMutation reports whether t changes shared canvas or document state
func IsMutation(t MessageType) bool {
	switch t {
	case TypeCanvasSync, TypeNodeCreate, TypeNodeUpdate, TypeNodeDelete, TypeNodeMove,
		TypeNodesMove, TypeEdgeCreate, TypeEdgeDelete, TypeDocumentSync, TypeDocumentEdit:
		return true
	}
	return false
}

// Envelope is the frame exchanged over the collaboration socket.
// UserID is stamped by the relay from the authenticated connection.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ProblemID string          `json:"problem_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope marshals payload into a new envelope stamped with the current time
func NewEnvelope(t MessageType, problemID string, payload interface{}) (Envelope, error) {
	env := Envelope{Type: t, ProblemID: problemID, Timestamp: Now()}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Data = data
	return env, nil
}

// Now returns the current time in epoch milliseconds
func Now() int64 {
	return time.Now().UnixMilli()
}

// Time returns the envelope timestamp as a time.Time
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Decode unmarshals the payload into v and validates it
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return appErrors.NewValidationError(fmt.Sprintf("%s: missing data", e.Type))
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return appErrors.NewValidationError(fmt.Sprintf("%s: malformed data", e.Type)).WithCause(err)
	}
	return canvas.ValidationError(canvas.Validator().Struct(v))
}

// Marshal encodes the envelope
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes a raw frame
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, appErrors.NewValidationError("malformed envelope").WithCause(err)
	}
	if env.Type == "" {
		return Envelope{}, appErrors.NewValidationError("envelope type required")
	}
	return env, nil
}

// PayloadFor returns a zero payload value for t, or nil when t carries none
func PayloadFor(t MessageType) interface{} {
	switch t {
	case TypePresenceSync:
		return &PresenceSync{}
	case TypeUserJoined:
		return &PresenceRecord{}
	case TypeUserLeft:
		return &UserLeft{}
	case TypeCursorMove:
		return &Cursor{}
	case TypeSelectionChange:
		return &Selection{}
	case TypeDocumentSync:
		return &DocumentSync{}
	case TypeDocumentEdit:
		return &DocumentEdit{}
	case TypeCanvasSync:
		return &CanvasSync{}
	case TypeNodeCreate, TypeNodeUpdate:
		return &NodePayload{}
	case TypeNodeDelete:
		return &NodeDelete{}
	case TypeNodeMove:
		return &NodeMove{}
	case TypeNodesMove:
		return &NodesMove{}
	case TypeEdgeCreate:
		return &EdgePayload{}
	case TypeEdgeDelete:
		return &EdgeDelete{}
	case TypeError:
		return &ErrorPayload{}
	}
	return nil
}

// Validate decodes and validates the payload for the envelope's type.
// Types without a payload always validate.
func (e Envelope) Validate() error {
	payload := PayloadFor(e.Type)
	if payload == nil {
		if e.Type == TypePing || e.Type == TypePong {
			return nil
		}
		return appErrors.NewValidationError(fmt.Sprintf("unknown message type %q", e.Type))
	}
	if err := e.Decode(payload); err != nil {
		return err
	}
	if c, ok := payload.(checker); ok {
		return c.check()
	}
	return nil
}

// checker is implemented by payloads with rules struct tags cannot express
type checker interface {
	check() error
}
