package collab

import (
	"fmt"

	"proofcanvas/domain/canvas"
	appErrors "proofcanvas/pkg/errors"
)

// Cursor is a pointer sample. File is set when the pointer is in a text file
// rather than on the canvas.
type Cursor struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	File string  `json:"file,omitempty" validate:"max=512"`
}

// Selection is a text selection range
type Selection struct {
	Start int    `json:"start" validate:"gte=0"`
	End   int    `json:"end" validate:"gtefield=Start"`
	File  string `json:"file,omitempty" validate:"max=512"`
}

// PresenceSync lists every peer already in the room
type PresenceSync struct {
	Users []PresenceRecord `json:"users" validate:"dive"`
}

// UserLeft is sent when a peer's last connection closes
type UserLeft struct {
	UserID string `json:"user_id" validate:"required"`
}

// DocumentSync is a full-content snapshot of one text file
type DocumentSync struct {
	Path    string `json:"path" validate:"required,max=512"`
	Content string `json:"content"`
}

// EditOperation names a document edit
type EditOperation string

const (
	EditInsert  EditOperation = "insert"
	EditDelete  EditOperation = "delete"
	EditReplace EditOperation = "replace"
)

// DocumentEdit is an incremental text operation. Position and Length count
// characters, not bytes.
type DocumentEdit struct {
	Path      string        `json:"path" validate:"required,max=512"`
	Operation EditOperation `json:"operation" validate:"required,oneof=insert delete replace"`
	Position  int           `json:"position" validate:"gte=0"`
	Text      string        `json:"text,omitempty"`
	Length    int           `json:"length,omitempty" validate:"gte=0"`
}

// Apply returns content with the edit applied. Positions past the end are
// clamped so a late edit never fails against a slightly stale document.
func (e DocumentEdit) Apply(content string) (string, error) {
	runes := []rune(content)
	pos := clamp(e.Position, 0, len(runes))
	end := clamp(pos+e.Length, pos, len(runes))

	switch e.Operation {
	case EditInsert:
		return string(runes[:pos]) + e.Text + string(runes[pos:]), nil
	case EditDelete:
		return string(runes[:pos]) + string(runes[end:]), nil
	case EditReplace:
		return string(runes[:pos]) + e.Text + string(runes[end:]), nil
	}
	return content, appErrors.NewValidationError(fmt.Sprintf("unknown edit operation %q", e.Operation))
}

// CanvasSync is a full node and edge snapshot
type CanvasSync struct {
	Nodes []canvas.Node `json:"nodes" validate:"dive"`
	Edges []canvas.Edge `json:"edges" validate:"dive"`
}

// Snapshot converts the payload into a canvas snapshot
func (c CanvasSync) Snapshot() canvas.Snapshot {
	return canvas.Snapshot{Nodes: c.Nodes, Edges: c.Edges}.Clone()
}

// NodePayload carries a full node for node_create and node_update
type NodePayload struct {
	Node canvas.Node `json:"node"`
}

// NodeDelete removes a node and its incident edges
type NodeDelete struct {
	NodeID string `json:"node_id" validate:"required"`
}

// NodeMove is the single-node drag commit
type NodeMove struct {
	NodeID string  `json:"node_id" validate:"required"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// NodesMove is the batched block-drag commit
type NodesMove struct {
	Positions map[string]canvas.Point `json:"positions" validate:"required,min=1"`
}

// EdgePayload carries a full edge for edge_create
type EdgePayload struct {
	Edge canvas.Edge `json:"edge"`
}

func (p EdgePayload) check() error {
	if p.Edge.ID == "" {
		return appErrors.NewValidationError("edge id required")
	}
	if p.Edge.From == p.Edge.To {
		return appErrors.NewValidationError("cannot connect node to itself")
	}
	return nil
}

// EdgeDelete removes one edge
type EdgeDelete struct {
	EdgeID string `json:"edge_id" validate:"required"`
}

// ErrorPayload is sent by the relay to the offending connection only
type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorPayloadFrom converts an error into a wire payload
func ErrorPayloadFrom(err error) ErrorPayload {
	if appErr := appErrors.GetAppError(err); appErr != nil {
		return ErrorPayload{Type: string(appErr.Type), Message: appErr.Message, Code: appErr.Code}
	}
	return ErrorPayload{Type: string(appErrors.ErrorTypeInternal), Message: err.Error()}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
