package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofcanvas/domain/canvas"
	appErrors "proofcanvas/pkg/errors"
)

func TestEnvelope_DecodeValidates(t *testing.T) {
	tests := []struct {
		name    string
		typ     MessageType
		payload interface{}
		valid   bool
	}{
		{name: "node move", typ: TypeNodeMove, payload: NodeMove{NodeID: "a", X: 1, Y: 2}, valid: true},
		{name: "node move without id", typ: TypeNodeMove, payload: NodeMove{X: 1}, valid: false},
		{name: "empty batch move", typ: TypeNodesMove, payload: NodesMove{Positions: map[string]canvas.Point{}}, valid: false},
		{name: "edit with bad op", typ: TypeDocumentEdit, payload: DocumentEdit{Path: "main.lean", Operation: "splice"}, valid: false},
		{name: "edit", typ: TypeDocumentEdit, payload: DocumentEdit{Path: "main.lean", Operation: EditInsert, Text: "x"}, valid: true},
		{name: "inverted selection", typ: TypeSelectionChange, payload: Selection{Start: 5, End: 2}, valid: false},
		{name: "edge", typ: TypeEdgeCreate, payload: EdgePayload{Edge: canvas.Edge{ID: "e", From: "a", To: "b"}}, valid: true},
		{name: "self edge", typ: TypeEdgeCreate, payload: EdgePayload{Edge: canvas.Edge{ID: "e", From: "a", To: "a"}}, valid: false},
		{name: "edge without id", typ: TypeEdgeCreate, payload: EdgePayload{Edge: canvas.Edge{From: "a", To: "b"}}, valid: false},
		{
			name:    "canvas sync with bad node",
			typ:     TypeCanvasSync,
			payload: CanvasSync{Nodes: []canvas.Node{{ID: "a", Type: "AXIOM"}}},
			valid:   false,
		},
		{
			name: "canvas sync",
			typ:  TypeCanvasSync,
			payload: CanvasSync{
				Nodes: []canvas.Node{{ID: "a", Type: canvas.NodeTypeLemma}, {ID: "b", Type: canvas.NodeTypeTheorem}},
				Edges: []canvas.Edge{{ID: "e", From: "a", To: "b"}},
			},
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelope(tt.typ, "problem-1", tt.payload)
			require.NoError(t, err)

			raw, err := env.Marshal()
			require.NoError(t, err)
			parsed, err := ParseEnvelope(raw)
			require.NoError(t, err)

			err = parsed.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, appErrors.IsValidation(err), "got %v", err)
			}
		})
	}
}

func TestParseEnvelope_Rejects(t *testing.T) {
	_, err := ParseEnvelope([]byte("{not json"))
	assert.True(t, appErrors.IsValidation(err))

	_, err = ParseEnvelope([]byte(`{"data":{}}`))
	assert.True(t, appErrors.IsValidation(err))

	env, err := ParseEnvelope([]byte(`{"type":"teleport","data":{}}`))
	require.NoError(t, err)
	assert.True(t, appErrors.IsValidation(env.Validate()))

	env, err = ParseEnvelope([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.NoError(t, env.Validate())
}

func TestMessageTypeClasses(t *testing.T) {
	assert.True(t, IsClientType(TypeCursorMove))
	assert.False(t, IsClientType(TypePresenceSync))
	assert.False(t, IsClientType(TypeUserJoined))
	assert.True(t, IsMutation(TypeNodesMove))
	assert.False(t, IsMutation(TypeCursorMove))
}

func TestDocumentEdit_Apply(t *testing.T) {
	tests := []struct {
		name string
		edit DocumentEdit
		in   string
		want string
	}{
		{name: "insert", edit: DocumentEdit{Operation: EditInsert, Position: 5, Text: ","}, in: "hello world", want: "hello, world"},
		{name: "delete", edit: DocumentEdit{Operation: EditDelete, Position: 5, Length: 6}, in: "hello world", want: "hello"},
		{name: "replace", edit: DocumentEdit{Operation: EditReplace, Position: 6, Length: 5, Text: "lean"}, in: "hello world", want: "hello lean"},
		{name: "unicode positions", edit: DocumentEdit{Operation: EditInsert, Position: 2, Text: "≤"}, in: "∀x", want: "∀x≤"},
		{name: "position past end clamps", edit: DocumentEdit{Operation: EditInsert, Position: 99, Text: "!"}, in: "qed", want: "qed!"},
		{name: "delete past end clamps", edit: DocumentEdit{Operation: EditDelete, Position: 1, Length: 99}, in: "qed", want: "q"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.edit.Apply(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DocumentEdit{Operation: "splice"}.Apply("x")
	assert.Error(t, err)
}

func TestErrorPayloadFrom(t *testing.T) {
	p := ErrorPayloadFrom(appErrors.NewLimitError("connections", 3))
	assert.Equal(t, string(appErrors.ErrorTypeLimit), p.Type)
	assert.Contains(t, p.Message, "connections")
}
