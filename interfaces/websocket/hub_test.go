package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"proofcanvas/application/channel"
	"proofcanvas/domain/canvas"
	"proofcanvas/domain/collab"
	"proofcanvas/infrastructure/broker"
	"proofcanvas/infrastructure/config"
	"proofcanvas/infrastructure/presence"
	"proofcanvas/pkg/auth"
	appErrors "proofcanvas/pkg/errors"
)

type fixedLimits config.Limits

func (f fixedLimits) Current() config.Limits { return config.Limits(f) }

type testRelay struct {
	srv      *httptest.Server
	hub      *Hub
	jwt      *auth.JWTService
	presence *presence.Memory
}

func newTestRelay(t *testing.T, limits config.Limits) *testRelay {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := presence.NewMemory()

	hub, err := NewHub(HubOptions{
		Instance: "test",
		Broker:   broker.NewMemory(),
		Limits:   fixedLimits(limits),
		Presence: store,
		Logger:   logger,
	})
	require.NoError(t, err)
	go hub.Run()

	jwt := auth.NewJWTService("secret", "proofcanvas", nil, time.Hour)
	server := NewServer(hub, jwt, fixedLimits(limits), nil, DefaultServerConfig(), logger)
	srv := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return &testRelay{srv: srv, hub: hub, jwt: jwt, presence: store}
}

func (r *testRelay) url(problemID, token string) string {
	q := url.Values{}
	if problemID != "" {
		q.Set("problemId", problemID)
	}
	if token != "" {
		q.Set("token", token)
	}
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws?" + q.Encode()
}

func (r *testRelay) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := r.jwt.GenerateToken(auth.Identity{UserID: userID, Username: userID})
	require.NoError(t, err)
	return token
}

// join dials as userID and consumes the presence_sync welcome
func (r *testRelay) join(t *testing.T, problemID, userID string) (*websocket.Conn, collab.PresenceSync) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.url(problemID, r.token(t, userID)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	env := readEnvelope(t, conn)
	require.Equal(t, collab.TypePresenceSync, env.Type)
	var sync collab.PresenceSync
	require.NoError(t, env.Decode(&sync))
	return conn, sync
}

func readEnvelope(t *testing.T, conn *websocket.Conn) collab.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := collab.ParseEnvelope(msg)
	require.NoError(t, err)
	return env
}

// readUntil skips envelopes until one of type want arrives
func readUntil(t *testing.T, conn *websocket.Conn, want collab.MessageType) collab.Envelope {
	t.Helper()
	for {
		env := readEnvelope(t, conn)
		if env.Type == want {
			return env
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, typ collab.MessageType, payload interface{}) {
	t.Helper()
	env, err := collab.NewEnvelope(typ, "", payload)
	require.NoError(t, err)
	data, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// roundTrip sends a ping and waits for its pong, so everything sent before
// it has been handled
func roundTrip(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, collab.TypePing, nil)
	readUntil(t, conn, collab.TypePong)
}

func TestRelay_PresenceOnJoin(t *testing.T) {
	relay := newTestRelay(t, config.DefaultLimits())

	alice, sync := relay.join(t, "p1", "alice")
	assert.Empty(t, sync.Users)

	_, sync = relay.join(t, "p1", "bob")
	require.Len(t, sync.Users, 1)
	assert.Equal(t, "alice", sync.Users[0].UserID)

	joined := readUntil(t, alice, collab.TypeUserJoined)
	assert.Equal(t, "bob", joined.UserID)
	var p collab.PresenceRecord
	require.NoError(t, joined.Decode(&p))
	assert.Equal(t, "bob", p.Username)

	assert.Equal(t, 1, relay.hub.RoomCount())
	assert.Eventually(t, func() bool {
		records, err := relay.presence.ListByProblem(context.Background(), "p1")
		return err == nil && len(records) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestRelay_FanOutExcludesSender(t *testing.T) {
	relay := newTestRelay(t, config.DefaultLimits())

	alice, _ := relay.join(t, "p1", "alice")
	bob, _ := relay.join(t, "p1", "bob")
	readUntil(t, alice, collab.TypeUserJoined)

	send(t, alice, collab.TypeCursorMove, collab.Cursor{X: 10, Y: 20})

	got := readUntil(t, bob, collab.TypeCursorMove)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "p1", got.ProblemID)
	assert.NotZero(t, got.Timestamp)
	var c collab.Cursor
	require.NoError(t, got.Decode(&c))
	assert.Equal(t, collab.Cursor{X: 10, Y: 20}, c)

	// an echo would have been queued ahead of the pong
	send(t, alice, collab.TypePing, nil)
	assert.Equal(t, collab.TypePong, readEnvelope(t, alice).Type)
}

func TestRelay_StampsUserID(t *testing.T) {
	relay := newTestRelay(t, config.DefaultLimits())

	alice, _ := relay.join(t, "p1", "alice")
	bob, _ := relay.join(t, "p1", "bob")
	readUntil(t, alice, collab.TypeUserJoined)

	env, err := collab.NewEnvelope(collab.TypeCursorMove, "other-problem", collab.Cursor{X: 1, Y: 1})
	require.NoError(t, err)
	env.UserID = "mallory"
	data, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, data))

	got := readUntil(t, bob, collab.TypeCursorMove)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "p1", got.ProblemID)
}

func TestRelay_RoomsAreIsolated(t *testing.T) {
	relay := newTestRelay(t, config.DefaultLimits())

	alice, _ := relay.join(t, "p1", "alice")
	bob, _ := relay.join(t, "p2", "bob")

	send(t, alice, collab.TypeCursorMove, collab.Cursor{X: 1, Y: 1})
	roundTrip(t, alice)

	send(t, bob, collab.TypePing, nil)
	assert.Equal(t, collab.TypePong, readEnvelope(t, bob).Type)
	assert.Equal(t, 2, relay.hub.RoomCount())
}

func TestRelay_LateJoinerGetsState(t *testing.T) {
	relay := newTestRelay(t, config.DefaultLimits())

	alice, _ := relay.join(t, "p1", "alice")
	send(t, alice, collab.TypeNodeCreate, collab.NodePayload{Node: canvas.Node{ID: "n1", Type: canvas.NodeTypeLemma, Title: "L"}})
	send(t, alice, collab.TypeDocumentSync, collab.DocumentSync{Path: "b.lean", Content: "theorem"})
	send(t, alice, collab.TypeDocumentSync, collab.DocumentSync{Path: "a.lean", Content: "lemma"})
	send(t, alice, collab.TypeDocumentEdit, collab.DocumentEdit{Path: "a.lean", Operation: collab.EditInsert, Position: 5, Text: " foo"})
	send(t, alice, collab.TypeCursorMove, collab.Cursor{X: 3, Y: 4})
	roundTrip(t, alice)

	bob, sync := relay.join(t, "p1", "bob")
	require.Len(t, sync.Users, 1)
	require.NotNil(t, sync.Users[0].Cursor)
	assert.Equal(t, 3.0, sync.Users[0].Cursor.X)

	env := readEnvelope(t, bob)
	require.Equal(t, collab.TypeCanvasSync, env.Type)
	var cs collab.CanvasSync
	require.NoError(t, env.Decode(&cs))
	require.Len(t, cs.Nodes, 1)
	assert.Equal(t, "n1", cs.Nodes[0].ID)

	var docs []collab.DocumentSync
	for i := 0; i < 2; i++ {
		env := readEnvelope(t, bob)
		require.Equal(t, collab.TypeDocumentSync, env.Type)
		var d collab.DocumentSync
		require.NoError(t, env.Decode(&d))
		docs = append(docs, d)
	}
	assert.Equal(t, []collab.DocumentSync{
		{Path: "a.lean", Content: "lemma foo"},
		{Path: "b.lean", Content: "theorem"},
	}, docs)
}

func TestRelay_RejectsWithErrorEnvelope(t *testing.T) {
	relay := newTestRelay(t, config.DefaultLimits())
	alice, _ := relay.join(t, "p1", "alice")

	tests := []struct {
		name     string
		raw      string
		wantType appErrors.ErrorType
	}{
		{name: "malformed", raw: "not json", wantType: appErrors.ErrorTypeValidation},
		{name: "relay-only type", raw: `{"type":"user_joined","data":{"user_id":"x"}}`, wantType: appErrors.ErrorTypeValidation},
		{name: "unknown type", raw: `{"type":"shutdown"}`, wantType: appErrors.ErrorTypeValidation},
		{name: "invalid payload", raw: `{"type":"selection_change","data":{"start":5,"end":1}}`, wantType: appErrors.ErrorTypeValidation},
		{name: "missing data", raw: `{"type":"node_delete"}`, wantType: appErrors.ErrorTypeValidation},
		{name: "self edge", raw: `{"type":"edge_create","data":{"edge":{"id":"e1","from":"x","to":"x","type":"uses"}}}`, wantType: appErrors.ErrorTypeValidation},
		{name: "edge without id", raw: `{"type":"edge_create","data":{"edge":{"from":"x","to":"y"}}}`, wantType: appErrors.ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(tt.raw)))

			env := readEnvelope(t, alice)
			require.Equal(t, collab.TypeError, env.Type)
			var p collab.ErrorPayload
			require.NoError(t, env.Decode(&p))
			assert.NotEmpty(t, p.Message)
			if tt.wantType != "" {
				assert.Equal(t, string(tt.wantType), p.Type)
			}
		})
	}
}

func TestRelay_DuplicateDeleteIsRelayed(t *testing.T) {
	relay := newTestRelay(t, config.DefaultLimits())

	alice, _ := relay.join(t, "p1", "alice")
	bob, _ := relay.join(t, "p1", "bob")
	readUntil(t, alice, collab.TypeUserJoined)

	send(t, alice, collab.TypeNodeDelete, collab.NodeDelete{NodeID: "missing"})

	env := readEnvelope(t, bob)
	require.Equal(t, collab.TypeNodeDelete, env.Type)
	var p collab.NodeDelete
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "missing", p.NodeID)

	send(t, alice, collab.TypePing, nil)
	assert.Equal(t, collab.TypePong, readEnvelope(t, alice).Type, "sender gets no error")
}

func TestRelay_EdgeBetweenNodesUnknownToRoomIsRelayed(t *testing.T) {
	relay := newTestRelay(t, config.DefaultLimits())

	alice, _ := relay.join(t, "p1", "alice")
	bob, _ := relay.join(t, "p1", "bob")
	readUntil(t, alice, collab.TypeUserJoined)

	// n1 and n2 were loaded from storage by both hosts, never sent through the relay
	send(t, alice, collab.TypeEdgeCreate, collab.EdgePayload{Edge: canvas.Edge{ID: "e1", From: "n1", To: "n2", Type: canvas.EdgeTypeUses}})

	env := readEnvelope(t, bob)
	require.Equal(t, collab.TypeEdgeCreate, env.Type)
	assert.Equal(t, "alice", env.UserID)
	var p collab.EdgePayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, canvas.Edge{ID: "e1", From: "n1", To: "n2", Type: canvas.EdgeTypeUses}, p.Edge)

	send(t, alice, collab.TypePing, nil)
	assert.Equal(t, collab.TypePong, readEnvelope(t, alice).Type, "sender gets no error")
}

func TestRelay_RoomLimitRejectsAndDoesNotRelay(t *testing.T) {
	limits := config.DefaultLimits()
	limits.Canvas.MaxNodes = 1
	relay := newTestRelay(t, limits)

	alice, _ := relay.join(t, "p1", "alice")
	bob, _ := relay.join(t, "p1", "bob")
	readUntil(t, alice, collab.TypeUserJoined)

	send(t, alice, collab.TypeNodeCreate, collab.NodePayload{Node: canvas.Node{ID: "n1", Type: canvas.NodeTypeLemma, Title: "L"}})
	require.Equal(t, collab.TypeNodeCreate, readEnvelope(t, bob).Type)

	send(t, alice, collab.TypeNodeCreate, collab.NodePayload{Node: canvas.Node{ID: "n2", Type: canvas.NodeTypeLemma, Title: "M"}})
	env := readEnvelope(t, alice)
	require.Equal(t, collab.TypeError, env.Type)
	var p collab.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, string(appErrors.ErrorTypeLimit), p.Type)

	send(t, bob, collab.TypePing, nil)
	assert.Equal(t, collab.TypePong, readEnvelope(t, bob).Type, "rejected create never reaches peers")
}

func TestRelay_HandshakeRejections(t *testing.T) {
	limits := config.DefaultLimits()
	limits.MaxConnectionsPerUser = 1
	relay := newTestRelay(t, limits)

	relay.join(t, "p1", "alice")

	tests := []struct {
		name   string
		url    string
		status int
	}{
		{name: "missing problem", url: relay.url("", relay.token(t, "bob")), status: http.StatusBadRequest},
		{name: "missing token", url: relay.url("p1", ""), status: http.StatusUnauthorized},
		{name: "bad token", url: relay.url("p1", "garbage"), status: http.StatusUnauthorized},
		{name: "connection limit", url: relay.url("p1", relay.token(t, "alice")), status: http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tt.url, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRelay_UserLeft(t *testing.T) {
	relay := newTestRelay(t, config.DefaultLimits())

	alice, _ := relay.join(t, "p1", "alice")
	bob, _ := relay.join(t, "p1", "bob")
	bob2, _ := relay.join(t, "p1", "bob")
	readUntil(t, alice, collab.TypeUserJoined)
	assert.Equal(t, 2, relay.hub.ConnectionCount("bob"))

	// closing one of two tabs keeps bob present
	bob2.Close()
	assert.Eventually(t, func() bool { return relay.hub.ConnectionCount("bob") == 1 }, time.Second, 10*time.Millisecond)

	bob.Close()
	left := readUntil(t, alice, collab.TypeUserLeft)
	var p collab.UserLeft
	require.NoError(t, left.Decode(&p))
	assert.Equal(t, "bob", p.UserID)
	assert.Equal(t, 0, relay.hub.ConnectionCount("bob"))
}

func TestRelay_MessageRateLimit(t *testing.T) {
	limits := config.DefaultLimits()
	limits.MessageBurst = 2
	limits.MessageRefill = int(time.Hour / time.Millisecond)
	relay := newTestRelay(t, limits)

	alice, _ := relay.join(t, "p1", "alice")
	for i := 0; i < 2; i++ {
		send(t, alice, collab.TypePing, nil)
		assert.Equal(t, collab.TypePong, readEnvelope(t, alice).Type)
	}

	send(t, alice, collab.TypePing, nil)
	env := readEnvelope(t, alice)
	require.Equal(t, collab.TypeError, env.Type)
	var p collab.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, string(appErrors.ErrorTypeLimit), p.Type)
}

func TestRelay_IdleRoomEviction(t *testing.T) {
	relay := newTestRelay(t, config.DefaultLimits())
	relay.hub.roomIdleTimeout = time.Nanosecond

	alice, _ := relay.join(t, "p1", "alice")
	alice.Close()
	assert.Eventually(t, func() bool { return relay.hub.ConnectionCount("alice") == 0 }, time.Second, 10*time.Millisecond)

	relay.hub.performHealthCheck()
	assert.Equal(t, 0, relay.hub.RoomCount())
}

func TestRelay_ChannelRoundTrip(t *testing.T) {
	relay := newTestRelay(t, config.DefaultLimits())

	ch, err := channel.New(channel.Options{
		URL:       "ws" + strings.TrimPrefix(relay.srv.URL, "http") + "/ws",
		ProblemID: "p1",
		Token:     relay.token(t, "alice"),
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	cursors := make(chan string, 1)
	ch.OnCursorMove(func(from string, c collab.Cursor) { cursors <- from })
	joined := make(chan string, 1)
	ch.OnUserJoined(func(from string, p collab.PresenceRecord) { joined <- p.UserID })

	require.NoError(t, ch.Connect(context.Background()))
	assert.Eventually(t, func() bool { return relay.hub.ConnectionCount("alice") == 1 }, time.Second, 10*time.Millisecond)

	bob, _ := relay.join(t, "p1", "bob")
	select {
	case id := <-joined:
		assert.Equal(t, "bob", id)
	case <-time.After(2 * time.Second):
		t.Fatal("user_joined not received")
	}

	send(t, bob, collab.TypeCursorMove, collab.Cursor{X: 5, Y: 5})
	select {
	case from := <-cursors:
		assert.Equal(t, "bob", from)
	case <-time.After(2 * time.Second):
		t.Fatal("cursor_move not received")
	}

	require.NoError(t, ch.SendCursorMove(1, 2, ""))
	got := readUntil(t, bob, collab.TypeCursorMove)
	assert.Equal(t, "alice", got.UserID)
}
