package workspace

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"proofcanvas/application/channel"
	"proofcanvas/domain/canvas"
	"proofcanvas/domain/collab"
	appErrors "proofcanvas/pkg/errors"
	"proofcanvas/pkg/frame"
	"proofcanvas/pkg/taskqueue"
)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []string
	last map[string]interface{}
}

func (p *recordingPublisher) record(kind string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, kind)
	if p.last == nil {
		p.last = make(map[string]interface{})
	}
	p.last[kind] = payload
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *recordingPublisher) SendCanvasSync(s canvas.Snapshot) error { return p.record("canvas_sync", s) }
func (p *recordingPublisher) SendNodeCreate(n canvas.Node) error     { return p.record("node_create", n) }
func (p *recordingPublisher) SendNodeUpdate(n canvas.Node) error     { return p.record("node_update", n) }
func (p *recordingPublisher) SendNodeDelete(id string) error         { return p.record("node_delete", id) }
func (p *recordingPublisher) SendNodeMove(id string, x, y float64) error {
	return p.record("node_move", collab.NodeMove{NodeID: id, X: x, Y: y})
}
func (p *recordingPublisher) SendNodesMove(positions map[string]canvas.Point) error {
	return p.record("nodes_move", positions)
}
func (p *recordingPublisher) SendEdgeCreate(e canvas.Edge) error { return p.record("edge_create", e) }
func (p *recordingPublisher) SendEdgeDelete(id string) error     { return p.record("edge_delete", id) }

type recordingPersister struct {
	mu    sync.Mutex
	saves []canvas.Snapshot
}

func (p *recordingPersister) SaveSnapshot(_ context.Context, _ string, s canvas.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves = append(p.saves, s)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []canvas.DomainEvent
}

func (r *recordingEvents) Publish(ctx context.Context, e canvas.DomainEvent) error {
	return r.PublishBatch(ctx, []canvas.DomainEvent{e})
}

func (r *recordingEvents) PublishBatch(_ context.Context, events []canvas.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

type fixture struct {
	session   *Session
	sched     *frame.Manual
	pub       *recordingPublisher
	persister *recordingPersister
	events    *recordingEvents
	queue     *taskqueue.Queue
}

func newFixture(t *testing.T, limits canvas.Limits) *fixture {
	t.Helper()
	f := &fixture{
		sched:     frame.NewManual(time.Unix(0, 0)),
		pub:       &recordingPublisher{},
		persister: &recordingPersister{},
		events:    &recordingEvents{},
		queue:     taskqueue.New(taskqueue.DefaultOptions(), zaptest.NewLogger(t)),
	}
	var next int
	s, err := New(Options{
		ProblemID: "p1",
		Limits:    limits,
		Scheduler: f.sched,
		Publisher: f.pub,
		Persister: f.persister,
		Events:    f.events,
		Queue:     f.queue,
		NewID: func() string {
			next++
			return fmt.Sprintf("id-%d", next)
		},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	f.session = s
	t.Cleanup(func() {
		s.Dispose()
		f.queue.Close(context.Background())
	})
	return f
}

// drain waits for every queued save and event batch
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, f.queue.Do(context.Background(), "barrier", func(context.Context) error { return nil }))
}

func (f *fixture) node(t *testing.T, title string, x, y float64) canvas.Node {
	t.Helper()
	n, err := f.session.CreateNode(canvas.Node{Type: canvas.NodeTypeLemma, Title: title, X: x, Y: y})
	require.NoError(t, err)
	return n
}

func TestNewValidatesOptions(t *testing.T) {
	sched := frame.NewManual(time.Unix(0, 0))

	_, err := New(Options{Scheduler: sched})
	assert.True(t, appErrors.IsValidation(err))

	_, err = New(Options{ProblemID: "p"})
	assert.True(t, appErrors.IsValidation(err))

	_, err = New(Options{ProblemID: "p", Scheduler: sched, Persister: &recordingPersister{}})
	assert.True(t, appErrors.IsValidation(err), "persister needs a caller-owned queue")
}

func TestBlockDragCommitsOnce(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	a := f.node(t, "A", 0, 0)
	b := f.node(t, "B", 300, 0)

	s.Selection().Set([]string{a.ID, b.ID})
	require.True(t, s.Drag().Start(a.ID, canvas.Point{X: 10, Y: 10}, s.Selection().Selected()))
	s.Drag().Update(canvas.Point{X: 40, Y: 20})
	f.sched.Step(time.Second / 60)
	s.Drag().Update(canvas.Point{X: 60, Y: 30})
	s.Drag().End()

	positions := s.Snapshot().Positions()
	assert.Equal(t, canvas.Point{X: 50, Y: 20}, positions[a.ID])
	assert.Equal(t, canvas.Point{X: 350, Y: 20}, positions[b.ID])

	assert.Equal(t, []string{"node_create", "node_create", "nodes_move"}, f.pub.types())
	assert.Equal(t, 3, s.History().Len())

	f.drain(t)
	f.persister.mu.Lock()
	require.Len(t, f.persister.saves, 3)
	last := f.persister.saves[2]
	f.persister.mu.Unlock()
	assert.Equal(t, canvas.Point{X: 350, Y: 20}, last.Positions()[b.ID])
}

func TestSingleDragWithoutMovementRecordsNothing(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	a := f.node(t, "A", 5, 5)

	require.True(t, s.Drag().Start(a.ID, canvas.Point{X: 6, Y: 6}, nil))
	s.Drag().End()

	assert.Equal(t, 1, s.History().Len())
	assert.Equal(t, []string{"node_create"}, f.pub.types())
}

func TestUndoRedoRestoresAndBroadcasts(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	a := f.node(t, "A", 0, 0)

	require.True(t, s.Drag().Start(a.ID, canvas.Point{}, nil))
	s.Drag().Update(canvas.Point{X: 100, Y: 100})
	s.Drag().End()

	require.True(t, s.Undo())
	n, _ := s.Node(a.ID)
	assert.Equal(t, canvas.Point{}, n.Position())
	assert.Equal(t, "canvas_sync", f.pub.types()[len(f.pub.types())-1])
	assert.Equal(t, 2, s.History().Len(), "restoring is not recorded")

	f.sched.Step(time.Second / 60)
	require.True(t, s.Redo())
	n, _ = s.Node(a.ID)
	assert.Equal(t, canvas.Point{X: 100, Y: 100}, n.Position())

	f.sched.Step(time.Second / 60)
	require.True(t, s.Undo())
	require.True(t, s.Undo())
	assert.Empty(t, s.Nodes())
	assert.False(t, s.Undo())
}

func TestDeleteSelectionPrunesEdges(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	a := f.node(t, "A", 0, 0)
	b := f.node(t, "B", 400, 0)
	c := f.node(t, "C", 800, 0)

	s.Connections().StartConnection(a.ID, canvas.Point{})
	require.True(t, s.Connections().CompleteConnection(b.ID))
	s.Connections().StartConnection(b.ID, canvas.Point{})
	require.True(t, s.Connections().CompleteConnection(c.ID))
	require.Len(t, s.Edges(), 2)
	assert.Equal(t, canvas.EdgeTypeImplies, s.Edges()[0].Type)

	edgeAB := s.Edges()[0].ID
	s.Connections().SelectEdge(edgeAB)
	s.Selection().Set([]string{a.ID})
	assert.Equal(t, 1, s.Selection().Len())

	assert.Equal(t, 1, s.DeleteSelection())
	assert.Len(t, s.Edges(), 1)
	assert.Zero(t, s.Selection().Len())
	assert.Empty(t, s.Connections().SelectedEdge(), "pruned edge is forgotten")
	assert.Contains(t, f.pub.types(), "node_delete")
}

func TestSelectingEdgeClearsNodeSelection(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	a := f.node(t, "A", 0, 0)
	b := f.node(t, "B", 400, 0)
	e, err := s.CreateEdge(a.ID, b.ID, canvas.EdgeTypeUses)
	require.NoError(t, err)

	s.Selection().Set([]string{a.ID, b.ID})
	s.Connections().SelectEdge(e.ID)
	assert.Zero(t, s.Selection().Len())

	require.True(t, s.Connections().DeleteSelectedEdge())
	assert.Empty(t, s.Edges())
	assert.Equal(t, "edge_delete", f.pub.types()[len(f.pub.types())-1])
}

func TestConnectRejectsSelfLink(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	a := f.node(t, "A", 0, 0)

	_, err := s.CreateEdge(a.ID, a.ID, "")
	assert.True(t, appErrors.IsValidation(err))
	assert.Equal(t, 1, s.History().Len())
}

func TestPasteIsOneActionWithFreshIDs(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	a := f.node(t, "A", 100, 100)
	b := f.node(t, "B", 400, 300)

	s.Selection().Set([]string{a.ID, b.ID})
	require.True(t, s.Copy())

	pasted, err := s.PasteDefault()
	require.NoError(t, err)
	require.Len(t, pasted, 2)

	for _, p := range pasted {
		assert.NotEqual(t, a.ID, p.ID)
		assert.NotEqual(t, b.ID, p.ID)
		assert.Contains(t, p.Title, "(copy)")
	}
	assert.Equal(t, canvas.Point{X: 40, Y: 40}, pasted[0].Position())
	assert.Equal(t, canvas.Point{X: 350, Y: 250}, pasted[1].Position())

	assert.Len(t, s.Nodes(), 4)
	assert.Equal(t, 3, s.History().Len())
	assert.ElementsMatch(t, []string{pasted[0].ID, pasted[1].ID}, s.Selection().Selected())

	require.True(t, s.Undo())
	assert.Len(t, s.Nodes(), 2)
	assert.Zero(t, s.Selection().Len(), "undone paste leaves nothing selected")
}

func TestFailedPasteRollsBack(t *testing.T) {
	f := newFixture(t, canvas.Limits{MaxNodes: 3})
	s := f.session
	a := f.node(t, "A", 0, 0)
	b := f.node(t, "B", 0, 300)

	s.Selection().Set([]string{a.ID, b.ID})
	require.True(t, s.Copy())

	_, err := s.PasteDefault()
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeLimit))
	assert.Len(t, s.Nodes(), 2)
	assert.Equal(t, 2, s.History().Len())
	assert.Equal(t, []string{"node_create", "node_create"}, f.pub.types())
}

func TestApplyRemoteIsLastWriteWinsAndIdempotent(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	a := f.node(t, "A", 0, 0)
	published := len(f.pub.types())

	move := mustEnvelope(t, collab.TypeNodeMove, collab.NodeMove{NodeID: a.ID, X: 7, Y: 9})
	change, err := s.ApplyRemote(move)
	require.NoError(t, err)
	assert.True(t, change.Changed)

	change, err = s.ApplyRemote(move)
	require.NoError(t, err)
	assert.False(t, change.Changed, "same move twice is a no-op")

	change, err = s.ApplyRemote(mustEnvelope(t, collab.TypeNodeMove, collab.NodeMove{NodeID: "ghost", X: 1}))
	require.NoError(t, err)
	assert.False(t, change.Changed, "unknown ids are ignored")

	updated := a
	updated.X, updated.Y = 7, 9
	updated.Title = "Remote title"
	_, err = s.ApplyRemote(mustEnvelope(t, collab.TypeNodeUpdate, collab.NodePayload{Node: updated}))
	require.NoError(t, err)

	n, _ := s.Node(a.ID)
	assert.Equal(t, "Remote title", n.Title)
	assert.Equal(t, canvas.Point{X: 7, Y: 9}, n.Position())

	assert.Equal(t, 1, s.History().Len(), "remote changes are not undoable locally")
	assert.Len(t, f.pub.types(), published, "remote changes are not echoed")
}

func TestApplyRemoteDeleteAndSync(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	a := f.node(t, "A", 0, 0)
	b := f.node(t, "B", 400, 0)
	_, err := s.CreateEdge(a.ID, b.ID, "")
	require.NoError(t, err)
	s.Selection().Set([]string{a.ID, b.ID})

	change, err := s.ApplyRemote(mustEnvelope(t, collab.TypeNodeDelete, collab.NodeDelete{NodeID: a.ID}))
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, change.Removed)
	assert.Len(t, change.RemovedEdges, 1)
	assert.Empty(t, s.Edges())
	assert.Equal(t, []string{b.ID}, s.Selection().Selected())

	snapshot := collab.CanvasSync{Nodes: []canvas.Node{{ID: "x", Type: canvas.NodeTypeNote, Title: "X"}}}
	_, err = s.ApplyRemote(mustEnvelope(t, collab.TypeCanvasSync, snapshot))
	require.NoError(t, err)
	require.Len(t, s.Nodes(), 1)
	assert.Equal(t, "x", s.Nodes()[0].ID)
	assert.Zero(t, s.Selection().Len())

	_, err = s.ApplyRemote(mustEnvelope(t, collab.TypeEdgeCreate, collab.EdgePayload{Edge: canvas.Edge{ID: "e", From: "x", To: "nope"}}))
	assert.True(t, appErrors.IsValidation(err), "dangling remote edge rejected")
}

func TestAttachFollowsSubscriber(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	registry := channel.NewRegistry()

	var changes int
	s.OnChange(func(canvas.Snapshot) { changes++ })

	detach := s.Attach(registry)
	registry.Dispatch(mustEnvelope(t, collab.TypeNodeCreate, collab.NodePayload{Node: canvas.Node{ID: "r1", Type: canvas.NodeTypeClaim}}))
	assert.Len(t, s.Nodes(), 1)
	assert.Equal(t, 1, changes)

	detach()
	registry.Dispatch(mustEnvelope(t, collab.TypeNodeCreate, collab.NodePayload{Node: canvas.Node{ID: "r2", Type: canvas.NodeTypeClaim}}))
	assert.Len(t, s.Nodes(), 1)
	assert.Zero(t, registry.Count(collab.TypeNodeCreate))
}

func TestDomainEventsReachPublisher(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	a := f.node(t, "A", 0, 0)
	require.NoError(t, s.UpdateNode(a.ID, func(n *canvas.Node) { n.Status = canvas.NodeStatusVerified }))
	s.DeleteNodes(a.ID)

	f.drain(t)
	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.events, 3)
	assert.Equal(t, canvas.EventNodeCreated, f.events.events[0].GetEventType())
	assert.Equal(t, canvas.EventNodeUpdated, f.events.events[1].GetEventType())
	assert.Equal(t, canvas.EventNodeRemoved, f.events.events[2].GetEventType())
	assert.Equal(t, "p1", f.events.events[2].GetAggregateID())
}

func TestDisposedSessionRejectsWork(t *testing.T) {
	f := newFixture(t, canvas.Limits{})
	s := f.session
	s.Dispose()
	s.Dispose()

	_, err := s.CreateNode(canvas.Node{Type: canvas.NodeTypeNote})
	assert.True(t, appErrors.IsClosed(err))
	_, err = s.ApplyRemote(mustEnvelope(t, collab.TypeNodeDelete, collab.NodeDelete{NodeID: "x"}))
	assert.True(t, appErrors.IsClosed(err))
}

func mustEnvelope(t *testing.T, typ collab.MessageType, payload interface{}) collab.Envelope {
	t.Helper()
	env, err := collab.NewEnvelope(typ, "p1", payload)
	require.NoError(t, err)
	env.UserID = "peer"
	return env
}
