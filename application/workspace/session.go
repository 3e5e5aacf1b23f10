// Package workspace is the host side of a canvas: it owns the graph and the
// selection, wires the interaction engines to it, records history, persists
// through a caller-owned task queue and publishes changes to peers.
package workspace

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"proofcanvas/application/channel"
	"proofcanvas/application/clipboard"
	"proofcanvas/application/connect"
	"proofcanvas/application/drag"
	"proofcanvas/application/history"
	"proofcanvas/application/ports"
	"proofcanvas/application/selection"
	"proofcanvas/application/viewport"
	"proofcanvas/domain/canvas"
	"proofcanvas/domain/collab"
	appErrors "proofcanvas/pkg/errors"
	"proofcanvas/pkg/frame"
	"proofcanvas/pkg/taskqueue"
)

// Publisher is the outbound half of the collaboration channel
type Publisher interface {
	SendCanvasSync(s canvas.Snapshot) error
	SendNodeCreate(n canvas.Node) error
	SendNodeUpdate(n canvas.Node) error
	SendNodeDelete(id string) error
	SendNodeMove(id string, x, y float64) error
	SendNodesMove(positions map[string]canvas.Point) error
	SendEdgeCreate(e canvas.Edge) error
	SendEdgeDelete(id string) error
}

// Subscriber is the inbound half of the collaboration channel
type Subscriber interface {
	Subscribe(t collab.MessageType, h channel.Handler) *channel.Subscription
}

// Options configures a Session
type Options struct {
	ProblemID string
	Limits    canvas.Limits
	Scheduler frame.Scheduler
	// Preview receives drag positions once per frame.
	Preview   drag.Preview
	Publisher Publisher
	// Persister and Events run on Queue, which belongs to the caller.
	Persister    ports.Persister
	Events       ports.EventPublisher
	Queue        *taskqueue.Queue
	HistoryDepth int
	Viewport     []viewport.Option
	NewID        func() string
	Logger       *zap.Logger
}

type outbound func(p Publisher) error

// Session is one open workspace
type Session struct {
	problemID string
	publisher Publisher
	persister ports.Persister
	queue     *taskqueue.Queue
	events    ports.EventPublisher
	newID     func() string
	logger    *zap.Logger

	viewport  *viewport.Viewport
	selection *selection.Engine
	drag      *drag.Engine
	connect   *connect.Engine
	clipboard *clipboard.Engine
	history   *history.Engine

	mu        sync.Mutex
	graph     *canvas.Graph
	listeners []func(canvas.Snapshot)
	disposed  bool

	pasteMu  sync.Mutex
	bufMu    sync.Mutex
	pasteBuf *[]canvas.Node
}

// New creates a session over an empty graph
func New(opts Options) (*Session, error) {
	if opts.ProblemID == "" {
		return nil, appErrors.NewValidationError("problem id is required")
	}
	if opts.Scheduler == nil {
		return nil, appErrors.NewValidationError("frame scheduler is required")
	}
	if opts.Persister != nil && opts.Queue == nil {
		return nil, appErrors.NewValidationError("persister requires a task queue")
	}
	if opts.Events != nil && opts.Queue == nil {
		return nil, appErrors.NewValidationError("event publisher requires a task queue")
	}
	if opts.Limits == (canvas.Limits{}) {
		opts.Limits = canvas.DefaultLimits()
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Session{
		problemID: opts.ProblemID,
		publisher: opts.Publisher,
		persister: opts.Persister,
		queue:     opts.Queue,
		events:    opts.Events,
		newID:     opts.NewID,
		logger:    opts.Logger.With(zap.String("problemID", opts.ProblemID)),
		graph:     canvas.NewGraph(opts.ProblemID, opts.Limits),
	}

	s.viewport = viewport.New(opts.Viewport...)
	s.selection = selection.New(opts.Scheduler, s.viewport, s.Nodes)
	s.drag = drag.New(opts.Scheduler, opts.Preview, s.position, drag.Callbacks{
		OnMove:      s.commitMove,
		OnBatchMove: s.commitBatchMove,
	})
	s.connect = connect.New(connect.Callbacks{
		OnCreate: func(l connect.Link) {
			if _, err := s.CreateEdge(l.From, l.To, ""); err != nil {
				s.logger.Debug("Edge rejected", zap.String("from", l.From), zap.String("to", l.To), zap.Error(err))
			}
		},
		OnDelete:       func(id string) { s.DeleteEdge(id) },
		OnEdgeSelected: func(string) { s.selection.ClearSelection() },
	})
	s.clipboard = clipboard.New(s.onPasted)
	s.history = history.New(opts.Scheduler, opts.HistoryDepth)

	return s, nil
}

func (s *Session) ProblemID() string            { return s.problemID }
func (s *Session) Viewport() *viewport.Viewport { return s.viewport }
func (s *Session) Selection() *selection.Engine { return s.selection }
func (s *Session) Drag() *drag.Engine           { return s.drag }
func (s *Session) Connections() *connect.Engine { return s.connect }
func (s *Session) Clipboard() *clipboard.Engine { return s.clipboard }
func (s *Session) History() *history.Engine     { return s.history }

// Nodes returns a copy of every node in order
func (s *Session) Nodes() []canvas.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Nodes()
}

// Edges returns a copy of every edge
func (s *Session) Edges() []canvas.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Edges()
}

// Node returns one node
func (s *Session) Node(id string) (canvas.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Node(id)
}

// Snapshot returns the full current state
func (s *Session) Snapshot() canvas.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Snapshot()
}

// Version increases with every applied change
func (s *Session) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Version()
}

// OnChange registers a listener called with the new state after every
// local or remote change
func (s *Session) OnChange(fn func(canvas.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) position(id string) (canvas.Point, bool) {
	n, ok := s.Node(id)
	if !ok {
		return canvas.Point{}, false
	}
	return n.Position(), true
}

// Load replaces the graph with a stored snapshot without recording history
// or publishing
func (s *Session) Load(snapshot canvas.Snapshot) {
	s.mu.Lock()
	s.graph.Restore(snapshot)
	s.graph.MarkEventsCommitted()
	state := s.graph.Snapshot()
	s.mu.Unlock()

	s.history.Clear()
	s.selection.ClearSelection()
	s.notify(state)
}

// CreateNode adds a node, assigning a fresh id when none is set
func (s *Session) CreateNode(n canvas.Node) (canvas.Node, error) {
	if n.ID == "" {
		n.ID = s.newID()
	}
	err := s.commit("create", "Create "+string(n.Type), func(g *canvas.Graph) ([]outbound, error) {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
		created, _ := g.Node(n.ID)
		return []outbound{func(p Publisher) error { return p.SendNodeCreate(created) }}, nil
	})
	if err != nil {
		return canvas.Node{}, err
	}
	created, _ := s.Node(n.ID)
	return created, nil
}

// UpdateNode edits a node in place. The id cannot change.
func (s *Session) UpdateNode(id string, fn func(n *canvas.Node)) error {
	return s.commit("update", "Update node", func(g *canvas.Graph) ([]outbound, error) {
		if err := g.UpdateNode(id, fn); err != nil {
			return nil, err
		}
		updated, _ := g.Node(id)
		return []outbound{func(p Publisher) error { return p.SendNodeUpdate(updated) }}, nil
	})
}

// DeleteNodes removes nodes with their incident edges and returns how many
// were removed
func (s *Session) DeleteNodes(ids ...string) int {
	var removed, pruned []string
	err := s.commit("delete", fmt.Sprintf("Delete %d nodes", len(ids)), func(g *canvas.Graph) ([]outbound, error) {
		var out []outbound
		for _, id := range ids {
			edges, ok := g.RemoveNode(id)
			if !ok {
				continue
			}
			removed = append(removed, id)
			pruned = append(pruned, edgeIDs(edges)...)
			id := id
			out = append(out, func(p Publisher) error { return p.SendNodeDelete(id) })
		}
		return out, nil
	})
	if err != nil {
		s.logger.Warn("Delete failed", zap.Error(err))
		return 0
	}
	s.forget(removed, pruned)
	return len(removed)
}

// DeleteSelection removes every selected node
func (s *Session) DeleteSelection() int {
	return s.DeleteNodes(s.selection.Selected()...)
}

// CreateEdge connects two nodes. An empty type means implies.
func (s *Session) CreateEdge(from, to string, t canvas.EdgeType) (canvas.Edge, error) {
	if t == "" {
		t = canvas.EdgeTypeImplies
	}
	e := canvas.Edge{ID: s.newID(), From: from, To: to, Type: t}
	err := s.commit("connect", "Connect nodes", func(g *canvas.Graph) ([]outbound, error) {
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
		return []outbound{func(p Publisher) error { return p.SendEdgeCreate(e) }}, nil
	})
	if err != nil {
		return canvas.Edge{}, err
	}
	return e, nil
}

// DeleteEdge removes one edge
func (s *Session) DeleteEdge(id string) bool {
	var removed bool
	err := s.commit("disconnect", "Delete edge", func(g *canvas.Graph) ([]outbound, error) {
		if !g.RemoveEdge(id) {
			return nil, nil
		}
		removed = true
		return []outbound{func(p Publisher) error { return p.SendEdgeDelete(id) }}, nil
	})
	if err != nil || !removed {
		return false
	}
	s.connect.ForgetEdge(id)
	return true
}

// Copy puts the selected nodes on the clipboard
func (s *Session) Copy() bool {
	ids := s.selection.Selected()
	nodes := make([]canvas.Node, 0, len(ids))
	s.mu.Lock()
	for _, id := range ids {
		if n, ok := s.graph.Node(id); ok {
			nodes = append(nodes, n)
		}
	}
	s.mu.Unlock()
	return s.clipboard.Copy(nodes, nil)
}

// Paste creates the clipboard contents at anchor plus offset as one
// undoable action and selects the new nodes
func (s *Session) Paste(anchor canvas.Point, offsetX, offsetY float64) ([]canvas.Node, error) {
	s.pasteMu.Lock()
	defer s.pasteMu.Unlock()

	var buf []canvas.Node
	s.bufMu.Lock()
	s.pasteBuf = &buf
	s.bufMu.Unlock()

	s.clipboard.PasteAt(anchor, offsetX, offsetY)

	s.bufMu.Lock()
	s.pasteBuf = nil
	s.bufMu.Unlock()

	if len(buf) == 0 {
		return nil, nil
	}
	ids := make([]string, len(buf))
	for i := range buf {
		buf[i].ID = s.newID()
		ids[i] = buf[i].ID
	}

	err := s.commit("paste", fmt.Sprintf("Paste %d nodes", len(buf)), func(g *canvas.Graph) ([]outbound, error) {
		out := make([]outbound, 0, len(buf))
		for _, n := range buf {
			if err := g.AddNode(n); err != nil {
				return nil, err
			}
			n := n
			out = append(out, func(p Publisher) error { return p.SendNodeCreate(n) })
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	s.selection.Set(ids)
	return buf, nil
}

// PasteDefault pastes at the default offset
func (s *Session) PasteDefault() ([]canvas.Node, error) {
	return s.Paste(canvas.Point{}, clipboard.DefaultOffsetX, clipboard.DefaultOffsetY)
}

// onPasted collects nodes during Paste. A paste triggered directly on the
// clipboard engine creates each node on its own.
func (s *Session) onPasted(n canvas.Node) {
	s.bufMu.Lock()
	if s.pasteBuf != nil {
		*s.pasteBuf = append(*s.pasteBuf, n)
		s.bufMu.Unlock()
		return
	}
	s.bufMu.Unlock()

	if _, err := s.CreateNode(n); err != nil {
		s.logger.Warn("Paste failed", zap.Error(err))
	}
}

// Undo restores the state before the last action and broadcasts it
func (s *Session) Undo() bool {
	return s.replay(s.history.Undo())
}

// Redo re-applies the last undone action and broadcasts it
func (s *Session) Redo() bool {
	return s.replay(s.history.Redo())
}

func (s *Session) replay(state *canvas.Snapshot) bool {
	if state == nil {
		return false
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return false
	}
	before := s.graph.Snapshot()
	s.graph.Restore(*state)
	after := s.graph.Snapshot()
	events := s.drainLocked()
	s.mu.Unlock()

	s.forget(missing(before, after))
	s.finish(after, events, []outbound{func(p Publisher) error { return p.SendCanvasSync(after) }})
	return true
}

// ApplyRemote applies a peer's canvas message. Remote changes are not
// recorded in local history and are neither persisted nor republished.
func (s *Session) ApplyRemote(env collab.Envelope) (Change, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return Change{}, appErrors.NewClosedError("workspace")
	}
	change, err := ApplyEnvelope(s.graph, env)
	s.graph.MarkEventsCommitted()
	state := s.graph.Snapshot()
	s.mu.Unlock()

	if err != nil {
		s.logger.Debug("Remote message rejected",
			zap.String("type", string(env.Type)),
			zap.String("userID", env.UserID),
			zap.Error(err),
		)
		return change, err
	}
	if !change.Changed {
		return change, nil
	}
	s.forget(change.Removed, change.RemovedEdges)
	s.notify(state)
	return change, nil
}

// Attach subscribes the session to every canvas message of sub and returns
// a function that detaches it
func (s *Session) Attach(sub Subscriber) func() {
	types := []collab.MessageType{
		collab.TypeCanvasSync, collab.TypeNodeCreate, collab.TypeNodeUpdate, collab.TypeNodeDelete,
		collab.TypeNodeMove, collab.TypeNodesMove, collab.TypeEdgeCreate, collab.TypeEdgeDelete,
	}
	subs := make([]*channel.Subscription, 0, len(types))
	for _, t := range types {
		subs = append(subs, sub.Subscribe(t, func(env collab.Envelope) {
			s.ApplyRemote(env)
		}))
	}
	return func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}
}

// FitToContent fits the viewport around every node
func (s *Session) FitToContent() {
	s.viewport.HandleFit(s.Nodes())
}

// Dispose stops every engine. Idempotent.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.listeners = nil
	s.mu.Unlock()

	s.drag.Dispose()
	s.selection.Dispose()
	s.history.Dispose()
	s.connect.CancelConnection()
}

func (s *Session) commitMove(m drag.Move) {
	err := s.commit("move", "Move node", func(g *canvas.Graph) ([]outbound, error) {
		if g.MoveNodes(map[string]canvas.Point{m.NodeID: {X: m.X, Y: m.Y}}) == 0 {
			return nil, nil
		}
		return []outbound{func(p Publisher) error { return p.SendNodeMove(m.NodeID, m.X, m.Y) }}, nil
	})
	if err != nil {
		s.logger.Warn("Move failed", zap.String("nodeID", m.NodeID), zap.Error(err))
	}
}

func (s *Session) commitBatchMove(positions map[string]canvas.Point) {
	err := s.commit("move", fmt.Sprintf("Move %d nodes", len(positions)), func(g *canvas.Graph) ([]outbound, error) {
		if g.MoveNodes(positions) == 0 {
			return nil, nil
		}
		return []outbound{func(p Publisher) error { return p.SendNodesMove(positions) }}, nil
	})
	if err != nil {
		s.logger.Warn("Batch move failed", zap.Error(err))
	}
}

// commit runs apply against the graph. A failed apply rolls the graph
// back; an apply that changes nothing records nothing.
func (s *Session) commit(kind, description string, apply func(g *canvas.Graph) ([]outbound, error)) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return appErrors.NewClosedError("workspace")
	}

	before := s.graph.Snapshot()
	version := s.graph.Version()
	out, err := apply(s.graph)
	if err != nil {
		if s.graph.Version() != version {
			s.graph.Restore(before)
		}
		s.graph.MarkEventsCommitted()
		s.mu.Unlock()
		return err
	}
	if s.graph.Version() == version {
		s.mu.Unlock()
		return nil
	}
	after := s.graph.Snapshot()
	events := s.drainLocked()
	s.mu.Unlock()

	s.history.Push(history.Entry{Type: kind, Description: description, Undo: before, Redo: after})
	s.finish(after, events, out)
	return nil
}

func (s *Session) drainLocked() []canvas.DomainEvent {
	events := s.graph.PendingEvents()
	s.graph.MarkEventsCommitted()
	return events
}

func (s *Session) finish(state canvas.Snapshot, events []canvas.DomainEvent, out []outbound) {
	s.persist(state, events)
	for _, o := range out {
		if err := o(s.publisher); err != nil {
			s.logger.Warn("Publish failed", zap.Error(err))
		}
	}
	s.notify(state)
}

func (s *Session) persist(state canvas.Snapshot, events []canvas.DomainEvent) {
	if s.persister != nil {
		if _, err := s.queue.Enqueue("save "+s.problemID, func(ctx context.Context) error {
			return s.persister.SaveSnapshot(ctx, s.problemID, state)
		}); err != nil {
			s.logger.Warn("Could not schedule save", zap.Error(err))
		}
	}
	if s.events != nil && len(events) > 0 {
		if _, err := s.queue.Enqueue("events "+s.problemID, func(ctx context.Context) error {
			return s.events.PublishBatch(ctx, events)
		}); err != nil {
			s.logger.Warn("Could not schedule events", zap.Error(err))
		}
	}
}

func (s *Session) forget(nodes, edges []string) {
	if len(nodes) > 0 {
		s.selection.Remove(nodes...)
	}
	for _, id := range edges {
		s.connect.ForgetEdge(id)
	}
}

func (s *Session) notify(state canvas.Snapshot) {
	s.mu.Lock()
	listeners := append([]func(canvas.Snapshot){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(state)
	}
}

func missing(before, after canvas.Snapshot) (nodes, edges []string) {
	keepNodes := make(map[string]bool, len(after.Nodes))
	for _, n := range after.Nodes {
		keepNodes[n.ID] = true
	}
	keepEdges := make(map[string]bool, len(after.Edges))
	for _, e := range after.Edges {
		keepEdges[e.ID] = true
	}
	for _, n := range before.Nodes {
		if !keepNodes[n.ID] {
			nodes = append(nodes, n.ID)
		}
	}
	for _, e := range before.Edges {
		if !keepEdges[e.ID] {
			edges = append(edges, e.ID)
		}
	}
	return nodes, edges
}

type nopPublisher struct{}

func (nopPublisher) SendCanvasSync(canvas.Snapshot) error        { return nil }
func (nopPublisher) SendNodeCreate(canvas.Node) error            { return nil }
func (nopPublisher) SendNodeUpdate(canvas.Node) error            { return nil }
func (nopPublisher) SendNodeDelete(string) error                 { return nil }
func (nopPublisher) SendNodeMove(string, float64, float64) error { return nil }
func (nopPublisher) SendNodesMove(map[string]canvas.Point) error { return nil }
func (nopPublisher) SendEdgeCreate(canvas.Edge) error            { return nil }
func (nopPublisher) SendEdgeDelete(string) error                 { return nil }
