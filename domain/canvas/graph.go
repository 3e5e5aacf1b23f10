package canvas

import (
	"fmt"
	"time"

	appErrors "proofcanvas/pkg/errors"
)

// Snapshot is a full copy of the node and edge lists of a graph
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Clone returns a deep copy
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Nodes: make([]Node, len(s.Nodes)),
		Edges: make([]Edge, len(s.Edges)),
	}
	for i, n := range s.Nodes {
		out.Nodes[i] = n.Clone()
	}
	copy(out.Edges, s.Edges)
	return out
}

// Positions returns the position map of the snapshot's nodes
func (s Snapshot) Positions() map[string]Point {
	positions := make(map[string]Point, len(s.Nodes))
	for _, n := range s.Nodes {
		positions[n.ID] = n.Position()
	}
	return positions
}

// Graph is the node-and-edge state of one workspace. Node order is the
// insertion order and is preserved across updates.
//
// Graph is not safe for concurrent use; its owner serializes access.
type Graph struct {
	problemID string
	limits    Limits
	nodes     []Node
	index     map[string]int
	edges     []Edge
	version   int
	events    []DomainEvent
	now       func() time.Time
}

// NewGraph creates an empty graph for a workspace
func NewGraph(problemID string, limits Limits) *Graph {
	return &Graph{
		problemID: problemID,
		limits:    limits,
		index:     make(map[string]int),
		now:       time.Now,
	}
}

// ProblemID returns the workspace the graph belongs to
func (g *Graph) ProblemID() string { return g.problemID }

// Version increments on every successful mutation
func (g *Graph) Version() int { return g.version }

// Len returns the number of nodes
func (g *Graph) Len() int { return len(g.nodes) }

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Node returns a copy of the node with the given id
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i].Clone(), true
}

// HasNode checks if a node exists without copying it
func (g *Graph) HasNode(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Nodes returns copies of all nodes in order
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Clone()
	}
	return out
}

// Edges returns a copy of the edge list
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Edge returns the edge with the given id
func (g *Graph) Edge(id string) (Edge, bool) {
	for _, e := range g.edges {
		if e.ID == id {
			return e, true
		}
	}
	return Edge{}, false
}

// AddNode adds a new node. The id must be set and unused.
func (g *Graph) AddNode(n Node) error {
	if err := g.checkNode(n); err != nil {
		return err
	}
	if n.ID == "" {
		return appErrors.NewValidationError("node id required")
	}
	if g.HasNode(n.ID) {
		return appErrors.NewValidationError(fmt.Sprintf("node %s already exists", n.ID))
	}
	if len(g.nodes) >= g.limits.MaxNodes && g.limits.MaxNodes > 0 {
		return appErrors.NewLimitError("nodes", g.limits.MaxNodes)
	}

	n = n.Clone()
	g.index[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.touch()
	g.record(NodeCreated{BaseEvent: g.base(EventNodeCreated), Node: n.Clone()})
	return nil
}

// UpsertNode replaces a node wholesale, or adds it when unknown. Remote
// create and update messages apply through here, last write wins.
func (g *Graph) UpsertNode(n Node) (created bool, err error) {
	if n.ID == "" {
		return false, appErrors.NewValidationError("node id required")
	}
	i, ok := g.index[n.ID]
	if !ok {
		return true, g.AddNode(n)
	}
	if err := g.checkNode(n); err != nil {
		return false, err
	}

	n = n.Clone()
	g.nodes[i] = n
	g.touch()
	g.record(NodeUpdated{BaseEvent: g.base(EventNodeUpdated), Node: n.Clone()})
	return false, nil
}

// UpdateNode mutates a node in place through fn. The id cannot be changed.
func (g *Graph) UpdateNode(id string, fn func(n *Node)) error {
	i, ok := g.index[id]
	if !ok {
		return appErrors.NewNotFoundError("node " + id)
	}

	updated := g.nodes[i].Clone()
	fn(&updated)
	updated.ID = id
	if err := g.checkNode(updated); err != nil {
		return err
	}

	g.nodes[i] = updated
	g.touch()
	g.record(NodeUpdated{BaseEvent: g.base(EventNodeUpdated), Node: updated.Clone()})
	return nil
}

// MoveNode sets a node's position. It reports whether the node exists.
// Moving a node to where it already is records nothing.
func (g *Graph) MoveNode(id string, p Point) bool {
	return g.MoveNodes(map[string]Point{id: p}) > 0 || g.HasNode(id)
}

// MoveNodes applies a batch of positions, ignoring unknown ids. It returns
// the number of nodes whose position changed.
func (g *Graph) MoveNodes(positions map[string]Point) int {
	moved := make(map[string]Point, len(positions))
	for id, p := range positions {
		i, ok := g.index[id]
		if !ok {
			continue
		}
		if g.nodes[i].X == p.X && g.nodes[i].Y == p.Y {
			continue
		}
		g.nodes[i].X, g.nodes[i].Y = p.X, p.Y
		moved[id] = p
	}

	if len(moved) > 0 {
		g.touch()
		g.record(NodesMoved{BaseEvent: g.base(EventNodesMoved), Positions: moved})
	}
	return len(moved)
}

// RemoveNode deletes a node, prunes its incident edges and drops it from
// other nodes' dependencies. It returns the pruned edges.
func (g *Graph) RemoveNode(id string) ([]Edge, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}

	g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
	g.reindex()

	var pruned []Edge
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.Touches(id) {
			pruned = append(pruned, e)
			continue
		}
		kept = append(kept, e)
	}
	g.edges = kept

	for j := range g.nodes {
		g.nodes[j].Dependencies = without(g.nodes[j].Dependencies, id)
	}

	prunedIDs := make([]string, len(pruned))
	for j, e := range pruned {
		prunedIDs[j] = e.ID
	}
	g.touch()
	g.record(NodeRemoved{BaseEvent: g.base(EventNodeRemoved), NodeID: id, PrunedEdges: prunedIDs})
	return pruned, true
}

// AddEdge adds an edge between two existing, distinct nodes. A missing type
// defaults to implies.
func (g *Graph) AddEdge(e Edge) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == "" {
		return appErrors.NewValidationError("edge id required")
	}
	if e.From == e.To {
		return appErrors.NewValidationError("cannot connect node to itself")
	}
	if !g.HasNode(e.From) || !g.HasNode(e.To) {
		return appErrors.NewValidationError("both nodes must exist in graph")
	}
	for _, existing := range g.edges {
		if existing.ID == e.ID {
			return appErrors.NewValidationError(fmt.Sprintf("edge %s already exists", e.ID))
		}
		if existing.From == e.From && existing.To == e.To {
			return appErrors.NewValidationError("edge already exists")
		}
	}
	if len(g.edges) >= g.limits.MaxEdges && g.limits.MaxEdges > 0 {
		return appErrors.NewLimitError("edges", g.limits.MaxEdges)
	}
	if e.Type == "" {
		e.Type = EdgeTypeImplies
	}

	g.edges = append(g.edges, e)
	g.touch()
	g.record(EdgeCreated{BaseEvent: g.base(EventEdgeCreated), Edge: e})
	return nil
}

// RemoveEdge deletes an edge by id
func (g *Graph) RemoveEdge(id string) bool {
	for i, e := range g.edges {
		if e.ID == id {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			g.touch()
			g.record(EdgeRemoved{BaseEvent: g.base(EventEdgeRemoved), EdgeID: id})
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy of the current state
func (g *Graph) Snapshot() Snapshot {
	return Snapshot{Nodes: g.Nodes(), Edges: g.Edges()}
}

// Restore replaces the whole graph with s. Nodes without an id or with a
// duplicate id are skipped, as are edges whose endpoints are missing.
func (g *Graph) Restore(s Snapshot) {
	g.nodes = g.nodes[:0]
	g.index = make(map[string]int, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" || g.HasNode(n.ID) {
			continue
		}
		g.index[n.ID] = len(g.nodes)
		g.nodes = append(g.nodes, n.Clone())
	}

	g.edges = g.edges[:0]
	for _, e := range s.Edges {
		if e.From == e.To || !g.HasNode(e.From) || !g.HasNode(e.To) {
			continue
		}
		g.edges = append(g.edges, e)
	}

	g.touch()
	g.record(CanvasRestored{
		BaseEvent: g.base(EventCanvasRestored),
		NodeCount: len(g.nodes),
		EdgeCount: len(g.edges),
	})
}

// Positions returns the position of every node
func (g *Graph) Positions() map[string]Point {
	positions := make(map[string]Point, len(g.nodes))
	for _, n := range g.nodes {
		positions[n.ID] = n.Position()
	}
	return positions
}

// Bounds returns the bounding box of all nodes
func (g *Graph) Bounds() (Rect, bool) {
	return BoundingBox(g.nodes)
}

// Validate ensures graph invariants
func (g *Graph) Validate() error {
	for _, e := range g.edges {
		if !g.HasNode(e.From) || !g.HasNode(e.To) {
			return appErrors.NewInternalError(fmt.Sprintf("edge %s references a missing node", e.ID))
		}
	}
	if len(g.index) != len(g.nodes) {
		return appErrors.NewInternalError("node index out of sync")
	}
	return nil
}

// PendingEvents returns the events recorded since the last commit
func (g *Graph) PendingEvents() []DomainEvent {
	return append([]DomainEvent(nil), g.events...)
}

// MarkEventsCommitted clears the recorded events
func (g *Graph) MarkEventsCommitted() {
	g.events = nil
}

func (g *Graph) checkNode(n Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if g.limits.MaxTitleLength > 0 && len(n.Title) > g.limits.MaxTitleLength {
		return appErrors.NewValidationError("title too long")
	}
	if g.limits.MaxContentLength > 0 && len(n.Content) > g.limits.MaxContentLength {
		return appErrors.NewValidationError("content too long")
	}
	return nil
}

func (g *Graph) reindex() {
	g.index = make(map[string]int, len(g.nodes))
	for i, n := range g.nodes {
		g.index[n.ID] = i
	}
}

func (g *Graph) touch() {
	g.version++
}

func (g *Graph) base(eventType string) BaseEvent {
	return BaseEvent{
		AggregateID: g.problemID,
		EventType:   eventType,
		Timestamp:   g.now(),
		Version:     g.version,
	}
}

func (g *Graph) record(event DomainEvent) {
	g.events = append(g.events, event)
}

func without(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			out := make([]string, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			for _, rest := range ids[i+1:] {
				if rest != id {
					out = append(out, rest)
				}
			}
			return out
		}
	}
	return ids
}
