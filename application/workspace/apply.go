package workspace

import (
	"slices"

	"proofcanvas/domain/canvas"
	"proofcanvas/domain/collab"
)

// Change describes what an applied envelope did to a graph
type Change struct {
	Changed bool
	// Removed lists node ids that left the graph
	Removed []string
	// RemovedEdges lists edge ids that left the graph, pruned ones included
	RemovedEdges []string
}

// ApplyEnvelope applies one canvas mutation to g, last write wins. Updates
// and moves of unknown ids are ignored, and replaying the same envelope is
// idempotent. Non-canvas envelopes are ignored.
func ApplyEnvelope(g *canvas.Graph, env collab.Envelope) (Change, error) {
	switch env.Type {
	case collab.TypeCanvasSync:
		var p collab.CanvasSync
		if err := env.Decode(&p); err != nil {
			return Change{}, err
		}
		before := g.Snapshot()
		g.Restore(p.Snapshot())
		return Change{Changed: true, Removed: missingNodes(before, g), RemovedEdges: missingEdges(before, g)}, nil

	case collab.TypeNodeCreate:
		var p collab.NodePayload
		if err := env.Decode(&p); err != nil {
			return Change{}, err
		}
		if existing, ok := g.Node(p.Node.ID); ok && nodesEqual(existing, p.Node) {
			return Change{}, nil
		}
		if _, err := g.UpsertNode(p.Node); err != nil {
			return Change{}, err
		}
		return Change{Changed: true}, nil

	case collab.TypeNodeUpdate:
		var p collab.NodePayload
		if err := env.Decode(&p); err != nil {
			return Change{}, err
		}
		existing, ok := g.Node(p.Node.ID)
		if !ok || nodesEqual(existing, p.Node) {
			return Change{}, nil
		}
		if _, err := g.UpsertNode(p.Node); err != nil {
			return Change{}, err
		}
		return Change{Changed: true}, nil

	case collab.TypeNodeDelete:
		var p collab.NodeDelete
		if err := env.Decode(&p); err != nil {
			return Change{}, err
		}
		pruned, ok := g.RemoveNode(p.NodeID)
		if !ok {
			return Change{}, nil
		}
		return Change{Changed: true, Removed: []string{p.NodeID}, RemovedEdges: edgeIDs(pruned)}, nil

	case collab.TypeNodeMove:
		var p collab.NodeMove
		if err := env.Decode(&p); err != nil {
			return Change{}, err
		}
		moved := g.MoveNodes(map[string]canvas.Point{p.NodeID: {X: p.X, Y: p.Y}})
		return Change{Changed: moved > 0}, nil

	case collab.TypeNodesMove:
		var p collab.NodesMove
		if err := env.Decode(&p); err != nil {
			return Change{}, err
		}
		return Change{Changed: g.MoveNodes(p.Positions) > 0}, nil

	case collab.TypeEdgeCreate:
		var p collab.EdgePayload
		if err := env.Decode(&p); err != nil {
			return Change{}, err
		}
		if _, ok := g.Edge(p.Edge.ID); ok {
			return Change{}, nil
		}
		if err := g.AddEdge(p.Edge); err != nil {
			return Change{}, err
		}
		return Change{Changed: true}, nil

	case collab.TypeEdgeDelete:
		var p collab.EdgeDelete
		if err := env.Decode(&p); err != nil {
			return Change{}, err
		}
		if !g.RemoveEdge(p.EdgeID) {
			return Change{}, nil
		}
		return Change{Changed: true, RemovedEdges: []string{p.EdgeID}}, nil
	}
	return Change{}, nil
}

func nodesEqual(a, b canvas.Node) bool {
	return a.ID == b.ID && a.Type == b.Type && a.Title == b.Title && a.Content == b.Content &&
		a.Formula == b.Formula && a.LeanCode == b.LeanCode && a.X == b.X && a.Y == b.Y &&
		a.Width == b.Width && a.Height == b.Height && a.Status == b.Status &&
		slices.Equal(a.Dependencies, b.Dependencies)
}

func missingNodes(before canvas.Snapshot, g *canvas.Graph) []string {
	var out []string
	for _, n := range before.Nodes {
		if !g.HasNode(n.ID) {
			out = append(out, n.ID)
		}
	}
	return out
}

func missingEdges(before canvas.Snapshot, g *canvas.Graph) []string {
	var out []string
	for _, e := range before.Edges {
		if _, ok := g.Edge(e.ID); !ok {
			out = append(out, e.ID)
		}
	}
	return out
}

func edgeIDs(edges []canvas.Edge) []string {
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	return ids
}
