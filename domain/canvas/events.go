package canvas

import "time"

// DomainEvent is something that happened to a workspace graph
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields. AggregateID is the problem id.
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

const (
	EventNodeCreated    = "canvas.node_created"
	EventNodeUpdated    = "canvas.node_updated"
	EventNodesMoved     = "canvas.nodes_moved"
	EventNodeRemoved    = "canvas.node_removed"
	EventEdgeCreated    = "canvas.edge_created"
	EventEdgeRemoved    = "canvas.edge_removed"
	EventCanvasRestored = "canvas.restored"
)

// NodeCreated is raised when a node enters the graph
type NodeCreated struct {
	BaseEvent
	Node Node `json:"node"`
}

// NodeUpdated is raised when node fields other than position change
type NodeUpdated struct {
	BaseEvent
	Node Node `json:"node"`
}

// NodesMoved is raised once per committed move, single or batched
type NodesMoved struct {
	BaseEvent
	Positions map[string]Point `json:"positions"`
}

// NodeRemoved is raised when a node and its incident edges leave the graph
type NodeRemoved struct {
	BaseEvent
	NodeID      string   `json:"node_id"`
	PrunedEdges []string `json:"pruned_edges,omitempty"`
}

// EdgeCreated is raised when an edge is added
type EdgeCreated struct {
	BaseEvent
	Edge Edge `json:"edge"`
}

// EdgeRemoved is raised when an edge is deleted explicitly
type EdgeRemoved struct {
	BaseEvent
	EdgeID string `json:"edge_id"`
}

// CanvasRestored is raised when the whole graph is replaced by a snapshot
type CanvasRestored struct {
	BaseEvent
	NodeCount int `json:"node_count"`
	EdgeCount int `json:"edge_count"`
}
