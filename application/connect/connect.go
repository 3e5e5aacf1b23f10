// Package connect runs the drag-a-link gesture between two nodes and tracks
// the selected edge.
package connect

import (
	"sync"

	"proofcanvas/domain/canvas"
)

// Link is a requested edge
type Link struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Callbacks receive the engine's intents. Any of them may be nil.
type Callbacks struct {
	OnCreate func(l Link)
	OnDelete func(edgeID string)
	// OnEdgeSelected fires when an edge is selected so the host can clear
	// the node selection.
	OnEdgeSelected func(edgeID string)
}

// Pending is the rubber band drawn while a connection is in progress
type Pending struct {
	From    string
	Pointer canvas.Point
}

// Engine tracks one pending connection and one selected edge. Safe for
// concurrent use.
type Engine struct {
	mu           sync.Mutex
	callbacks    Callbacks
	pending      *Pending
	selectedEdge string
}

// New creates a connection engine
func New(callbacks Callbacks) *Engine {
	return &Engine{callbacks: callbacks}
}

// SetCallbacks swaps the callbacks, as when the host remounts
func (e *Engine) SetCallbacks(callbacks Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = callbacks
}

// StartConnection begins a link from node from with the pointer in canvas space
func (e *Engine) StartConnection(from string, pointer canvas.Point) {
	if from == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = &Pending{From: from, Pointer: pointer}
}

// UpdatePointer moves the free end of the rubber band
func (e *Engine) UpdatePointer(pointer canvas.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		e.pending.Pointer = pointer
	}
}

// Pending returns the in-progress connection
func (e *Engine) Pending() (Pending, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return Pending{}, false
	}
	return *e.pending, true
}

// CompleteConnection finishes the gesture over target. A link is emitted
// only for a real, distinct target; the connection is cleared either way.
// It reports whether a link was emitted.
func (e *Engine) CompleteConnection(target string) bool {
	e.mu.Lock()
	p := e.pending
	e.pending = nil
	onCreate := e.callbacks.OnCreate
	e.mu.Unlock()

	if p == nil || target == "" || target == p.From || onCreate == nil {
		return false
	}
	onCreate(Link{From: p.From, To: target})
	return true
}

// CancelConnection drops the pending connection
func (e *Engine) CancelConnection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
}

// SelectEdge selects an edge and asks the host to clear node selection
func (e *Engine) SelectEdge(edgeID string) {
	e.mu.Lock()
	e.selectedEdge = edgeID
	onSelected := e.callbacks.OnEdgeSelected
	e.mu.Unlock()

	if edgeID != "" && onSelected != nil {
		onSelected(edgeID)
	}
}

// SelectedEdge returns the selected edge id, or ""
func (e *Engine) SelectedEdge() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectedEdge
}

// ClearEdgeSelection deselects the edge
func (e *Engine) ClearEdgeSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selectedEdge = ""
}

// DeleteSelectedEdge asks the host to delete the selected edge and clears
// the selection. Without a selection it does nothing.
func (e *Engine) DeleteSelectedEdge() bool {
	e.mu.Lock()
	id := e.selectedEdge
	e.selectedEdge = ""
	onDelete := e.callbacks.OnDelete
	e.mu.Unlock()

	if id == "" {
		return false
	}
	if onDelete != nil {
		onDelete(id)
	}
	return true
}

// ForgetEdge clears the selection if it points at a deleted edge
func (e *Engine) ForgetEdge(edgeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selectedEdge == edgeID {
		e.selectedEdge = ""
	}
}
