// Package drag implements single and block node dragging.
//
// Two channels leave the engine. The preview channel receives intermediate
// positions at most once per frame and is purely visual. The commit channel
// fires exactly once per gesture, on release, and is the only source of
// truth other components may read.
package drag

import (
	"sync"
	"time"

	"proofcanvas/domain/canvas"
	"proofcanvas/pkg/frame"
)

// Preview receives positions for on-screen feedback during a gesture
type Preview interface {
	ShowPositions(positions map[string]canvas.Point)
}

// PreviewFunc adapts a function to Preview
type PreviewFunc func(positions map[string]canvas.Point)

// ShowPositions implements Preview
func (f PreviewFunc) ShowPositions(positions map[string]canvas.Point) { f(positions) }

// Move is the single-node commit
type Move struct {
	NodeID string  `json:"nodeId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Callbacks are the commit channel
type Callbacks struct {
	OnMove      func(m Move)
	OnBatchMove func(positions map[string]canvas.Point)
}

// Locator resolves a node's committed position
type Locator func(id string) (canvas.Point, bool)

// Session is the state of one gesture
type Session struct {
	Primary string
	// Offset is pointer minus node origin at gesture start.
	Offset  canvas.Point
	Pointer canvas.Point
	Start   map[string]canvas.Point
	Delta   canvas.Point
}

// Block reports whether the session moves more than one node
func (s *Session) Block() bool { return len(s.Start) > 1 }

// Positions returns the current position of every dragged node
func (s *Session) Positions() map[string]canvas.Point {
	out := make(map[string]canvas.Point, len(s.Start))
	for id, p := range s.Start {
		out[id] = p.Add(s.Delta)
	}
	return out
}

// Engine runs drag gestures. Safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	scheduler frame.Scheduler
	preview   Preview
	locate    Locator
	callbacks Callbacks

	session  *Session
	handle   frame.Handle
	disposed bool
}

// New creates a drag engine
func New(scheduler frame.Scheduler, preview Preview, locate Locator, callbacks Callbacks) *Engine {
	if preview == nil {
		preview = PreviewFunc(func(map[string]canvas.Point) {})
	}
	return &Engine{
		scheduler: scheduler,
		preview:   preview,
		locate:    locate,
		callbacks: callbacks,
	}
}

// Start begins a gesture on nodeID with the pointer in canvas space. When the
// node belongs to a selection of more than one node, the whole selection
// moves as a block. Unknown nodes are ignored.
func (e *Engine) Start(nodeID string, pointer canvas.Point, selected []string) bool {
	origin, ok := e.locate(nodeID)
	if !ok {
		return false
	}

	start := map[string]canvas.Point{nodeID: origin}
	if len(selected) > 1 && contains(selected, nodeID) {
		for _, id := range selected {
			if p, ok := e.locate(id); ok {
				start[id] = p
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return false
	}
	e.cancelFrameLocked()
	e.session = &Session{
		Primary: nodeID,
		Offset:  pointer.Sub(origin),
		Pointer: pointer,
		Start:   start,
	}
	return true
}

// Update moves the gesture to a new pointer position. The preview is
// refreshed on the next frame.
func (e *Engine) Update(pointer canvas.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s == nil || e.disposed {
		return
	}
	// Offset-based: node origin follows pointer minus the grab offset, which
	// is the same delta for every member of a block.
	target := pointer.Sub(s.Offset)
	s.Delta = target.Sub(s.Start[s.Primary])
	s.Pointer = pointer

	if e.handle == 0 {
		e.handle = e.scheduler.RequestFrame(e.previewFrame)
	}
}

// End finishes the gesture and fires exactly one commit. A block drag that
// did not move commits the primary node alone.
func (e *Engine) End() {
	e.mu.Lock()
	s := e.session
	if s == nil || e.disposed {
		e.mu.Unlock()
		return
	}
	e.cancelFrameLocked()
	e.session = nil
	e.mu.Unlock()

	positions := s.Positions()
	e.preview.ShowPositions(positions)

	if s.Block() && !s.Delta.IsZero() {
		if e.callbacks.OnBatchMove != nil {
			e.callbacks.OnBatchMove(positions)
		}
		return
	}

	if e.callbacks.OnMove != nil {
		p := positions[s.Primary]
		e.callbacks.OnMove(Move{NodeID: s.Primary, X: p.X, Y: p.Y})
	}
}

// Cancel abandons the gesture and restores the preview to the start
// positions without committing.
func (e *Engine) Cancel() {
	e.mu.Lock()
	s := e.session
	e.cancelFrameLocked()
	e.session = nil
	e.mu.Unlock()

	if s != nil {
		e.preview.ShowPositions(copyPositions(s.Start))
	}
}

// Active reports whether a gesture is in progress
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Dragging reports whether id is part of the active gesture
func (e *Engine) Dragging(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return false
	}
	_, ok := e.session.Start[id]
	return ok
}

// Dispose cancels the gesture and any pending preview frame. Idempotent.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelFrameLocked()
	e.session = nil
	e.disposed = true
}

func (e *Engine) previewFrame(time.Time) {
	e.mu.Lock()
	e.handle = 0
	s := e.session
	if s == nil || e.disposed {
		e.mu.Unlock()
		return
	}
	positions := s.Positions()
	e.mu.Unlock()

	e.preview.ShowPositions(positions)
}

func (e *Engine) cancelFrameLocked() {
	if e.handle != 0 {
		e.scheduler.CancelFrame(e.handle)
		e.handle = 0
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func copyPositions(in map[string]canvas.Point) map[string]canvas.Point {
	out := make(map[string]canvas.Point, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
