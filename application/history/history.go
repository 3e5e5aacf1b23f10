// Package history is the bounded undo/redo stack of a canvas.
package history

import (
	"sync"
	"time"

	"proofcanvas/domain/canvas"
	"proofcanvas/pkg/frame"
)

// DefaultMaxEntries is the depth of the stack
const DefaultMaxEntries = 50

// Entry records one reversible action. Undo restores the state before the
// action, Redo the state after it.
type Entry struct {
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Undo        canvas.Snapshot `json:"undoState"`
	Redo        canvas.Snapshot `json:"redoState"`
}

// Engine is the undo/redo stack. While an undo or redo is being applied the
// engine is replaying and ignores pushes until the next frame, so restoring
// a snapshot is never recorded as a new action.
type Engine struct {
	mu        sync.Mutex
	scheduler frame.Scheduler
	max       int
	entries   []Entry
	index     int
	replaying bool
	handle    frame.Handle
	disposed  bool
}

// New creates a history holding at most max entries
func New(scheduler frame.Scheduler, max int) *Engine {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Engine{scheduler: scheduler, max: max, index: -1}
}

// Push records an entry. Any redo tail is discarded first and the oldest
// entry is evicted past the maximum depth. It reports whether the entry was
// recorded.
func (e *Engine) Push(entry Entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.replaying || e.disposed {
		return false
	}

	e.entries = append(e.entries[:e.index+1], cloneEntry(entry))
	if len(e.entries) > e.max {
		drop := len(e.entries) - e.max
		e.entries = append([]Entry(nil), e.entries[drop:]...)
	}
	e.index = len(e.entries) - 1
	return true
}

// Undo steps back and returns the state to restore, or nil when there is
// nothing to undo.
func (e *Engine) Undo() *canvas.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index < 0 || e.disposed {
		return nil
	}
	state := e.entries[e.index].Undo.Clone()
	e.index--
	e.startReplayLocked()
	return &state
}

// Redo steps forward and returns the state to restore, or nil when there is
// nothing to redo.
func (e *Engine) Redo() *canvas.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index >= len(e.entries)-1 || e.disposed {
		return nil
	}
	e.index++
	state := e.entries[e.index].Redo.Clone()
	e.startReplayLocked()
	return &state
}

// CanUndo reports whether Undo would return a state
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index >= 0
}

// CanRedo reports whether Redo would return a state
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index < len(e.entries)-1
}

// Len returns the number of recorded entries
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Index returns the position of the current entry, -1 when empty
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// Replaying reports whether pushes are currently suppressed
func (e *Engine) Replaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replaying
}

// Peek returns the entry that Undo would revert
func (e *Engine) Peek() (Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index < 0 {
		return Entry{}, false
	}
	return e.entries[e.index], true
}

// Clear drops all entries
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = nil
	e.index = -1
}

// Dispose cancels the pending replay reset. Afterwards the engine records
// and returns nothing. Idempotent.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
	if e.handle != 0 {
		e.scheduler.CancelFrame(e.handle)
		e.handle = 0
	}
	e.replaying = false
}

func (e *Engine) startReplayLocked() {
	e.replaying = true
	if e.handle != 0 {
		return
	}
	e.handle = e.scheduler.RequestFrame(func(time.Time) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.handle = 0
		e.replaying = false
	})
	// a stopped scheduler never runs the reset
	if e.handle == 0 {
		e.replaying = false
	}
}

func cloneEntry(entry Entry) Entry {
	entry.Undo = entry.Undo.Clone()
	entry.Redo = entry.Redo.Clone()
	return entry
}
