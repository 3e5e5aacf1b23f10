// Package selection tracks the selected node ids of a canvas and runs the
// rectangular marquee gesture.
package selection

import (
	"math"
	"sync"
	"time"

	"proofcanvas/domain/canvas"
	"proofcanvas/pkg/frame"
)

const (
	// JitterThreshold is the screen distance the pointer must travel before
	// a marquee starts recomputing membership.
	JitterThreshold = 3.0
	// MinMarqueeSize is the screen size below which releasing a marquee
	// counts as a click on empty canvas.
	MinMarqueeSize = 5.0
)

// Transform maps screen points into canvas space
type Transform interface {
	ScreenToCanvas(p canvas.Point) canvas.Point
}

// NodeSource returns the current nodes for membership tests
type NodeSource func() []canvas.Node

type marquee struct {
	startScreen   canvas.Point
	currentScreen canvas.Point
	startCanvas   canvas.Point
	currentCanvas canvas.Point
	armed         bool
	handle        frame.Handle
}

func (m *marquee) rect() canvas.Rect {
	return canvas.RectFromPoints(m.startCanvas, m.currentCanvas)
}

func (m *marquee) screenRect() canvas.Rect {
	return canvas.RectFromPoints(m.startScreen, m.currentScreen)
}

// Engine owns the selected id set. Safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	scheduler frame.Scheduler
	transform Transform
	nodes     NodeSource

	order    []string
	selected map[string]struct{}
	marquee  *marquee
	disposed bool

	listeners []func(ids []string)
}

// New creates a selection engine
func New(scheduler frame.Scheduler, transform Transform, nodes NodeSource) *Engine {
	return &Engine{
		scheduler: scheduler,
		transform: transform,
		nodes:     nodes,
		selected:  make(map[string]struct{}),
	}
}

// OnChange registers a listener called with the new selection after every change
func (e *Engine) OnChange(fn func(ids []string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Selected returns the selected ids in selection order
func (e *Engine) Selected() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// IsSelected reports whether id is selected
func (e *Engine) IsSelected(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.selected[id]
	return ok
}

// Len returns the number of selected ids
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}

// Click selects exactly id, unless id is already part of a multi-selection,
// which is kept so a block drag can start from it.
func (e *Engine) Click(id string) {
	e.mutate(func() bool {
		if _, ok := e.selected[id]; ok && len(e.order) > 1 {
			return false
		}
		return e.replace([]string{id})
	})
}

// ShiftClick toggles id in the current selection
func (e *Engine) ShiftClick(id string) {
	e.mutate(func() bool {
		if _, ok := e.selected[id]; ok {
			return e.remove(id)
		}
		e.selected[id] = struct{}{}
		e.order = append(e.order, id)
		return true
	})
}

// Set replaces the selection
func (e *Engine) Set(ids []string) {
	e.mutate(func() bool { return e.replace(ids) })
}

// SelectAll selects every node
func (e *Engine) SelectAll() {
	nodes := e.nodes()
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	e.Set(ids)
}

// ClearSelection empties the selection
func (e *Engine) ClearSelection() {
	e.mutate(func() bool { return e.replace(nil) })
}

// Remove drops ids from the selection, as when nodes are deleted
func (e *Engine) Remove(ids ...string) {
	e.mutate(func() bool {
		changed := false
		for _, id := range ids {
			if e.remove(id) {
				changed = true
			}
		}
		return changed
	})
}

// BeginMarquee starts a marquee at a screen point on empty canvas
func (e *Engine) BeginMarquee(screen canvas.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return
	}
	e.cancelFrameLocked()
	at := e.transform.ScreenToCanvas(screen)
	e.marquee = &marquee{
		startScreen:   screen,
		currentScreen: screen,
		startCanvas:   at,
		currentCanvas: at,
	}
}

// UpdateMarquee grows the marquee to the pointer. Membership is recomputed
// at most once per frame, and only after the pointer left the jitter radius.
func (e *Engine) UpdateMarquee(screen canvas.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.marquee
	if m == nil || e.disposed {
		return
	}
	m.currentScreen = screen
	m.currentCanvas = e.transform.ScreenToCanvas(screen)

	if !m.armed {
		moved := math.Hypot(screen.X-m.startScreen.X, screen.Y-m.startScreen.Y)
		if moved <= JitterThreshold {
			return
		}
		m.armed = true
	}

	if m.handle == 0 {
		m.handle = e.scheduler.RequestFrame(e.recomputeFrame)
	}
}

// Marquee returns the active marquee in canvas space
func (e *Engine) Marquee() (canvas.Rect, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.marquee == nil {
		return canvas.Rect{}, false
	}
	return e.marquee.rect(), true
}

// EndMarquee freezes the selection. A marquee smaller than MinMarqueeSize
// on both axes clears the selection instead.
func (e *Engine) EndMarquee() []string {
	e.mu.Lock()
	m := e.marquee
	if m == nil || e.disposed {
		e.mu.Unlock()
		return e.Selected()
	}
	e.cancelFrameLocked()
	e.marquee = nil
	e.mu.Unlock()

	sr := m.screenRect()
	if sr.Width < MinMarqueeSize && sr.Height < MinMarqueeSize {
		e.ClearSelection()
	} else {
		e.Set(canvas.Intersecting(e.nodes(), m.rect()))
	}
	return e.Selected()
}

// CancelMarquee drops the gesture and keeps the current selection
func (e *Engine) CancelMarquee() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelFrameLocked()
	e.marquee = nil
}

// Dispose cancels any scheduled recomputation. It is idempotent.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelFrameLocked()
	e.marquee = nil
	e.disposed = true
}

func (e *Engine) recomputeFrame(time.Time) {
	e.mu.Lock()
	m := e.marquee
	if e.disposed || m == nil {
		e.mu.Unlock()
		return
	}
	m.handle = 0
	rect := m.rect()
	e.mu.Unlock()

	ids := canvas.Intersecting(e.nodes(), rect)
	e.mutate(func() bool {
		if e.marquee != m {
			return false
		}
		return e.replace(ids)
	})
}

func (e *Engine) cancelFrameLocked() {
	if e.marquee != nil && e.marquee.handle != 0 {
		e.scheduler.CancelFrame(e.marquee.handle)
		e.marquee.handle = 0
	}
}

// mutate runs fn under the lock and notifies listeners when fn reports a change
func (e *Engine) mutate(fn func() bool) {
	e.mu.Lock()
	if e.disposed || !fn() {
		e.mu.Unlock()
		return
	}
	ids := append([]string(nil), e.order...)
	listeners := append([]func([]string){}, e.listeners...)
	e.mu.Unlock()

	for _, l := range listeners {
		l(ids)
	}
}

func (e *Engine) replace(ids []string) bool {
	next := make(map[string]struct{}, len(ids))
	order := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := next[id]; dup || id == "" {
			continue
		}
		next[id] = struct{}{}
		order = append(order, id)
	}

	if sameSet(e.selected, next) {
		e.order = order
		return false
	}
	e.selected = next
	e.order = order
	return true
}

func (e *Engine) remove(id string) bool {
	if _, ok := e.selected[id]; !ok {
		return false
	}
	delete(e.selected, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
