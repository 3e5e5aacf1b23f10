// Package clipboard copies and pastes canvas nodes.
package clipboard

import (
	"math"
	"sync"

	"proofcanvas/domain/canvas"
)

const (
	DefaultOffsetX = 40.0
	DefaultOffsetY = 40.0
	// Stagger is added per pasted node so copies fan out instead of stacking.
	Stagger = 10.0

	CopySuffix = " (copy)"
)

// Engine holds the copied nodes. Safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	items    []canvas.Node
	onCreate func(n canvas.Node)
}

// New creates a clipboard. onCreate receives each pasted node; the host
// assigns the fresh id.
func New(onCreate func(n canvas.Node)) *Engine {
	return &Engine{onCreate: onCreate}
}

// SetOnCreate swaps the creation callback
func (e *Engine) SetOnCreate(onCreate func(n canvas.Node)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCreate = onCreate
}

// Copy snapshots the multi-selection when it is non-empty, otherwise the
// single selected node. With nothing selected the clipboard is unchanged.
func (e *Engine) Copy(multi []canvas.Node, single *canvas.Node) bool {
	var items []canvas.Node
	switch {
	case len(multi) > 0:
		items = make([]canvas.Node, len(multi))
		for i, n := range multi {
			items[i] = n.Clone()
		}
	case single != nil:
		items = []canvas.Node{single.Clone()}
	default:
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = items
	return true
}

// Len returns the number of copied nodes
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

// Clear empties the clipboard
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = nil
}

// PasteDefault pastes with the default offset
func (e *Engine) PasteDefault() []canvas.Node {
	return e.Paste(DefaultOffsetX, DefaultOffsetY)
}

// Paste emits a copy of every clipboard node. Positions are normalized to
// the group's min corner, then shifted by the offset plus index*Stagger.
// It is a no-op without contents or a creation callback.
func (e *Engine) Paste(offsetX, offsetY float64) []canvas.Node {
	return e.PasteAt(canvas.Point{}, offsetX, offsetY)
}

// PasteAt is Paste with the normalized group placed relative to anchor,
// typically the pointer in canvas space.
func (e *Engine) PasteAt(anchor canvas.Point, offsetX, offsetY float64) []canvas.Node {
	e.mu.Lock()
	items := e.items
	onCreate := e.onCreate
	e.mu.Unlock()

	if len(items) == 0 || onCreate == nil {
		return nil
	}

	minX, minY := math.Inf(1), math.Inf(1)
	for _, n := range items {
		minX = math.Min(minX, n.X)
		minY = math.Min(minY, n.Y)
	}

	pasted := make([]canvas.Node, len(items))
	for i, n := range items {
		c := n.Clone()
		stagger := float64(i) * Stagger
		c.ID = ""
		c.Title = n.Title + CopySuffix
		c.X = anchor.X + (n.X - minX) + offsetX + stagger
		c.Y = anchor.Y + (n.Y - minY) + offsetY + stagger
		pasted[i] = c
	}

	for _, n := range pasted {
		onCreate(n.Clone())
	}
	return pasted
}
