// Package viewport maintains the zoom and pan of the canvas view and is the
// single transform between screen and canvas coordinates. The minimap
// projects through the same object.
package viewport

import (
	"math"
	"sync"

	"proofcanvas/domain/canvas"
)

const (
	DefaultMinZoom = 0.25
	DefaultMaxZoom = 3.0

	// ZoomStep is the factor applied by ZoomIn and ZoomOut.
	ZoomStep = 1.2
	// FitMargin is the canvas-space padding added around content by Fit.
	FitMargin = 80.0
	// MaxFitZoom caps Fit so small graphs are not blown up.
	MaxFitZoom = 1.5

	wheelZoomOut = 0.9
	wheelZoomIn  = 1.1
)

// DefaultPan is the pan of an empty canvas.
var DefaultPan = canvas.Point{X: 50, Y: 50}

// State is an immutable view of the transform
type State struct {
	Zoom float64      `json:"zoom"`
	Pan  canvas.Point `json:"pan"`
}

// ScreenToCanvas maps a screen point into canvas space
func (s State) ScreenToCanvas(p canvas.Point) canvas.Point {
	return canvas.Point{X: (p.X - s.Pan.X) / s.Zoom, Y: (p.Y - s.Pan.Y) / s.Zoom}
}

// CanvasToScreen maps a canvas point into screen space
func (s State) CanvasToScreen(p canvas.Point) canvas.Point {
	return canvas.Point{X: p.X*s.Zoom + s.Pan.X, Y: p.Y*s.Zoom + s.Pan.Y}
}

// Viewport holds the zoom and pan of one canvas view. Safe for concurrent use.
type Viewport struct {
	mu       sync.RWMutex
	minZoom  float64
	maxZoom  float64
	zoom     float64
	pan      canvas.Point
	width    float64
	height   float64
	panning  bool
	panStart canvas.Point
	panFrom  canvas.Point
	onChange []func(State)
}

// Option configures a Viewport
type Option func(*Viewport)

// WithZoomBounds overrides the zoom range
func WithZoomBounds(min, max float64) Option {
	return func(v *Viewport) {
		if min > 0 && max >= min {
			v.minZoom, v.maxZoom = min, max
		}
	}
}

// WithSize sets the viewport size in screen pixels
func WithSize(width, height float64) Option {
	return func(v *Viewport) {
		v.width, v.height = width, height
	}
}

// New creates a viewport at zoom 1 with the default pan
func New(opts ...Option) *Viewport {
	v := &Viewport{
		minZoom: DefaultMinZoom,
		maxZoom: DefaultMaxZoom,
		zoom:    1,
		pan:     DefaultPan,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// State returns the current transform
func (v *Viewport) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return State{Zoom: v.zoom, Pan: v.pan}
}

// Zoom returns the current zoom
func (v *Viewport) Zoom() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.zoom
}

// Pan returns the current pan
func (v *Viewport) Pan() canvas.Point {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pan
}

// Bounds returns the zoom range
func (v *Viewport) Bounds() (min, max float64) {
	return v.minZoom, v.maxZoom
}

// OnChange registers a listener called after every transform change
func (v *Viewport) OnChange(fn func(State)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChange = append(v.onChange, fn)
}

// ScreenToCanvas maps a screen point into canvas space
func (v *Viewport) ScreenToCanvas(p canvas.Point) canvas.Point {
	return v.State().ScreenToCanvas(p)
}

// CanvasToScreen maps a canvas point into screen space
func (v *Viewport) CanvasToScreen(p canvas.Point) canvas.Point {
	return v.State().CanvasToScreen(p)
}

// SetSize updates the viewport size in screen pixels
func (v *Viewport) SetSize(width, height float64) {
	v.mu.Lock()
	v.width, v.height = width, height
	v.mu.Unlock()
}

// Size returns the viewport size in screen pixels
func (v *Viewport) Size() (width, height float64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.width, v.height
}

// Set replaces the transform, clamping zoom
func (v *Viewport) Set(s State) {
	v.update(func() {
		v.zoom = v.clamp(s.Zoom)
		v.pan = s.Pan
	})
}

// HandleWheelZoom applies one wheel tick. With the zoom modifier held the
// zoom changes by a fixed factor; otherwise the deltas scroll the pan.
func (v *Viewport) HandleWheelZoom(deltaX, deltaY float64, modifier bool) {
	v.update(func() {
		if !modifier {
			v.pan = canvas.Point{X: v.pan.X - deltaX, Y: v.pan.Y - deltaY}
			return
		}
		switch {
		case deltaY > 0:
			v.zoom = v.clamp(v.zoom * wheelZoomOut)
		case deltaY < 0:
			v.zoom = v.clamp(v.zoom * wheelZoomIn)
		}
	})
}

// HandleZoomIn multiplies zoom by ZoomStep, clamped
func (v *Viewport) HandleZoomIn() {
	v.update(func() { v.zoom = v.clamp(v.zoom * ZoomStep) })
}

// HandleZoomOut divides zoom by ZoomStep, clamped
func (v *Viewport) HandleZoomOut() {
	v.update(func() { v.zoom = v.clamp(v.zoom / ZoomStep) })
}

// ZoomAt sets the zoom while keeping the canvas point under the screen
// anchor fixed.
func (v *Viewport) ZoomAt(anchor canvas.Point, zoom float64) {
	v.update(func() {
		before := State{Zoom: v.zoom, Pan: v.pan}.ScreenToCanvas(anchor)
		v.zoom = v.clamp(zoom)
		v.pan = canvas.Point{X: anchor.X - before.X*v.zoom, Y: anchor.Y - before.Y*v.zoom}
	})
}

// HandleFit frames all nodes: the bounding box plus FitMargin is fitted into
// the viewport at the largest zoom not above MaxFitZoom, then centered.
// Without nodes the transform resets to zoom 1 and the default pan.
func (v *Viewport) HandleFit(nodes []canvas.Node) {
	box, ok := canvas.BoundingBox(nodes)
	v.update(func() {
		if !ok || v.width <= 0 || v.height <= 0 {
			v.zoom = v.clamp(1)
			if !ok {
				v.pan = DefaultPan
			}
			return
		}

		box = box.Inset(FitMargin)
		zoom := math.Min(v.width/box.Width, v.height/box.Height)
		zoom = v.clamp(math.Min(zoom, MaxFitZoom))

		center := box.Center()
		v.zoom = zoom
		v.pan = canvas.Point{
			X: v.width/2 - center.X*zoom,
			Y: v.height/2 - center.Y*zoom,
		}
	})
}

// StartPanning records the pointer and the pan at gesture start
func (v *Viewport) StartPanning(screen canvas.Point) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.panning = true
	v.panStart = screen
	v.panFrom = v.pan
}

// UpdatePanning applies the screen-space delta since StartPanning
func (v *Viewport) UpdatePanning(screen canvas.Point) {
	v.update(func() {
		if !v.panning {
			return
		}
		v.pan = v.panFrom.Add(screen.Sub(v.panStart))
	})
}

// StopPanning ends the gesture
func (v *Viewport) StopPanning() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.panning = false
}

// IsPanning reports whether a pan gesture is active
func (v *Viewport) IsPanning() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.panning
}

// VisibleRect returns the canvas-space rectangle currently on screen
func (v *Viewport) VisibleRect() canvas.Rect {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s := State{Zoom: v.zoom, Pan: v.pan}
	return canvas.RectFromPoints(
		s.ScreenToCanvas(canvas.Point{}),
		s.ScreenToCanvas(canvas.Point{X: v.width, Y: v.height}),
	)
}

func (v *Viewport) clamp(z float64) float64 {
	if math.IsNaN(z) || z <= 0 {
		return v.minZoom
	}
	return math.Max(v.minZoom, math.Min(v.maxZoom, z))
}

func (v *Viewport) update(fn func()) {
	v.mu.Lock()
	fn()
	state := State{Zoom: v.zoom, Pan: v.pan}
	listeners := append([]func(State){}, v.onChange...)
	v.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}
