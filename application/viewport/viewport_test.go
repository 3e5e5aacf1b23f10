package viewport

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofcanvas/domain/canvas"
)

func TestCoordinateInverseLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		s := State{
			Zoom: 0.25 + rng.Float64()*2.75,
			Pan:  canvas.Point{X: rng.Float64()*4000 - 2000, Y: rng.Float64()*4000 - 2000},
		}
		p := canvas.Point{X: rng.Float64()*1e5 - 5e4, Y: rng.Float64()*1e5 - 5e4}

		back := s.ScreenToCanvas(s.CanvasToScreen(p))
		assert.InDelta(t, p.X, back.X, 1e-6)
		assert.InDelta(t, p.Y, back.Y, 1e-6)
	}
}

func TestZoomBounds(t *testing.T) {
	v := New()
	for i := 0; i < 50; i++ {
		v.HandleZoomIn()
		assert.LessOrEqual(t, v.Zoom(), DefaultMaxZoom)
	}
	assert.Equal(t, DefaultMaxZoom, v.Zoom())

	for i := 0; i < 100; i++ {
		v.HandleZoomOut()
		assert.GreaterOrEqual(t, v.Zoom(), DefaultMinZoom)
	}
	assert.Equal(t, DefaultMinZoom, v.Zoom())

	v.Set(State{Zoom: 42})
	assert.Equal(t, DefaultMaxZoom, v.Zoom())
}

func TestHandleWheelZoom(t *testing.T) {
	v := New()

	v.HandleWheelZoom(0, 120, true)
	assert.InDelta(t, 0.9, v.Zoom(), 1e-9)

	v.HandleWheelZoom(0, -120, true)
	assert.InDelta(t, 0.99, v.Zoom(), 1e-9)

	v.HandleWheelZoom(0, 0, true)
	assert.InDelta(t, 0.99, v.Zoom(), 1e-9)

	v.HandleWheelZoom(10, 30, false)
	assert.Equal(t, canvas.Point{X: 40, Y: 20}, v.Pan())
	assert.InDelta(t, 0.99, v.Zoom(), 1e-9, "scroll-pan leaves zoom alone")
}

func TestHandleFit(t *testing.T) {
	t.Run("empty resets", func(t *testing.T) {
		v := New(WithSize(800, 600))
		v.Set(State{Zoom: 2, Pan: canvas.Point{X: -300, Y: 10}})
		v.HandleFit(nil)
		assert.Equal(t, State{Zoom: 1, Pan: DefaultPan}, v.State())
	})

	t.Run("small graph capped", func(t *testing.T) {
		v := New(WithSize(2000, 2000))
		v.HandleFit([]canvas.Node{{ID: "a", X: 0, Y: 0}})
		assert.Equal(t, MaxFitZoom, v.Zoom())

		center := v.CanvasToScreen(canvas.Point{X: 130, Y: 70})
		assert.InDelta(t, 1000, center.X, 1e-9)
		assert.InDelta(t, 1000, center.Y, 1e-9)
	})

	t.Run("large graph fits", func(t *testing.T) {
		v := New(WithSize(1000, 500))
		nodes := []canvas.Node{
			{ID: "a", X: 0, Y: 0},
			{ID: "b", X: 1740, Y: 0, Width: 100, Height: 100},
		}
		v.HandleFit(nodes)

		// box 1840x140 plus margin 80 on each side = 2000x300
		assert.InDelta(t, 0.5, v.Zoom(), 1e-9)

		visible := v.VisibleRect()
		assert.LessOrEqual(t, visible.X, -FitMargin+1e-9)
		assert.GreaterOrEqual(t, visible.Right(), 1840+FitMargin-1e-9)
	})
}

func TestPanningGesture(t *testing.T) {
	v := New()
	v.UpdatePanning(canvas.Point{X: 500, Y: 500})
	assert.Equal(t, DefaultPan, v.Pan(), "no gesture, no pan")

	v.StartPanning(canvas.Point{X: 100, Y: 100})
	require.True(t, v.IsPanning())
	v.UpdatePanning(canvas.Point{X: 110, Y: 90})
	v.UpdatePanning(canvas.Point{X: 130, Y: 80})
	assert.Equal(t, canvas.Point{X: 80, Y: 30}, v.Pan())

	v.StopPanning()
	v.UpdatePanning(canvas.Point{X: 0, Y: 0})
	assert.Equal(t, canvas.Point{X: 80, Y: 30}, v.Pan())
}

func TestZoomAtKeepsAnchor(t *testing.T) {
	v := New()
	anchor := canvas.Point{X: 400, Y: 300}
	before := v.ScreenToCanvas(anchor)

	v.ZoomAt(anchor, 2)

	after := v.ScreenToCanvas(anchor)
	assert.InDelta(t, before.X, after.X, 1e-9)
	assert.InDelta(t, before.Y, after.Y, 1e-9)
}

func TestOnChange(t *testing.T) {
	v := New()
	var states []State
	v.OnChange(func(s State) { states = append(states, s) })

	v.HandleZoomIn()
	v.StartPanning(canvas.Point{})
	v.UpdatePanning(canvas.Point{X: 1})

	require.Len(t, states, 2)
	assert.InDelta(t, ZoomStep, states[0].Zoom, 1e-9)
}

func TestMinimapSharesTransform(t *testing.T) {
	v := New(WithSize(800, 600))
	nodes := []canvas.Node{{ID: "a", X: 0, Y: 0}, {ID: "b", X: 2000, Y: 1500}}
	v.HandleFit(nodes)

	m := v.MinimapProjection(nodes, 200, 150)

	p := canvas.Point{X: 123, Y: 456}
	back := m.Unproject(m.Project(p))
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)

	assert.GreaterOrEqual(t, m.Viewport.X, -1e-9)
	assert.LessOrEqual(t, m.Viewport.Right(), 200+1e-9)

	target := m.Unproject(canvas.Point{X: 100, Y: 75})
	v.CenterOn(target)
	center := v.ScreenToCanvas(canvas.Point{X: 400, Y: 300})
	assert.InDelta(t, target.X, center.X, 1e-9)
	assert.InDelta(t, target.Y, center.Y, 1e-9)
}
