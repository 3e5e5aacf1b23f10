package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofcanvas/domain/canvas"
	"proofcanvas/pkg/frame"
)

type identity struct{}

func (identity) ScreenToCanvas(p canvas.Point) canvas.Point { return p }

type zoomed struct{ zoom float64 }

func (z zoomed) ScreenToCanvas(p canvas.Point) canvas.Point {
	return canvas.Point{X: p.X / z.zoom, Y: p.Y / z.zoom}
}

var testNodes = []canvas.Node{
	{ID: "first", Type: canvas.NodeTypeLemma, X: 0, Y: 0, Width: 100, Height: 50},
	{ID: "second", Type: canvas.NodeTypeLemma, X: 200, Y: 200, Width: 100, Height: 50},
}

func newEngine(t *testing.T, transform Transform) (*Engine, *frame.Manual) {
	t.Helper()
	sched := frame.NewManual(time.Unix(0, 0))
	e := New(sched, transform, func() []canvas.Node { return testNodes })
	t.Cleanup(e.Dispose)
	return e, sched
}

func TestMarquee_SelectsIntersectingNodes(t *testing.T) {
	e, sched := newEngine(t, identity{})

	e.BeginMarquee(canvas.Point{X: 0, Y: 0})
	e.UpdateMarquee(canvas.Point{X: 150, Y: 100})
	sched.Step(time.Second / 60)

	assert.Equal(t, []string{"first"}, e.Selected(), "live recompute before release")

	assert.Equal(t, []string{"first"}, e.EndMarquee())
	_, active := e.Marquee()
	assert.False(t, active)
}

func TestMarquee_TinyReleaseClearsSelection(t *testing.T) {
	e, sched := newEngine(t, identity{})
	e.Set([]string{"second"})

	e.BeginMarquee(canvas.Point{X: 0, Y: 0})
	e.UpdateMarquee(canvas.Point{X: 2, Y: 2})
	assert.Equal(t, 0, sched.Pending(), "inside jitter radius, nothing scheduled")
	assert.Equal(t, []string{"second"}, e.Selected())

	assert.Empty(t, e.EndMarquee())
}

func TestMarquee_ThrottledToOneRecomputePerFrame(t *testing.T) {
	e, sched := newEngine(t, identity{})

	var changes int
	e.OnChange(func([]string) { changes++ })

	e.BeginMarquee(canvas.Point{X: 0, Y: 0})
	for i := 1; i <= 20; i++ {
		e.UpdateMarquee(canvas.Point{X: float64(i * 20), Y: float64(i * 15)})
	}
	assert.Equal(t, 1, sched.Pending())

	sched.Step(time.Second / 60)
	assert.ElementsMatch(t, []string{"first", "second"}, e.Selected())
	assert.Equal(t, 1, changes)

	e.UpdateMarquee(canvas.Point{X: 150, Y: 100})
	e.EndMarquee()
	assert.Equal(t, []string{"first"}, e.Selected())
	assert.Equal(t, 0, sched.Pending(), "release cancels the pending frame")
}

func TestMarquee_ThresholdIsInScreenPixels(t *testing.T) {
	e, sched := newEngine(t, zoomed{zoom: 0.25})

	e.BeginMarquee(canvas.Point{X: 0, Y: 0})
	e.UpdateMarquee(canvas.Point{X: 2, Y: 2})
	assert.Equal(t, 0, sched.Pending())

	// 40 screen px at zoom 0.25 cover 160 canvas units
	e.UpdateMarquee(canvas.Point{X: 40, Y: 40})
	assert.Equal(t, 1, sched.Pending())
	assert.Equal(t, []string{"first"}, e.EndMarquee())
}

func TestClickAndShiftClick(t *testing.T) {
	e, _ := newEngine(t, identity{})

	e.Click("first")
	assert.Equal(t, []string{"first"}, e.Selected())

	e.ShiftClick("second")
	assert.Equal(t, []string{"first", "second"}, e.Selected())

	e.Click("second")
	assert.Equal(t, []string{"first", "second"}, e.Selected(), "click inside a multi-selection keeps it")

	e.ShiftClick("first")
	assert.Equal(t, []string{"second"}, e.Selected())

	e.Click("first")
	assert.Equal(t, []string{"first"}, e.Selected())
	assert.True(t, e.IsSelected("first"))
	assert.False(t, e.IsSelected("second"))
}

func TestSelectAllClearAndRemove(t *testing.T) {
	e, _ := newEngine(t, identity{})

	var last []string
	e.OnChange(func(ids []string) { last = ids })

	e.SelectAll()
	assert.Equal(t, []string{"first", "second"}, last)

	e.Remove("first", "ghost")
	assert.Equal(t, []string{"second"}, e.Selected())

	e.ClearSelection()
	assert.Equal(t, 0, e.Len())
	assert.Empty(t, last)
}

func TestDisposeCancelsPendingRecompute(t *testing.T) {
	e, sched := newEngine(t, identity{})

	e.BeginMarquee(canvas.Point{})
	e.UpdateMarquee(canvas.Point{X: 150, Y: 100})
	require.Equal(t, 1, sched.Pending())

	e.Dispose()
	e.Dispose()
	assert.Equal(t, 0, sched.Step(time.Millisecond))
	assert.Empty(t, e.Selected())
}
