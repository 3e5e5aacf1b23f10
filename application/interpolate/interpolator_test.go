package interpolate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofcanvas/domain/canvas"
	"proofcanvas/pkg/frame"
)

const frameDt = time.Second / 60

func newInterpolator(t *testing.T) (*Interpolator, *frame.Manual, *[]canvas.Point) {
	t.Helper()
	sched := frame.NewManual(time.Unix(0, 0))
	var emitted []canvas.Point
	i := New(sched, func(p canvas.Point) { emitted = append(emitted, p) }, Options{})
	t.Cleanup(i.Dispose)
	return i, sched, &emitted
}

func TestFirstSampleSnaps(t *testing.T) {
	i, sched, emitted := newInterpolator(t)

	i.PushAt(canvas.Point{X: 40, Y: -3}, time.Unix(0, 0))

	assert.Equal(t, []canvas.Point{{X: 40, Y: -3}}, *emitted)
	assert.Equal(t, canvas.Point{X: 40, Y: -3}, i.Position())
	assert.False(t, i.Animating())
	assert.Equal(t, 0, sched.Pending())
}

func TestConvergesToExactTarget(t *testing.T) {
	i, sched, emitted := newInterpolator(t)
	start := time.Unix(0, 0)

	i.PushAt(canvas.Point{}, start)
	i.PushAt(canvas.Point{X: 100}, start)
	require.Equal(t, canvas.Point{X: 100}, i.Target())

	frames := sched.RunUntilIdle(frameDt, 1000)

	assert.Less(t, frames, 200)
	assert.False(t, i.Animating())
	final := (*emitted)[len(*emitted)-1]
	assert.Equal(t, i.Target(), final)
	assert.Equal(t, canvas.Point{X: 100}, i.Position())
	assert.Equal(t, canvas.Point{}, i.Velocity())
	assert.Len(t, *emitted, frames+1, "one emission per frame plus the snap")
}

func TestLeadIsClamped(t *testing.T) {
	i, _, _ := newInterpolator(t)
	start := time.Unix(0, 0)

	i.PushAt(canvas.Point{}, start)
	// 100 units in 10ms is 10000 units/s; a 12ms lead would be 120 units
	i.PushAt(canvas.Point{X: 100}, start.Add(10*time.Millisecond))

	target := i.Target()
	assert.InDelta(t, 114, target.X, 1e-9)
	assert.InDelta(t, 0, target.Y, 1e-9)
	assert.LessOrEqual(t, target.Sub(canvas.Point{X: 100}).Len(), 14+1e-9)
}

func TestLeadBelowClampIsProportional(t *testing.T) {
	i, _, _ := newInterpolator(t)
	start := time.Unix(0, 0)

	i.PushAt(canvas.Point{}, start)
	// 30 units in 100ms is 300 units/s; 12ms lead is 3.6 units
	i.PushAt(canvas.Point{X: 30, Y: 40}, start.Add(100*time.Millisecond))

	lead := i.Target().Sub(canvas.Point{X: 30, Y: 40})
	assert.InDelta(t, 6.0, lead.Len(), 1e-9)
	assert.InDelta(t, 3.6, lead.X, 1e-9)
	assert.InDelta(t, 4.8, lead.Y, 1e-9)
}

func TestStepIsClampedUnderJitter(t *testing.T) {
	i, sched, _ := newInterpolator(t)
	start := time.Unix(0, 0)

	i.PushAt(canvas.Point{}, start)
	i.PushAt(canvas.Point{X: 100}, start)

	sched.Step(frameDt)
	// a 5 second stall must integrate as at most 1/30s
	sched.Step(5 * time.Second)

	p := i.Position()
	assert.Less(t, p.X, 100.0*1.5, "no blow-up after a long frame")
	assert.Greater(t, p.X, 0.0)
}

func TestDisposeHaltsAndIgnoresLateWork(t *testing.T) {
	i, sched, emitted := newInterpolator(t)
	start := time.Unix(0, 0)

	i.PushAt(canvas.Point{}, start)
	i.PushAt(canvas.Point{X: 100}, start)
	require.True(t, i.Animating())

	i.Dispose()
	i.Dispose()

	count := len(*emitted)
	assert.Equal(t, 0, sched.Step(frameDt))
	i.PushAt(canvas.Point{X: 5}, start)
	assert.Len(t, *emitted, count)
	assert.True(t, i.Disposed())
	assert.Equal(t, canvas.Point{}, i.Position())
}

func TestResetSnapsAgain(t *testing.T) {
	i, sched, emitted := newInterpolator(t)
	start := time.Unix(0, 0)

	i.PushAt(canvas.Point{}, start)
	i.PushAt(canvas.Point{X: 100}, start)
	i.Reset()
	assert.Equal(t, 0, sched.Pending())

	i.PushAt(canvas.Point{X: 7, Y: 7}, start)
	assert.Equal(t, canvas.Point{X: 7, Y: 7}, (*emitted)[len(*emitted)-1])
}
