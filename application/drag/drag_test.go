package drag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofcanvas/domain/canvas"
	"proofcanvas/pkg/frame"
)

type recorder struct {
	moves    []Move
	batches  []map[string]canvas.Point
	previews []map[string]canvas.Point
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnMove:      func(m Move) { r.moves = append(r.moves, m) },
		OnBatchMove: func(p map[string]canvas.Point) { r.batches = append(r.batches, p) },
	}
}

func (r *recorder) ShowPositions(p map[string]canvas.Point) {
	r.previews = append(r.previews, p)
}

func setup(t *testing.T, positions map[string]canvas.Point) (*Engine, *frame.Manual, *recorder) {
	t.Helper()
	sched := frame.NewManual(time.Unix(0, 0))
	rec := &recorder{}
	locate := func(id string) (canvas.Point, bool) {
		p, ok := positions[id]
		return p, ok
	}
	e := New(sched, rec, locate, rec.callbacks())
	t.Cleanup(e.Dispose)
	return e, sched, rec
}

func TestSingleDrag_CommitsOnce(t *testing.T) {
	e, sched, rec := setup(t, map[string]canvas.Point{"a": {X: 10, Y: 10}})

	// grab the node 5 units inside its origin
	require.True(t, e.Start("a", canvas.Point{X: 15, Y: 15}, nil))
	for i := 1; i <= 20; i++ {
		f := float64(i) / 20
		e.Update(canvas.Point{X: 15 + 40*f, Y: 15 + 60*f})
		if i%4 == 0 {
			sched.Step(time.Second / 60)
		}
	}
	assert.Empty(t, rec.moves, "nothing committed while dragging")
	assert.Len(t, rec.previews, 5, "preview batched per frame")

	e.End()

	require.Len(t, rec.moves, 1)
	assert.Equal(t, Move{NodeID: "a", X: 50, Y: 70}, rec.moves[0])
	assert.Empty(t, rec.batches)
	assert.False(t, e.Active())

	e.End()
	assert.Len(t, rec.moves, 1, "second release is a no-op")
}

func TestBlockDrag_CommitsOneBatch(t *testing.T) {
	e, sched, rec := setup(t, map[string]canvas.Point{
		"a": {X: 0, Y: 0},
		"b": {X: 100, Y: 50},
		"c": {X: -30, Y: 200},
	})

	require.True(t, e.Start("b", canvas.Point{X: 110, Y: 60}, []string{"a", "b", "c"}))
	e.Update(canvas.Point{X: 120, Y: 62})
	e.Update(canvas.Point{X: 130, Y: 65})
	sched.Step(time.Second / 60)
	e.End()

	assert.Empty(t, rec.moves)
	require.Len(t, rec.batches, 1)
	assert.Equal(t, map[string]canvas.Point{
		"a": {X: 20, Y: 5},
		"b": {X: 120, Y: 55},
		"c": {X: -10, Y: 205},
	}, rec.batches[0])
}

func TestBlockDrag_ZeroDeltaCommitsPrimaryOnly(t *testing.T) {
	e, _, rec := setup(t, map[string]canvas.Point{"a": {X: 0, Y: 0}, "b": {X: 100, Y: 50}})

	e.Start("a", canvas.Point{X: 5, Y: 5}, []string{"a", "b"})
	e.Update(canvas.Point{X: 9, Y: 9})
	e.Update(canvas.Point{X: 5, Y: 5})
	e.End()

	assert.Empty(t, rec.batches)
	assert.Equal(t, []Move{{NodeID: "a", X: 0, Y: 0}}, rec.moves)
}

func TestDegenerateDragIsSafe(t *testing.T) {
	e, sched, rec := setup(t, map[string]canvas.Point{"a": {X: 3, Y: 4}})

	e.Start("a", canvas.Point{X: 3, Y: 4}, nil)
	e.End()

	assert.Equal(t, []Move{{NodeID: "a", X: 3, Y: 4}}, rec.moves)
	assert.Equal(t, 0, sched.Pending())
}

func TestSelectionNotContainingNodeDragsSingle(t *testing.T) {
	e, _, rec := setup(t, map[string]canvas.Point{"a": {}, "b": {}, "c": {}})

	e.Start("c", canvas.Point{}, []string{"a", "b"})
	e.Update(canvas.Point{X: 10, Y: 10})
	e.End()

	assert.Equal(t, []Move{{NodeID: "c", X: 10, Y: 10}}, rec.moves)
	assert.Empty(t, rec.batches)
}

func TestCancelRevertsPreviewWithoutCommit(t *testing.T) {
	e, sched, rec := setup(t, map[string]canvas.Point{"a": {X: 1, Y: 1}})

	e.Start("a", canvas.Point{X: 1, Y: 1}, nil)
	e.Update(canvas.Point{X: 50, Y: 50})
	e.Cancel()

	assert.Equal(t, 0, sched.Step(time.Millisecond))
	assert.Empty(t, rec.moves)
	require.NotEmpty(t, rec.previews)
	assert.Equal(t, map[string]canvas.Point{"a": {X: 1, Y: 1}}, rec.previews[len(rec.previews)-1])
}

func TestUnknownNodeAndDispose(t *testing.T) {
	e, sched, rec := setup(t, map[string]canvas.Point{"a": {}})

	assert.False(t, e.Start("ghost", canvas.Point{}, nil))

	e.Start("a", canvas.Point{}, nil)
	e.Update(canvas.Point{X: 1})
	assert.True(t, e.Dragging("a"))
	e.Dispose()

	assert.Equal(t, 0, sched.Step(time.Millisecond))
	e.End()
	assert.Empty(t, rec.moves)
	assert.False(t, e.Start("a", canvas.Point{}, nil))
}
