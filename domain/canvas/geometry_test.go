package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRect_Intersects(t *testing.T) {
	base := Rect{X: 0, Y: 0, Width: 100, Height: 50}

	tests := []struct {
		name  string
		other Rect
		want  bool
	}{
		{name: "overlap", other: Rect{X: 50, Y: 25, Width: 100, Height: 100}, want: true},
		{name: "contained", other: Rect{X: 10, Y: 10, Width: 5, Height: 5}, want: true},
		{name: "touching right edge", other: Rect{X: 100, Y: 0, Width: 10, Height: 10}, want: false},
		{name: "touching bottom edge", other: Rect{X: 0, Y: 50, Width: 10, Height: 10}, want: false},
		{name: "apart", other: Rect{X: 200, Y: 200, Width: 100, Height: 50}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Intersects(tt.other))
			assert.Equal(t, tt.want, tt.other.Intersects(base))
		})
	}
}

func TestRectFromPoints_Normalizes(t *testing.T) {
	r := RectFromPoints(Point{X: 150, Y: 100}, Point{X: 0, Y: 0})
	assert.Equal(t, Rect{X: 0, Y: 0, Width: 150, Height: 100}, r)
}

func TestIntersecting(t *testing.T) {
	nodes := []Node{
		{ID: "first", Type: NodeTypeLemma, X: 0, Y: 0, Width: 100, Height: 50},
		{ID: "second", Type: NodeTypeLemma, X: 200, Y: 200, Width: 100, Height: 50},
	}

	assert.Equal(t, []string{"first"}, Intersecting(nodes, RectFromPoints(Point{}, Point{X: 150, Y: 100})))
	assert.Empty(t, Intersecting(nodes, Rect{X: 120, Y: 60, Width: 10, Height: 10}))
}

func TestNode_DefaultSize(t *testing.T) {
	n := Node{X: 5, Y: 5}
	assert.Equal(t, Rect{X: 5, Y: 5, Width: DefaultNodeWidth, Height: DefaultNodeHeight}, n.Rect())
}
