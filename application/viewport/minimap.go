package viewport

import (
	"math"

	"proofcanvas/domain/canvas"
)

// Minimap is a projection of the whole canvas into a fixed-size panel. It is
// derived from the viewport so both views use one coordinate system.
type Minimap struct {
	// World is the canvas-space area shown: content plus the visible rect.
	World canvas.Rect
	// Scale converts canvas units into minimap pixels.
	Scale float64
	// Offset centers the world inside the panel.
	Offset canvas.Point
	// Viewport is the visible rectangle in minimap pixels.
	Viewport canvas.Rect
}

// MinimapProjection builds the minimap projection for a panel of the given
// pixel size.
func (v *Viewport) MinimapProjection(nodes []canvas.Node, panelW, panelH float64) Minimap {
	visible := v.VisibleRect()
	world := visible
	if box, ok := canvas.BoundingBox(nodes); ok {
		world = world.Union(box)
	}

	scale := 1.0
	if world.Width > 0 && world.Height > 0 && panelW > 0 && panelH > 0 {
		scale = math.Min(panelW/world.Width, panelH/world.Height)
	}

	m := Minimap{
		World: world,
		Scale: scale,
		Offset: canvas.Point{
			X: (panelW - world.Width*scale) / 2,
			Y: (panelH - world.Height*scale) / 2,
		},
	}
	m.Viewport = m.ProjectRect(visible)
	return m
}

// Project maps a canvas point into minimap pixels
func (m Minimap) Project(p canvas.Point) canvas.Point {
	return canvas.Point{
		X: (p.X-m.World.X)*m.Scale + m.Offset.X,
		Y: (p.Y-m.World.Y)*m.Scale + m.Offset.Y,
	}
}

// ProjectRect maps a canvas rectangle into minimap pixels
func (m Minimap) ProjectRect(r canvas.Rect) canvas.Rect {
	origin := m.Project(r.Min())
	return canvas.Rect{X: origin.X, Y: origin.Y, Width: r.Width * m.Scale, Height: r.Height * m.Scale}
}

// Unproject maps a minimap pixel back into canvas space
func (m Minimap) Unproject(p canvas.Point) canvas.Point {
	return canvas.Point{
		X: (p.X-m.Offset.X)/m.Scale + m.World.X,
		Y: (p.Y-m.Offset.Y)/m.Scale + m.World.Y,
	}
}

// CenterOn pans the viewport so the canvas point under a minimap click is
// in the middle of the screen.
func (v *Viewport) CenterOn(p canvas.Point) {
	v.update(func() {
		v.pan = canvas.Point{X: v.width/2 - p.X*v.zoom, Y: v.height/2 - p.Y*v.zoom}
	})
}
