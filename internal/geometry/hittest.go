package geometry

import (
	"math"

	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
)

const (
	// EraserRadius offsets the eraser probe from the pointer on both axes.
	EraserRadius = 8.0
	// EdgeTolerance is the distance allowed between the probe and an outline. Line and
	// rectangle edges exclude it, circle perimeters include it.
	EdgeTolerance = 5.0
	// PencilWindow is the per-axis window (exclusive) around the pointer for pencil points.
	PencilWindow = 10.0
)

// Distance returns the Euclidean distance between two points.
func Distance(ax, ay, bx, by float64) float64 {
	return math.Hypot(bx-ax, by-ay)
}

// PointToSegmentDistance returns the distance from (px, py) to the closest point
// of the finite segment (x1, y1)-(x2, y2).
func PointToSegmentDistance(px, py, x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	lengthSquared := dx*dx + dy*dy
	if lengthSquared == 0 {
		return Distance(px, py, x1, y1)
	}
	t := ((px-x1)*dx + (py-y1)*dy) / lengthSquared
	t = clamp(t, 0, 1)
	return Distance(px, py, x1+t*dx, y1+t*dy)
}

// Eraser hit-tests shapes around a pointer position given in world coordinates.
// Radius and tolerances are screen pixels and shrink with the view scale.
type Eraser struct {
	pointerX float64
	pointerY float64
	probeX   float64
	probeY   float64
	scale    float64
}

// NewEraser builds an eraser for a world-space pointer under the given view scale.
func NewEraser(pointerX, pointerY, scale float64) Eraser {
	if !(scale > 0) {
		scale = 1
	}
	radius := EraserRadius / scale
	return Eraser{
		pointerX: pointerX,
		pointerY: pointerY,
		probeX:   pointerX + radius,
		probeY:   pointerY + radius,
		scale:    scale,
	}
}

// Probe returns the point used for distance checks.
func (e Eraser) Probe() (float64, float64) {
	return e.probeX, e.probeY
}

// Hits reports whether the shape should be removed by this eraser click.
func (e Eraser) Hits(shape shapes.Shape) bool {
	tolerance := EdgeTolerance / e.scale
	switch geometry := shape.Geometry.(type) {
	case shapes.Rectangle:
		return e.hitsRectangle(geometry, tolerance)
	case shapes.Circle:
		fromCenter := Distance(e.probeX, e.probeY, geometry.CenterX, geometry.CenterY)
		return math.Abs(fromCenter-geometry.Radius) <= tolerance
	case shapes.Line:
		return PointToSegmentDistance(e.probeX, e.probeY, geometry.StartX, geometry.StartY, geometry.EndX, geometry.EndY) < tolerance
	case shapes.Pencil:
		return e.hitsPencil(geometry)
	case shapes.Text:
		return e.probeX >= geometry.X &&
			e.probeX <= geometry.X+geometry.Width &&
			e.probeY >= geometry.Y-geometry.Height &&
			e.probeY <= geometry.Y
	default:
		return false
	}
}

func (e Eraser) hitsRectangle(rect shapes.Rectangle, tolerance float64) bool {
	left, top := rect.X, rect.Y
	right, bottom := rect.X+rect.Width, rect.Y+rect.Height
	edges := [4][4]float64{
		{left, top, right, top},
		{right, top, right, bottom},
		{left, bottom, right, bottom},
		{left, top, left, bottom},
	}
	for _, edge := range edges {
		if PointToSegmentDistance(e.probeX, e.probeY, edge[0], edge[1], edge[2], edge[3]) < tolerance {
			return true
		}
	}
	return false
}

func (e Eraser) hitsPencil(pencil shapes.Pencil) bool {
	window := PencilWindow / e.scale
	for _, point := range pencil.Points {
		if point.X == e.probeX && point.Y == e.probeY {
			return true
		}
		if math.Abs(point.X-e.pointerX) < window && math.Abs(point.Y-e.pointerY) < window {
			return true
		}
	}
	return false
}
