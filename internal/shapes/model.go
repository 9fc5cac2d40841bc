package shapes

import (
	"errors"
	"fmt"
)

// Kind enumerates supported drawing primitives.
type Kind string

const (
	// KindRectangle is an axis-aligned rectangle outline.
	KindRectangle Kind = "rectangle"
	// KindCircle is a circle outline.
	KindCircle Kind = "circle"
	// KindLine is a straight segment.
	KindLine Kind = "line"
	// KindPencil is a freehand polyline.
	KindPencil Kind = "pencil"
	// KindText is a single line of text anchored at its baseline.
	KindText Kind = "text"
)

var (
	// ErrUnknownKind indicates that a shape payload carries an unsupported type discriminator.
	ErrUnknownKind = errors.New("shapes: unknown shape type")
	// ErrEmptyPencil indicates that a pencil shape has no points.
	ErrEmptyPencil = errors.New("shapes: pencil requires at least one point")
	// ErrMissingGeometry indicates that a shape has no geometry attached.
	ErrMissingGeometry = errors.New("shapes: missing geometry")
)

// ID identifies a shape inside a room. Zero means unassigned.
type ID int64

// Int64 exposes the raw identifier.
func (id ID) Int64() int64 {
	return int64(id)
}

// Assigned reports whether the identifier was set by a generator.
func (id ID) Assigned() bool {
	return id != 0
}

// Point is a world-space coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry is implemented by every shape variant.
type Geometry interface {
	Kind() Kind
	Color() string
}

// Rectangle is stored with its top-left corner and non-negative extent.
type Rectangle struct {
	X           float64
	Y           float64
	Width       float64
	Height      float64
	StrokeColor string
}

// Circle is stored as center and radius.
type Circle struct {
	CenterX     float64
	CenterY     float64
	Radius      float64
	StrokeColor string
}

// Line connects two points.
type Line struct {
	StartX      float64
	StartY      float64
	EndX        float64
	EndY        float64
	StrokeColor string
}

// Pencil is a freehand stroke.
type Pencil struct {
	Points      []Point
	StrokeColor string
}

// Text is anchored at (X, Y) where Y is the baseline; the box extends upward by Height.
type Text struct {
	X           float64
	Y           float64
	Width       float64
	Height      float64
	Text        string
	StrokeColor string
}

func (Rectangle) Kind() Kind { return KindRectangle }
func (Circle) Kind() Kind    { return KindCircle }
func (Line) Kind() Kind      { return KindLine }
func (Pencil) Kind() Kind    { return KindPencil }
func (Text) Kind() Kind      { return KindText }

func (g Rectangle) Color() string { return g.StrokeColor }
func (g Circle) Color() string    { return g.StrokeColor }
func (g Line) Color() string      { return g.StrokeColor }
func (g Pencil) Color() string    { return g.StrokeColor }
func (g Text) Color() string      { return g.StrokeColor }

// Shape is one drawable primitive together with its room-local identifier.
type Shape struct {
	ID       ID
	Geometry Geometry
}

// Kind returns the variant of the shape geometry, or an empty kind when none is attached.
func (s Shape) Kind() Kind {
	if s.Geometry == nil {
		return ""
	}
	return s.Geometry.Kind()
}

// Validate checks structural invariants that every persisted or broadcast shape must satisfy.
func (s Shape) Validate() error {
	switch geometry := s.Geometry.(type) {
	case nil:
		return ErrMissingGeometry
	case Pencil:
		if len(geometry.Points) == 0 {
			return ErrEmptyPencil
		}
	case Rectangle, Circle, Line, Text:
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, geometry)
	}
	return nil
}

// Clone returns a deep copy so pencil point slices are never shared between stores.
func (s Shape) Clone() Shape {
	if pencil, ok := s.Geometry.(Pencil); ok {
		points := make([]Point, len(pencil.Points))
		copy(points, pencil.Points)
		pencil.Points = points
		s.Geometry = pencil
	}
	return s
}
