// Package geometry holds the pure math behind pan/zoom and eraser hit-testing.
package geometry

import (
	"errors"
	"fmt"
)

const (
	// MinScale bounds zooming out.
	MinScale = 0.1
	// MaxScale bounds zooming in.
	MaxScale = 10.0
	// ZoomStep is the factor applied by a single zoom in/out step.
	ZoomStep = 1.1
)

// ErrInvalidScale indicates a non-positive view scale.
var ErrInvalidScale = errors.New("geometry: scale must be positive")

// ViewTransform maps world coordinates to screen pixels: screen = world*scale + offset.
type ViewTransform struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

// Identity returns the transform with unit scale and no offset.
func Identity() ViewTransform {
	return ViewTransform{Scale: 1}
}

// NewViewTransform validates the scale before building a transform.
func NewViewTransform(scale, offsetX, offsetY float64) (ViewTransform, error) {
	if !(scale > 0) {
		return ViewTransform{}, fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	return ViewTransform{Scale: scale, OffsetX: offsetX, OffsetY: offsetY}, nil
}

// ToWorld converts a screen position into world coordinates.
func (v ViewTransform) ToWorld(screenX, screenY float64) (float64, float64) {
	return (screenX - v.OffsetX) / v.Scale, (screenY - v.OffsetY) / v.Scale
}

// ToScreen converts a world position into screen coordinates.
func (v ViewTransform) ToScreen(worldX, worldY float64) (float64, float64) {
	return worldX*v.Scale + v.OffsetX, worldY*v.Scale + v.OffsetY
}

// Pan shifts the view by a screen-space delta.
func (v ViewTransform) Pan(deltaX, deltaY float64) ViewTransform {
	v.OffsetX += deltaX
	v.OffsetY += deltaY
	return v
}

// ZoomAt multiplies the scale by factor while keeping the world point under
// (refX, refY) on screen at the same place. The resulting scale is clamped.
func (v ViewTransform) ZoomAt(factor, refX, refY float64) ViewTransform {
	if !(factor > 0) {
		return v
	}
	next := clamp(v.Scale*factor, MinScale, MaxScale)
	worldX, worldY := v.ToWorld(refX, refY)
	v.Scale = next
	v.OffsetX = refX - worldX*next
	v.OffsetY = refY - worldY*next
	return v
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
