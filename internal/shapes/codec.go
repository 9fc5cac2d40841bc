package shapes

import (
	"encoding/json"
	"fmt"
)

type wireShape struct {
	ID    ID              `json:"id,omitempty"`
	Shape json.RawMessage `json:"shape"`
}

type wireKind struct {
	Type Kind `json:"type"`
}

type wireRectangle struct {
	Type        Kind    `json:"type"`
	StrokeColor string  `json:"strokeColor"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

type wireCircle struct {
	Type        Kind    `json:"type"`
	StrokeColor string  `json:"strokeColor"`
	CenterX     float64 `json:"centerX"`
	CenterY     float64 `json:"centerY"`
	Radius      float64 `json:"radius"`
}

type wireLine struct {
	Type        Kind    `json:"type"`
	StrokeColor string  `json:"strokeColor"`
	StartX      float64 `json:"startX"`
	StartY      float64 `json:"startY"`
	EndX        float64 `json:"endX"`
	EndY        float64 `json:"endY"`
}

type wirePencil struct {
	Type        Kind    `json:"type"`
	StrokeColor string  `json:"strokeColor"`
	Points      []Point `json:"points"`
}

type wireText struct {
	Type        Kind    `json:"type"`
	StrokeColor string  `json:"strokeColor"`
	Text        string  `json:"text"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

// MarshalJSON encodes the shape as {"id":..., "shape":{"type":...}}.
func (s Shape) MarshalJSON() ([]byte, error) {
	var payload any
	switch geometry := s.Geometry.(type) {
	case Rectangle:
		payload = wireRectangle{Type: KindRectangle, StrokeColor: geometry.StrokeColor, X: geometry.X, Y: geometry.Y, Width: geometry.Width, Height: geometry.Height}
	case Circle:
		payload = wireCircle{Type: KindCircle, StrokeColor: geometry.StrokeColor, CenterX: geometry.CenterX, CenterY: geometry.CenterY, Radius: geometry.Radius}
	case Line:
		payload = wireLine{Type: KindLine, StrokeColor: geometry.StrokeColor, StartX: geometry.StartX, StartY: geometry.StartY, EndX: geometry.EndX, EndY: geometry.EndY}
	case Pencil:
		points := geometry.Points
		if points == nil {
			points = []Point{}
		}
		payload = wirePencil{Type: KindPencil, StrokeColor: geometry.StrokeColor, Points: points}
	case Text:
		payload = wireText{Type: KindText, StrokeColor: geometry.StrokeColor, Text: geometry.Text, X: geometry.X, Y: geometry.Y, Width: geometry.Width, Height: geometry.Height}
	case nil:
		return nil, ErrMissingGeometry
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, geometry)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireShape{ID: s.ID, Shape: body})
}

// UnmarshalJSON decodes the wire representation, dispatching on shape.type.
func (s *Shape) UnmarshalJSON(data []byte) error {
	var envelope wireShape
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	if len(envelope.Shape) == 0 || string(envelope.Shape) == "null" {
		return ErrMissingGeometry
	}

	var discriminator wireKind
	if err := json.Unmarshal(envelope.Shape, &discriminator); err != nil {
		return err
	}

	var geometry Geometry
	switch discriminator.Type {
	case KindRectangle:
		var wire wireRectangle
		if err := json.Unmarshal(envelope.Shape, &wire); err != nil {
			return err
		}
		geometry = Rectangle{X: wire.X, Y: wire.Y, Width: wire.Width, Height: wire.Height, StrokeColor: wire.StrokeColor}
	case KindCircle:
		var wire wireCircle
		if err := json.Unmarshal(envelope.Shape, &wire); err != nil {
			return err
		}
		geometry = Circle{CenterX: wire.CenterX, CenterY: wire.CenterY, Radius: wire.Radius, StrokeColor: wire.StrokeColor}
	case KindLine:
		var wire wireLine
		if err := json.Unmarshal(envelope.Shape, &wire); err != nil {
			return err
		}
		geometry = Line{StartX: wire.StartX, StartY: wire.StartY, EndX: wire.EndX, EndY: wire.EndY, StrokeColor: wire.StrokeColor}
	case KindPencil:
		var wire wirePencil
		if err := json.Unmarshal(envelope.Shape, &wire); err != nil {
			return err
		}
		geometry = Pencil{Points: wire.Points, StrokeColor: wire.StrokeColor}
	case KindText:
		var wire wireText
		if err := json.Unmarshal(envelope.Shape, &wire); err != nil {
			return err
		}
		geometry = Text{X: wire.X, Y: wire.Y, Width: wire.Width, Height: wire.Height, Text: wire.Text, StrokeColor: wire.StrokeColor}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, discriminator.Type)
	}

	s.ID = envelope.ID
	s.Geometry = geometry
	return nil
}

// Encode returns the wire JSON of a validated shape.
func Encode(shape Shape) ([]byte, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(shape)
}

// Decode parses and validates the wire JSON of a single shape.
func Decode(data []byte) (Shape, error) {
	var shape Shape
	if err := json.Unmarshal(data, &shape); err != nil {
		return Shape{}, err
	}
	if err := shape.Validate(); err != nil {
		return Shape{}, err
	}
	return shape, nil
}

// DecodeList parses a JSON array of shapes, validating every element.
func DecodeList(data []byte) ([]Shape, error) {
	var list []Shape
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	for index, shape := range list {
		if err := shape.Validate(); err != nil {
			return nil, fmt.Errorf("shape %d: %w", index, err)
		}
	}
	return list, nil
}
