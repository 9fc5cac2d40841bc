// Package tools turns raw pointer input into shape mutations for one room.
package tools

import (
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/drawr/internal/geometry"
	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
	"go.uber.org/zap"
)

const (
	// DefaultStrokeColor is used when no color was chosen.
	DefaultStrokeColor = "white"

	textPadding     = 20.0
	textHeight      = 30.0
	textBaselineGap = 10.0
)

var (
	errMissingStore       = errors.New("tools: shape store is required")
	errMissingIDs         = errors.New("tools: id provider is required")
	errMissingBroadcaster = errors.New("tools: broadcaster is required")
	errAlreadyStarted     = errors.New("tools: controller already started")
)

// State is the pointer state of a controller.
type State int

const (
	StateIdle State = iota
	StatePressed
	StateDragging
	StateTextEntry
)

func (s State) String() string {
	switch s {
	case StatePressed:
		return "pressed"
	case StateDragging:
		return "dragging"
	case StateTextEntry:
		return "text_entry"
	default:
		return "idle"
	}
}

// Broadcaster publishes local mutations to the other room members.
type Broadcaster interface {
	SendShape(shape shapes.Shape) error
	SendDelete(id shapes.ID) error
}

// Previewer draws the in-progress shape. A nil shape clears the preview.
type Previewer interface {
	Preview(shape *shapes.Shape)
}

// Config wires a controller to its collaborators.
type Config struct {
	Store       *shapes.Store
	IDs         shapes.IDProvider
	Broadcaster Broadcaster
	Previewer   Previewer
	Measurer    TextMeasurer
	Logger      *zap.Logger
	Tool        Tool
	StrokeColor string
	View        *geometry.ViewTransform
}

// Controller is the pointer state machine. It owns its pointer subscription
// through Start and Stop.
type Controller struct {
	store       *shapes.Store
	ids         shapes.IDProvider
	broadcaster Broadcaster
	previewer   Previewer
	measurer    TextMeasurer
	logger      *zap.Logger

	mu          sync.Mutex
	tool        Tool
	strokeColor string
	view        geometry.ViewTransform
	state       State
	anchor      shapes.Point
	lastScreen  PointerEvent
	path        []shapes.Point
	textAnchor  shapes.Point
	unsubscribe func()
}

// NewController validates the configuration and returns an idle controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.IDs == nil {
		return nil, errMissingIDs
	}
	if cfg.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	measurer := cfg.Measurer
	if measurer == nil {
		measurer = DefaultMeasurer()
	}
	tool := cfg.Tool
	if tool == "" {
		tool = ToolPencil
	}
	color := strings.TrimSpace(cfg.StrokeColor)
	if color == "" {
		color = DefaultStrokeColor
	}
	view := geometry.Identity()
	if cfg.View != nil {
		if _, err := geometry.NewViewTransform(cfg.View.Scale, cfg.View.OffsetX, cfg.View.OffsetY); err != nil {
			return nil, err
		}
		view = *cfg.View
	}
	return &Controller{
		store:       cfg.Store,
		ids:         cfg.IDs,
		broadcaster: cfg.Broadcaster,
		previewer:   cfg.Previewer,
		measurer:    measurer,
		logger:      logger,
		tool:        tool,
		strokeColor: color,
		view:        view,
	}, nil
}

// Start subscribes the controller to a pointer source.
func (c *Controller) Start(source PointerSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		return errAlreadyStarted
	}
	c.unsubscribe = source.Subscribe(c)
	return nil
}

// Stop releases the pointer subscription and abandons any in-progress gesture.
func (c *Controller) Stop() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	hadPreview := c.resetLocked()
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if hadPreview {
		c.preview(nil)
	}
}

// SetTool switches the active tool and abandons any in-progress gesture.
func (c *Controller) SetTool(tool Tool) {
	c.mu.Lock()
	c.tool = tool
	hadPreview := c.resetLocked()
	c.mu.Unlock()

	if hadPreview {
		c.preview(nil)
	}
}

// Tool returns the active tool.
func (c *Controller) Tool() Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tool
}

// SetStrokeColor sets the color of subsequently committed shapes.
func (c *Controller) SetStrokeColor(color string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if trimmed := strings.TrimSpace(color); trimmed != "" {
		c.strokeColor = trimmed
	}
}

// State returns the current pointer state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns the current view transform.
func (c *Controller) View() geometry.ViewTransform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// PendingPath returns a copy of the in-progress pencil buffer.
func (c *Controller) PendingPath() []shapes.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]shapes.Point(nil), c.path...)
}

// PendingText reports the world position of an open text entry.
func (c *Controller) PendingText() (shapes.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.textAnchor, c.state == StateTextEntry
}

// PointerDown implements PointerHandler.
func (c *Controller) PointerDown(event PointerEvent) {
	c.mu.Lock()
	worldX, worldY := c.view.ToWorld(event.X, event.Y)
	switch c.tool {
	case ToolEraser:
		scale := c.view.Scale
		c.state = StateIdle
		c.mu.Unlock()
		c.erase(geometry.NewEraser(worldX, worldY, scale))
		return
	case ToolText:
		c.textAnchor = shapes.Point{X: worldX, Y: worldY}
		c.state = StateTextEntry
	case ToolPencil:
		c.path = c.path[:0]
		c.anchor = shapes.Point{X: worldX, Y: worldY}
		c.state = StatePressed
	default:
		c.anchor = shapes.Point{X: worldX, Y: worldY}
		c.lastScreen = event
		c.state = StatePressed
	}
	c.mu.Unlock()
}

// PointerMove implements PointerHandler.
func (c *Controller) PointerMove(event PointerEvent) {
	c.mu.Lock()
	if c.state != StatePressed && c.state != StateDragging {
		c.mu.Unlock()
		return
	}
	c.state = StateDragging
	worldX, worldY := c.view.ToWorld(event.X, event.Y)

	var preview *shapes.Shape
	switch c.tool {
	case ToolPan:
		c.view = c.view.Pan(event.X-c.lastScreen.X, event.Y-c.lastScreen.Y)
		c.lastScreen = event
	case ToolPencil:
		c.path = append(c.path, shapes.Point{X: worldX, Y: worldY})
		shape := shapes.Shape{Geometry: shapes.Pencil{Points: append([]shapes.Point(nil), c.path...), StrokeColor: c.strokeColor}}
		preview = &shape
	case ToolLine, ToolRectangle, ToolCircle:
		if drawn, ok := dragGeometry(c.tool, c.anchor, shapes.Point{X: worldX, Y: worldY}, c.strokeColor); ok {
			preview = &shapes.Shape{Geometry: drawn}
		}
	}
	c.mu.Unlock()

	if preview != nil {
		c.preview(preview)
	}
}

// PointerUp implements PointerHandler.
func (c *Controller) PointerUp(event PointerEvent) {
	c.mu.Lock()
	if c.state != StatePressed && c.state != StateDragging {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	worldX, worldY := c.view.ToWorld(event.X, event.Y)

	var committed shapes.Geometry
	switch c.tool {
	case ToolPencil:
		if len(c.path) >= 1 {
			committed = shapes.Pencil{Points: append([]shapes.Point(nil), c.path...), StrokeColor: c.strokeColor}
		}
		c.path = c.path[:0]
	case ToolLine, ToolRectangle, ToolCircle:
		if drawn, ok := dragGeometry(c.tool, c.anchor, shapes.Point{X: worldX, Y: worldY}, c.strokeColor); ok {
			committed = drawn
		}
	}
	clearPreview := c.tool != ToolPan
	c.mu.Unlock()

	if clearPreview {
		c.preview(nil)
	}
	if committed != nil {
		c.commit(committed)
	}
}

// CommitText confirms an open text entry. Empty or whitespace-only text closes
// the entry without creating a shape.
func (c *Controller) CommitText(text string) (shapes.Shape, bool) {
	c.mu.Lock()
	if c.state != StateTextEntry {
		c.mu.Unlock()
		return shapes.Shape{}, false
	}
	c.state = StateIdle
	anchor := c.textAnchor
	color := c.strokeColor
	c.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return shapes.Shape{}, false
	}
	return c.commit(shapes.Text{
		X:           anchor.X,
		Y:           anchor.Y + textBaselineGap,
		Width:       c.measurer.MeasureText(text) + textPadding,
		Height:      textHeight,
		Text:        text,
		StrokeColor: color,
	})
}

// CancelText closes an open text entry without creating a shape.
func (c *Controller) CancelText() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateTextEntry {
		c.state = StateIdle
	}
}

// ZoomIn scales the view up by one step around the screen reference point.
func (c *Controller) ZoomIn(refX, refY float64) geometry.ViewTransform {
	return c.ZoomAt(geometry.ZoomStep, refX, refY)
}

// ZoomOut scales the view down by one step around the screen reference point.
func (c *Controller) ZoomOut(refX, refY float64) geometry.ViewTransform {
	return c.ZoomAt(1/geometry.ZoomStep, refX, refY)
}

// ZoomAt scales the view by factor around the screen reference point.
func (c *Controller) ZoomAt(factor, refX, refY float64) geometry.ViewTransform {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = c.view.ZoomAt(factor, refX, refY)
	return c.view
}

func (c *Controller) commit(drawn shapes.Geometry) (shapes.Shape, bool) {
	id, err := c.ids.NextID()
	if err != nil {
		c.logger.Error("shape id allocation failed", zap.String("kind", string(drawn.Kind())), zap.Error(err))
		return shapes.Shape{}, false
	}
	shape := shapes.Shape{ID: id, Geometry: drawn}
	c.store.Apply(shape)
	if err := c.broadcaster.SendShape(shape); err != nil {
		c.logger.Warn("shape broadcast failed", zap.Int64("shape_id", id.Int64()), zap.Error(err))
	}
	return shape, true
}

func (c *Controller) erase(eraser geometry.Eraser) {
	removed := c.store.Erase(eraser.Hits)
	for _, shape := range removed {
		if !shape.ID.Assigned() {
			continue
		}
		if err := c.broadcaster.SendDelete(shape.ID); err != nil {
			c.logger.Warn("delete broadcast failed", zap.Int64("shape_id", shape.ID.Int64()), zap.Error(err))
		}
	}
	if len(removed) > 0 {
		c.logger.Debug("erased shapes", zap.Int("count", len(removed)))
	}
}

func (c *Controller) preview(shape *shapes.Shape) {
	if c.previewer != nil {
		c.previewer.Preview(shape)
	}
}

func (c *Controller) resetLocked() bool {
	hadPreview := c.state == StateDragging && c.tool != ToolPan
	c.state = StateIdle
	c.path = c.path[:0]
	return hadPreview
}

func dragGeometry(tool Tool, anchor, current shapes.Point, color string) (shapes.Geometry, bool) {
	dx := current.X - anchor.X
	dy := current.Y - anchor.Y
	switch tool {
	case ToolRectangle:
		return shapes.Rectangle{
			X:           math.Min(anchor.X, current.X),
			Y:           math.Min(anchor.Y, current.Y),
			Width:       math.Abs(dx),
			Height:      math.Abs(dy),
			StrokeColor: color,
		}, true
	case ToolCircle:
		return shapes.Circle{
			CenterX:     anchor.X + dx/2,
			CenterY:     anchor.Y + dy/2,
			Radius:      math.Hypot(dx, dy) / 2,
			StrokeColor: color,
		}, true
	case ToolLine:
		return shapes.Line{StartX: anchor.X, StartY: anchor.Y, EndX: current.X, EndY: current.Y, StrokeColor: color}, true
	default:
		return nil, false
	}
}
