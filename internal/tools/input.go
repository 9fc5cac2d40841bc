package tools

import (
	"fmt"
	"strings"
	"sync"
)

// Tool selects how pointer input is interpreted.
type Tool string

const (
	ToolPencil    Tool = "pencil"
	ToolLine      Tool = "line"
	ToolRectangle Tool = "rectangle"
	ToolCircle    Tool = "circle"
	ToolText      Tool = "text"
	ToolEraser    Tool = "eraser"
	ToolPan       Tool = "pan"
)

var keybinds = map[string]Tool{
	"1": ToolPencil,
	"2": ToolLine,
	"3": ToolRectangle,
	"4": ToolCircle,
	"5": ToolText,
	"6": ToolEraser,
}

// ParseTool accepts a tool name or its number keybind.
func ParseTool(value string) (Tool, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if tool, ok := keybinds[trimmed]; ok {
		return tool, nil
	}
	switch Tool(trimmed) {
	case ToolPencil, ToolLine, ToolRectangle, ToolCircle, ToolText, ToolEraser, ToolPan:
		return Tool(trimmed), nil
	}
	return "", fmt.Errorf("tools: unknown tool %q", value)
}

// PointerEvent is a pointer position in screen pixels.
type PointerEvent struct {
	X float64
	Y float64
}

// PointerHandler receives raw pointer input.
type PointerHandler interface {
	PointerDown(event PointerEvent)
	PointerMove(event PointerEvent)
	PointerUp(event PointerEvent)
}

// PointerSource delivers pointer input to subscribed handlers.
type PointerSource interface {
	Subscribe(handler PointerHandler) (unsubscribe func())
}

// PointerBus fans pointer events out to its subscribers in registration order.
type PointerBus struct {
	mu          sync.RWMutex
	subscribers map[int64]PointerHandler
	order       []int64
	nextID      int64
}

// NewPointerBus returns a bus with no subscribers.
func NewPointerBus() *PointerBus {
	return &PointerBus{subscribers: make(map[int64]PointerHandler)}
}

// Subscribe registers a handler and returns its release function.
func (b *PointerBus) Subscribe(handler PointerHandler) func() {
	b.mu.Lock()
	b.nextID++
	subscriptionID := b.nextID
	b.subscribers[subscriptionID] = handler
	b.order = append(b.order, subscriptionID)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, subscriptionID)
			for index, candidate := range b.order {
				if candidate == subscriptionID {
					b.order = append(b.order[:index], b.order[index+1:]...)
					break
				}
			}
		})
	}
}

// Subscribers returns the number of registered handlers.
func (b *PointerBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Down dispatches a pointer-down event.
func (b *PointerBus) Down(x, y float64) {
	for _, handler := range b.snapshot() {
		handler.PointerDown(PointerEvent{X: x, Y: y})
	}
}

// Move dispatches a pointer-move event.
func (b *PointerBus) Move(x, y float64) {
	for _, handler := range b.snapshot() {
		handler.PointerMove(PointerEvent{X: x, Y: y})
	}
}

// Up dispatches a pointer-up event.
func (b *PointerBus) Up(x, y float64) {
	for _, handler := range b.snapshot() {
		handler.PointerUp(PointerEvent{X: x, Y: y})
	}
}

func (b *PointerBus) snapshot() []PointerHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]PointerHandler, 0, len(b.order))
	for _, subscriptionID := range b.order {
		handlers = append(handlers, b.subscribers[subscriptionID])
	}
	return handlers
}
