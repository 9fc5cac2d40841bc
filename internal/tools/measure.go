package tools

import (
	"fmt"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// DefaultFontSize matches the size text shapes are rendered at.
const DefaultFontSize = 20

// TextMeasurer returns the rendered width of a string in world units.
type TextMeasurer interface {
	MeasureText(text string) float64
}

// FontMeasurer measures text with an OpenType face.
type FontMeasurer struct {
	mu   sync.Mutex
	face font.Face
}

// NewFontMeasurer loads the Go Regular font at the given pixel size.
func NewFontMeasurer(size float64) (*FontMeasurer, error) {
	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("tools: parse font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return nil, fmt.Errorf("tools: font face: %w", err)
	}
	return &FontMeasurer{face: face}, nil
}

// MeasureText implements TextMeasurer.
func (m *FontMeasurer) MeasureText(text string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	advance := font.MeasureString(m.face, text)
	return float64(advance) / 64
}

var defaultFontMeasurer = sync.OnceValues(func() (*FontMeasurer, error) {
	return NewFontMeasurer(DefaultFontSize)
})

// DefaultMeasurer returns the shared Go Regular measurer at DefaultFontSize, or a
// fixed-width approximation if the font cannot be loaded.
func DefaultMeasurer() TextMeasurer {
	measurer, err := defaultFontMeasurer()
	if err != nil {
		return FixedWidthMeasurer(DefaultFontSize / 2)
	}
	return measurer
}

// FixedWidthMeasurer assigns every rune the same advance.
type FixedWidthMeasurer float64

// MeasureText implements TextMeasurer.
func (m FixedWidthMeasurer) MeasureText(text string) float64 {
	return float64(m) * float64(len([]rune(text)))
}
