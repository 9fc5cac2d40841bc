// Package export renders a room's shapes onto a single PDF page.
package export

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/colornames"
)

const (
	pageWidthMM  = 297.0
	pageHeightMM = 210.0
	pageMarginMM = 10.0
	pixelToMM    = 25.4 / 96.0
	pointToMM    = 25.4 / 72.0
	lineWidthMM  = 0.4
	fontFamily   = "Helvetica"
	minFontPoint = 4.0
)

// pageTransform maps world coordinates onto the page.
type pageTransform struct {
	scale   float64
	offsetX float64
	offsetY float64
}

func (t pageTransform) point(x, y float64) (float64, float64) {
	return (x-t.offsetX)*t.scale + pageMarginMM, (y-t.offsetY)*t.scale + pageMarginMM
}

func (t pageTransform) length(value float64) float64 {
	return value * t.scale
}

// WritePDF draws the shapes in list order on an A4 landscape page. Drawings larger
// than the printable area are scaled down to fit; smaller ones keep their size.
func WritePDF(w io.Writer, list []shapes.Shape) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("drawr export", true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetLineWidth(lineWidthMM)
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")
	translate := pdf.UnicodeTranslatorFromDescriptor("")

	transform := fitPage(list)
	for _, shape := range list {
		drawShape(pdf, transform, translate, shape)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("export: render pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("export: write pdf: %w", err)
	}
	return nil
}

func drawShape(pdf *gofpdf.Fpdf, transform pageTransform, translate func(string) string, shape shapes.Shape) {
	stroke := paperColor(shape.Geometry)
	pdf.SetDrawColor(int(stroke.R), int(stroke.G), int(stroke.B))
	pdf.SetTextColor(int(stroke.R), int(stroke.G), int(stroke.B))
	pdf.SetFillColor(int(stroke.R), int(stroke.G), int(stroke.B))

	switch geometry := shape.Geometry.(type) {
	case shapes.Rectangle:
		x, y := transform.point(geometry.X, geometry.Y)
		pdf.Rect(x, y, transform.length(geometry.Width), transform.length(geometry.Height), "D")
	case shapes.Circle:
		x, y := transform.point(geometry.CenterX, geometry.CenterY)
		pdf.Circle(x, y, transform.length(geometry.Radius), "D")
	case shapes.Line:
		x1, y1 := transform.point(geometry.StartX, geometry.StartY)
		x2, y2 := transform.point(geometry.EndX, geometry.EndY)
		pdf.Line(x1, y1, x2, y2)
	case shapes.Pencil:
		if len(geometry.Points) == 1 {
			x, y := transform.point(geometry.Points[0].X, geometry.Points[0].Y)
			pdf.Circle(x, y, lineWidthMM/2, "F")
			return
		}
		for index, point := range geometry.Points {
			x, y := transform.point(point.X, point.Y)
			if index == 0 {
				pdf.MoveTo(x, y)
				continue
			}
			pdf.LineTo(x, y)
		}
		pdf.DrawPath("D")
	case shapes.Text:
		fontPoint := math.Max(transform.length(geometry.Height)*2/3/pointToMM, minFontPoint)
		pdf.SetFont(fontFamily, "", fontPoint)
		x, y := transform.point(geometry.X, geometry.Y)
		pdf.Text(x, y, translate(geometry.Text))
	}
}

// fitPage picks a transform that places the drawing's bounding box in the printable area.
func fitPage(list []shapes.Shape) pageTransform {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, shape := range list {
		left, top, right, bottom, ok := bounds(shape.Geometry)
		if !ok {
			continue
		}
		minX, minY = math.Min(minX, left), math.Min(minY, top)
		maxX, maxY = math.Max(maxX, right), math.Max(maxY, bottom)
	}
	if math.IsInf(minX, 1) {
		return pageTransform{scale: pixelToMM}
	}

	scale := pixelToMM
	printableWidth := pageWidthMM - 2*pageMarginMM
	printableHeight := pageHeightMM - 2*pageMarginMM
	if width := maxX - minX; width > 0 {
		scale = math.Min(scale, printableWidth/width)
	}
	if height := maxY - minY; height > 0 {
		scale = math.Min(scale, printableHeight/height)
	}
	return pageTransform{scale: scale, offsetX: minX, offsetY: minY}
}

func bounds(geometry shapes.Geometry) (left, top, right, bottom float64, ok bool) {
	switch g := geometry.(type) {
	case shapes.Rectangle:
		return math.Min(g.X, g.X+g.Width), math.Min(g.Y, g.Y+g.Height), math.Max(g.X, g.X+g.Width), math.Max(g.Y, g.Y+g.Height), true
	case shapes.Circle:
		return g.CenterX - g.Radius, g.CenterY - g.Radius, g.CenterX + g.Radius, g.CenterY + g.Radius, true
	case shapes.Line:
		return math.Min(g.StartX, g.EndX), math.Min(g.StartY, g.EndY), math.Max(g.StartX, g.EndX), math.Max(g.StartY, g.EndY), true
	case shapes.Pencil:
		if len(g.Points) == 0 {
			return 0, 0, 0, 0, false
		}
		left, top = g.Points[0].X, g.Points[0].Y
		right, bottom = left, top
		for _, point := range g.Points[1:] {
			left, top = math.Min(left, point.X), math.Min(top, point.Y)
			right, bottom = math.Max(right, point.X), math.Max(bottom, point.Y)
		}
		return left, top, right, bottom, true
	case shapes.Text:
		return g.X, g.Y - g.Height, g.X + g.Width, g.Y, true
	default:
		return 0, 0, 0, 0, false
	}
}

// paperColor resolves a CSS color name or #rrggbb value. Colors that would vanish
// on white paper, and unknown colors, print black.
func paperColor(geometry shapes.Geometry) color.RGBA {
	if geometry == nil {
		return color.RGBA{A: 0xff}
	}
	resolved, ok := parseColor(geometry.Color())
	if !ok || (resolved.R >= 0xf0 && resolved.G >= 0xf0 && resolved.B >= 0xf0) {
		return color.RGBA{A: 0xff}
	}
	return resolved
}

func parseColor(value string) (color.RGBA, bool) {
	name := strings.ToLower(strings.TrimSpace(value))
	if named, ok := colornames.Map[name]; ok {
		return named, true
	}
	if len(name) == 7 && name[0] == '#' {
		var r, g, b uint8
		if _, err := fmt.Sscanf(name, "#%02x%02x%02x", &r, &g, &b); err == nil {
			return color.RGBA{R: r, G: g, B: b, A: 0xff}, true
		}
	}
	return color.RGBA{}, false
}
