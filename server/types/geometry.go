package types

import (
	"fmt"
	"math"
)

// Bounding box coordinate formats
const (
	FormatXYXY = "xyxy"
	FormatXYWH = "xywh"
)

// BBox is a bounding box. Coords hold four values in Format order.
type BBox struct {
	Coords       []float64 `json:"coords"`
	Format       string    `json:"format"`
	IsNormalized bool      `json:"is_normalized"`
	Confidence   float64   `json:"confidence,omitempty"`
}

// NewXYXY builds a pixel-space xyxy box
func NewXYXY(x1, y1, x2, y2 float64) BBox {
	return BBox{Coords: []float64{x1, y1, x2, y2}, Format: FormatXYXY}
}

// NormalizeXYXY converts pixel xyxy coordinates to unit-relative ones using
// the image width and height: (x1/W, y1/H, x2/W, y2/H).
func NormalizeXYXY(x1, y1, x2, y2 float64, width, height int) (BBox, error) {
	if width <= 0 || height <= 0 {
		return BBox{}, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	w, h := float64(width), float64(height)
	return BBox{
		Coords:       []float64{x1 / w, y1 / h, x2 / w, y2 / h},
		Format:       FormatXYXY,
		IsNormalized: true,
	}, nil
}

// Denormalize returns pixel coordinates for a normalized box
func (b BBox) Denormalize(width, height int) BBox {
	if !b.IsNormalized || len(b.Coords) != 4 {
		return b
	}
	w, h := float64(width), float64(height)
	return BBox{
		Coords:     []float64{b.Coords[0] * w, b.Coords[1] * h, b.Coords[2] * w, b.Coords[3] * h},
		Format:     b.Format,
		Confidence: b.Confidence,
	}
}

// XYXY returns the box in xyxy format
func (b BBox) XYXY() BBox {
	if b.Format != FormatXYWH || len(b.Coords) != 4 {
		return b
	}
	c := b.Coords
	out := b
	out.Coords = []float64{c[0], c[1], c[0] + c[2], c[1] + c[3]}
	out.Format = FormatXYXY
	return out
}

// XYWH returns the box in xywh format
func (b BBox) XYWH() BBox {
	if b.Format == FormatXYWH || len(b.Coords) != 4 {
		return b
	}
	c := b.Coords
	out := b
	out.Coords = []float64{c[0], c[1], c[2] - c[0], c[3] - c[1]}
	out.Format = FormatXYWH
	return out
}

// IsZero reports an all-zero (absent) box
func (b BBox) IsZero() bool {
	for _, c := range b.Coords {
		if c != 0 {
			return false
		}
	}
	return true
}

// Round returns a copy with coordinates rounded to the given number of decimals
func (b BBox) Round(decimals int) BBox {
	p := math.Pow(10, float64(decimals))
	out := b
	out.Coords = make([]float64, len(b.Coords))
	for i, c := range b.Coords {
		out.Coords[i] = math.Round(c*p) / p
	}
	return out
}
