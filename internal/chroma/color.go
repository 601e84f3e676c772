// Package chroma provides the color and geometry primitives shared by the
// decoding pipeline.
//
// All colors are stored in the camera's native BGR channel order. Palette
// colors, the separator color and live samples all live in this one space and
// are compared with the same squared Euclidean distance.
package chroma

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// DefaultThreshold is the squared BGR distance below which two colors are
// considered the same.
const DefaultThreshold = 500

// ErrNotBGR is returned when a Mat does not hold 3-channel 8-bit pixels.
var ErrNotBGR = errors.New("mat is not 8-bit BGR")

// Color is a 3-channel 8-bit color in BGR order.
type Color struct {
	B, G, R uint8
}

// BGR builds a Color from its blue, green and red components.
func BGR(b, g, r uint8) Color {
	return Color{B: b, G: g, R: r}
}

// FromVec builds a Color from floating point channel values, rounding and
// saturating each channel into [0, 255].
func FromVec(b, g, r float64) Color {
	return Color{B: saturate(b), G: saturate(g), R: saturate(r)}
}

func saturate(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// SquaredDistance returns the squared Euclidean distance between a and b.
func SquaredDistance(a, b Color) int {
	db := int(a.B) - int(b.B)
	dg := int(a.G) - int(b.G)
	dr := int(a.R) - int(b.R)
	return db*db + dg*dg + dr*dr
}

// Similar reports whether a and b are closer than threshold. A pair exactly
// at the threshold is not similar.
func Similar(a, b Color, threshold int) bool {
	return SquaredDistance(a, b) < threshold
}

// Scalar converts c to a gocv.Scalar in BGR order.
func (c Color) Scalar() gocv.Scalar {
	return gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0)
}

// RGBA converts c to a color.RGBA, the type gocv drawing functions expect.
func (c Color) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

// String formats c as "b, g, r".
func (c Color) String() string {
	return fmt.Sprintf("%d, %d, %d", c.B, c.G, c.R)
}

// MarshalText implements encoding.TextMarshaler so colors serialize as
// "#rrggbb" in JSON payloads and the session store.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// UnmarshalText parses the "#rrggbb" form produced by MarshalText.
func (c *Color) UnmarshalText(text []byte) error {
	var r, g, b uint8
	if _, err := fmt.Sscanf(string(text), "#%02x%02x%02x", &r, &g, &b); err != nil {
		return fmt.Errorf("parse color %q: %w", text, err)
	}
	*c = Color{B: b, G: g, R: r}
	return nil
}

// Hex returns c as "#rrggbb".
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Pixels copies every pixel of an 8-bit BGR Mat into a flat slice in
// row-major order. Non-continuous Mats (regions) are supported.
func Pixels(m gocv.Mat) ([]Color, error) {
	if m.Empty() {
		return nil, nil
	}
	if m.Type() != gocv.MatTypeCV8UC3 {
		return nil, ErrNotBGR
	}

	cont := m.Clone()
	defer cont.Close()

	data := cont.ToBytes()
	pixels := make([]Color, 0, len(data)/3)
	for i := 0; i+2 < len(data); i += 3 {
		pixels = append(pixels, Color{B: data[i], G: data[i+1], R: data[i+2]})
	}
	return pixels, nil
}

// NewMat builds a rows x cols BGR Mat filled with c. The caller owns the
// returned Mat.
func NewMat(rows, cols int, c Color) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(c.Scalar(), rows, cols, gocv.MatTypeCV8UC3)
}

// Fill paints r of m with c.
func Fill(m *gocv.Mat, r image.Rectangle, c Color) {
	gocv.Rectangle(m, r, c.RGBA(), -1)
}
