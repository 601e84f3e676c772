package detector

import (
	"image"

	"github.com/ayusman/chromatape/internal/chroma"
)

// DefaultHeaderWidth is the width of the header region in pixels.
const DefaultHeaderWidth = 120

// Header is the palette strip between the header_start and header_end
// markers.
type Header struct {
	Rect  image.Rectangle
	Start MatchResult
	End   MatchResult
}

// ResolveHeader combines the header_start and header_end results of one
// frame into a Header. The header sits directly below header_start, spans
// width pixels and ends at the top of header_end. It reports false when
// either marker missed, when the gap is shorter than minHeight rows, or when
// the rectangle leaves bounds.
func ResolveHeader(results []MatchResult, width, minHeight int, bounds image.Rectangle) (Header, bool) {
	start, ok := Find(results, HeaderStart)
	if !ok || !start.Hit {
		return Header{}, false
	}
	end, ok := Find(results, HeaderEnd)
	if !ok || !end.Hit {
		return Header{}, false
	}

	top := start.Location.Y + start.Size.Y
	height := end.Location.Y - top
	if height <= 0 || height < minHeight {
		return Header{}, false
	}

	rect := image.Rect(start.Location.X, top, start.Location.X+width, top+height)
	if !chroma.Fits(rect, bounds) {
		return Header{}, false
	}

	return Header{Rect: rect, Start: start, End: end}, true
}

// Slots partitions the header into n equal-height, full-width strips, top to
// bottom.
func (h Header) Slots(n int) []image.Rectangle {
	return chroma.SplitRows(h.Rect, n)
}

// BodyAnchor returns the point the body region is positioned from: the
// top-left corner of the header_end match.
func (h Header) BodyAnchor() image.Point {
	return h.End.Location
}

// BodyConfig positions the body region relative to the body anchor.
type BodyConfig struct {
	// X is the absolute left edge; a negative value centers the region's
	// left edge at half the frame width.
	X int

	// OffsetY is added to the anchor's Y coordinate.
	OffsetY int

	Width  int
	Height int
}

// DefaultBodyConfig returns the standard 64x16 body region, 16 pixels below
// the header_end marker's top edge.
func DefaultBodyConfig() BodyConfig {
	return BodyConfig{X: -1, OffsetY: 16, Width: 64, Height: 16}
}

// BodyRegion returns the body rectangle for anchor, or false if it does not
// fit inside bounds.
func BodyRegion(anchor image.Point, cfg BodyConfig, bounds image.Rectangle) (image.Rectangle, bool) {
	x := cfg.X
	if x < 0 {
		x = bounds.Min.X + bounds.Dx()/2
	}
	y := anchor.Y + cfg.OffsetY

	r := image.Rect(x, y, x+cfg.Width, y+cfg.Height)
	if !chroma.Fits(r, bounds) {
		return image.Rectangle{}, false
	}
	return r, true
}
