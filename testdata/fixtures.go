// Package testdata generates synthetic frames and templates that mimic what
// the camera sees when pointed at an encoded program.
package testdata

import (
	"fmt"
	"image"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/ayusman/chromatape/internal/chroma"
)

// PatternSize is the side of every generated marker template.
const PatternSize = 24

// PaletteColors are eight well separated BGR colors, one per opcode slot.
var PaletteColors = []chroma.Color{
	chroma.BGR(0, 0, 200),
	chroma.BGR(0, 100, 200),
	chroma.BGR(0, 200, 200),
	chroma.BGR(100, 0, 0),
	chroma.BGR(100, 0, 100),
	chroma.BGR(0, 100, 0),
	chroma.BGR(200, 100, 0),
	chroma.BGR(200, 200, 0),
}

// Separator is the "no instruction" color shown between symbols.
var Separator = chroma.BGR(40, 40, 40)

// Background fills everything that is not a marker, header or body.
var Background = chroma.BGR(128, 128, 128)

// Layout places the header markers, header slots and body region inside a
// small frame.
type Layout struct {
	Width, Height int
	StartAt       image.Point
	HeaderWidth   int
	SlotHeight    int
	BodyOffsetY   int
	BodyWidth     int
	BodyHeight    int
	StopAt        image.Point
}

// DefaultLayout returns a 320x240 layout whose geometry matches a decoder
// configured with HeaderWidth 40, body offset 16 and a centered 200x200
// search window.
func DefaultLayout() Layout {
	return Layout{
		Width:       320,
		Height:      240,
		StartAt:     image.Pt(60, 30),
		HeaderWidth: 40,
		SlotHeight:  10,
		BodyOffsetY: 16,
		BodyWidth:   64,
		BodyHeight:  16,
		StopAt:      image.Pt(200, 40),
	}
}

// HeaderRect returns the palette strip between the markers.
func (l Layout) HeaderRect() image.Rectangle {
	top := l.StartAt.Y + PatternSize
	return image.Rect(l.StartAt.X, top, l.StartAt.X+l.HeaderWidth, top+8*l.SlotHeight)
}

// EndAt returns the top-left corner of the header_end marker.
func (l Layout) EndAt() image.Point {
	return image.Pt(l.StartAt.X, l.HeaderRect().Max.Y)
}

// BodyRect returns the body region for a decoder that centers the body
// horizontally.
func (l Layout) BodyRect() image.Rectangle {
	x := l.Width / 2
	y := l.EndAt().Y + l.BodyOffsetY
	return image.Rect(x, y, x+l.BodyWidth, y+l.BodyHeight)
}

// Frame draws a complete frame: both header markers, the header slots
// filled with palette (if non-nil) and the body region filled with body.
// The caller owns the returned Mat.
func (l Layout) Frame(palette []chroma.Color, body chroma.Color) gocv.Mat {
	frame := chroma.NewMat(l.Height, l.Width, Background)
	l.drawHeader(&frame, palette, true)
	chroma.Fill(&frame, l.BodyRect(), body)
	return frame
}

// StartOnlyFrame draws header_start and the slots but not header_end.
func (l Layout) StartOnlyFrame(palette []chroma.Color, body chroma.Color) gocv.Mat {
	frame := chroma.NewMat(l.Height, l.Width, Background)
	l.drawHeader(&frame, palette, false)
	chroma.Fill(&frame, l.BodyRect(), body)
	return frame
}

// StopFrame draws a complete frame plus the end-of-body marker.
func (l Layout) StopFrame(palette []chroma.Color, body chroma.Color) gocv.Mat {
	frame := l.Frame(palette, body)
	paste(&frame, StopPattern(), l.StopAt)
	return frame
}

func (l Layout) drawHeader(frame *gocv.Mat, palette []chroma.Color, withEnd bool) {
	paste(frame, StartPattern(), l.StartAt)
	if withEnd {
		paste(frame, EndPattern(), l.EndAt())
	}

	header := l.HeaderRect()
	for i, c := range palette {
		y := header.Min.Y + i*l.SlotHeight
		chroma.Fill(frame, image.Rect(header.Min.X, y, header.Max.X, y+l.SlotHeight), c)
	}
}

// paste copies a grayscale pattern into frame at loc, closing the pattern.
func paste(frame *gocv.Mat, pattern gocv.Mat, loc image.Point) {
	defer pattern.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(pattern, &bgr, gocv.ColorGrayToBGR)

	roi := frame.Region(image.Rectangle{Min: loc, Max: loc.Add(image.Pt(pattern.Cols(), pattern.Rows()))})
	defer roi.Close()
	bgr.CopyTo(&roi)
}

// StartPattern is a 4-pixel checkerboard.
func StartPattern() gocv.Mat {
	return pattern(func(x, y int) bool {
		return (x/4+y/4)%2 == 0
	})
}

// EndPattern is a dark cross on a light field.
func EndPattern() gocv.Mat {
	return pattern(func(x, y int) bool {
		return abs(x-PatternSize/2) < 3 || abs(y-PatternSize/2) < 3
	})
}

// StopPattern is a dark X on a light field.
func StopPattern() gocv.Mat {
	return pattern(func(x, y int) bool {
		return abs(x-y) < 3 || abs(x+y-(PatternSize-1)) < 3
	})
}

func pattern(dark func(x, y int) bool) gocv.Mat {
	data := make([]byte, PatternSize*PatternSize)
	for y := 0; y < PatternSize; y++ {
		for x := 0; x < PatternSize; x++ {
			v := byte(230)
			if dark(x, y) {
				v = 20
			}
			data[y*PatternSize+x] = v
		}
	}

	m, err := gocv.NewMatFromBytes(PatternSize, PatternSize, gocv.MatTypeCV8UC1, data)
	if err != nil {
		panic(fmt.Sprintf("testdata: build pattern: %v", err))
	}
	defer m.Close()
	return m.Clone()
}

// WriteTemplates writes header_start.png and header_end.png into dir.
func WriteTemplates(dir string) error {
	if err := write(filepath.Join(dir, "header_start.png"), StartPattern()); err != nil {
		return err
	}
	return write(filepath.Join(dir, "header_end.png"), EndPattern())
}

// WriteStopTemplate writes body_end.png into dir.
func WriteStopTemplate(dir string) error {
	return write(filepath.Join(dir, "body_end.png"), StopPattern())
}

func write(path string, m gocv.Mat) error {
	defer m.Close()
	if ok := gocv.IMWrite(path, m); !ok {
		return fmt.Errorf("write %s", path)
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
