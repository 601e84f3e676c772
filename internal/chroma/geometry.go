package chroma

import "image"

// Bounds returns the rectangle covering a rows x cols frame.
func Bounds(rows, cols int) image.Rectangle {
	return image.Rect(0, 0, cols, rows)
}

// Centered returns a width x height rectangle centered inside bounds.
func Centered(bounds image.Rectangle, width, height int) image.Rectangle {
	x := bounds.Min.X + (bounds.Dx()-width)/2
	y := bounds.Min.Y + (bounds.Dy()-height)/2
	return image.Rect(x, y, x+width, y+height)
}

// Fits reports whether r is non-empty and lies entirely inside bounds.
func Fits(r, bounds image.Rectangle) bool {
	return !r.Empty() && r.In(bounds)
}

// Clamp intersects r with bounds.
func Clamp(r, bounds image.Rectangle) image.Rectangle {
	return r.Intersect(bounds)
}

// SplitRows partitions r into n full-width strips of equal height, top to
// bottom. Remainder rows at the bottom are left out. It returns nil if r is
// shorter than n rows.
func SplitRows(r image.Rectangle, n int) []image.Rectangle {
	if n <= 0 || r.Dy() < n {
		return nil
	}

	h := r.Dy() / n
	strips := make([]image.Rectangle, n)
	for i := 0; i < n; i++ {
		y := r.Min.Y + i*h
		strips[i] = image.Rect(r.Min.X, y, r.Max.X, y+h)
	}
	return strips
}
