package main

import "image"

// BoundingBox is an axis-aligned box in frame pixel coordinates.
// (X1,Y1) is the top-left corner and (X2,Y2) the exclusive bottom-right corner.
type BoundingBox struct {
	X1, Y1, X2, Y2 int
}

// Clamp restricts the box to [0,width]x[0,height]. Inverted coordinates
// collapse to an empty box instead of being swapped, so a malformed detector
// output never turns into a crop.
func (b BoundingBox) Clamp(width, height int) BoundingBox {
	c := BoundingBox{
		X1: clampInt(b.X1, 0, width),
		Y1: clampInt(b.Y1, 0, height),
		X2: clampInt(b.X2, 0, width),
		Y2: clampInt(b.Y2, 0, height),
	}
	if c.X2 < c.X1 {
		c.X2 = c.X1
	}
	if c.Y2 < c.Y1 {
		c.Y2 = c.Y1
	}
	return c
}

// Empty reports whether the box has zero width or height.
func (b BoundingBox) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() int {
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() int {
	return b.Y2 - b.Y1
}

// Rect converts the box to an image.Rectangle for gocv calls.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// IoU returns the intersection over union of two boxes.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	ix1, iy1 := max(b.X1, o.X1), max(b.Y1, o.Y1)
	ix2, iy2 := min(b.X2, o.X2), min(b.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := float64((ix2 - ix1) * (iy2 - iy1))
	union := float64(b.area()+o.area()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func (b BoundingBox) area() int {
	if b.Empty() {
		return 0
	}
	return b.Width() * b.Height()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
