package align

import (
	"math"

	"faceprep/internal/geometry"
)

// BBox is an axis-aligned box in pixel space.
type BBox struct {
	X, Y, W, H float64
}

// TransformBBox maps a source-space box into the canonical canvas. Only the
// two opposite corners are transformed; the result is the axis-aligned
// bounding rectangle of those corners, clamped to the canvas. Rotation can
// turn a box into a non-axis-aligned quad, but the output contract is always
// axis-aligned, and a box extending past the canvas is truncated rather than
// rejected: downstream consumers require an in-bounds box for every record.
func TransformBBox(t geometry.AffineTransform, box BBox, canvas int) BBox {
	p0 := t.Apply(geometry.Point2D{X: box.X, Y: box.Y})
	p1 := t.Apply(geometry.Point2D{X: box.X + box.W, Y: box.Y + box.H})

	xMin := math.Min(p0.X, p1.X)
	yMin := math.Min(p0.Y, p1.Y)
	w := math.Abs(p1.X - p0.X)
	h := math.Abs(p1.Y - p0.Y)

	edge := float64(canvas)
	xMin = clamp(xMin, 0, edge-1)
	yMin = clamp(yMin, 0, edge-1)
	w = clamp(w, 1, edge-xMin)
	h = clamp(h, 1, edge-yMin)

	return BBox{X: xMin, Y: yMin, W: w, H: h}
}

// Round returns the box with all fields rounded to the nearest integer, as
// persisted in the aligned bbox table.
func (b BBox) Round() BBox {
	return BBox{
		X: math.Round(b.X),
		Y: math.Round(b.Y),
		W: math.Round(b.W),
		H: math.Round(b.H),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
