package geometry

import "math"

// Point2D is a point in pixel space.
type Point2D struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance to q.
func (p Point2D) Distance(q Point2D) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// AffineTransform is a 2x3 row-major affine matrix:
//
//	| A  B  TX |
//	| C  D  TY |
type AffineTransform struct {
	A, B, TX float64
	C, D, TY float64
}

// Identity returns the identity transform.
func Identity() AffineTransform {
	return AffineTransform{A: 1, D: 1}
}

// Apply maps p through the transform.
func (t AffineTransform) Apply(p Point2D) Point2D {
	return Point2D{
		X: t.A*p.X + t.B*p.Y + t.TX,
		Y: t.C*p.X + t.D*p.Y + t.TY,
	}
}

// Scale returns the uniform scale factor encoded in the transform,
// assuming it is a similarity (rotation + uniform scale + translation).
func (t AffineTransform) Scale() float64 {
	return math.Hypot(t.A, t.C)
}

// Rotation returns the rotation angle in radians, assuming a similarity.
func (t AffineTransform) Rotation() float64 {
	return math.Atan2(t.C, t.A)
}
