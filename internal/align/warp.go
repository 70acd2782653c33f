package align

import (
	"image"
	"image/color"
	stddraw "image/draw"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"faceprep/internal/geometry"
)

// WarpImage resamples src through the transform into a square canvas of the
// given edge length. The warp is an inverse-mapped bilinear resample, not a
// crop-then-resize: the rigid correction the transform encodes must survive.
// Regions with no source coverage stay constant black.
func WarpImage(src image.Image, t geometry.AffineTransform, canvas int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, canvas, canvas))
	stddraw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, stddraw.Src)

	m := f64.Aff3{t.A, t.B, t.TX, t.C, t.D, t.TY}
	draw.BiLinear.Transform(dst, m, src, src.Bounds(), draw.Src, nil)
	return dst
}
