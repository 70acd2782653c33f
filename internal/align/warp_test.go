package align

import (
	"image"
	"image/color"
	"testing"

	"faceprep/internal/geometry"
)

func TestWarpImageIdentity(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			src.Set(x, y, color.RGBA{uint8(x * 30), uint8(y * 30), 7, 255})
		}
	}

	dst := WarpImage(src, geometry.Identity(), 16)
	if dst.Bounds().Dx() != 16 || dst.Bounds().Dy() != 16 {
		t.Fatalf("canvas = %v", dst.Bounds())
	}

	// Interior source pixels survive untouched under identity.
	for y := 1; y < 7; y++ {
		for x := 1; x < 7; x++ {
			want := src.RGBAAt(x, y)
			got := dst.RGBAAt(x, y)
			if got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}

	// Outside the mapped region the canvas stays black.
	if got := dst.RGBAAt(12, 12); got != (color.RGBA{0, 0, 0, 255}) {
		t.Fatalf("border pixel = %v, want black", got)
	}
}

func TestWarpImageTranslation(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}

	shift := geometry.AffineTransform{A: 1, D: 1, TX: 6, TY: 6}
	dst := WarpImage(src, shift, 16)

	if got := dst.RGBAAt(8, 8); got != (color.RGBA{200, 100, 50, 255}) {
		t.Fatalf("translated pixel = %v", got)
	}
	if got := dst.RGBAAt(2, 2); got != (color.RGBA{0, 0, 0, 255}) {
		t.Fatalf("pixel before the shifted region = %v, want black", got)
	}
}
