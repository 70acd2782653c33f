package degrade

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"math/rand"
	"os"

	"golang.org/x/image/draw"

	"faceprep/internal/config"
	"faceprep/internal/fsutil"
)

// NativeProcessor implements every preset in pure Go. It has no external
// requirements and is always available.
type NativeProcessor struct {
	Log *slog.Logger
}

func (p *NativeProcessor) Name() string { return "native" }

func (p *NativeProcessor) IsAvailable() bool { return true }

func (p *NativeProcessor) Apply(ctx context.Context, req Request) (Result, error) {
	src, err := loadRGBA(req.InputPath)
	if err != nil {
		return Result{}, fmt.Errorf("load %s: %w", req.InputPath, err)
	}

	var out *image.RGBA
	switch req.Preset.Type {
	case config.PresetGaussianBlur:
		out = gaussianBlur(src, req.Preset.Sigma)
	case config.PresetJPEG:
		out, err = jpegRoundTrip(src, req.Preset.Quality)
		if err != nil {
			return Result{}, fmt.Errorf("jpeg recompress: %w", err)
		}
	case config.PresetGaussianNoise:
		out = addGaussianNoise(src, req.Preset.Sigma, req.Seed)
	default:
		return Result{}, fmt.Errorf("unsupported degradation type %q for preset %q",
			req.Preset.Type, req.Preset.Name)
	}

	size := TargetSize(req.Preset, req.OutputSize)
	if size > 0 && (out.Bounds().Dx() != size || out.Bounds().Dy() != size) {
		if p.Log != nil {
			p.Log.Warn("degraded size does not match target; resizing",
				"preset", req.Preset.Name, "target", size,
				"width", out.Bounds().Dx(), "height", out.Bounds().Dy())
		}
		out = resize(out, size)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: OutputQuality}); err != nil {
		return Result{}, err
	}
	if err := fsutil.WriteFileAtomic(req.OutputPath, buf.Bytes()); err != nil {
		return Result{}, err
	}

	return Result{
		OutputPath: req.OutputPath,
		Width:      out.Bounds().Dx(),
		Height:     out.Bounds().Dy(),
		ToolUsed:   p.Name(),
	}, nil
}

func loadRGBA(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(out, image.Point{}, img, b, draw.Src, nil)
	return out
}

// gaussianBlur applies a separable gaussian convolution with kernel radius
// ceil(3*sigma), extending edge pixels.
func gaussianBlur(src *image.RGBA, sigma float64) *image.RGBA {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	w := src.Bounds().Dx()
	h := src.Bounds().Dy()

	horiz := image.NewRGBA(src.Bounds())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, b float64
			for k, weight := range kernel {
				sx := clampInt(x+k-radius, 0, w-1)
				c := src.RGBAAt(sx, y)
				r += float64(c.R) * weight
				g += float64(c.G) * weight
				b += float64(c.B) * weight
			}
			horiz.SetRGBA(x, y, rgba8(r, g, b))
		}
	}

	out := image.NewRGBA(src.Bounds())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, b float64
			for k, weight := range kernel {
				sy := clampInt(y+k-radius, 0, h-1)
				c := horiz.RGBAAt(x, sy)
				r += float64(c.R) * weight
				g += float64(c.G) * weight
				b += float64(c.B) * weight
			}
			out.SetRGBA(x, y, rgba8(r, g, b))
		}
	}
	return out
}

func jpegRoundTrip(src *image.RGBA, quality int) (*image.RGBA, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, err
	}
	return toRGBA(img), nil
}

func addGaussianNoise(src *image.RGBA, sigma float64, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	w := src.Bounds().Dx()
	h := src.Bounds().Dy()
	out := image.NewRGBA(src.Bounds())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.RGBAAt(x, y)
			out.SetRGBA(x, y, rgba8(
				float64(c.R)+rng.NormFloat64()*sigma,
				float64(c.G)+rng.NormFloat64()*sigma,
				float64(c.B)+rng.NormFloat64()*sigma,
			))
		}
	}
	return out
}

func resize(src *image.RGBA, size int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(out, out.Bounds(), src, src.Bounds(), draw.Src, nil)
	return out
}

func rgba8(r, g, b float64) color.RGBA {
	return color.RGBA{
		R: uint8(clampFloat(r)),
		G: uint8(clampFloat(g)),
		B: uint8(clampFloat(b)),
		A: 255,
	}
}

func clampFloat(v float64) float64 {
	return math.Round(clamp(v, 0, 255))
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

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
