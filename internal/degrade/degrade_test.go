package degrade

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"faceprep/internal/config"
)

func writeTestPNG(t *testing.T, path string, w, h int, fill func(x, y int) color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, fill(x, y))
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

func decodeOutput(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

func TestTargetSize(t *testing.T) {
	override := 32
	if got := TargetSize(config.Preset{OutputSize: &override}, 64); got != 32 {
		t.Errorf("override should win, got %d", got)
	}
	if got := TargetSize(config.Preset{}, 64); got != 64 {
		t.Errorf("global should apply without override, got %d", got)
	}
	if got := TargetSize(config.Preset{}, 0); got != 0 {
		t.Errorf("unset sizes should keep source geometry, got %d", got)
	}
}

func TestItemSeedDeterministic(t *testing.T) {
	a := ItemSeed(1337, "blur_s3", "000001.jpg")
	b := ItemSeed(1337, "blur_s3", "000001.jpg")
	if a != b {
		t.Fatalf("same inputs produced different seeds: %d vs %d", a, b)
	}
	if a == ItemSeed(1337, "blur_s3", "000002.jpg") {
		t.Errorf("different ids should produce different seeds")
	}
	if a == ItemSeed(1337, "noise_s25", "000001.jpg") {
		t.Errorf("different presets should produce different seeds")
	}
	if a == ItemSeed(42, "blur_s3", "000001.jpg") {
		t.Errorf("different global seeds should produce different seeds")
	}
}

func TestNativeGaussianBlurSoftensEdge(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "edge.png")
	out := filepath.Join(dir, "edge_blur.jpg")

	// Left half black, right half white.
	writeTestPNG(t, in, 64, 64, func(x, y int) color.RGBA {
		if x < 32 {
			return color.RGBA{0, 0, 0, 255}
		}
		return color.RGBA{255, 255, 255, 255}
	})

	proc := &NativeProcessor{}
	res, err := proc.Apply(context.Background(), Request{
		InputPath:  in,
		OutputPath: out,
		Preset:     config.Preset{Name: "blur_s3", Type: config.PresetGaussianBlur, Sigma: 3},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Width != 64 || res.Height != 64 {
		t.Fatalf("unexpected output geometry %dx%d", res.Width, res.Height)
	}

	img := decodeOutput(t, out)
	r, _, _, _ := img.At(32, 32).RGBA()
	v := r >> 8
	if v < 32 || v > 224 {
		t.Errorf("edge pixel should be intermediate after blur, got %d", v)
	}
}

func TestNativeJPEGRecompression(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "grad.png")
	out := filepath.Join(dir, "grad_jpeg.jpg")

	writeTestPNG(t, in, 48, 48, func(x, y int) color.RGBA {
		return color.RGBA{uint8(x * 5), uint8(y * 5), uint8((x + y) * 2), 255}
	})

	proc := &NativeProcessor{}
	res, err := proc.Apply(context.Background(), Request{
		InputPath:  in,
		OutputPath: out,
		Preset:     config.Preset{Name: "jpeg_q10", Type: config.PresetJPEG, Quality: 10},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.ToolUsed != "native" {
		t.Errorf("ToolUsed = %q, want native", res.ToolUsed)
	}
	img := decodeOutput(t, out)
	if img.Bounds().Dx() != 48 || img.Bounds().Dy() != 48 {
		t.Errorf("recompression should preserve geometry, got %v", img.Bounds())
	}
}

func TestNativeNoiseDeterministicUnderSeed(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "gray.png")
	writeTestPNG(t, in, 32, 32, func(x, y int) color.RGBA {
		return color.RGBA{128, 128, 128, 255}
	})

	proc := &NativeProcessor{}
	preset := config.Preset{Name: "noise_s25", Type: config.PresetGaussianNoise, Sigma: 25}

	apply := func(name string, seed int64) []byte {
		out := filepath.Join(dir, name)
		_, err := proc.Apply(context.Background(), Request{
			InputPath: in, OutputPath: out, Preset: preset, Seed: seed,
		})
		if err != nil {
			t.Fatalf("apply %s: %v", name, err)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		return data
	}

	a := apply("a.jpg", 7)
	b := apply("b.jpg", 7)
	c := apply("c.jpg", 8)

	if !bytes.Equal(a, b) {
		t.Errorf("same seed should produce identical output")
	}
	if bytes.Equal(a, c) {
		t.Errorf("different seeds should produce different output")
	}
}

func TestNativeResizesToTarget(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "big.png")
	out := filepath.Join(dir, "small.jpg")
	writeTestPNG(t, in, 128, 128, func(x, y int) color.RGBA {
		return color.RGBA{uint8(x), uint8(y), 50, 255}
	})

	proc := &NativeProcessor{}
	res, err := proc.Apply(context.Background(), Request{
		InputPath:  in,
		OutputPath: out,
		Preset:     config.Preset{Name: "blur_s3", Type: config.PresetGaussianBlur, Sigma: 3},
		OutputSize: 64,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Width != 64 || res.Height != 64 {
		t.Fatalf("resize not applied, got %dx%d", res.Width, res.Height)
	}
	img := decodeOutput(t, out)
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Errorf("persisted output is %v, want 64x64", img.Bounds())
	}
}

func TestNativeRejectsUnknownPresetType(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	writeTestPNG(t, in, 8, 8, func(x, y int) color.RGBA {
		return color.RGBA{0, 0, 0, 255}
	})

	proc := &NativeProcessor{}
	_, err := proc.Apply(context.Background(), Request{
		InputPath:  in,
		OutputPath: filepath.Join(dir, "out.jpg"),
		Preset:     config.Preset{Name: "mystery", Type: "motion_blur"},
	})
	if err == nil {
		t.Fatalf("expected error for unknown preset type")
	}
}

type stubProcessor struct {
	name      string
	available bool
}

func (s *stubProcessor) Name() string       { return s.name }
func (s *stubProcessor) IsAvailable() bool  { return s.available }
func (s *stubProcessor) Apply(ctx context.Context, req Request) (Result, error) {
	return Result{ToolUsed: s.name}, nil
}

func TestManagerSelection(t *testing.T) {
	cfg := &config.Degradations{Processor: "imagemagick"}

	m := NewManager(cfg)
	m.Register(&stubProcessor{name: "imagemagick", available: true})
	if got := m.Best().Name(); got != "imagemagick" {
		t.Errorf("preferred available processor not selected, got %q", got)
	}

	m.Register(&stubProcessor{name: "imagemagick", available: false})
	if got := m.Best().Name(); got != "native" {
		t.Errorf("unavailable preferred should fall back to native, got %q", got)
	}
}
