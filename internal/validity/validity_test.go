package validity

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// noisyPNG encodes a size x size noise image; noise defeats PNG filtering so
// the result clears the byte floor even at small sizes.
func noisyPNG(t *testing.T, size int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if buf.Len() < MinBytes {
		t.Fatalf("fixture too small: %d bytes", buf.Len())
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	sc := NewScanner(64)

	good := filepath.Join(dir, "good.png")
	writeFile(t, good, noisyPNG(t, 64))

	truncated := filepath.Join(dir, "trunc.png")
	writeFile(t, truncated, noisyPNG(t, 64)[:200])

	garbage := filepath.Join(dir, "garbage.png")
	writeFile(t, garbage, bytes.Repeat([]byte("notanimage"), 200))

	wrongSize := filepath.Join(dir, "wrong.png")
	writeFile(t, wrongSize, noisyPNG(t, 32))

	cases := []struct {
		path string
		want State
	}{
		{good, Valid},
		{truncated, Corrupt},
		{garbage, Corrupt},
		{wrongSize, Corrupt},
		{filepath.Join(dir, "absent.png"), Missing},
	}
	for _, c := range cases {
		if got := sc.Classify(c.path); got != c.want {
			t.Errorf("Classify(%s) = %v, want %v", filepath.Base(c.path), got, c.want)
		}
	}
}

func TestClassifyWithoutExpectedSize(t *testing.T) {
	dir := t.TempDir()
	sc := NewScanner(0)

	p := filepath.Join(dir, "any.png")
	writeFile(t, p, noisyPNG(t, 48))
	if got := sc.Classify(p); got != Valid {
		t.Fatalf("Classify = %v, want Valid", got)
	}
}

func TestScanDirPartitionsAndIgnoresTemp(t *testing.T) {
	dir := t.TempDir()
	sc := NewScanner(64)

	writeFile(t, filepath.Join(dir, "a.png"), noisyPNG(t, 64))
	writeFile(t, filepath.Join(dir, "b.png"), []byte("short"))
	writeFile(t, filepath.Join(dir, "c.png.tmp123"), noisyPNG(t, 64))
	writeFile(t, filepath.Join(dir, "d.png.tmp-restore"), noisyPNG(t, 64))
	// An id that merely contains ".tmp" is a real output, not an in-flight one.
	writeFile(t, filepath.Join(dir, "clip.tmp.png"), noisyPNG(t, 64))

	valid, corrupt, err := sc.ScanDir(dir)
	if err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	if _, ok := valid["a.png"]; !ok {
		t.Fatalf("valid = %v", valid)
	}
	if _, ok := valid["clip.tmp.png"]; !ok || len(valid) != 2 {
		t.Fatalf("valid = %v", valid)
	}
	if _, ok := corrupt["b.png"]; !ok || len(corrupt) != 1 {
		t.Fatalf("corrupt = %v", corrupt)
	}
}

func TestIsTempFile(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"000001.jpg.tmp123456", true},
		{"000001.jpg.tmp-restore", true},
		{"000001.jpg.tmp", true},
		{"000001.jpg", false},
		{"clip.tmp.jpg", false},
		{"a.tmp4.jpg", false},
	}
	for _, c := range cases {
		if got := isTempFile(c.name); got != c.want {
			t.Errorf("isTempFile(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestScanDirMissingDirectory(t *testing.T) {
	sc := NewScanner(0)
	valid, corrupt, err := sc.ScanDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	if len(valid) != 0 || len(corrupt) != 0 {
		t.Fatalf("expected empty sets, got %v / %v", valid, corrupt)
	}
}

func TestCountValid(t *testing.T) {
	dir := t.TempDir()
	sc := NewScanner(64)

	good := filepath.Join(dir, "good.png")
	writeFile(t, good, noisyPNG(t, 64))
	bad := filepath.Join(dir, "bad.png")
	writeFile(t, bad, []byte("x"))

	if n := sc.CountValid([]string{good, bad, filepath.Join(dir, "gone.png")}); n != 1 {
		t.Fatalf("CountValid = %d, want 1", n)
	}
}
