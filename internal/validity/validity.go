// Package validity classifies expected output files as usable or not without
// reprocessing their sources. The three-way result lets the build scheduler
// tell "never built" from "built but damaged" in its logs while treating both
// as work to redo.
package validity

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
)

// MinBytes is the sanity floor below which a file is considered a truncated
// write rather than an image.
const MinBytes = 1024

// State classifies one expected output path.
type State int

const (
	Missing State = iota
	Corrupt
	Valid
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Corrupt:
		return "corrupt"
	default:
		return "missing"
	}
}

// Scanner checks output files against an expected byte/geometry contract.
type Scanner struct {
	MinBytes   int64
	ExpectSize *image.Point // exact decoded width x height, nil to skip
}

// NewScanner returns a Scanner with the default size floor. expectSize of
// zero or less disables the dimension check.
func NewScanner(expectSize int) *Scanner {
	s := &Scanner{MinBytes: MinBytes}
	if expectSize > 0 {
		s.ExpectSize = &image.Point{X: expectSize, Y: expectSize}
	}
	return s
}

// Classify reports whether path holds a usable output image.
func (s *Scanner) Classify(path string) State {
	info, err := os.Stat(path)
	if err != nil {
		return Missing
	}
	if info.IsDir() || info.Size() < s.minBytes() {
		return Corrupt
	}

	f, err := os.Open(path)
	if err != nil {
		return Corrupt
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Corrupt
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Corrupt
	}
	if s.ExpectSize != nil && (b.Dx() != s.ExpectSize.X || b.Dy() != s.ExpectSize.Y) {
		return Corrupt
	}
	return Valid
}

// ScanDir classifies every file in dir, returning the valid and corrupt
// filename sets. Temp files from interrupted atomic writes are not outputs
// and are ignored. A missing directory yields empty sets.
func (s *Scanner) ScanDir(dir string) (valid map[string]struct{}, corrupt map[string]struct{}, err error) {
	valid = make(map[string]struct{})
	corrupt = make(map[string]struct{})

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return valid, corrupt, nil
	}
	if err != nil {
		return nil, nil, err
	}

	for _, e := range entries {
		if e.IsDir() || isTempFile(e.Name()) {
			continue
		}
		switch s.Classify(filepath.Join(dir, e.Name())) {
		case Valid:
			valid[e.Name()] = struct{}{}
		default:
			corrupt[e.Name()] = struct{}{}
		}
	}
	return valid, corrupt, nil
}

// CountValid returns how many of the given paths classify as Valid.
func (s *Scanner) CountValid(paths []string) int {
	ok := 0
	for _, p := range paths {
		if s.Classify(p) == Valid {
			ok++
		}
	}
	return ok
}

func (s *Scanner) minBytes() int64 {
	if s.MinBytes > 0 {
		return s.MinBytes
	}
	return MinBytes
}

// isTempFile matches the in-flight names the build stages produce: atomic
// writes stage through "<base>.tmp<random digits>" and the restore stage
// through "<base>.tmp-restore". Anything else, including ids that merely
// contain ".tmp", is a real output.
func isTempFile(name string) bool {
	if strings.HasSuffix(name, ".tmp-restore") {
		return true
	}
	i := strings.LastIndex(name, ".tmp")
	if i < 0 {
		return false
	}
	for _, r := range name[i+len(".tmp"):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
