// Package restore is the seam to an external face restoration model. The
// pipeline only ever loads a checkpoint and enhances single files through it;
// everything about the model itself stays on the other side of the interface.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// ErrUnavailable is returned by Load when the restoration tool or its
// checkpoint cannot be found on this host.
var ErrUnavailable = errors.New("restoration model unavailable")

// Params tunes a single enhancement call.
type Params struct {
	// Fidelity trades identity preservation against restoration strength,
	// in [0,1].
	Fidelity float64
}

// Handle identifies a loaded model instance.
type Handle struct {
	Checkpoint string
	Tool       string
}

// Restorer loads a model checkpoint and enhances images file to file. Both
// calls may be slow and may fail per item; callers apply the same
// skip-and-continue policy as any other per-item build step.
type Restorer interface {
	Load(ctx context.Context, checkpoint string) (Handle, error)
	Enhance(ctx context.Context, h Handle, inPath, outPath string, p Params) error
}

// ExecRestorer shells out to a restoration inference tool. The tool is
// opaque: it is expected to read one image, write one image and exit
// non-zero on failure.
type ExecRestorer struct {
	// Tool is the binary name or path of the inference command.
	Tool string
	// WeightsDir is searched for checkpoints after FACEPREP_WEIGHTS.
	WeightsDir string
}

func (r *ExecRestorer) Load(ctx context.Context, checkpoint string) (Handle, error) {
	if r.Tool == "" {
		return Handle{}, fmt.Errorf("%w: no tool configured", ErrUnavailable)
	}
	toolPath, err := exec.LookPath(r.Tool)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %s not found", ErrUnavailable, r.Tool)
	}
	ckpt, err := r.resolveCheckpoint(checkpoint)
	if err != nil {
		return Handle{}, err
	}
	return Handle{Checkpoint: ckpt, Tool: toolPath}, nil
}

func (r *ExecRestorer) Enhance(ctx context.Context, h Handle, inPath, outPath string, p Params) error {
	if h.Tool == "" {
		return fmt.Errorf("%w: model not loaded", ErrUnavailable)
	}
	args := []string{
		"--input", inPath,
		"--output", outPath,
		"--checkpoint", h.Checkpoint,
		"--fidelity", strconv.FormatFloat(p.Fidelity, 'g', -1, 64),
	}
	cmd := exec.CommandContext(ctx, h.Tool, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed on %s: %v (output: %s)",
			filepath.Base(h.Tool), filepath.Base(inPath), err, truncate(string(out), 200))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("%s exited cleanly but wrote no output for %s",
			filepath.Base(h.Tool), filepath.Base(inPath))
	}
	return nil
}

// resolveCheckpoint tries the identifier as given, then FACEPREP_WEIGHTS,
// then the configured weights dir, then the user cache.
func (r *ExecRestorer) resolveCheckpoint(checkpoint string) (string, error) {
	if checkpoint == "" {
		return "", fmt.Errorf("%w: no checkpoint configured", ErrUnavailable)
	}

	candidates := []string{checkpoint}
	if env := os.Getenv("FACEPREP_WEIGHTS"); env != "" {
		candidates = append(candidates, filepath.Join(env, checkpoint))
	}
	if r.WeightsDir != "" {
		candidates = append(candidates, filepath.Join(r.WeightsDir, checkpoint))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".cache", "faceprep", checkpoint))
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: checkpoint %q not found in any weights location",
		ErrUnavailable, checkpoint)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
