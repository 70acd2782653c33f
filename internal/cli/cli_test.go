package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"faceprep/internal/config"
	"faceprep/internal/storage"
)

// writeTestConfig creates a config file rooted in a fresh temp directory and
// returns its path along with the parsed configuration.
func writeTestConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := map[string]any{
		"paths": map[string]any{
			"dataset_root":  filepath.Join(dir, "dataset"),
			"output_root":   filepath.Join(dir, "outputs"),
			"logs_dir":      filepath.Join(dir, "logs"),
			"database_path": filepath.Join(dir, "faceprep.db"),
		},
		"processing": map[string]any{"parallel_jobs": 1},
		"logging":    map[string]any{"level": "error", "format": "text"},
		"alignment": map[string]any{
			"image_size":      96,
			"expected_width":  96,
			"expected_height": 96,
		},
		"degradations": map[string]any{
			"seed":      1,
			"processor": "native",
			"presets": []map[string]any{
				{"name": "jpeg_q10", "type": "jpeg", "quality": 10},
			},
		},
		"restoration": map[string]any{
			"method":          "stub",
			"fidelity_values": []float64{0.5},
		},
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	parsed, err := config.LoadPath(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return path, parsed
}

func execute(t *testing.T, configPath string, args ...string) error {
	t.Helper()
	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	return cmd.ExecuteContext(context.Background())
}

func TestRunRejectsUnknownStage(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	err := execute(t, cfgPath, "run", "nosuch")
	if err == nil {
		t.Fatalf("expected error for unknown stage")
	}
	if !strings.Contains(err.Error(), "unknown stage") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunRecordsFailedVerify(t *testing.T) {
	cfgPath, cfg := writeTestConfig(t)

	// The dataset root does not exist, so verify must fail structurally.
	if err := execute(t, cfgPath, "run", "verify"); err == nil {
		t.Fatalf("expected verify to fail on missing dataset")
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	runs, err := store.RecentRuns(10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(runs))
	}
	if runs[0].Stage != "verify" || runs[0].Status != "failed" {
		t.Fatalf("unexpected run record: %+v", runs[0])
	}
	if runs[0].Error == "" {
		t.Fatalf("expected error message on failed run")
	}
}

func TestCleanPreservesLogsByDefault(t *testing.T) {
	cfgPath, cfg := writeTestConfig(t)

	alignedFile := filepath.Join(cfg.AlignedRoot(), "imgs", "000001.jpg")
	manifest := filepath.Join(cfg.Paths.LogsDir, "degrade_manifest.csv")
	for _, p := range []string{alignedFile, manifest} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if err := execute(t, cfgPath, "clean"); err != nil {
		t.Fatalf("clean failed: %v", err)
	}

	if _, err := os.Stat(alignedFile); !os.IsNotExist(err) {
		t.Fatalf("expected aligned output to be removed")
	}
	if info, err := os.Stat(cfg.AlignedRoot()); err != nil || !info.IsDir() {
		t.Fatalf("expected aligned root to be recreated: %v", err)
	}
	if _, err := os.Stat(manifest); err != nil {
		t.Fatalf("expected manifest to survive clean: %v", err)
	}

	if err := execute(t, cfgPath, "clean", "--keep-logs=false"); err != nil {
		t.Fatalf("clean --keep-logs=false failed: %v", err)
	}
	if _, err := os.Stat(manifest); !os.IsNotExist(err) {
		t.Fatalf("expected manifest to be removed")
	}
	if info, err := os.Stat(cfg.Paths.LogsDir); err != nil || !info.IsDir() {
		t.Fatalf("expected logs dir to be recreated: %v", err)
	}
}

func TestConfigShow(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	if err := execute(t, cfgPath, "config", "show"); err != nil {
		t.Fatalf("config show failed: %v", err)
	}
}
