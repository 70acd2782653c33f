package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/faceprep/config.json"
	defaultParallel   = 4
)

// Degradation preset types accepted by the degrade stage.
const (
	PresetGaussianBlur  = "gaussian_blur"
	PresetJPEG          = "jpeg"
	PresetGaussianNoise = "gaussian_noise"
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Paths        Paths        `json:"paths"`
	Processing   Processing   `json:"processing"`
	Logging      Logging      `json:"logging"`
	Alignment    Alignment    `json:"alignment"`
	Degradations Degradations `json:"degradations"`
	Restoration  Restoration  `json:"restoration"`
	Server       Server       `json:"server"`
}

// Paths configures dataset and output locations.
type Paths struct {
	DatasetRoot  string `json:"dataset_root"`  // raw images + metadata CSVs
	OutputRoot   string `json:"output_root"`   // derived artifacts per stage
	LogsDir      string `json:"logs_dir"`      // manifests + pipeline logs
	DatabasePath string `json:"database_path"` // run ledger
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	TempDir      string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Alignment configures the canonical frame and the expected raw geometry.
type Alignment struct {
	ImageSize      int `json:"image_size"`      // canonical canvas, e.g. 256
	ExpectedWidth  int `json:"expected_width"`  // raw source width
	ExpectedHeight int `json:"expected_height"` // raw source height
}

// Preset is a named degradation recipe.
type Preset struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Sigma      float64 `json:"sigma,omitempty"`
	Quality    int     `json:"quality,omitempty"`
	OutputSize *int    `json:"output_size,omitempty"` // per-preset override
}

// Degradations configures the synthetic degradation stage.
type Degradations struct {
	Seed       int64    `json:"seed"`
	OutputSize *int     `json:"output_size"` // nil keeps source geometry
	Processor  string   `json:"processor"`   // "native" or "imagemagick"
	Presets    []Preset `json:"presets"`
}

// Restoration configures the external restoration adapter.
type Restoration struct {
	Tool           string    `json:"tool"`       // inference executable
	Checkpoint     string    `json:"checkpoint"` // e.g. "GFPGANv1.4"
	WeightsDir     string    `json:"weights_dir"`
	Method         string    `json:"method"` // recorded in the manifest
	FidelityValues []float64 `json:"fidelity_values"`
}

// Server configures the status API.
type Server struct {
	Port int `json:"port"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	return LoadPath("")
}

// LoadPath reads configuration from the given path; an empty path uses the
// FACEPREP_CONFIG environment variable or the default location.
func LoadPath(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("FACEPREP_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", expanded, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the stages cannot run with.
func (c *Config) Validate() error {
	if c.Alignment.ImageSize <= 0 {
		return fmt.Errorf("alignment.image_size must be positive, got %d", c.Alignment.ImageSize)
	}
	if c.Processing.ParallelJobs < 1 {
		return fmt.Errorf("processing.parallel_jobs must be at least 1, got %d", c.Processing.ParallelJobs)
	}
	seen := make(map[string]struct{}, len(c.Degradations.Presets))
	for i, p := range c.Degradations.Presets {
		if p.Name == "" {
			return fmt.Errorf("degradations.presets[%d]: missing name", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("degradations.presets: duplicate name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Type {
		case PresetGaussianBlur, PresetGaussianNoise:
			if p.Sigma <= 0 {
				return fmt.Errorf("degradations.presets[%q]: sigma must be positive", p.Name)
			}
		case PresetJPEG:
			if p.Quality < 1 || p.Quality > 100 {
				return fmt.Errorf("degradations.presets[%q]: quality must be in [1,100]", p.Name)
			}
		default:
			return fmt.Errorf("degradations.presets[%q]: unsupported type %q", p.Name, p.Type)
		}
	}
	for _, w := range c.Restoration.FidelityValues {
		if w < 0 || w > 1 {
			return fmt.Errorf("restoration.fidelity_values: %v out of [0,1]", w)
		}
	}
	return nil
}

// AlignedRoot is the directory holding canonically aligned images and metadata.
func (c *Config) AlignedRoot() string {
	return filepath.Join(c.Paths.OutputRoot, "aligned")
}

// DegradedRoot is the parent directory of per-preset degraded outputs.
func (c *Config) DegradedRoot() string {
	return filepath.Join(c.Paths.OutputRoot, "degraded")
}

// RestoredRoot is the parent directory of per-variant restored outputs.
func (c *Config) RestoredRoot() string {
	return filepath.Join(c.Paths.OutputRoot, "restored")
}

func defaultConfig() *Config {
	return &Config{
		Paths: Paths{
			DatasetRoot:  "./dataset",
			OutputRoot:   "./results/outputs",
			LogsDir:      "./results/logs",
			DatabasePath: filepath.Join(os.TempDir(), "faceprep.db"),
		},
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./results/logs",
		},
		Alignment: Alignment{
			ImageSize:      256,
			ExpectedWidth:  178,
			ExpectedHeight: 218,
		},
		Degradations: Degradations{
			Seed:      1337,
			Processor: "native",
			Presets: []Preset{
				{Name: "blur_s3", Type: PresetGaussianBlur, Sigma: 3},
				{Name: "jpeg_q10", Type: PresetJPEG, Quality: 10},
				{Name: "noise_s25", Type: PresetGaussianNoise, Sigma: 25},
			},
		},
		Restoration: Restoration{
			Tool:           "faceprep-restore",
			Checkpoint:     "GFPGANv1.4",
			Method:         "gfpgan",
			FidelityValues: []float64{0.5},
		},
		Server: Server{
			Port: 8790,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
