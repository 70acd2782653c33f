// Package degrade applies named synthetic degradation presets to aligned
// images: gaussian blur, lossy JPEG recompression and additive gaussian
// noise, each file-to-file and deterministic under a fixed seed.
package degrade

import (
	"context"
	"hash/fnv"

	"faceprep/internal/config"
)

// OutputQuality is the JPEG quality used when persisting degraded outputs.
const OutputQuality = 95

// Request contains the inputs for one degradation.
type Request struct {
	InputPath  string
	OutputPath string
	Preset     config.Preset
	// Seed drives stochastic presets. Derive it per item so results are
	// stable across runs and worker orderings.
	Seed int64
	// OutputSize forces square output geometry; 0 keeps the source size.
	OutputSize int
}

// Result reports one degradation.
type Result struct {
	OutputPath string
	Width      int
	Height     int
	ToolUsed   string
}

// Processor applies a degradation preset to a single image file.
type Processor interface {
	Name() string
	IsAvailable() bool
	Apply(ctx context.Context, req Request) (Result, error)
}

// TargetSize resolves the output geometry for a preset: a per-preset
// override wins over the global setting, and 0 keeps the source size.
// Validity checks on degraded outputs must use the same resolution.
func TargetSize(preset config.Preset, global int) int {
	if preset.OutputSize != nil {
		return *preset.OutputSize
	}
	return global
}

// ItemSeed derives a stable per-item seed from the global seed, the preset
// name and the image id.
func ItemSeed(global int64, preset, id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(preset))
	h.Write([]byte{0})
	h.Write([]byte(id))
	return global ^ int64(h.Sum64())
}

// Manager selects a processor by configuration and availability.
type Manager struct {
	processors map[string]Processor
	preferred  string
}

// NewManager registers the native and ImageMagick processors.
func NewManager(cfg *config.Degradations) *Manager {
	m := &Manager{
		processors: make(map[string]Processor),
		preferred:  cfg.Processor,
	}
	m.Register(&NativeProcessor{})
	m.Register(&ImagickProcessor{})
	return m
}

// Register adds a processor by its Name().
func (m *Manager) Register(proc Processor) {
	if proc == nil {
		return
	}
	m.processors[proc.Name()] = proc
}

// Best returns the configured processor when available, falling back to the
// first available one in priority order. The native processor has no external
// requirements, so Best only returns nil for an empty manager.
func (m *Manager) Best() Processor {
	if m == nil {
		return nil
	}
	if proc, ok := m.processors[m.preferred]; ok && proc.IsAvailable() {
		return proc
	}
	for _, name := range []string{"native", "imagemagick"} {
		if proc, ok := m.processors[name]; ok && proc.IsAvailable() {
			return proc
		}
	}
	return nil
}
