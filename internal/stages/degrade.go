package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"faceprep/internal/build"
	"faceprep/internal/dataset"
	"faceprep/internal/degrade"
	"faceprep/internal/fsutil"
	"faceprep/internal/logging"
	"faceprep/internal/manifest"
	"faceprep/internal/validity"
)

type degradeStage struct{}

func (s *degradeStage) Name() string { return "degrade" }

func (s *degradeStage) Describe() string {
	return "apply degradation presets to aligned images and write the lineage manifest"
}

func (s *degradeStage) Execute(ctx context.Context, env *Env) error {
	cfg := env.Cfg
	alignedDir := filepath.Join(cfg.AlignedRoot(), dataset.ImagesDir)
	if info, err := os.Stat(alignedDir); err != nil || !info.IsDir() {
		return structural("aligned image directory missing: %s (run the align stage first)", alignedDir)
	}

	// The align stage mirrors the partition table next to its outputs; fall
	// back to the dataset root for layouts that skip the mirror.
	partitionCSV := fsutil.FirstExisting(
		filepath.Join(cfg.AlignedRoot(), dataset.PartitionFile),
		filepath.Join(cfg.Paths.DatasetRoot, dataset.PartitionFile),
	)
	if partitionCSV == "" {
		return structural("partition file not found under %s or %s",
			cfg.AlignedRoot(), cfg.Paths.DatasetRoot)
	}

	presets := cfg.Degradations.Presets
	if len(presets) == 0 {
		return structural("no degradation presets configured")
	}

	partition, err := dataset.LoadPartition(partitionCSV)
	if err != nil {
		return structural("loading partition map: %v", err)
	}
	env.Log.Info("partition map loaded", "entries", len(partition), "path", partitionCSV)

	required, err := fsutil.ListImages(alignedDir)
	if err != nil {
		return structural("scanning %s: %v", alignedDir, err)
	}
	if len(required) == 0 {
		return structural("no aligned images under %s", alignedDir)
	}

	proc := degrade.NewManager(&cfg.Degradations).Best()
	if proc == nil {
		return structural("no degradation processor available")
	}
	env.Log.Info("degradation processor selected", "processor", proc.Name())

	outputSize := 0
	if cfg.Degradations.OutputSize != nil {
		outputSize = *cfg.Degradations.OutputSize
	}

	table := manifest.NewTable(manifest.DegradeColumns)
	totalBuilt, totalFailed, totalPlanned := 0, 0, 0
	verifiedRows := 0

	for _, preset := range presets {
		if err := ctx.Err(); err != nil {
			return err
		}
		outDir := filepath.Join(cfg.DegradedRoot(), preset.Name, dataset.ImagesDir)
		if err := fsutil.EnsureDir(outDir); err != nil {
			return structural("creating %s: %v", outDir, err)
		}

		// Per-preset output_size overrides the global one, so the scanner's
		// expected geometry must be resolved per preset as well.
		sc := validity.NewScanner(degrade.TargetSize(preset, outputSize))

		plan, err := build.NewPlan(required, outDir, sc)
		if err != nil {
			return structural("planning preset %q: %v", preset.Name, err)
		}
		env.Log.Info("degradation preset planned",
			"preset", preset.Name, "valid", len(plan.ValidNow),
			"missing", len(plan.Missing), "corrupt", len(plan.Corrupt))

		fn := func(ctx context.Context, id string) error {
			if _, ok := partition[id]; !ok {
				return fmt.Errorf("no partition entry")
			}
			_, err := proc.Apply(ctx, degrade.Request{
				InputPath:  filepath.Join(alignedDir, id),
				OutputPath: filepath.Join(outDir, id),
				Preset:     preset,
				Seed:       degrade.ItemSeed(cfg.Degradations.Seed, preset.Name, id),
				OutputSize: outputSize,
			})
			return err
		}

		report, err := env.runner(s.Name()).Run(ctx, plan, fn, sc)
		if err != nil {
			return err
		}
		totalPlanned += report.Planned
		totalBuilt += report.Built
		totalFailed += report.Failed

		// Manifest rows come from the re-verified valid set, joined with the
		// partition map; ids without a split are warned about and left out.
		warn := logging.NewWarnLimiter(env.Log, logging.DefaultWarnDetail)
		presetPaths := make([]string, 0, len(report.Valid))
		for _, id := range report.Valid {
			split, ok := partition[id]
			if !ok {
				warn.Warn("valid output has no partition entry; omitting from manifest",
					"id", id, "preset", preset.Name)
				continue
			}
			degPath := filepath.Join(outDir, id)
			table.Append(manifest.Row{
				"id":          id,
				"path_gt":     filepath.Join(alignedDir, id),
				"path_deg":    degPath,
				"degradation": preset.Name,
				"split":       strconv.Itoa(split),
			})
			presetPaths = append(presetPaths, degPath)
		}
		verifiedRows += sc.CountValid(presetPaths)
		env.Log.Info("degradation preset finished",
			"preset", preset.Name, "valid", len(report.Valid),
			"built", report.Built, "failed", report.Failed)
	}

	if verifiedRows != len(table.Rows) {
		return fmt.Errorf("%w: manifest rows=%d, verified valid files=%d",
			ErrSanity, len(table.Rows), verifiedRows)
	}

	manifestPath := filepath.Join(cfg.Paths.LogsDir, dataset.DegradeManifestFile)
	if err := fsutil.EnsureDir(cfg.Paths.LogsDir); err != nil {
		return structural("creating %s: %v", cfg.Paths.LogsDir, err)
	}
	if err := manifest.Write(manifestPath, table); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	env.Log.Info("degradation manifest written", "rows", len(table.Rows), "path", manifestPath)

	_ = env.Store.RecordRunResult(env.RunID, "completed", "",
		totalPlanned, totalBuilt, totalFailed)
	env.publish(s.Name(), "", "completed",
		fmt.Sprintf("%d manifest rows across %d presets", len(table.Rows), len(presets)))
	return nil
}
