package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"faceprep/internal/build"
	"faceprep/internal/dataset"
	"faceprep/internal/fsutil"
	"faceprep/internal/manifest"
	"faceprep/internal/restore"
	"faceprep/internal/validity"
)

type restoreStage struct{}

func (s *restoreStage) Name() string { return "restore" }

func (s *restoreStage) Describe() string {
	return "run the restoration model over degraded outputs across the fidelity sweep"
}

func (s *restoreStage) Execute(ctx context.Context, env *Env) error {
	cfg := env.Cfg

	manifestPath := filepath.Join(cfg.Paths.LogsDir, dataset.DegradeManifestFile)
	degTable, err := manifest.Read(manifestPath, manifest.DegradeColumns)
	if err != nil {
		return structural("degradation manifest: %v", err)
	}
	if len(degTable.Rows) == 0 {
		return structural("degradation manifest is empty: %s (run the degrade stage first)", manifestPath)
	}

	fidelities := cfg.Restoration.FidelityValues
	if len(fidelities) == 0 {
		return structural("no restoration fidelity values configured")
	}

	restorer := env.Restorer
	if restorer == nil {
		restorer = &restore.ExecRestorer{
			Tool:       cfg.Restoration.Tool,
			WeightsDir: cfg.Restoration.WeightsDir,
		}
	}
	handle, err := restorer.Load(ctx, cfg.Restoration.Checkpoint)
	if err != nil {
		return structural("loading restoration model: %v", err)
	}
	env.Log.Info("restoration model loaded",
		"checkpoint", handle.Checkpoint, "method", cfg.Restoration.Method)

	byPreset := degTable.GroupBy("degradation")
	presetNames := make([]string, 0, len(byPreset))
	for name := range byPreset {
		presetNames = append(presetNames, name)
	}
	sort.Strings(presetNames)
	env.Log.Info("restoration sweep planned",
		"presets", len(presetNames), "fidelities", len(fidelities),
		"source_rows", len(degTable.Rows))

	sc := validity.NewScanner(0)
	outTable := manifest.NewTable(manifest.RestoreColumns)
	totalBuilt, totalFailed, totalPlanned := 0, 0, 0

	for _, presetName := range presetNames {
		rows := byPreset[presetName]
		rowByID := make(map[string]manifest.Row, len(rows))
		required := make([]string, 0, len(rows))
		for _, row := range rows {
			id := row.Get("id")
			rowByID[id] = row
			required = append(required, id)
		}

		for _, fidelity := range fidelities {
			if err := ctx.Err(); err != nil {
				return err
			}
			variant := variantName(presetName, fidelity)
			outDir := filepath.Join(cfg.RestoredRoot(), variant, dataset.ImagesDir)
			if err := fsutil.EnsureDir(outDir); err != nil {
				return structural("creating %s: %v", outDir, err)
			}

			plan, err := build.NewPlan(required, outDir, sc)
			if err != nil {
				return structural("planning variant %q: %v", variant, err)
			}
			env.Log.Info("restoration variant planned",
				"variant", variant, "valid", len(plan.ValidNow), "to_build", len(plan.ToBuild))

			fn := func(ctx context.Context, id string) error {
				row, ok := rowByID[id]
				if !ok {
					return fmt.Errorf("no manifest row")
				}
				outPath := filepath.Join(outDir, id)
				tmpPath := outPath + ".tmp-restore"
				defer os.Remove(tmpPath)
				err := restorer.Enhance(ctx, handle, row.Get("path_deg"), tmpPath,
					restore.Params{Fidelity: fidelity})
				if err != nil {
					return err
				}
				return os.Rename(tmpPath, outPath)
			}

			report, err := env.runner(s.Name()).Run(ctx, plan, fn, sc)
			if err != nil {
				return err
			}
			totalPlanned += report.Planned
			totalBuilt += report.Built
			totalFailed += report.Failed

			for _, id := range report.Valid {
				row, ok := rowByID[id]
				if !ok {
					continue
				}
				outPath := filepath.Join(outDir, id)
				w, h, err := imageSize(outPath)
				if err != nil {
					continue
				}
				outTable.Append(manifest.Row{
					"method":        cfg.Restoration.Method,
					"id":            id,
					"path_gt":       row.Get("path_gt"),
					"path_deg":      row.Get("path_deg"),
					"path_restored": outPath,
					"degradation":   presetName,
					"split":         row.Get("split"),
					"restored_w":    strconv.Itoa(w),
					"restored_h":    strconv.Itoa(h),
					"fidelity":      strconv.FormatFloat(fidelity, 'g', -1, 64),
				})
			}
			env.Log.Info("restoration variant finished",
				"variant", variant, "valid", len(report.Valid),
				"built", report.Built, "failed", report.Failed)
		}
	}

	if len(outTable.Rows) == 0 {
		return structural("restoration produced zero valid outputs")
	}

	restoredPaths := make([]string, 0, len(outTable.Rows))
	for _, row := range outTable.Rows {
		restoredPaths = append(restoredPaths, row.Get("path_restored"))
	}
	if okCount := sc.CountValid(restoredPaths); okCount != len(outTable.Rows) {
		return fmt.Errorf("%w: manifest rows=%d, verified valid files=%d",
			ErrSanity, len(outTable.Rows), okCount)
	}

	outPath := filepath.Join(cfg.Paths.LogsDir, dataset.RestoreManifestFile)
	if err := manifest.Write(outPath, outTable); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	env.Log.Info("restoration manifest written", "rows", len(outTable.Rows), "path", outPath)

	_ = env.Store.RecordRunResult(env.RunID, "completed", "",
		totalPlanned, totalBuilt, totalFailed)
	env.publish(s.Name(), "", "completed",
		fmt.Sprintf("%d manifest rows across %d variants",
			len(outTable.Rows), len(presetNames)*len(fidelities)))
	return nil
}

// variantName builds the per-(preset, fidelity) directory name, e.g.
// "blur_s3-w0.5".
func variantName(preset string, fidelity float64) string {
	return fmt.Sprintf("%s-w%s", preset, strconv.FormatFloat(fidelity, 'g', -1, 64))
}
