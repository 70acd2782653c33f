package stages

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	"faceprep/internal/align"
	"faceprep/internal/dataset"
	"faceprep/internal/manifest"
)

// verifySampleSize caps how many raw images get opened for the geometry and
// landmark checks. The metadata checks always cover the full dataset.
const verifySampleSize = 250

type verifyStage struct{}

func (s *verifyStage) Name() string { return "verify" }

func (s *verifyStage) Describe() string {
	return "validate raw dataset structure, metadata schemas and sampled image geometry"
}

func (s *verifyStage) Execute(ctx context.Context, env *Env) error {
	root := env.Cfg.Paths.DatasetRoot
	imageDir := filepath.Join(root, dataset.RawImagesDir)

	csvPaths := map[string]string{
		"attr":      filepath.Join(root, dataset.AttrFile),
		"bbox":      filepath.Join(root, dataset.BBoxFile),
		"partition": filepath.Join(root, dataset.PartitionFile),
		"landmarks": filepath.Join(root, dataset.LandmarksFile),
	}

	if info, err := os.Stat(imageDir); err != nil || !info.IsDir() {
		return structural("image directory missing: %s", imageDir)
	}
	for name, path := range csvPaths {
		if _, err := os.Stat(path); err != nil {
			return structural("%s metadata file missing: %s", name, path)
		}
	}

	ids, err := dataset.ListImageIDs(imageDir)
	if err != nil {
		return structural("scanning %s: %v", imageDir, err)
	}
	if len(ids) == 0 {
		return structural("no image files found under %s", imageDir)
	}
	env.Log.Info("found raw images", "count", len(ids), "dir", imageDir)

	tables := make(map[string]*manifest.Table, len(csvPaths))
	for name, path := range csvPaths {
		table, err := manifest.Read(path, nil)
		if err != nil {
			return structural("loading %s: %v", path, err)
		}
		if err := dataset.ValidateColumns(name, table); err != nil {
			return structural("%v", err)
		}
		tables[name] = table
	}

	if err := dataset.ValidateIDConsistency(ids, tables); err != nil {
		return structural("%v", err)
	}

	partition, err := dataset.LoadPartition(csvPaths["partition"])
	if err != nil {
		return structural("partition validation: %v", err)
	}
	env.Log.Info("partition labels validated", "entries", len(partition))

	landmarks, err := dataset.LoadLandmarks(csvPaths["landmarks"])
	if err != nil {
		return structural("landmark table: %v", err)
	}

	samples := sampleIDs(ids, verifySampleSize)
	env.Log.Info("sampling raw images for geometry checks",
		"sample", len(samples), "total", len(ids))

	expectW := env.Cfg.Alignment.ExpectedWidth
	expectH := env.Cfg.Alignment.ExpectedHeight
	bad := 0
	for _, id := range samples {
		if err := ctx.Err(); err != nil {
			return err
		}
		w, h, err := imageSize(filepath.Join(imageDir, id))
		if err != nil {
			return structural("cannot read sampled image %s: %v", id, err)
		}
		if w != expectW || h != expectH {
			bad++
			env.Log.Error("image geometry mismatch",
				"id", id, "width", w, "height", h,
				"expected_width", expectW, "expected_height", expectH)
			continue
		}
		pts, ok := landmarks[id]
		if !ok {
			return structural("missing landmarks row for sampled image %s", id)
		}
		if !align.LandmarksInBounds(pts, w, h) {
			bad++
			env.Log.Error("landmarks outside image bounds", "id", id)
		}
	}
	if bad > 0 {
		return structural("%d of %d sampled images failed geometry or landmark checks", bad, len(samples))
	}

	env.Log.Info("dataset verification passed",
		"images", len(ids), "tables", len(tables), "sampled", len(samples))
	_ = env.Store.RecordRunResult(env.RunID, "completed", "", len(ids), 0, 0)
	env.publish(s.Name(), "", "completed", fmt.Sprintf("%d images verified", len(ids)))
	return nil
}

// sampleIDs picks up to n ids spread evenly over the sorted set, so repeated
// runs check the same files.
func sampleIDs(ids map[string]struct{}, n int) []string {
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	if len(sorted) <= n {
		return sorted
	}
	out := make([]string, 0, n)
	step := float64(len(sorted)) / float64(n)
	for i := 0; i < n; i++ {
		out = append(out, sorted[int(float64(i)*step)])
	}
	return out
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
