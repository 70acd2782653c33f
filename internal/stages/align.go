package stages

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"

	"faceprep/internal/align"
	"faceprep/internal/build"
	"faceprep/internal/dataset"
	"faceprep/internal/fsutil"
	"faceprep/internal/geometry"
	"faceprep/internal/manifest"
	"faceprep/internal/validity"
)

// alignedQuality matches the JPEG quality of every persisted pipeline output.
const alignedQuality = 95

type alignStage struct{}

func (s *alignStage) Name() string { return "align" }

func (s *alignStage) Describe() string {
	return "warp raw images and boxes into the canonical frame, incrementally"
}

func (s *alignStage) Execute(ctx context.Context, env *Env) error {
	cfg := env.Cfg
	root := cfg.Paths.DatasetRoot
	rawDir := filepath.Join(root, dataset.RawImagesDir)
	landmarkCSV := filepath.Join(root, dataset.LandmarksFile)
	bboxCSV := filepath.Join(root, dataset.BBoxFile)

	if info, err := os.Stat(rawDir); err != nil || !info.IsDir() {
		return structural("raw image directory missing: %s", rawDir)
	}
	if _, err := os.Stat(landmarkCSV); err != nil {
		return structural("landmark file missing: %s", landmarkCSV)
	}
	if _, err := os.Stat(bboxCSV); err != nil {
		return structural("bbox file missing: %s", bboxCSV)
	}

	landmarks, err := dataset.LoadLandmarks(landmarkCSV)
	if err != nil {
		return structural("loading landmarks: %v", err)
	}
	rawIDs, err := fsutil.ListImages(rawDir)
	if err != nil {
		return structural("scanning %s: %v", rawDir, err)
	}
	if len(rawIDs) == 0 {
		return structural("no raw images under %s", rawDir)
	}

	canvas := cfg.Alignment.ImageSize
	canonical := align.CanonicalPoints(canvas)
	outDir := filepath.Join(cfg.AlignedRoot(), dataset.ImagesDir)
	if err := fsutil.EnsureDir(outDir); err != nil {
		return structural("creating %s: %v", outDir, err)
	}

	sc := validity.NewScanner(canvas)
	plan, err := build.NewPlan(rawIDs, outDir, sc)
	if err != nil {
		return structural("planning aligned build: %v", err)
	}
	env.Log.Info("aligned build planned",
		"required", len(plan.Required), "valid", len(plan.ValidNow),
		"missing", len(plan.Missing), "corrupt", len(plan.Corrupt))

	fn := func(ctx context.Context, id string) error {
		pts, ok := landmarks[id]
		if !ok {
			return fmt.Errorf("no landmarks row")
		}
		src, err := decodeImage(filepath.Join(rawDir, id))
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		b := src.Bounds()
		if !align.LandmarksInBounds(pts, b.Dx(), b.Dy()) {
			return fmt.Errorf("landmarks outside %dx%d image bounds", b.Dx(), b.Dy())
		}
		t, err := align.EstimateSimilarity(pts[:], canonical[:])
		if err != nil {
			return fmt.Errorf("transform estimation: %w", err)
		}
		warped := align.WarpImage(src, t, canvas)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, warped, &jpeg.Options{Quality: alignedQuality}); err != nil {
			return err
		}
		return fsutil.WriteFileAtomic(filepath.Join(outDir, id), buf.Bytes())
	}

	report, err := env.runner(s.Name()).Run(ctx, plan, fn, sc)
	if err != nil {
		return err
	}
	if len(report.Valid) == 0 {
		return structural("alignment produced zero valid outputs (attempted %d)", report.Planned)
	}
	env.Log.Info("aligned images ready",
		"valid", len(report.Valid), "built", report.Built, "failed", report.Failed)

	if err := s.writeAlignedBBoxes(env, bboxCSV, landmarks, canonical, canvas, report.Valid); err != nil {
		return err
	}
	if err := s.mirrorMetadata(env); err != nil {
		return err
	}

	_ = env.Store.RecordRunResult(env.RunID, "completed", "",
		report.Planned, report.Built, report.Failed)
	env.publish(s.Name(), "", "completed",
		fmt.Sprintf("%d aligned images, %d skipped", len(report.Valid), report.Failed))
	return nil
}

// writeAlignedBBoxes regenerates the aligned-space box table wholesale for
// the final valid set, recomputing each record's transform the same way the
// image pass did. One shared canonical layout keeps the two passes coherent.
func (s *alignStage) writeAlignedBBoxes(env *Env, bboxCSV string,
	landmarks map[string][align.NumLandmarks]geometry.Point2D,
	canonical [align.NumLandmarks]geometry.Point2D,
	canvas int, validIDs []string) error {

	boxes, err := dataset.LoadBBoxes(bboxCSV)
	if err != nil {
		return structural("loading raw boxes: %v", err)
	}

	table := manifest.NewTable([]string{"image_id", "x_1", "y_1", "width", "height"})
	skipped := 0
	for _, id := range validIDs {
		box, okBox := boxes[id]
		pts, okPts := landmarks[id]
		if !okBox || !okPts {
			skipped++
			continue
		}
		t, err := align.EstimateSimilarity(pts[:], canonical[:])
		if err != nil {
			skipped++
			continue
		}
		out := align.TransformBBox(t, box, canvas).Round()
		table.Append(manifest.Row{
			"image_id": id,
			"x_1":      strconv.Itoa(int(out.X)),
			"y_1":      strconv.Itoa(int(out.Y)),
			"width":    strconv.Itoa(int(out.W)),
			"height":   strconv.Itoa(int(out.H)),
		})
	}

	outPath := filepath.Join(env.Cfg.AlignedRoot(), dataset.AlignedBBoxFile)
	if err := manifest.Write(outPath, table); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	env.Log.Info("aligned bbox table written",
		"rows", len(table.Rows), "skipped", skipped, "path", outPath)
	return nil
}

// mirrorMetadata copies the raw metadata tables next to the aligned images so
// later stages read one self-contained root. Copy once, never overwrite.
func (s *alignStage) mirrorMetadata(env *Env) error {
	root := env.Cfg.Paths.DatasetRoot
	dst := env.Cfg.AlignedRoot()
	for _, name := range []string{dataset.AttrFile, dataset.PartitionFile, dataset.LandmarksFile} {
		src := filepath.Join(root, name)
		if _, err := os.Stat(src); err != nil {
			return structural("metadata file missing for mirror: %s", src)
		}
		if err := fsutil.CopyFileOnce(src, filepath.Join(dst, name)); err != nil {
			return fmt.Errorf("mirroring %s: %w", name, err)
		}
	}
	return nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
