// Package dataset reads CelebA-style metadata tables: landmarks, bounding
// boxes and the train/val/test partition. The first column of every table is
// the image id; value columns follow in fixed order.
package dataset

import (
	"fmt"
	"strconv"

	"faceprep/internal/align"
	"faceprep/internal/fsutil"
	"faceprep/internal/geometry"
	"faceprep/internal/manifest"
)

// ImageRecord ties one dataset id to its source artifacts. Immutable once
// loaded; owned by the stage that reads it.
type ImageRecord struct {
	ID        string
	RawPath   string
	Landmarks [align.NumLandmarks]geometry.Point2D
	BBox      align.BBox
}

// LoadLandmarks reads a landmark table mapping id to 5 ordered 2D points.
// The table needs 1 id column plus 10 coordinate columns.
func LoadLandmarks(path string) (map[string][align.NumLandmarks]geometry.Point2D, error) {
	table, err := manifest.Read(path, nil)
	if err != nil {
		return nil, err
	}
	if len(table.Columns) < 1+align.NumLandmarks*2 {
		return nil, fmt.Errorf("landmark table %s: need %d columns, have %d",
			path, 1+align.NumLandmarks*2, len(table.Columns))
	}

	idCol := table.Columns[0]
	coordCols := table.Columns[1 : 1+align.NumLandmarks*2]

	out := make(map[string][align.NumLandmarks]geometry.Point2D, len(table.Rows))
	for _, row := range table.Rows {
		id := row.Get(idCol)
		var pts [align.NumLandmarks]geometry.Point2D
		ok := true
		for i := 0; i < align.NumLandmarks; i++ {
			x, errX := parseCoord(row, coordCols[i*2])
			y, errY := parseCoord(row, coordCols[i*2+1])
			if errX != nil || errY != nil {
				ok = false
				break
			}
			pts[i] = geometry.Point2D{X: x, Y: y}
		}
		if !ok {
			// Unparseable coordinates are a per-record condition surfaced
			// later as a missing-landmarks skip, not a table failure.
			continue
		}
		out[id] = pts
	}
	return out, nil
}

// LoadBBoxes reads a bbox table mapping id to (x, y, w, h).
func LoadBBoxes(path string) (map[string]align.BBox, error) {
	table, err := manifest.Read(path, nil)
	if err != nil {
		return nil, err
	}
	if len(table.Columns) < 5 {
		return nil, fmt.Errorf("bbox table %s: need 5 columns, have %d", path, len(table.Columns))
	}

	idCol := table.Columns[0]
	valCols := table.Columns[1:5]

	out := make(map[string]align.BBox, len(table.Rows))
	for _, row := range table.Rows {
		x, err1 := parseCoord(row, valCols[0])
		y, err2 := parseCoord(row, valCols[1])
		w, err3 := parseCoord(row, valCols[2])
		h, err4 := parseCoord(row, valCols[3])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		out[row.Get(idCol)] = align.BBox{X: x, Y: y, W: w, H: h}
	}
	return out, nil
}

// LoadPartition reads the id to split mapping. Labels outside {0,1,2} and
// duplicate ids are structural errors: a broken partition must not silently
// bias every downstream split.
func LoadPartition(path string) (map[string]int, error) {
	table, err := manifest.Read(path, nil)
	if err != nil {
		return nil, err
	}
	if len(table.Columns) < 2 {
		return nil, fmt.Errorf("partition table %s: need at least 2 columns (id, partition)", path)
	}

	idCol := table.Columns[0]
	splitCol := table.Columns[1]

	out := make(map[string]int, len(table.Rows))
	for _, row := range table.Rows {
		id := row.Get(idCol)
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("partition table %s: duplicate id %q", path, id)
		}
		label, err := strconv.Atoi(row.Get(splitCol))
		if err != nil {
			return nil, fmt.Errorf("partition table %s: id %q has non-integer label %q", path, id, row.Get(splitCol))
		}
		if label < 0 || label > 2 {
			return nil, fmt.Errorf("partition table %s: id %q has invalid label %d (allowed: 0,1,2)", path, id, label)
		}
		out[id] = label
	}
	return out, nil
}

// ListImageIDs returns the set of image filenames under dir.
func ListImageIDs(dir string) (map[string]struct{}, error) {
	files, err := fsutil.ListImages(dir)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(files))
	for _, f := range files {
		ids[f] = struct{}{}
	}
	return ids, nil
}

func parseCoord(row manifest.Row, col string) (float64, error) {
	return strconv.ParseFloat(row.Get(col), 64)
}
