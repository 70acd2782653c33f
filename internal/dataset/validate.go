package dataset

import (
	"fmt"
	"sort"
	"strings"

	"faceprep/internal/manifest"
)

// ValidateColumns performs lightweight structural validation of a metadata
// table: at least an id column plus one value column, no duplicate names.
func ValidateColumns(name string, table *manifest.Table) error {
	if len(table.Columns) < 2 {
		return fmt.Errorf("table %q appears malformed: expected >=2 columns, found %d", name, len(table.Columns))
	}
	seen := make(map[string]struct{}, len(table.Columns))
	for _, col := range table.Columns {
		if _, dup := seen[col]; dup {
			return fmt.Errorf("table %q has duplicate column name %q", name, col)
		}
		seen[col] = struct{}{}
	}
	return nil
}

// ValidateIDConsistency enforces that every image has a row in every metadata
// table and vice versa, with zero tolerance for partial coverage. A dataset
// where the tables and the image directory disagree is rejected outright
// rather than silently intersected.
func ValidateIDConsistency(images map[string]struct{}, tables map[string]*manifest.Table) error {
	if len(images) == 0 {
		return fmt.Errorf("no image filenames provided for id consistency check")
	}

	for name, table := range tables {
		if len(table.Columns) == 0 {
			return fmt.Errorf("table %q has no columns", name)
		}
		idCol := table.Columns[0]
		tableIDs := make(map[string]struct{}, len(table.Rows))
		for _, row := range table.Rows {
			tableIDs[row.Get(idCol)] = struct{}{}
		}

		if extra := difference(tableIDs, images); len(extra) > 0 {
			return fmt.Errorf("table %q references %d ids not found in images (sample: %s)",
				name, len(extra), sample(extra))
		}
		if missing := difference(images, tableIDs); len(missing) > 0 {
			return fmt.Errorf("%d images are missing from table %q (sample: %s)",
				len(missing), name, sample(missing))
		}
	}
	return nil
}

func difference(a, b map[string]struct{}) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sample(ids []string) string {
	if len(ids) > 10 {
		ids = ids[:10]
	}
	return strings.Join(ids, ", ")
}
