// Package manifest persists and validates the CSV lineage tables tying each
// dataset id to its ground-truth, degraded and restored artifacts.
package manifest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"faceprep/internal/fsutil"
)

// Minimum column sets per stage manifest. Extra columns are tolerated on read.
var (
	DegradeColumns = []string{"id", "path_gt", "path_deg", "degradation", "split"}
	RestoreColumns = []string{"method", "id", "path_gt", "path_deg", "path_restored",
		"degradation", "split", "restored_w", "restored_h", "fidelity"}
)

// Row is one lineage record keyed by column name.
type Row map[string]string

// Get returns the value for col, empty if absent.
func (r Row) Get(col string) string { return r[col] }

// GetInt parses the value for col as an integer.
func (r Row) GetInt(col string) (int, error) {
	v, ok := r[col]
	if !ok {
		return 0, fmt.Errorf("column %q absent", col)
	}
	return strconv.Atoi(strings.TrimSpace(v))
}

// GetFloat parses the value for col as a float.
func (r Row) GetFloat(col string) (float64, error) {
	v, ok := r[col]
	if !ok {
		return 0, fmt.Errorf("column %q absent", col)
	}
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

// Table is an ordered set of rows under a fixed header.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable returns an empty table with the given header.
func NewTable(columns []string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Append adds a row; values for unknown columns are dropped on write.
func (t *Table) Append(row Row) {
	t.Rows = append(t.Rows, row)
}

// GroupBy partitions rows by their value in col, preserving row order.
func (t *Table) GroupBy(col string) map[string][]Row {
	groups := make(map[string][]Row)
	for _, row := range t.Rows {
		key := row.Get(col)
		groups[key] = append(groups[key], row)
	}
	return groups
}

// Read loads a manifest, failing with a schema error when a required column is
// absent. Legacy files may be whitespace-delimited: strict comma parsing is
// tried first, then a whitespace fallback. Lines starting with '#' are skipped.
func Read(path string, required []string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	lines := dataLines(data)
	if len(lines) == 0 {
		return nil, fmt.Errorf("manifest %s is empty", path)
	}

	records, err := parseComma(lines)
	if err != nil || len(records[0]) < 2 {
		// Strict comma parsing produced nothing usable; legacy files are
		// whitespace-delimited.
		records = parseWhitespace(lines)
	}

	header := records[0]
	seen := make(map[string]struct{}, len(header))
	for _, col := range header {
		if _, dup := seen[col]; dup {
			return nil, fmt.Errorf("manifest %s: duplicate column %q", path, col)
		}
		seen[col] = struct{}{}
	}
	for _, col := range required {
		if _, ok := seen[col]; !ok {
			return nil, fmt.Errorf("manifest %s: required column %q absent (have: %s)",
				path, col, strings.Join(header, ", "))
		}
	}

	table := NewTable(header)
	for i, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("manifest %s: row %d has %d fields, header has %d",
				path, i+1, len(rec), len(header))
		}
		row := make(Row, len(header))
		for j, col := range header {
			row[col] = rec[j]
		}
		table.Append(row)
	}
	return table, nil
}

// Write persists the full table in one shot: temp file plus rename, never an
// incremental append. Each stage run regenerates its manifest wholesale from
// the verified output set.
func Write(path string, t *Table) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, buf.Bytes())
}

func dataLines(data []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func parseComma(lines []string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func parseWhitespace(lines []string) [][]string {
	records := make([][]string, 0, len(lines))
	for _, line := range lines {
		records = append(records, strings.Fields(line))
	}
	return records
}
