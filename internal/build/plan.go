// Package build implements the manifest-driven incremental scheduler shared
// by every derived-artifact stage: diff required outputs against the
// filesystem, rebuild only the delta, write atomically, and re-verify before
// anything is recorded.
package build

import (
	"sort"

	"faceprep/internal/validity"
)

// Plan is the result of diffing a required key set against the current state
// of an output directory. Rebuilding is driven entirely by filesystem state:
// there is no separate "already done" marker to go stale.
type Plan struct {
	OutDir   string
	Required []string

	// Present is every non-temp file currently in the directory.
	Present map[string]struct{}
	// ValidNow is the subset of Present passing the validity contract.
	ValidNow map[string]struct{}

	// Missing is required minus present; Corrupt is present minus valid.
	// Both are rebuilt identically, the split exists for logging.
	Missing []string
	Corrupt []string
	ToBuild []string
}

// NewPlan scans outDir with the given scanner and partitions the required set
// into work to do and work already done.
func NewPlan(required []string, outDir string, sc *validity.Scanner) (*Plan, error) {
	valid, corrupt, err := sc.ScanDir(outDir)
	if err != nil {
		return nil, err
	}

	present := make(map[string]struct{}, len(valid)+len(corrupt))
	for name := range valid {
		present[name] = struct{}{}
	}
	for name := range corrupt {
		present[name] = struct{}{}
	}

	p := &Plan{
		OutDir:   outDir,
		Required: append([]string(nil), required...),
		Present:  present,
		ValidNow: valid,
	}
	sort.Strings(p.Required)

	toBuild := make(map[string]struct{})
	for _, id := range p.Required {
		if _, ok := present[id]; !ok {
			p.Missing = append(p.Missing, id)
			toBuild[id] = struct{}{}
		}
	}
	for name := range corrupt {
		p.Corrupt = append(p.Corrupt, name)
		toBuild[name] = struct{}{}
	}
	sort.Strings(p.Corrupt)

	for id := range toBuild {
		p.ToBuild = append(p.ToBuild, id)
	}
	sort.Strings(p.ToBuild)
	return p, nil
}

// Complete reports whether the directory already satisfies the required set;
// a second run over an unchanged input set performs zero writes.
func (p *Plan) Complete() bool {
	return len(p.ToBuild) == 0
}
