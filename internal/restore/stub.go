package restore

import (
	"context"
	"os"
	"sync"
)

// StubRestorer copies inputs to outputs unchanged and records every call. It
// stands in for a real model in tests and dry runs.
type StubRestorer struct {
	// FailIDs lists input paths whose Enhance call should fail.
	FailIDs map[string]error

	mu    sync.Mutex
	calls []StubCall
}

// StubCall records one Enhance invocation.
type StubCall struct {
	InPath   string
	OutPath  string
	Fidelity float64
}

func (s *StubRestorer) Load(ctx context.Context, checkpoint string) (Handle, error) {
	return Handle{Checkpoint: checkpoint, Tool: "stub"}, nil
}

func (s *StubRestorer) Enhance(ctx context.Context, h Handle, inPath, outPath string, p Params) error {
	s.mu.Lock()
	s.calls = append(s.calls, StubCall{InPath: inPath, OutPath: outPath, Fidelity: p.Fidelity})
	s.mu.Unlock()

	if err, ok := s.FailIDs[inPath]; ok {
		return err
	}
	data, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

// Calls returns a copy of the recorded Enhance calls.
func (s *StubRestorer) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubCall, len(s.calls))
	copy(out, s.calls)
	return out
}
