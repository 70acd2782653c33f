package restore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestExecRestorerUnavailableTool(t *testing.T) {
	r := &ExecRestorer{Tool: "definitely-not-a-real-binary-xyz"}
	_, err := r.Load(context.Background(), "model.pth")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestExecRestorerResolvesCheckpointFromWeightsDir(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "model.pth")
	if err := os.WriteFile(ckpt, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := &ExecRestorer{WeightsDir: dir}
	got, err := r.resolveCheckpoint("model.pth")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != ckpt {
		t.Errorf("resolved %q, want %q", got, ckpt)
	}
}

func TestExecRestorerResolvesCheckpointFromEnv(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "model.pth")
	if err := os.WriteFile(ckpt, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FACEPREP_WEIGHTS", dir)

	r := &ExecRestorer{}
	got, err := r.resolveCheckpoint("model.pth")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != ckpt {
		t.Errorf("resolved %q, want %q", got, ckpt)
	}
}

func TestExecRestorerMissingCheckpoint(t *testing.T) {
	r := &ExecRestorer{WeightsDir: t.TempDir()}
	_, err := r.resolveCheckpoint("nope.pth")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestStubRestorerCopiesAndRecords(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jpg")
	out := filepath.Join(dir, "out.jpg")
	if err := os.WriteFile(in, []byte("image-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	stub := &StubRestorer{}
	h, err := stub.Load(context.Background(), "ckpt")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := stub.Enhance(context.Background(), h, in, out, Params{Fidelity: 0.7}); err != nil {
		t.Fatalf("enhance: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("output does not match input")
	}

	calls := stub.Calls()
	if len(calls) != 1 {
		t.Fatalf("recorded %d calls, want 1", len(calls))
	}
	if calls[0].Fidelity != 0.7 {
		t.Errorf("recorded fidelity %v, want 0.7", calls[0].Fidelity)
	}
}

func TestStubRestorerPerItemFailure(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "bad.jpg")
	if err := os.WriteFile(in, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	wantErr := errors.New("inference blew up")
	stub := &StubRestorer{FailIDs: map[string]error{in: wantErr}}
	err := stub.Enhance(context.Background(), Handle{}, in, filepath.Join(dir, "out.jpg"), Params{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected injected failure, got %v", err)
	}
}
