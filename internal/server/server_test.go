package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"faceprep/internal/stages"
	"faceprep/internal/storage"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.RecordRunStart("run-1", "align"); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordRunResult("run-1", "completed", "", 10, 10, 0); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordEvent(storage.EventRecord{
		RunID: "run-1", ItemID: "000001.jpg", Stage: "align", Status: "failed", Detail: "decode",
	}); err != nil {
		t.Fatal(err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(0, store, log)
}

func TestStatusEndpoint(t *testing.T) {
	s := testServer(t)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code %d", resp.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		LastRun *struct {
			ID    string `json:"id"`
			Stage string `json:"stage"`
		} `json:"last_run"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
	if body.LastRun == nil || body.LastRun.ID != "run-1" || body.LastRun.Stage != "align" {
		t.Errorf("last run not reported: %+v", body.LastRun)
	}
}

func TestRunsAndEventsEndpoints(t *testing.T) {
	s := testServer(t)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/runs")
	if err != nil {
		t.Fatalf("get runs: %v", err)
	}
	defer resp.Body.Close()
	var runs []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}

	resp2, err := http.Get(ts.URL + "/api/runs/run-1/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp2.Body.Close()
	var events []map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestWebSocketReceivesPublishedEvents(t *testing.T) {
	s := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.run(ctx)

	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the hub to register the client.
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.hub.Publish(stages.Event{
		RunID: "run-1", Stage: "degrade", ItemID: "000002.jpg",
		Status: "built", Time: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev stages.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Stage != "degrade" || ev.ItemID != "000002.jpg" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestPublishWithoutClientsDoesNotBlock(t *testing.T) {
	s := testServer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			s.hub.Publish(stages.Event{RunID: "r", Stage: "align", Status: "built"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked with no hub consumer")
	}
}
