// Package server exposes pipeline status over HTTP: a small JSON API backed
// by the run ledger and a websocket feed of live build progress events.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"faceprep/internal/stages"
	"faceprep/internal/storage"
)

const defaultRunLimit = 20

// Server serves the status API and the progress websocket.
type Server struct {
	port     int
	log      *slog.Logger
	store    *storage.Store
	hub      *Hub
	upgrader websocket.Upgrader
	started  time.Time
}

// New builds a server over the given run ledger. The ledger may be nil; the
// API then reports runs as unavailable while the websocket still works.
func New(port int, store *storage.Store, log *slog.Logger) *Server {
	return &Server{
		port:  port,
		log:   log,
		store: store,
		hub:   NewHub(log),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Hub returns the event sink running stages should publish into.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("status server listening", "port", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/api/runs", s.handleRuns).Methods("GET")
	router.HandleFunc("/api/runs/{id}/events", s.handleRunEvents).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	return router
}

type statusResponse struct {
	Status        string    `json:"status"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Clients       int       `json:"ws_clients"`
	LastRun       *runView  `json:"last_run,omitempty"`
	Time          time.Time `json:"time"`
}

type runView struct {
	ID           string     `json:"id"`
	Stage        string     `json:"stage"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	ItemsPlanned int        `json:"items_planned"`
	ItemsBuilt   int        `json:"items_built"`
	ItemsFailed  int        `json:"items_failed"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Clients:       s.hub.ClientCount(),
		Time:          time.Now(),
	}
	if runs, err := s.store.RecentRuns(1); err == nil && len(runs) > 0 {
		v := toRunView(runs[0])
		resp.LastRun = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.RecentRuns(defaultRunLimit)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toRunView(run))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	events, err := s.store.RunEvents(id, 500)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.hub.register <- conn

	go func() {
		defer func() {
			s.hub.unregister <- conn
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func toRunView(rec storage.RunRecord) runView {
	return runView{
		ID:           rec.ID,
		Stage:        rec.Stage,
		Status:       rec.Status,
		Error:        rec.Error,
		ItemsPlanned: rec.ItemsPlanned,
		ItemsBuilt:   rec.ItemsBuilt,
		ItemsFailed:  rec.ItemsFailed,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

var _ stages.EventSink = (*Hub)(nil)
