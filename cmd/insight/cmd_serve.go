package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/dataset"
	"github.com/Rigel0718/transcript-insight/internal/logging"
	"github.com/Rigel0718/transcript-insight/internal/progress"
	"github.com/Rigel0718/transcript-insight/internal/store"
	"github.com/Rigel0718/transcript-insight/internal/types"
)

var serveAddr string

// serveCmd exposes metrics, live progress and stored runs over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /metrics, /ws progress and the run store",
	Long: `Starts an HTTP server with:
  GET  /metrics     Prometheus metrics
  GET  /ws          live progress events (websocket, JSON)
  GET  /runs        stored runs (?user=&limit=)
  GET  /runs/{id}   one stored run
  POST /runs        start a run: {"user_id", "plan", "dataset"}`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := newServer(ctx, a)
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		srv.logger.Info("serving", zap.String("addr", addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		srv.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
	}
	srv.Wait()
	return nil
}

// server is the HTTP face of an app.
type server struct {
	app    *app
	hub    *progress.Hub
	ctx    context.Context
	logger *zap.Logger
	wg     sync.WaitGroup
}

func newServer(ctx context.Context, a *app) *server {
	logger := logging.For(a.logger, logging.CategoryServer)
	return &server{
		app:    a,
		hub:    progress.NewHub(logger),
		ctx:    ctx,
		logger: logger,
	}
}

// Handler routes every endpoint.
func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.app.metrics.Handler())
	mux.Handle("GET /ws", s.hub)
	mux.HandleFunc("GET /runs", s.listRuns)
	mux.HandleFunc("GET /runs/{id}", s.getRun)
	mux.HandleFunc("POST /runs", s.startRun)
	return mux
}

// Wait blocks until runs started over HTTP have finished.
func (s *server) Wait() { s.wg.Wait() }

// Close disconnects progress clients.
func (s *server) Close() { s.hub.Close() }

func (s *server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.app.store.ListRuns(r.Context(), r.URL.Query().Get("user"), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.app.store.GetReport(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// startRequest is the body of POST /runs.
type startRequest struct {
	UserID  string            `json:"user_id"`
	Plan    *types.MetricPlan `json:"plan"`
	Dataset json.RawMessage   `json:"dataset"`
}

func (s *server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Plan == nil {
		writeError(w, http.StatusBadRequest, "missing plan")
		return
	}
	if err := req.Plan.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ds, err := dataset.Parse(req.Dataset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := uuid.NewString()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _, err := s.app.runPlan(s.ctx, req.Plan, ds, runOptions{UserID: req.UserID, RunID: runID, Sink: s.hub})
		if err != nil {
			s.logger.Error("run failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
