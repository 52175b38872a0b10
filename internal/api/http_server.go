package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/database"
	"chatsync/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SectorSyncer triggers an immediate remote resync of one sector.
type SectorSyncer interface {
	ForceSync(ctx context.Context, sectorID string) error
}

// ConnectionStater reports the last known remote connection state.
type ConnectionStater interface {
	State() models.ConnectionState
}

// FailedTasksExporter writes an xlsx report and returns its path.
type FailedTasksExporter interface {
	FailedTasks(tasks []models.SyncTask) (string, error)
}

// HTTPServer exposes the operator/admin API: health, metrics, the
// dead-letter list and the force-resync escape hatch.
type HTTPServer struct {
	cfg      config.APIConfig
	db       *database.DB
	monitor  ConnectionStater
	sectors  SectorSyncer
	exporter FailedTasksExporter
	logger   *zerolog.Logger
	server   *http.Server
	auth     *HTTPAuth
}

func NewHTTPServer(cfg config.APIConfig, db *database.DB, monitor ConnectionStater, sectors SectorSyncer, exporter FailedTasksExporter, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, db: db, monitor: monitor, sectors: sectors, exporter: exporter, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/sync/failed", srv.handleFailedTasks)
	mux.HandleFunc("/api/v1/sync/failed/export", srv.handleFailedExport)
	mux.HandleFunc("/api/v1/sync/sector/", srv.handleForceSector)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("admin API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler chain for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	state := s.monitor.State()
	pending, err := s.db.CountPendingSyncTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count pending tasks")
		return
	}

	resp := map[string]any{
		"remote_online":   state.Online,
		"last_checked_at": state.LastCheckedAt,
		"pending_tasks":   pending,
	}
	if state.LastError != "" {
		resp["last_error"] = state.LastError
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleFailedTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tasks, err := s.db.GetFailedSyncTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load failed tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *HTTPServer) handleFailedExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tasks, err := s.db.GetFailedSyncTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load failed tasks")
		return
	}

	path, err := s.exporter.FailedTasks(tasks)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file_path": path, "count": len(tasks)})
}

func (s *HTTPServer) handleForceSector(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Path shape: /api/v1/sync/sector/{id}/force
	const prefix = "/api/v1/sync/sector/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	sectorID, action, found := strings.Cut(rest, "/")
	if !found || action != "force" || sectorID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := s.sectors.ForceSync(r.Context(), sectorID); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced", "sector_id": sectorID})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
