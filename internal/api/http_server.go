// Package api exposes the engine over HTTP: occurrence CRUD,
// cancellation, manual retry, queue stats and the publish-history
// export.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"streamcast/internal/config"
	"streamcast/internal/database"
	"streamcast/internal/export"
	"streamcast/internal/models"
	"streamcast/internal/service"

	"github.com/rs/zerolog"
)

type HTTPServer struct {
	cfg      config.APIConfig
	service  *service.SchedulerService
	exporter *export.Exporter
	logger   zerolog.Logger
	server   *http.Server
	auth     *HTTPAuth
}

func NewHTTPServer(cfg config.APIConfig, svc *service.SchedulerService, exporter *export.Exporter, logger zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		service:  svc,
		exporter: exporter,
		logger:   logger.With().Str("component", "api").Logger(),
		auth:     NewHTTPAuth(cfg),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/occurrences", srv.handleCreate)
	mux.HandleFunc("GET /api/v1/occurrences", srv.handleList)
	mux.HandleFunc("GET /api/v1/occurrences/{id}", srv.handleGet)
	mux.HandleFunc("PUT /api/v1/occurrences/{id}", srv.handleUpdate)
	mux.HandleFunc("POST /api/v1/occurrences/{id}/cancel", srv.handleCancel)
	mux.HandleFunc("POST /api/v1/occurrences/{id}/retry", srv.handleRetry)
	mux.HandleFunc("POST /api/v1/occurrences/{id}/schedule", srv.handleScheduleDraft)
	mux.HandleFunc("GET /api/v1/stats", srv.handleStats)
	mux.HandleFunc("GET /api/v1/export", srv.handleExport)

	// Health endpoint bypasses auth so load balancers can probe it.
	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", srv.handleHealth)
	root.Handle("/api/", srv.loggingMiddleware(srv.auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the root handler, used by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := s.service.CreateOccurrences(r.Context(), &req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"occurrences": created})
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	occurrences, err := s.service.ListOccurrences(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if occurrences == nil {
		occurrences = []models.Occurrence{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"occurrences": occurrences})
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	occ, outcomes, err := s.service.GetOccurrence(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if outcomes == nil {
		outcomes = []models.PlatformOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"occurrence": occ, "outcomes": outcomes})
}

func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var occ models.Occurrence
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&occ); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	occ.ID = id

	if err := s.service.UpdateOccurrence(r.Context(), &occ); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	cancelled, err := s.service.Cancel(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !cancelled {
		writeError(w, http.StatusConflict, "occurrence is already terminal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (s *HTTPServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	rearmed, err := s.service.RetryNow(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !rearmed {
		writeError(w, http.StatusConflict, "occurrence is not retryable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"retrying": true})
}

func (s *HTTPServer) handleScheduleDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	promoted, err := s.service.ScheduleDraft(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !promoted {
		writeError(w, http.StatusConflict, "occurrence is not a draft")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scheduled": true})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.QueueStats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date; expected YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date; expected YYYY-MM-DD")
		return
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "to must be after from")
		return
	}

	path, err := s.exporter.PublishHistory(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid occurrence id")
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "occurrence not found")
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
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

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
