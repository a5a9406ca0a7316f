package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tillsync/internal/config"
	"tillsync/internal/export"
	"tillsync/internal/metrics"
	"tillsync/internal/models"
	"tillsync/internal/service"
	"tillsync/internal/status"
	"tillsync/internal/store"
	"tillsync/internal/worker"

	"github.com/rs/zerolog"
)

// SyncTrigger runs a sync pass on demand.
type SyncTrigger interface {
	TriggerSync(ctx context.Context) error
}

// HTTPServer is the local IPC surface for the POS frontend. It binds
// to localhost only; the central server never calls in.
type HTTPServer struct {
	cfg      config.APIConfig
	sales    *service.SaleService
	status   *status.Aggregator
	trigger  SyncTrigger
	exporter *export.Exporter
	server   *http.Server
	auth     *HTTPAuth
	logger   zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, sales *service.SaleService, statusAgg *status.Aggregator, trigger SyncTrigger, exporter *export.Exporter, logger *zerolog.Logger) *HTTPServer {
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "http_api").Logger()
	}

	srv := &HTTPServer{
		cfg:      cfg,
		sales:    sales,
		status:   statusAgg,
		trigger:  trigger,
		exporter: exporter,
		auth:     NewHTTPAuth(cfg),
		logger:   l,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sales", srv.handleSales)
	mux.HandleFunc("/api/v1/sales/export", srv.handleExport)
	mux.HandleFunc("/api/v1/sales/", srv.handleSaleSubpath)
	mux.HandleFunc("/api/v1/sync/status", srv.handleSyncStatus)
	mux.HandleFunc("/api/v1/sync/trigger", srv.handleSyncTrigger)
	mux.HandleFunc("/api/v1/admin/reset", srv.handleAdminReset)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the full middleware chain, used by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func (s *HTTPServer) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleEnqueueSale(w, r)
	case http.MethodGet:
		s.handleListSales(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleEnqueueSale(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("enqueue_sale")

	var sale models.SalePayload
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&sale); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	localID, err := s.sales.EnqueueSale(r.Context(), &sale)
	if err != nil {
		if errors.Is(err, service.ErrEmptySale) || errors.Is(err, service.ErrInvalidSale) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue sale")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"local_id": localID,
		"status":   string(models.StatusQueued),
	})
}

func (s *HTTPServer) handleListSales(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("list_sales")

	sales, err := s.sales.ListSales(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")))
	if err != nil {
		if errors.Is(err, service.ErrUnknownStatus) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("list failed")
		writeError(w, http.StatusInternalServerError, "failed to list sales")
		return
	}

	if sales == nil {
		sales = []models.QueuedSale{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (s *HTTPServer) handleSaleSubpath(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/sales/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	if idStr, ok := strings.CutSuffix(rest, "/retry"); ok {
		s.handleRetrySale(w, r, idStr)
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("get_sale")

	localID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sale id")
		return
	}

	sale, err := s.sales.GetSale(r.Context(), localID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sale not found")
			return
		}
		s.logger.Error().Err(err).Int64("local_id", localID).Msg("get sale failed")
		writeError(w, http.StatusInternalServerError, "failed to get sale")
		return
	}

	writeJSON(w, http.StatusOK, sale)
}

func (s *HTTPServer) handleRetrySale(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("retry_sale")

	localID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sale id")
		return
	}

	if err := s.sales.RetrySale(r.Context(), localID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sale not found or not failed")
			return
		}
		s.logger.Error().Err(err).Int64("local_id", localID).Msg("retry failed")
		writeError(w, http.StatusInternalServerError, "failed to mark retry")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"local_id": localID, "retry": true})
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("sync_status")

	summary, err := s.status.Summary(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("status summary failed")
		writeError(w, http.StatusInternalServerError, "failed to build status summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("sync_trigger")

	err := s.trigger.TriggerSync(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "completed"})
	case errors.Is(err, worker.ErrOffline):
		// Not a failure: the pass was skipped or cut short, the queue
		// is intact and will drain when connectivity returns
		writeJSON(w, http.StatusOK, map[string]any{"status": "offline"})
	default:
		s.logger.Error().Err(err).Msg("manual sync failed")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *HTTPServer) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("admin_reset")

	var body struct {
		Force bool `json:"force"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if err := s.sales.ClearLocalState(r.Context(), body.Force); err != nil {
		if errors.Is(err, store.ErrUnsyncedRemain) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("reset failed")
		writeError(w, http.StatusInternalServerError, "failed to clear local state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"cleared": true, "force": body.Force})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("export")

	statusFilter := models.SaleStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if statusFilter != "" && !statusFilter.Valid() {
		writeError(w, http.StatusBadRequest, "unknown sale status")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="sales_queue.xlsx"`)
	if err := s.exporter.WriteQueue(r.Context(), w, statusFilter); err != nil {
		s.logger.Error().Err(err).Msg("export failed")
	}
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

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
