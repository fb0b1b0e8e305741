package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"TrancheLedger/internal/observability"
	"TrancheLedger/internal/query"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HTTPServer serves the read-only query API as HTTP/JSON, plus the health
// probes and the Prometheus scrape endpoint. Responses carry
// as_of_sequence so callers can reason about read freshness.
type HTTPServer struct {
	httpServer    *http.Server
	queryService  *query.QueryService
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	addr          string
	logger        zerolog.Logger
}

func NewHTTPServer(
	addr string,
	qs *query.QueryService,
	hc *observability.HealthChecker,
	metrics *observability.Metrics,
) *HTTPServer {
	return &HTTPServer{
		queryService:  qs,
		healthChecker: hc,
		metrics:       metrics,
		addr:          addr,
		logger:        observability.NewLogger("http"),
	}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
	mux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/protocol", s.instrument("protocol", s.handleProtocol))
	mux.HandleFunc("GET /v1/tranches/{tranche}", s.instrument("tranche", s.handleTranche))
	mux.HandleFunc("GET /v1/settlements", s.instrument("settlements", s.handleSettlements))
	mux.HandleFunc("GET /v1/journal", s.instrument("journal", s.handleJournal))
	mux.HandleFunc("GET /v1/incidents", s.instrument("incidents", s.handleIncidents))
	mux.HandleFunc("GET /v1/admin/integrity", s.instrument("integrity", s.handleIntegrity))

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// instrument wraps a handler with request/latency metrics per endpoint.
func (s *HTTPServer) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) handleProtocol(w http.ResponseWriter, r *http.Request) {
	overview, err := s.queryService.GetProtocolOverview(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, overview)
}

func (s *HTTPServer) handleTranche(w http.ResponseWriter, r *http.Request) {
	balance, err := s.queryService.GetTrancheBalance(r.Context(), r.PathValue("tranche"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, balance)
}

func (s *HTTPServer) handleSettlements(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 200)
	after := parseAfter(r)

	records, err := s.queryService.GetSettlementHistory(r.Context(), limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"settlements": records})
}

func (s *HTTPServer) handleJournal(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, errors.New("account query parameter is required"))
		return
	}
	limit := parseLimit(r, 100, 500)
	after := parseAfter(r)

	entries, err := s.queryService.GetJournalHistory(r.Context(), account, limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"journals": entries})
}

func (s *HTTPServer) handleIncidents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 200)
	after := parseAfter(r)

	incidents, err := s.queryService.GetIncidents(r.Context(), limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"incidents": incidents})
}

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, report)
}

// --- helpers ---

func parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func parseAfter(r *http.Request) *int64 {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
