// Package http serves health, Prometheus metrics and read-only query
// endpoints over the evaluation database.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/hydroeval/internal/adapter/tabular"
	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/evaluate"
	"github.com/couchcryptid/hydroeval/internal/store"
)

// Querier is the read side of the evaluation store.
type Querier interface {
	CheckReadiness(ctx context.Context) error
	GetJoinedTimeseries(ctx context.Context, q store.Query) (domain.Table, error)
	GetTimeseries(ctx context.Context, kind domain.DatasetKind, q store.Query) (domain.Table, error)
	GetMetrics(ctx context.Context, q store.MetricsQuery) (domain.Table, error)
}

var _ Querier = (*store.Store)(nil)

// Server exposes health, readiness, metrics and query HTTP endpoints.
type Server struct {
	httpServer *http.Server
	querier    Querier
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api/v1 query routes.
func NewServer(addr string, q Querier, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		querier: q,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(q))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/joined", s.handleJoined)
	mux.HandleFunc("GET /api/v1/timeseries/{kind}", s.handleTimeseries)
	mux.HandleFunc("GET /api/v1/metrics", s.handleMetrics)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleJoined(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := s.querier.GetJoinedTimeseries(r.Context(), q)
	s.respond(w, r, t, err)
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseDatasetKind(r.PathValue("kind"))
	if err != nil || !kind.IsTimeseries() {
		writeError(w, http.StatusNotFound, errors.New("timeseries kind must be primary or secondary"))
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := s.querier.GetTimeseries(r.Context(), kind, q)
	s.respond(w, r, t, err)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	filters, err := parseFilters(v["filter"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q := store.MetricsQuery{
		GroupBy:        splitList(v["group_by"]),
		IncludeMetrics: splitList(v["include"]),
		OrderBy:        splitList(v["order_by"]),
		Filters:        filters,
	}
	if len(q.GroupBy) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("group_by is required"))
		return
	}
	t, err := s.querier.GetMetrics(r.Context(), q)
	s.respond(w, r, t, err)
}

// respond maps query errors to status codes and encodes the table as JSON,
// or CSV when format=csv.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, t domain.Table, err error) {
	switch {
	case errors.Is(err, store.ErrNotJoined):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case errors.Is(err, store.ErrInvalidColumn), errors.Is(err, store.ErrInvalidFilter),
		errors.Is(err, evaluate.ErrUnknownMetric):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.logger.Error("query failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	format := tabular.FormatJSON
	if f := r.URL.Query().Get("format"); f != "" {
		if format, err = tabular.ParseFormat(f); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if format == tabular.FormatCSV {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	if err := tabular.Write(w, t, format); err != nil {
		s.logger.Warn("write response", "path", r.URL.Path, "error", err)
	}
}

func parseQuery(r *http.Request) (store.Query, error) {
	v := r.URL.Query()
	filters, err := parseFilters(v["filter"])
	if err != nil {
		return store.Query{}, err
	}
	q := store.Query{Filters: filters, OrderBy: splitList(v["order_by"])}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return store.Query{}, errors.New("limit must be a non-negative integer")
		}
		q.Limit = n
	}
	return q, nil
}

func parseFilters(raw []string) ([]store.Filter, error) {
	filters := make([]store.Filter, 0, len(raw))
	for _, s := range raw {
		f, err := store.ParseFilter(s)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// splitList accepts both repeated parameters and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}) //nolint:errcheck // best-effort error body
}
