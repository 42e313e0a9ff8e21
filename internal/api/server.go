// Package api is the HTTP surface of the data product catalog,
// mirroring the dashboard-facing endpoints: status, re-indexing, simple
// search, structured filtering, metadata retrieval, single-product
// ingestion, annotations and tar downloads.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/skao/dataproduct-api/internal/catalog"
	"github.com/skao/dataproduct-api/internal/metrics"
)

// GroupResolver maps a request to the caller's access groups. The
// default resolver returns none, so only public records are visible.
// Deployments front the service with an identity-aware proxy and plug
// in a resolver reading its headers.
type GroupResolver func(r *http.Request) []string

// Server hosts the REST API.
type Server struct {
	catalog *catalog.Catalog
	metrics *metrics.Metrics
	groups  GroupResolver
	log     zerolog.Logger
	http    *http.Server
}

// Option customizes the server.
type Option func(*Server)

// WithGroupResolver installs a caller-group resolver.
func WithGroupResolver(g GroupResolver) Option {
	return func(s *Server) { s.groups = g }
}

// New builds the server on the given listen address.
func New(addr string, cat *catalog.Catalog, m *metrics.Metrics, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		catalog: cat,
		metrics: m,
		groups:  func(*http.Request) []string { return nil },
		log:     log.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /reindexdataproducts", s.handleReindex)
	mux.HandleFunc("GET /dataproductsearch", s.handleSearchGet)
	mux.HandleFunc("POST /dataproductsearch", s.handleSearchPost)
	mux.HandleFunc("POST /filterdataproducts", s.handleFilter)
	mux.HandleFunc("GET /filterfields", s.handleFilterFields)
	mux.HandleFunc("POST /dataproductmetadata", s.handleMetadata)
	mux.HandleFunc("POST /ingestnewdataproduct", s.handleIngestPath)
	mux.HandleFunc("POST /ingestnewmetadata", s.handleIngestDocument)
	mux.HandleFunc("POST /annotation", s.handleAnnotation)
	mux.HandleFunc("GET /annotations/{uid}", s.handleAnnotations)
	mux.HandleFunc("POST /download", s.handleDownload)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.instrument(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the instrumented handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// statusRecorder captures the response code for logs and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		s.metrics.RecordHTTPRequest(r.URL.Path, strconv.Itoa(rec.status), elapsed)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Msg("request served")
	})
}
