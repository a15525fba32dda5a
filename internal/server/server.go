// Package server serves the people API over HTTP. It can inject latency
// and failures so clients can be exercised against a flaky backend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pders01/roster/internal/debuglog"
	"github.com/pders01/roster/internal/metrics"
	"github.com/pders01/roster/internal/search"
	"github.com/pders01/roster/internal/service"
)

const (
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"

	// FailureMessage is the error body of an injected failure.
	FailureMessage = "Failure"
)

type Config struct {
	Addr string
	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit float64
	Burst     int
	// FailureRate is the probability, 0 to 1, that a people request fails.
	FailureRate float64
	Latency     time.Duration
	Limit       int
}

type Server struct {
	cfg      Config
	searcher search.Searcher
	limiter  *clientLimiter
	clock    clock.Clock
	random   func() float64
	registry *prometheus.Registry
	metrics  *metrics.Server
	log      *debuglog.FieldLogger
}

type Option func(*Server)

func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithRandom replaces the source used to decide injected failures.
func WithRandom(fn func() float64) Option {
	return func(s *Server) { s.random = fn }
}

// WithRegistry exposes reg on the metrics endpoint and registers the
// server collectors on it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

func New(searcher search.Searcher, cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		searcher: searcher,
		limiter:  newClientLimiter(cfg.RateLimit, cfg.Burst),
		clock:    clock.New(),
		random:   rand.Float64,
		log:      debuglog.WithFields(debuglog.Fields{"component": "server"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = metrics.NewServer(s.registry)
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(service.PeoplePath, s.instrument(service.PeoplePath, s.rateLimit(http.HandlerFunc(s.handlePeople))))
	mux.Handle(HealthPath, s.instrument(HealthPath, http.HandlerFunc(s.handleHealth)))
	mux.Handle(MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handlePeople(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter, err := service.DecodeFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.cfg.Latency > 0 {
		timer := s.clock.Timer(s.cfg.Latency)
		select {
		case <-r.Context().Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if s.cfg.FailureRate > 0 && s.random() < s.cfg.FailureRate {
		s.log.Debugf("injecting failure for %s", filter)
		writeError(w, http.StatusServiceUnavailable, FailureMessage)
		return
	}

	found, err := s.searcher.Search(filter, s.cfg.Limit)
	if err != nil {
		s.log.Errorf("search %s: %v", filter, err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, service.PeopleResponse{People: found})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientKey(r), s.clock.Now()) {
			secs := int(math.Ceil(s.limiter.retryAfter().Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveRequest(path, rec.code, s.clock.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debuglog.Warnf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, service.ErrorResponse{Error: msg})
}
