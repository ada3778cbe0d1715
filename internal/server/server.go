// Package server exposes the advisory graph over HTTP: POST /invoke accepts
// a user turn and streams the response back as Server-Sent Events, with the
// body followed by the Trace/Citations/Disclaimer/Tools metadata lines.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianfin/advisor-agent/internal/observability"
	"github.com/meridianfin/advisor-agent/internal/ratelimit"
	"github.com/meridianfin/advisor-agent/pkg/models"
)

// Advisor runs one request through the orchestration graph. Implemented by
// *graph.Driver; tests substitute a stub.
type Advisor interface {
	Handle(ctx context.Context, traceID string, req models.Request) (models.ResponseEnvelope, error)
}

// Config configures the inbound HTTP listener.
type Config struct {
	Host        string
	Port        int
	MetricsPort int
}

// Server is the inbound HTTP surface: /invoke, /healthz, and the separate
// metrics listener.
type Server struct {
	config  Config
	advisor Advisor
	limiter *ratelimit.Limiter
	logger  *observability.Logger
	metrics *observability.Metrics

	httpServer    *http.Server
	httpListener  net.Listener
	metricsServer *http.Server
}

// New builds a Server. limiter, logger, and metrics may be nil; the
// corresponding behavior is skipped.
func New(config Config, advisor Advisor, limiter *ratelimit.Limiter, logger *observability.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		config:  config,
		advisor: advisor,
		limiter: limiter,
		logger:  logger,
		metrics: metrics,
	}
}

// Handler returns the main mux, exported so tests can drive it through
// httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", s.handleInvoke)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Start binds the listeners and serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpListener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error(ctx, "http server error", "error", err)
			}
		}
	}()

	if s.config.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		s.metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				if s.logger != nil {
					s.logger.Error(ctx, "metrics server error", "error", err)
				}
			}
		}()
	}

	if s.logger != nil {
		s.logger.Info(ctx, "starting http server", "addr", addr)
	}
	return nil
}

// Stop shuts both listeners down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil && s.logger != nil {
			s.logger.Warn(ctx, "http server shutdown error", "error", err)
		}
		s.httpServer = nil
		s.httpListener = nil
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil && s.logger != nil {
			s.logger.Warn(ctx, "metrics server shutdown error", "error", err)
		}
		s.metricsServer = nil
	}
}

// invokeRequest is the POST /invoke body.
type invokeRequest struct {
	Prompt        string `json:"prompt"`
	UserID        string `json:"user_id"`
	Locale        string `json:"locale,omitempty"`
	Authorization string `json:"authorization,omitempty"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, "/invoke", strconv.Itoa(status), time.Since(start).Seconds())
		}
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		http.Error(w, "method not allowed", status)
		return
	}

	var in invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		status = http.StatusBadRequest
		http.Error(w, "invalid request body", status)
		return
	}
	if in.Prompt == "" || in.UserID == "" {
		status = http.StatusBadRequest
		http.Error(w, "prompt and user_id are required", status)
		return
	}

	if s.limiter != nil && !s.limiter.Allow(in.UserID) {
		status = http.StatusTooManyRequests
		http.Error(w, "rate limit exceeded", status)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		status = http.StatusInternalServerError
		http.Error(w, "streaming unsupported", status)
		return
	}

	traceID := uuid.New().String()
	ctx := observability.AddTraceID(r.Context(), traceID)
	ctx = observability.AddUserID(ctx, in.UserID)
	if in.Locale != "" {
		ctx = observability.AddLocale(ctx, in.Locale)
	}

	req := models.Request{
		Prompt:    in.Prompt,
		UserID:    in.UserID,
		Locale:    in.Locale,
		AuthToken: in.Authorization,
	}

	envelope, err := s.advisor.Handle(ctx, traceID, req)

	// A disconnected client gets nothing; partial results are discarded and
	// only the audit trail records the outcome.
	if ctx.Err() != nil {
		if s.logger != nil {
			s.logger.Info(ctx, "client canceled request", "trace_id", traceID)
		}
		return
	}
	if err != nil {
		if s.logger != nil {
			s.logger.Error(ctx, "request failed", "trace_id", traceID, "error", err)
		}
		status = http.StatusInternalServerError
		http.Error(w, "internal error", status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := WriteEnvelope(w, envelope); err != nil && s.logger != nil {
		s.logger.Debug(ctx, "stream write failed", "trace_id", traceID, "error", err)
	}
	flusher.Flush()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil && s.logger != nil {
		s.logger.Debug(r.Context(), "healthz write failed", "error", err)
	}
}
