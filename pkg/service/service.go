// Package service runs one pipeline instance behind health and readiness
// endpoints, translating process lifecycle (signals, context cancellation)
// into cooperative pipeline shutdown.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"botpipe/pkg/config"
	"botpipe/pkg/pipeline"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18791
)

// Service couples one pipeline with an HTTP status server.
type Service struct {
	cfg  *config.Config
	log  *slog.Logger
	pipe *pipeline.Pipeline

	mu         sync.RWMutex
	startedAt  time.Time
	lastErr    string
	statusAddr string
}

type statusResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	PipelineState string `json:"pipeline_state"`
	LastError     string `json:"last_error,omitempty"`
}

// New builds a service around an idle pipeline.
func New(cfg *config.Config, pipe *pipeline.Pipeline, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if pipe == nil {
		return nil, errors.New("pipeline is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:  cfg,
		log:  log.With("component", "service"),
		pipe: pipe,
	}, nil
}

// Run starts the status server and the pipeline, blocking until ctx is
// canceled, the status server fails, or the pipeline's stream fails.
//
// A stream-level pipeline failure is returned to the caller; retry policy
// lives above this service, not inside it.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	events, cancelEvents := s.pipe.Events(ctx, s.cfg.Pipeline.EventBuffer)
	defer cancelEvents()
	go s.watchEvents(events)

	pipeDone := make(chan error, 1)
	go func() {
		pipeDone <- s.pipe.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		s.pipe.Stop()
		<-pipeDone
		return nil
	case err := <-serverErrors:
		s.pipe.Stop()
		return err
	case err := <-pipeDone:
		if err != nil {
			return fmt.Errorf("pipeline stopped: %w", err)
		}
		return nil
	}
}

// watchEvents logs lifecycle events and records the most recent per-message
// error for the status endpoint.
func (s *Service) watchEvents(events <-chan pipeline.Event) {
	for event := range events {
		switch event.Type {
		case pipeline.EventStart:
			s.log.Info("Pipeline listening")
		case pipeline.EventStop:
			s.log.Info("Pipeline stopped")
		case pipeline.EventError:
			s.log.Warn("Message processing error", "message_id", event.MessageID, "error", event.Err)
			s.mu.Lock()
			s.lastErr = event.Err.Error()
			s.mu.Unlock()
		}
	}
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port < 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		errCh <- fmt.Errorf("bind status server: %w", err)
		return
	}

	s.mu.Lock()
	s.statusAddr = listener.Addr().String()
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Status server started", "address", s.StatusAddr())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("run status server: %w", err)
	}
}

// StatusAddr returns the bound status server address, empty until Run has
// started the server.
func (s *Service) StatusAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusAddr
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if s.pipe.State() != pipeline.StateListening {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	s.mu.RLock()
	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}
	payload := statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		PipelineState: s.pipe.State().String(),
		LastError:     s.lastErr,
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}
