// Package server exposes the engine over HTTP: test intake, state reads,
// screenshot uploads and broadcast messages, plus the websocket stream.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uivet/uivet/internal/spec"
	"github.com/uivet/uivet/internal/state"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Engine is the slice of the orchestrator the HTTP surface needs.
type Engine interface {
	QueueTest(test *spec.Test) (string, error)
	State() (*state.Snapshot, error)
	AddScreenshot(testID, data string, metadata state.ScreenshotMetadata) (string, error)
	Broadcast(raw []byte) (string, error)
	WebsocketHandler() http.Handler
}

// Config contains the configuration for the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. ":8080" or "127.0.0.1:0".
	Addr string
}

// Server serves the JSON API.
// This is the concrete implementation without an interface abstraction.
type Server struct {
	log    logrus.FieldLogger
	cfg    Config
	engine Engine

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// New creates an HTTP server around the given engine.
func New(log logrus.FieldLogger, cfg Config, engine Engine) *Server {
	return &Server{
		log:    log.WithField("component", "server"),
		cfg:    cfg,
		engine: engine,
	}
}

// Start binds the listen address and begins serving. The bind happens
// synchronously so configuration errors surface to the caller instead of a
// background goroutine.
func (s *Server) Start(_ context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.mu.Lock()
	s.listener = listener
	s.srv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()

	s.log.WithField("addr", listener.Addr().String()).Info("HTTP server started")

	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	return nil
}

// Addr returns the bound listen address, or "" before Start. With a ":0"
// configuration this is the only way to learn the assigned port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Handler builds the full route table. Exposed so tests can drive the routes
// through httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /test", s.handleQueueTest)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /screenshot", s.handleAddScreenshot)
	mux.HandleFunc("POST /message", s.handleBroadcast)
	mux.Handle("GET /ws", s.engine.WebsocketHandler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("Request handled")
	})
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying writer so the websocket upgrade on
// GET /ws still works behind the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}

	return hj.Hijack()
}
