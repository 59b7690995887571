package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bcistream/pkg/session"
	"github.com/bcistream/pkg/sidebus"
)

const (
	serviceName    = "bcistream"
	serviceVersion = "0.2.0"
)

// server is the process-lifetime root value: configuration, the
// session manager (which owns the shared dataset), the side bus and
// the live connection counter. No module-scope mutable state.
type server struct {
	cfg     Settings
	manager *session.Manager
	bus     sidebus.Publisher

	upgrader    websocket.Upgrader
	activeConns atomic.Int64
	prom        *promMetrics

	httpServer *http.Server
}

func newServer(cfg Settings, manager *session.Manager, bus sidebus.Publisher) *server {
	s := &server{
		cfg:     cfg,
		manager: manager,
		bus:     bus,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
	}
	s.prom = newPromMetrics(manager)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.routes(),
	}
	return s
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("GET /api/metadata", s.handleMetadata)
	mux.HandleFunc("GET /api/trials", s.handleTrials)
	mux.HandleFunc("GET /api/trials/by-target/{target}", s.handleTrialsByTarget)
	mux.HandleFunc("GET /api/trials/{id}", s.handleTrial)

	mux.HandleFunc("POST /api/sessions/create", s.handleSessionCreate)
	mux.HandleFunc("GET /api/sessions", s.handleSessionList)
	mux.HandleFunc("POST /api/sessions/cleanup", s.handleSessionCleanup)
	mux.HandleFunc("GET /api/sessions/{code}", s.handleSessionGet)
	mux.HandleFunc("DELETE /api/sessions/{code}", s.handleSessionDelete)

	mux.HandleFunc("POST /api/control/{code}/pause", s.handleControlPause)
	mux.HandleFunc("POST /api/control/{code}/resume", s.handleControlResume)
	mux.HandleFunc("POST /api/control/{code}/stop", s.handleControlStop)
	mux.HandleFunc("POST /api/control/{code}/seek", s.handleControlSeek)

	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.Handle("GET /metrics/prometheus",
		promhttp.HandlerFor(s.prom.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /stream/binary/{code}", func(w http.ResponseWriter, r *http.Request) {
		s.handleStream(w, r, true)
	})
	mux.HandleFunc("GET /stream/{code}", func(w http.ResponseWriter, r *http.Request) {
		s.handleStream(w, r, false)
	})

	return mux
}

func (s *server) run() error {
	log.Printf("%s %s listening on http://%s", serviceName, serviceVersion, s.httpServer.Addr)
	log.Printf("dataset: %s (%d channels, %.1fs)", s.manager.Dataset().Name(),
		s.manager.Dataset().NumChannels(), s.manager.Dataset().DurationSeconds())
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// shutdown stops accepting connections, stops all engines, closes the
// dataset and the side bus.
func (s *server) shutdown() {
	log.Printf("shutting down %s", serviceName)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	s.manager.Shutdown()
	if err := s.bus.Close(); err != nil {
		log.Printf("side bus close: %v", err)
	}
	log.Printf("shutdown complete")
}

// streamURL is the advertised websocket URL for a session.
func (s *server) streamURL(code string) string {
	host := s.cfg.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("ws://%s:%d/stream/%s", host, s.cfg.Port, code)
}
