// Package api provides the REST and SSE surface for PLC data.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mclink/config"
	"mclink/logging"
	"mclink/plcman"
)

// Server is the REST API server.
type Server struct {
	manager *plcman.Manager
	cfg     *config.Config
	cfgPath string
	hub     *eventHub
	server  *http.Server
	running bool
	mu      sync.RWMutex
}

// NewServer creates a new REST API server. cfgPath is where config
// mutations are persisted.
func NewServer(manager *plcman.Manager, cfg *config.Config, cfgPath string) *Server {
	return &Server{
		manager: manager,
		cfg:     cfg,
		cfgPath: cfgPath,
		hub:     newEventHub(),
	}
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start begins the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: corsMiddleware(s.router()),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logging.DebugLog("api", "server stopped: %v", err)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	go s.pollHealth()

	s.running = true
	logging.DebugLog("api", "listening on %s", addr)
	return nil
}

// Stop halts the HTTP server and the SSE hub.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	s.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// Address returns the server address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
