/*
Package server implements the application's network transport layer.
It wires the session store, the screen state machine and the websocket hub
behind an echo router and configures the HTTP server timeouts.
*/
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/config"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/flow"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/session"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/utility"
)

// Server defines the configuration and dependencies for the HTTP service.
type Server struct {
	// port specifies the TCP port the server will listen on.
	port int

	cfg     *config.Config
	store   *session.Store
	machine *flow.Machine
	hub     *utility.Hub

	// background recommendation calls outlive their request; baseCtx bounds
	// them and inflight lets shutdown wait for them.
	baseCtx     context.Context
	cancelBase  context.CancelFunc
	inflight    sync.WaitGroup
	loadTimeout time.Duration

	// mu guards draining; once set no new background work is started.
	mu       sync.Mutex
	draining bool

	startedAt time.Time
}

// New builds a Server from its collaborators.
func New(cfg *config.Config, store *session.Store, machine *flow.Machine, hub *utility.Hub) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	// Two calls (text + image), each with its own retries.
	loadTimeout := 2 * time.Duration(cfg.Gemini.MaxRetries) * (cfg.Gemini.RequestTimeout + cfg.Gemini.InitialBackoff)

	return &Server{
		port:        cfg.Port,
		cfg:         cfg,
		store:       store,
		machine:     machine,
		hub:         hub,
		baseCtx:     ctx,
		cancelBase:  cancel,
		loadTimeout: loadTimeout,
		startedAt:   time.Now(),
	}
}

// HTTPServer returns a configured *http.Server for this application.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,      // Time to wait for the next request on keep-alive connections.
		ReadTimeout:  10 * time.Second, // Maximum duration for reading the entire request.
		WriteTimeout: 60 * time.Second, // Weather lookup runs inside the request.
	}
}

// Drain stops accepting background AI work, cancels what is still running
// after grace and waits for it.
func (s *Server) Drain(grace time.Duration) {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.cancelBase()
		<-done
	}
	s.cancelBase()
}

// beginBackground reserves a slot for background work. It reports false
// once Drain has started.
func (s *Server) beginBackground() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inflight.Add(1)
	return true
}

// wait blocks until every background recommendation has finished.
func (s *Server) wait() {
	s.inflight.Wait()
}
