// Package httpserver serves a small JSON API exposing the beat pulse state.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"libdb.so/beatglow/internal/pulse"
)

// Controller is the narrow daemon contract required by the HTTP API.
type Controller interface {
	Snapshot() pulse.Snapshot
	Start()
}

// Server provides an HTTP API for observing and starting the pulse.
type Server struct {
	addr      string
	ctl       Controller
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, ctl Controller) *Server {
	if addr == "" {
		addr = "127.0.0.1:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		ctl:    ctl,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/state", s.handleState)
	r.POST("/api/start", s.handleStart)

	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the address the server listens on. It is only valid after
// Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

// stateResponse is the body of GET /api/state.
type stateResponse struct {
	State    pulse.State `json:"state"`
	BPM      float64     `json:"bpm"`
	PeriodMS float64     `json:"period_ms"`
	Color    string      `json:"color"`
	Error    string      `json:"error,omitempty"`
}

func (s *Server) handleState(c *gin.Context) {
	snapshot := s.ctl.Snapshot()

	resp := stateResponse{
		State:    snapshot.State,
		BPM:      snapshot.BPM,
		PeriodMS: float64(snapshot.Period) / float64(time.Millisecond),
		Color:    snapshot.Color.Hex(),
	}
	if snapshot.Err != nil {
		resp.Error = snapshot.Err.Error()
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStart(c *gin.Context) {
	s.ctl.Start()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
