package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"firestige.xyz/psniff/internal/core"
	"firestige.xyz/psniff/internal/orchestrator"
	"firestige.xyz/psniff/internal/state"
)

// Defaults for the status server.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 3000
	DefaultRequestTimeout = 250 * time.Millisecond
)

// NewRouter returns the status routes, each bounded by timeout.
func NewRouter(r *state.Registry, timeout time.Duration) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	router := mux.NewRouter()
	NewHandlers(r).RegisterRoutes(router)
	return http.TimeoutHandler(router, timeout, `{"error":"request timed out"}`)
}

// Builder creates the status server task.
type Builder struct {
	registry *state.Registry
	host     string
	port     int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewBuilder creates a builder serving r on the default address.
func NewBuilder(r *state.Registry) *Builder {
	return &Builder{
		registry: r,
		host:     DefaultHost,
		port:     DefaultPort,
		timeout:  DefaultRequestTimeout,
	}
}

// SetAddr sets host and port. Port 0 picks a free port.
func (b *Builder) SetAddr(host string, port int) *Builder {
	b.host = host
	b.port = port
	return b
}

// SetRequestTimeout bounds every request.
func (b *Builder) SetRequestTimeout(d time.Duration) *Builder {
	b.timeout = d
	return b
}

// SetLogger sets the base logger.
func (b *Builder) SetLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Name identifies the task in orchestrator logs.
func (b *Builder) Name() string {
	return "status"
}

// Build binds the listening socket; a bind failure is a build failure.
func (b *Builder) Build(ctx context.Context) (orchestrator.Runnable, error) {
	s, err := b.build()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Builder) build() (*Server, error) {
	if b.registry == nil {
		return nil, core.ErrNoRegistry
	}
	addr := net.JoinHostPort(b.host, strconv.Itoa(b.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status server listen on %s: %w", addr, err)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listener: ln,
		logger:   logger.With("task", b.Name()),
		server: &http.Server{
			Handler:           NewRouter(b.registry, b.timeout),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}, nil
}

// Server is a bound status server.
type Server struct {
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Run serves until ctx is cancelled, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting status server", "addr", s.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown failed: %w", err)
	}
	s.logger.Info("status server stopped")
	return nil
}

// Close releases the socket of a server that never ran.
func (s *Server) Close() error {
	return s.listener.Close()
}
