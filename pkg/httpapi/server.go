// Package httpapi exposes the daemon's observability surface: a liveness
// probe at /healthz and a Prometheus scrape endpoint at /metrics. It is
// not a management API -- the daemon is administered via cmd/shelfd.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/shelffs/shelf/internal/logger"
	"github.com/shelffs/shelf/pkg/scheduler"
)

// Server wraps an *http.Server serving the router built by newRouter.
type Server struct {
	server       *http.Server
	addr         string
	shutdownOnce sync.Once
}

// NewServer builds a Server listening on port, in a stopped state. Call
// Start to begin serving.
func NewServer(port int, db *gorm.DB, pool *scheduler.Pool) *Server {
	cfg := newServerConfig(port)
	router := newRouter(db, pool, time.Now())

	return &Server{
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		addr: cfg.Addr,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("httpapi listening", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("httpapi server failed: %w", err)
	}
}

// Stop is safe to call more than once and concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("httpapi shutdown: %w", err)
		} else {
			logger.Info("httpapi stopped")
		}
	})
	return shutdownErr
}
