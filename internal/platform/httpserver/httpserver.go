// Package httpserver wraps net/http server construction so every listener
// in the process shares the same timeout discipline.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Timeouts bounds connection handling on a listener.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// Server wraps http.Server with a context-driven run loop.
type Server struct {
	srv *http.Server
}

func New(addr string, handler http.Handler, t Timeouts) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  t.Read,
			WriteTimeout: t.Write,
			IdleTimeout:  t.Idle,
		},
	}
}

// Run serves until the context is cancelled, then shuts down gracefully
// within shutdownTimeout. It returns nil on a clean shutdown.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// Addr reports the listener address the server was configured with.
func (s *Server) Addr() string {
	return s.srv.Addr
}
