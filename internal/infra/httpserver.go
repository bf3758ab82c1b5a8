package infra

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPServer serves the API until its context ends, then drains it.
type HTTPServer struct {
	server          *http.Server
	shutdownTimeout time.Duration
	beforeShutdown  []func()
}

// NewHTTPServer creates a configured HTTP server instance. WriteTimeout
// defaults to zero so event streams are not cut off.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPServer{server: srv, shutdownTimeout: timeout}
}

// BeforeShutdown registers fn to run once ctx ends, before the server stops
// accepting requests and waits for active ones. Long-lived responses must
// be ended here or Shutdown waits for them until the timeout.
func (s *HTTPServer) BeforeShutdown(fn func()) {
	s.beforeShutdown = append(s.beforeShutdown, fn)
}

// Run listens on the configured address and serves until ctx is done.
func (s *HTTPServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("infra: listen %s: %w", s.server.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *HTTPServer) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("infra: serve: %w", err)
	case <-ctx.Done():
	}

	for _, fn := range s.beforeShutdown {
		fn()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("infra: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("infra: serve: %w", err)
	}
	return nil
}
