// Package server runs the admin HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cache-manager/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv    *http.Server
	addr   string
	errCh  chan error
	logger logging.Logger
}

// New creates a server for handler listening on addr, e.g. ":8080"
func New(handler http.Handler, addr string, logger logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		addr:   addr,
		errCh:  make(chan error, 1),
		logger: logging.OrGlobal(logger),
	}
}

// Start binds the listener and serves in the background. Bind failures are
// returned; later serve failures are delivered on Errors.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	s.addr = listener.Addr().String()

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()

	s.logger.Info("HTTP server listening", logging.String("addr", s.addr))
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	return s.addr
}

// Errors reports a failure of the serve loop. It is closed when the loop exits.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
