// Package api exposes the ledger over gRPC so the orchestrator can run in
// a separate process from the account store.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
)

// Server hosts the ledger gRPC endpoint.
type Server struct {
	addr string
	grpc *grpc.Server
	log  *slog.Logger
}

// NewServer creates a Server that will listen on addr and serve l.
func NewServer(addr string, l Ledger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "api")
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(log)))
	RegisterLedgerService(gs, NewLedgerService(l))
	return &Server{addr: addr, grpc: gs, log: log}
}

// Serve accepts connections on lis until Shutdown is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("ledger gRPC listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving gRPC: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and blocks until ctx is
// cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		_ = s.Shutdown(context.Background())
		return <-errCh
	}
}

// Shutdown stops accepting new calls and waits for in-flight calls to
// complete, or forces the stop when ctx ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
}
