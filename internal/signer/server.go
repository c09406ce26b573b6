package signer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Server exposes a SessionManager over gRPC on a Unix socket. Only processes
// that can open the socket file can sign, so the socket is created 0600.
type Server struct {
	gs   *grpc.Server
	lis  net.Listener
	path string
	log  *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger used for per-call logging.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// New listens on socketPath and registers the signer service backed by
// session. A stale socket from an earlier run is replaced.
func New(socketPath string, session *SessionManager, opts ...ServerOption) (*Server, error) {
	s := &Server{path: socketPath, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	lis, err := listenUnix(socketPath)
	if err != nil {
		return nil, err
	}
	s.lis = lis
	s.gs = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logCalls))
	s.gs.RegisterService(&serviceDesc, NewHandler(session))
	return s, nil
}

func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("signer: create socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("signer: remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("signer: listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		lis.Close()
		return nil, fmt.Errorf("signer: chmod socket: %w", err)
	}
	return lis, nil
}

// logCalls records the method, gRPC code and latency of every call. Payloads
// are never logged.
func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	s.log.Log(ctx, level, "signer: call",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"elapsed", time.Since(start),
	)
	return resp, err
}

// Path is the socket the server listens on.
func (s *Server) Path() string { return s.path }

// Serve accepts connections until the server is stopped.
func (s *Server) Serve() error {
	return s.gs.Serve(s.lis)
}

// GracefulStop waits for in-flight calls, then removes the socket file.
func (s *Server) GracefulStop() {
	s.gs.GracefulStop()
	_ = s.lis.Close()
	_ = os.Remove(s.path)
}
