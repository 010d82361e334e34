package grpc

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
)

const stopGrace = 2 * time.Second

// Server wraps the gRPC server and the speech service
type Server struct {
	grpcServer *grpc.Server
	log        *slog.Logger
	addr       string
}

// Config holds server configuration
type Config struct {
	Host string
	Port int
}

// NewServer creates a gRPC server exposing speech
func NewServer(cfg Config, speech Speech, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("component", "grpc"))

	s := &Server{
		grpcServer: grpc.NewServer(),
		log:        logger,
		addr:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	RegisterSpeechServer(s.grpcServer, NewSpeechService(speech, logger))
	return s
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", slog.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the server. Open event streams are cut after a
// short grace period.
func (s *Server) Stop() {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.grpcServer.Stop()
		<-done
	}
}
