package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/rafaeljc/heimdall-sdk/internal/config"
)

// Server runs the API on the configured host and port.
type Server struct {
	logger *slog.Logger
	cfg    *config.AgentConfig
	server *http.Server
}

func NewServer(logger *slog.Logger, cfg *config.AgentConfig, api *API) *Server {
	if cfg == nil || api == nil {
		panic("agent: config and api cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger,
		cfg:    cfg,
		server: &http.Server{
			Handler:           api.Router,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.logger.Info("starting agent api", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("agent api failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping agent api")
	return s.server.Shutdown(ctx)
}
