package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

type Server struct {
	log *logger.Logger
	srv *http.Server
}

func NewServer(cfg config.HTTPConfig, log *logger.Logger, engine *gin.Engine) *Server {
	readHeader := cfg.ReadHeaderTimeout.Duration
	if readHeader <= 0 {
		readHeader = 5 * time.Second
	}
	idle := cfg.IdleTimeout.Duration
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		log: log.With("service", "HTTPServer"),
		srv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: readHeader,
			IdleTimeout:       idle,
		},
	}
}

func (s *Server) Addr() string { return s.srv.Addr }

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP server shutting down")
	return s.srv.Shutdown(ctx)
}
