package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"go.uber.org/zap"
)

type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	logger   *logging.Service
	listener net.Listener
}

func New(cfg *config.Config, logger *logging.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(logging.RequestLogger(logger.Named("http"), "/healthz"))
	e.Use(middleware.Recover())

	return &Server{
		echo:   e,
		cfg:    cfg,
		logger: logger.Named("server"),
	}
}

// Listen binds the configured address. Port 0 picks a free port, which Addr
// reports afterwards.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.echo.Listener = ln
	return nil
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.logger.Info("starting token authority", zap.String("addr", s.Addr()))
	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("server stopped unexpectedly", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) Get(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.GET(path, handler, m...)
}

func (s *Server) Post(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.POST(path, handler, m...)
}

func (s *Server) Delete(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.DELETE(path, handler, m...)
}

func (s *Server) Group(prefix string, m ...echo.MiddlewareFunc) *echo.Group {
	return s.echo.Group(prefix, m...)
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}
