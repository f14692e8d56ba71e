package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"BarHarvest/pkg/http/middleware"
	"BarHarvest/pkg/logger"
)

// Handler registers its routes on the server's echo instance.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

type serverSettings struct {
	host        string
	port        int
	read, write time.Duration
	grace       time.Duration
	slow        time.Duration
	cors        bool
	log         *logger.Logger
	registry    *prometheus.Registry
}

// ServerOption adjusts NewServer.
type ServerOption func(*serverSettings)

// Server is the status API: echo with recovery, request logs, HTTP metrics and /metrics.
type Server struct {
	echo *echo.Echo
	cfg  serverSettings
	log  *logger.Logger
	ln   net.Listener
}

func NewServer(handler Handler, opts ...ServerOption) *Server {
	cfg := serverSettings{
		host:  "0.0.0.0",
		port:  8080,
		read:  10 * time.Second,
		write: 10 * time.Second,
		grace: 10 * time.Second,
		slow:  time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.log
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.String("component", "http"))

	e := echo.New()
	e.HideBanner, e.HidePort = true, true
	e.Server.ReadTimeout = cfg.read
	e.Server.WriteTimeout = cfg.write

	var (
		reg    prometheus.Registerer = prometheus.DefaultRegisterer
		gather prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if cfg.registry != nil {
		reg, gather = cfg.registry, cfg.registry
	}

	e.Use(middleware.Recover(log), middleware.RequestLogging(log), middleware.Metrics(reg, log, cfg.slow))
	if cfg.cors {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
	if handler != nil {
		handler.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gather, promhttp.HandlerOpts{})))

	return &Server{echo: e, cfg: cfg, log: log}
}

// Start binds the port, so a busy address is reported here, then serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.host, strconv.Itoa(s.cfg.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.echo.Listener = ln
	go func() {
		s.log.Info("listening", logger.String("addr", ln.Addr().String()))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", logger.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests for at most the grace period.
func (s *Server) Stop(ctx context.Context) error {
	if s.cfg.grace > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.grace)
		defer cancel()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("stopped")
	return nil
}

func (s *Server) Echo() *echo.Echo { return s.echo }

// WithAddr sets the listen host and port; port 0 picks a free one.
func WithAddr(host string, port int) ServerOption {
	return func(c *serverSettings) {
		if host != "" {
			c.host = host
		}
		c.port = port
	}
}

// WithTimeouts sets read, write and shutdown grace durations.
func WithTimeouts(read, write, grace time.Duration) ServerOption {
	return func(c *serverSettings) {
		c.read, c.write, c.grace = read, write, grace
	}
}

// WithSlowRequest logs requests slower than d at warn level.
func WithSlowRequest(d time.Duration) ServerOption {
	return func(c *serverSettings) {
		if d > 0 {
			c.slow = d
		}
	}
}

func WithCORS(enabled bool) ServerOption {
	return func(c *serverSettings) { c.cors = enabled }
}

func WithLogger(l *logger.Logger) ServerOption {
	return func(c *serverSettings) { c.log = l }
}

// WithRegistry serves /metrics from reg and registers the HTTP metrics there.
func WithRegistry(reg *prometheus.Registry) ServerOption {
	return func(c *serverSettings) { c.registry = reg }
}
