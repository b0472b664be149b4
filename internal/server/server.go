package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shell"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/ws"
)

// Deps are the components the server exposes.
type Deps struct {
	Shell    *shell.Shell
	Bridge   *ws.Bridge
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Tracer   *tracing.Tracer
	Logger   *zap.Logger
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     config.ServerConfig
	router  *gin.Engine
	http    *http.Server
	shell   *shell.Shell
	bridge  *ws.Bridge
	metrics *monitoring.Metrics
	logger  *zap.Logger
	timeout time.Duration
	started time.Time
}

// New builds the router for deps.
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if deps.Tracer != nil {
		router.Use(tracing.HTTPMiddleware(deps.Tracer))
	}
	router.Use(monitoring.Middleware(deps.Metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)))

	limit := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.Server.RateLimitRPS,
		Burst:             cfg.Server.RateLimitBurst,
	}
	if limit.Enabled() {
		logger.Info("rate limiting enabled",
			zap.Float64("rps", limit.RequestsPerSecond),
			zap.Int("burst", limit.Burst),
		)
		router.Use(middleware.RateLimit(limit))
	}

	s := &Server{
		cfg:     cfg.Server,
		router:  router,
		shell:   deps.Shell,
		bridge:  deps.Bridge,
		metrics: deps.Metrics,
		logger:  logger,
		timeout: cfg.Dispatch.Timeout.Std(),
		started: time.Now(),
	}

	router.GET("/health", s.health)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	windows := router.Group("/windows")
	windows.GET("", s.listWindows)
	windows.POST("", s.createWindow)
	windows.GET("/:handle", s.getWindow)
	windows.POST("/:handle/close-request", s.requestClose)
	windows.GET("/:handle/popup", s.getPopup)
	windows.POST("/:handle/popup/select", s.selectPopupItem)
	windows.POST("/:handle/popup/dismiss", s.dismissPopup)

	if deps.Bridge != nil {
		router.GET("/stream", deps.Bridge.HandleConnection)
	}

	s.http = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until Shutdown is called.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves HTTP on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.logger.Info("starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_connections", s.cfg.MaxConnections),
	)
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", ln.Addr(), err)
	}
	return nil
}

// Shutdown stops accepting requests, drops bridge connections and waits for
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.bridge != nil {
		s.bridge.Close()
	}
	return s.http.Shutdown(ctx)
}
