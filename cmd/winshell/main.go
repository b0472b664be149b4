package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/server"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shell"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/window"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/ws"
)

func main() {
	configPath := flag.String("config", "winshell.toml", "Path to the TOML configuration file")
	port := flag.String("port", "", "HTTP port (overrides configuration)")
	dev := flag.Bool("dev", false, "Development logging")
	menuPath := flag.String("menu", "", "YAML window menu installed on every window")
	connect := flag.String("connect", "", "Host execution contexts for the shell at this websocket URL")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "winshell: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "winshell: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var menu []byte
	if *menuPath != "" {
		menu, err = os.ReadFile(*menuPath)
		if err == nil {
			_, err = window.ParseMenuYAML(menu)
		}
		if err != nil {
			logger.Fatal("invalid window menu", zap.String("path", *menuPath), zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *connect != "" {
		err = runHost(ctx, cfg, logger.Logger, *connect, menu)
	} else {
		err = runShell(ctx, cfg, logger.Logger, menu)
	}
	if err != nil {
		logger.Fatal("winshell failed", zap.Error(err))
	}
}

func runShell(ctx context.Context, cfg *config.Config, logger *zap.Logger, menu []byte) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)
	tracer := tracing.New("winshell", logger)
	defer tracer.Close()

	hub := transport.NewHub(logger)
	defer hub.Close()

	timeout := cfg.Dispatch.Timeout.Std()
	bridge := ws.NewBridge(hub, cfg.Bridge,
		ws.WithLogger(logger),
		ws.WithMetrics(metrics),
		ws.WithOriginCheck(originCheck(cfg.Server.AllowedOrigins)),
	)
	local := newLocalLauncher(hub, logger, metrics, tracer, timeout, menu)
	defer local.Stop()

	s, err := shell.New(hub, cfg.Shell,
		shell.WithLauncher(preferHost(bridge, local)),
		shell.WithLogger(logger),
		shell.WithMetrics(metrics),
		shell.WithTracer(tracer),
		shell.WithTimeout(timeout),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := server.New(cfg, server.Deps{
		Shell:    s,
		Bridge:   bridge,
		Metrics:  metrics,
		Gatherer: reg,
		Tracer:   tracer,
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runHost(ctx context.Context, cfg *config.Config, logger *zap.Logger, url string, menu []byte) error {
	if err := waitHealthy(ctx, url, logger); err != nil {
		return err
	}
	client, err := ws.Dial(ctx, url, cfg.Bridge, ws.WithClientLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	local := newLocalLauncher(client, logger, nil, nil, cfg.Dispatch.Timeout.Std(), menu)
	defer local.Stop()
	if err := client.Host(local); err != nil {
		return fmt.Errorf("offer to host: %w", err)
	}
	logger.Info("hosting execution contexts", zap.String("url", url), zap.String("connection", client.ID()))

	select {
	case <-ctx.Done():
		return nil
	case <-client.Done():
		return client.Err()
	}
}

// originCheck admits websocket upgrades from the configured origins and
// from clients that send no Origin header.
func originCheck(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(allowed) == 0 || slices.Contains(allowed, origin)
	}
}
