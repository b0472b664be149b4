package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/engine"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shell"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/transport"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/window"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/ws"
)

// localLauncher runs window contexts in this process.
type localLauncher struct {
	transport transport.Transport
	opts      engine.Options
	menu      []byte
	logger    *zap.Logger

	mu       sync.Mutex
	contexts map[types.WindowHandle]*engine.Context
}

func newLocalLauncher(tr transport.Transport, logger *zap.Logger, metrics *monitoring.Metrics, tracer *tracing.Tracer, timeout time.Duration, menu []byte) *localLauncher {
	return &localLauncher{
		transport: tr,
		opts: engine.Options{
			Logger:  logger.Named("engine"),
			Metrics: metrics,
			Tracer:  tracer,
			Timeout: timeout,
		},
		menu:     menu,
		logger:   logger,
		contexts: make(map[types.WindowHandle]*engine.Context),
	}
}

// Launch implements shell.Launcher.
func (l *localLauncher) Launch(_ context.Context, spec shell.LaunchSpec) error {
	c, err := engine.Start(l.transport, engine.Spec{
		Handle:   spec.Handle,
		Parent:   spec.Parent,
		InitData: spec.InitData,
		Entry:    l.entry,
	}, l.opts)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.contexts[spec.Handle] = c
	l.mu.Unlock()
	go func() {
		<-c.Done()
		l.mu.Lock()
		delete(l.contexts, spec.Handle)
		l.mu.Unlock()
	}()
	return nil
}

// Stop stops every context still running.
func (l *localLauncher) Stop() {
	l.mu.Lock()
	contexts := make([]*engine.Context, 0, len(l.contexts))
	for _, c := range l.contexts {
		contexts = append(contexts, c)
	}
	l.mu.Unlock()
	for _, c := range contexts {
		c.Stop()
	}
}

type windowInit struct {
	Title string `json:"title"`
}

// entry titles the window, installs the configured menu and shows it.
func (l *localLauncher) entry(ctx context.Context, c *engine.Context) {
	logger := l.logger.With(zap.Int64("window", int64(c.Handle())))
	w := c.Window()

	var init windowInit
	if err := w.DecodeInitData(&init); err != nil {
		logger.Debug("init data is not an object", zap.Error(err))
	}
	if init.Title == "" {
		init.Title = fmt.Sprintf("Window %d", c.Handle())
	}
	if err := w.SetTitle(ctx, init.Title); err != nil {
		logger.Warn("set title failed", zap.Error(err))
		return
	}

	if l.menu != nil {
		if err := l.installMenu(ctx, c); err != nil {
			logger.Warn("window menu not installed", zap.Error(err))
		}
	}

	if err := w.ReadyToShow(ctx); err != nil {
		logger.Warn("ready to show failed", zap.Error(err))
		return
	}
	if err := w.Show(ctx); err != nil && !errors.Is(err, window.ErrWindowClosed) {
		logger.Warn("show failed", zap.Error(err))
	}
}

func (l *localLauncher) installMenu(ctx context.Context, c *engine.Context) error {
	desc, err := window.ParseMenuYAML(l.menu)
	if err != nil {
		return err
	}
	w := c.Window()
	menu := c.Manager().MenuFromDescription(desc, map[string]func(context.Context){
		"window.new": func(ctx context.Context) {
			if _, err := c.Manager().CreateWindow(ctx, windowInit{}); err != nil {
				l.logger.Warn("create window failed", zap.Error(err))
			}
		},
		"window.close": func(ctx context.Context) {
			_ = w.Close(ctx)
		},
	})
	_, err = w.SetWindowMenu(ctx, menu)
	return err
}

// preferHost starts contexts on a bridged host when one is connected and in
// process otherwise.
func preferHost(bridge *ws.Bridge, local shell.Launcher) shell.Launcher {
	return shell.LauncherFunc(func(ctx context.Context, spec shell.LaunchSpec) error {
		if bridge.HasHost() {
			err := bridge.Launch(ctx, spec)
			if !errors.Is(err, ws.ErrNoHost) {
				return err
			}
		}
		return local.Launch(ctx, spec)
	})
}
