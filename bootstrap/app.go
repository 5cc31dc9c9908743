package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kbukum/registrykit/component"
	"github.com/kbukum/registrykit/logger"
	"github.com/kbukum/registrykit/version"
)

// App runs a set of components with a uniform lifecycle: start in
// registration order, run hooks, wait for a signal, stop in reverse order.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(staticSource)
//	app.RegisterComponent(manager)
//	app.Run(ctx)
type App[C Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *component.Registry
	Logger     *logger.Logger

	gracefulTimeout time.Duration
	onStart         []Hook
	onReady         []Hook
	onStop          []Hook
}

// NewApp applies defaults to cfg, validates it and initialises the logger.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	st := settings{graceful: defaultGracefulTimeout}
	for _, opt := range opts {
		opt(&st)
	}

	base := cfg.GetServiceConfig()
	app := &App[C]{
		Name:            base.Name,
		Version:         firstNonEmpty(st.version, base.Version, version.Short()),
		Cfg:             cfg,
		Components:      component.NewRegistry(),
		Logger:          st.log,
		gracefulTimeout: st.graceful,
	}
	if app.Logger == nil {
		logger.Init(base.Logging)
		app.Logger = logger.GetGlobalLogger()
	}
	return app, nil
}

// RegisterComponent adds a component. Components start in registration
// order, so register sources before the discovery manager.
func (a *App[C]) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// ReadyCheck returns an error naming every component that is not healthy.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	hs := a.Components.HealthAll(ctx)
	if component.Worst(hs) == component.StatusHealthy {
		return nil
	}
	var notReady []string
	for _, h := range hs {
		if h.Status == component.StatusHealthy {
			continue
		}
		detail := fmt.Sprintf("%s=%s", h.Name, h.Status)
		if h.Message != "" {
			detail += " (" + h.Message + ")"
		}
		notReady = append(notReady, detail)
	}
	return fmt.Errorf("components not ready: %s", strings.Join(notReady, ", "))
}

// Run starts the application, blocks until SIGINT/SIGTERM or ctx is done,
// then shuts down gracefully.
func (a *App[C]) Run(ctx context.Context) error {
	if _, err := a.Start(ctx); err != nil {
		return err
	}
	a.WaitForSignal(ctx)
	return a.Shutdown()
}

// Start starts all components and runs the start and ready hooks. It
// returns the startup summary.
func (a *App[C]) Start(ctx context.Context) (*Summary, error) {
	began := time.Now()
	a.Logger.Info("starting application", map[string]interface{}{
		"name":    a.Name,
		"version": a.Version,
	})

	if err := a.Components.StartAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to start components: %w", err)
	}
	if err := runHooks(ctx, a.onStart); err != nil {
		return nil, fmt.Errorf("onStart hook failed: %w", err)
	}
	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("ready check reported issues", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	if err := runHooks(ctx, a.onReady); err != nil {
		return nil, fmt.Errorf("onReady hook failed: %w", err)
	}

	summary := &Summary{
		Name:            a.Name,
		Version:         a.Version,
		StartupDuration: time.Since(began),
		Components:      collectSummary(ctx, a.Components),
	}
	summary.Log(a.Logger)
	return summary, nil
}

// WaitForSignal blocks until SIGINT/SIGTERM or ctx is done.
func (a *App[C]) WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.Logger.Info("received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})
		return sig
	case <-ctx.Done():
		a.Logger.Info("context canceled, shutting down")
		return nil
	}
}

// Shutdown runs the stop hooks and stops all components within the
// graceful timeout.
func (a *App[C]) Shutdown() error {
	a.Logger.Info("shutting down application", map[string]interface{}{
		"timeout": a.gracefulTimeout.String(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	var shutdownErr error
	if err := runHooks(ctx, a.onStop); err != nil {
		a.Logger.Error("onStop hook error", map[string]interface{}{logger.FieldError: err.Error()})
		shutdownErr = err
	}
	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("shutdown completed with errors", map[string]interface{}{logger.FieldError: err.Error()})
		shutdownErr = err
	}

	a.Logger.Info("application shutdown complete")
	return shutdownErr
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
