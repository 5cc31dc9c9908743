// Command registryd runs a discovery manager over the configured sources
// and logs the snapshots of the watched keys.
//
//	registryd -config ./config.yml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kbukum/registrykit/bootstrap"
	"github.com/kbukum/registrykit/config"
	"github.com/kbukum/registrykit/discovery"
	"github.com/kbukum/registrykit/logger"
	"github.com/kbukum/registrykit/observability"
	"github.com/kbukum/registrykit/version"
)

func main() {
	configFile := flag.String("config", "", "path to the configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	if err := run(context.Background(), *configFile); err != nil {
		logger.Error("registryd failed", map[string]interface{}{logger.FieldError: err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	var cfg Config
	var opts []config.LoaderOption
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if err := config.LoadConfig("registryd", &cfg, opts...); err != nil {
		return err
	}

	app, err := bootstrap.NewApp(&cfg)
	if err != nil {
		return err
	}
	if err := wire(ctx, app); err != nil {
		return err
	}
	return app.Run(ctx)
}

// wire builds the sources, manager, isolation detector and reporter and
// registers them in start order.
func wire(ctx context.Context, app *bootstrap.App[*Config]) error {
	cfg := app.Cfg

	var managerOpts []discovery.Option
	managerOpts = append(managerOpts, discovery.WithLogger(app.Logger))
	if cfg.Telemetry.Enabled {
		metrics, err := initTelemetry(ctx, app)
		if err != nil {
			return err
		}
		managerOpts = append(managerOpts, discovery.WithMetrics(metrics))
	}

	sources, err := buildSources(cfg.Sources, app.Logger)
	if err != nil {
		return err
	}
	plain := make([]discovery.Source, 0, len(sources))
	for _, s := range sources {
		if err := app.RegisterComponent(s); err != nil {
			return err
		}
		plain = append(plain, s)
	}

	manager, err := discovery.NewManager(cfg.Discovery, plain, managerOpts...)
	if err != nil {
		return err
	}
	keys := make([]discovery.Key, 0, len(cfg.Watch))
	for _, w := range cfg.Watch {
		k, _ := parseWatch(w)
		keys = append(keys, k)
	}

	if err := app.RegisterComponent(manager); err != nil {
		return err
	}
	if err := app.RegisterComponent(manager.IsolationDetector()); err != nil {
		return err
	}
	return app.RegisterComponent(&reporter{
		manager:  manager,
		keys:     keys,
		interval: cfg.ReportInterval,
		log:      app.Logger.WithComponent("reporter"),
	})
}

// initTelemetry installs the OTLP providers and flushes them on shutdown.
func initTelemetry(ctx context.Context, app *bootstrap.App[*Config]) (*observability.Metrics, error) {
	cfg := app.Cfg
	oc := observability.DefaultConfig(cfg.Name)
	oc.ServiceVersion, oc.Environment = app.Version, cfg.Environment
	oc.Endpoint, oc.Insecure = cfg.Telemetry.Endpoint, cfg.Telemetry.Insecure
	oc.SampleRate = cfg.Telemetry.SampleRate

	providers, err := observability.Init(ctx, oc)
	if err != nil {
		return nil, err
	}
	app.OnStop(providers.Shutdown)
	return observability.NewMetrics(providers.Meter.Meter(observability.ScopeName))
}
