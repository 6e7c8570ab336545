// Package bootstrap wires the stores, the evolution pipeline and the HTTP
// server into a running process.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"playground/internal/contextstore"
	"playground/internal/evolution"
	"playground/internal/llm"
	"playground/internal/logging"
	"playground/internal/observability"
	"playground/internal/persistence"
	serverHTTP "playground/internal/server/http"
	"playground/internal/serverconfig"
)

const (
	metricsNamespace = "playground"
	shutdownTimeout  = 10 * time.Second
)

// App is a fully wired service that has not started serving yet.
type App struct {
	Config    Config
	Logger    *observability.Logger
	Registry  *prometheus.Registry
	Contexts  *contextstore.Store
	Settings  *serverconfig.Store
	LLM       *llm.Router
	Evolution *evolution.Pipeline
	Handler   http.Handler

	logger logging.Logger
}

// Build opens the stores and assembles the router. Close releases what it
// opened.
func Build(ctx context.Context, cfg Config) (*App, error) {
	obsLogger := observability.NewLogger(observability.LogConfig{
		Level:  serverconfig.DefaultLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
	logger := logging.FromObservability(obsLogger, "Main")
	LogServerConfiguration(logger, cfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewMetrics(metricsNamespace, registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	gateway := persistence.NewFileGateway()

	settings := serverconfig.NewStore(cfg.ServerConfigPath(), gateway,
		serverconfig.WithLogger(logging.FromObservability(obsLogger, "ServerConfig")))
	current, err := settings.Load(ctx)
	if err != nil {
		logger.Warn("Server config not persisted, running on defaults: %v", err)
	}
	applyLogLevel(obsLogger, logger, current)

	contexts := contextstore.New(cfg.ContextsPath(), gateway,
		contextstore.WithLogger(logging.FromObservability(obsLogger, "Contexts")),
		contextstore.WithObserver(metrics),
		contextstore.WithBackstopInterval(cfg.BackstopInterval))
	if err := contexts.Open(ctx); err != nil {
		return nil, fmt.Errorf("open context store: %w", err)
	}

	router, err := buildLLMRouter(cfg.LLM, logging.FromObservability(obsLogger, "LLM"))
	if err != nil {
		_ = contexts.Close(ctx)
		return nil, err
	}

	pipeline, err := evolution.New(settings, router,
		evolution.WithAdminSecret(cfg.AdminSecret),
		evolution.WithProvider(cfg.LLM.Provider),
		evolution.WithLogger(logging.FromObservability(obsLogger, "Evolution")),
		evolution.WithObserver(metrics),
		evolution.WithHistorySize(cfg.HistorySize))
	if err != nil {
		_ = contexts.Close(ctx)
		return nil, fmt.Errorf("build evolution pipeline: %w", err)
	}

	handler := serverHTTP.NewRouter(serverHTTP.Deps{
		Contexts:       contexts,
		Config:         settings,
		Evolution:      pipeline,
		Logger:         logging.FromObservability(obsLogger, "HTTP"),
		Gatherer:       registry,
		AllowedOrigins: cfg.AllowedOrigins,
		StartedAt:      time.Now(),
	})

	return &App{
		Config:    cfg,
		Logger:    obsLogger,
		Registry:  registry,
		Contexts:  contexts,
		Settings:  settings,
		LLM:       router,
		Evolution: pipeline,
		Handler:   handler,
		logger:    logger,
	}, nil
}

// Close flushes the context store.
func (a *App) Close(ctx context.Context) error {
	if err := a.Contexts.Close(ctx); err != nil {
		return fmt.Errorf("close context store: %w", err)
	}
	return nil
}

func buildLLMRouter(cfg LLMConfig, logger logging.Logger) (*llm.Router, error) {
	router := llm.NewRouter(logger)
	router.Register("mock", llm.NewMockClient(nil))
	if cfg.Provider == "openai" || cfg.APIKey != "" {
		client, err := llm.NewOpenAIClient(llm.Config{
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}, logger)
		switch {
		case err == nil:
			router.Register("openai", client)
			logger.Info("Registered openai provider (model %s)", client.Model())
		case cfg.Provider == "openai":
			return nil, fmt.Errorf("build openai client: %w", err)
		default:
			logger.Warn("OpenAI client not registered: %v", err)
		}
	}
	return router, nil
}

func applyLogLevel(target *observability.Logger, logger logging.Logger, cfg serverconfig.ServerConfig) {
	next, err := observability.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Warn("Ignoring log level %q: %v", cfg.Logging.Level, err)
		return
	}
	previous := target.Level()
	if next == previous {
		return
	}
	// Announce under whichever of the two levels is more verbose.
	if next > previous {
		logger.Info("Log level changed from %s to %s", previous, next)
	}
	_ = target.SetLevel(cfg.Logging.Level)
	if next < previous {
		logger.Info("Log level changed from %s to %s", previous, next)
	}
}

// Run builds the service and serves until ctx is cancelled or the listener
// fails. The context store is flushed on the way out.
func Run(ctx context.Context, cfg Config) error {
	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		_ = app.Close(context.Background())
		return fmt.Errorf("listen on :%s: %w", cfg.Port, err)
	}
	return app.Serve(ctx, listener)
}

// Serve runs the HTTP server, the config watcher and the log level follower
// under one errgroup and closes the app when they all stop.
func (a *App) Serve(ctx context.Context, listener net.Listener) error {
	logger := a.logger
	group, gctx := errgroup.WithContext(ctx)

	if a.Config.WatchConfig {
		watcher, err := serverconfig.NewWatcher(a.Settings,
			serverconfig.WithWatchLogger(logging.FromObservability(a.Logger, "ConfigWatcher")))
		if err != nil {
			_ = listener.Close()
			return errors.Join(err, a.Close(context.Background()))
		}
		if err := watcher.Start(gctx); err != nil {
			logger.Warn("Config watcher unavailable: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	updates, unsubscribe := a.Settings.Subscribe()
	defer unsubscribe()
	group.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case cfg := <-updates:
				applyLogLevel(a.Logger, logger, cfg)
			}
		}
	})

	server := &http.Server{
		Handler:      a.Handler,
		ErrorLog:     slog.NewLogLogger(a.Logger.With("component", "HTTPServer").Slog().Handler(), slog.LevelError),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	group.Go(func() error {
		logger.Info("Server listening on %s", listener.Addr())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err := group.Wait()
	if closeErr := a.Close(context.Background()); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err == nil {
		logger.Info("Server stopped")
	}
	return err
}
