package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/ensemble-forecast/internal/api/http"
	"github.com/i474232898/ensemble-forecast/internal/config"
	"github.com/i474232898/ensemble-forecast/internal/logging"
	"github.com/i474232898/ensemble-forecast/internal/scheduler"
	"github.com/i474232898/ensemble-forecast/internal/store"
	"github.com/i474232898/ensemble-forecast/internal/weather"
	"github.com/i474232898/ensemble-forecast/internal/weather/providers"
)

const appName = "ensemble-forecast"

var version = "dev"

func main() {
	configFile := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load config", logging.Err(err))
		os.Exit(1)
	}

	log := logging.New(cfg, version, appName)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("ensemble-forecast stopped", logging.Err(err))
		os.Exit(1)
	}
}

func loadConfig(file string) (*config.Config, error) {
	if file == "" {
		return config.New()
	}
	return config.NewFromFile(filepath.Dir(file), filepath.Base(file))
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared HTTP client for outbound feed calls.
	httpClient := &http.Client{Timeout: cfg.Upstream.Timeout}
	clientCfg := providers.DefaultHTTPClientConfig(httpClient)
	clientCfg.Backoff.MaxRetries = cfg.Upstream.MaxRetries
	clientCfg.RequestsPerSecond = cfg.Upstream.RequestsPerSecond
	clientCfg.Burst = cfg.Upstream.Burst

	feeds, err := modelFeeds(cfg, clientCfg)
	if err != nil {
		return err
	}
	hourly, err := providers.NewNowcastFeed(clientCfg)
	if err != nil {
		return fmt.Errorf("nowcast feed: %w", err)
	}

	records, err := store.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer func() {
		if err := records.Close(); err != nil {
			log.Warn("closing store failed", logging.Err(err))
		}
	}()

	service, err := weather.NewService(cfg.ServiceConfig(), feeds, hourly, records, log)
	if err != nil {
		return err
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(service.Locations(), cfg.Scheduler.Interval,
			cfg.Scheduler.Days, cfg.Scheduler.Hours, service, log)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": appName,
			"version": version,
		})
	})

	httpapi.RegisterRoutes(app, service)

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("port", cfg.Server.Port),
			slog.String("store", cfg.Store.Backend),
			slog.Int("models", len(feeds)))
		errCh <- app.Listen(":" + cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return app.ShutdownWithContext(shutdownCtx)
}

// modelFeeds builds one feed per configured model from its source.
func modelFeeds(cfg *config.Config, clientCfg providers.HTTPClientConfig) ([]weather.ModelFeed, error) {
	feeds := make([]weather.ModelFeed, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		switch m.Source {
		case config.SourceOpenMeteo:
			feeds = append(feeds, providers.NewOpenMeteoFeed(clientCfg, cfg.Upstream.OpenMeteoURL, m.Name))
		case config.SourceWeatherAPI:
			feeds = append(feeds, providers.NewWeatherAPIFeed(clientCfg, cfg.Upstream.WeatherAPIKey, m.Name))
		case config.SourceOpenWeatherMap:
			feeds = append(feeds, providers.NewOpenWeatherFeed(clientCfg, cfg.Upstream.OpenWeatherKey, m.Name))
		default:
			return nil, fmt.Errorf("model %q: unknown source %q", m.Name, m.Source)
		}
	}
	return feeds, nil
}
