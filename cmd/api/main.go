package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"itemstore/internal/api"
	"itemstore/internal/config"
	"itemstore/internal/domain"
	"itemstore/internal/events"
	"itemstore/internal/logging"
	"itemstore/internal/metrics"
	"itemstore/internal/models"
	"itemstore/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	items, err := loadSeedItems(&logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := initStore(ctx, items, &logger)
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	registerEventConsumers(bus, st, &logger)

	httpServer := api.NewHTTPServer(cfg, st, bus, &logger)

	startMetrics(ctx, cfg, st, &logger)

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// loadSeedItems reads the optional seed file. The store starts empty when the
// default file is absent; an explicit ITEMS_PATH must exist.
func loadSeedItems(logger *zerolog.Logger) ([]models.Item, error) {
	itemsPath := os.Getenv("ITEMS_PATH")
	explicit := itemsPath != ""
	if !explicit {
		itemsPath = "configs/items.yaml"
	}

	itemsData, err := os.ReadFile(itemsPath)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			logger.Debug().Str("items_path", itemsPath).Msg("no seed file, starting empty")
			return nil, nil
		}
		logger.Error().Err(err).Str("items_path", itemsPath).Msg("read seed items")
		return nil, err
	}

	var seed struct {
		Items []models.Item `yaml:"items"`
	}
	if err := yaml.Unmarshal(itemsData, &seed); err != nil {
		logger.Error().Err(err).Str("items_path", itemsPath).Msg("parse seed items")
		return nil, err
	}

	if err := config.ValidateSeedItems(seed.Items); err != nil {
		return nil, fmt.Errorf("validate seed items: %w", err)
	}

	return seed.Items, nil
}

// initStore builds the in-memory store and runs seed entries through Create
// so ids stay store-assigned.
func initStore(ctx context.Context, items []models.Item, logger *zerolog.Logger) (*store.MemoryStore, error) {
	st := store.NewMemoryStore()
	for _, item := range items {
		if _, err := st.Create(ctx, item.Name, item.Description); err != nil {
			return nil, fmt.Errorf("seed item %q: %w", item.Name, err)
		}
	}
	if len(items) > 0 {
		logger.Info().Int("count", len(items)).Msg("store seeded")
	}
	return st, nil
}

// registerEventConsumers wires the mutation audit log and the items gauge to
// store events.
func registerEventConsumers(bus *events.EventBus, st domain.ItemStore, logger *zerolog.Logger) {
	handler := func(event *events.Event) error {
		var payload events.ItemEventPayload
		if len(event.Payload) > 0 {
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				logger.Warn().Err(err).Str("event", event.Type).Msg("decode event payload")
				return err
			}
		}
		logger.Info().Str("event", event.Type).Int64("item_id", payload.ItemID).Msg("item event")

		count, err := st.Count(context.Background())
		if err != nil {
			return err
		}
		metrics.SetItemCount(count)
		return nil
	}

	for _, eventType := range []string{events.EventItemCreated, events.EventItemUpdated, events.EventItemDeleted} {
		bus.Subscribe(eventType, handler)
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, st domain.ItemStore, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	if count, err := st.Count(ctx); err == nil {
		metrics.SetItemCount(count)
	}

	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
		return err
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
