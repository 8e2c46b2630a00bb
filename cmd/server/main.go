package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/timeline-party/internal/clock"
	"github.com/timeline-party/internal/config"
	"github.com/timeline-party/internal/discord"
	"github.com/timeline-party/internal/handler"
	"github.com/timeline-party/internal/ids"
	"github.com/timeline-party/internal/kafka"
	"github.com/timeline-party/internal/notify"
	"github.com/timeline-party/internal/postgres"
	"github.com/timeline-party/internal/redis"
	"github.com/timeline-party/internal/service"
	"github.com/timeline-party/internal/telemetry"
	"github.com/timeline-party/internal/tracks"
	"github.com/timeline-party/internal/usecase"
	"github.com/timeline-party/internal/websocket"
	"github.com/timeline-party/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Warn("failed to set up tracing, continuing without it", "error", err)
	}

	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	games := redis.NewGameStore(redisClient, logger)

	var postgresRepo *postgres.Repository
	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		postgresRepo, err = postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer postgresRepo.Close()

		if err := postgresRepo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	trackProvider, err := newTrackProvider(cfg, postgresRepo)
	if err != nil {
		logger.Error("failed to set up track source", "error", err)
		os.Exit(1)
	}

	// Notifications reach local channels directly, or every instance through
	// Kafka when it is enabled
	registry := notify.NewRegistry()
	dispatcher := notify.NewDispatcher(registry, logger)
	var publisher notify.Publisher = dispatcher

	var kafkaPublisher *kafka.Publisher
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka notification bus",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaPublisher, err = kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Error("failed to create Kafka publisher", "error", err)
			os.Exit(1)
		}
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, uuid.NewString(), dispatcher, logger)
		if err != nil {
			logger.Error("failed to create Kafka consumer", "error", err)
			os.Exit(1)
		}
		if err := kafkaConsumer.Start(); err != nil {
			logger.Error("failed to start Kafka consumer", "error", err)
			os.Exit(1)
		}
		publisher = kafkaPublisher
	}

	executor := usecase.NewExecutor(games, notify.NewNotifier(publisher, logger), cfg.Retry, logger)

	serviceCfg := &service.Config{
		Executor: executor,
		Tracks:   trackProvider,
		Clock:    &clock.DefaultClock{},
		IDs:      ids.New(),
		Defaults: cfg.Game,
		Logger:   logger,
	}
	if postgresRepo != nil {
		serviceCfg.Events = postgresRepo
	}
	gameService, err := service.NewGameService(serviceCfg)
	if err != nil {
		logger.Error("failed to create game service", "error", err)
		os.Exit(1)
	}

	var syncWorker *worker.SyncWorker
	if postgresRepo != nil {
		syncWorker = worker.NewSyncWorker(games, postgresRepo, &cfg.Sync, logger)
		if _, err := syncWorker.RestoreUnfinished(ctx); err != nil {
			logger.Warn("failed to restore games from database", "error", err)
		}
		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				logger.Error("failed to start sync worker", "error", err)
				os.Exit(1)
			}
		}
	}

	var relay *discord.Relay
	if cfg.Discord.Enabled {
		relay, err = discord.New(&discord.Config{
			Token:    cfg.Discord.Token,
			Registry: registry,
			Logger:   logger,
		})
		if err != nil {
			logger.Error("failed to create Discord relay", "error", err)
			os.Exit(1)
		}
		if err := relay.Start(); err != nil {
			logger.Warn("failed to open Discord session, continuing without Discord", "error", err)
			relay = nil
		}
	}

	wsHub := websocket.NewHub(registry, cfg.Server.AllowedOrigins, logger)
	go wsHub.Run()

	httpHandler := handler.NewHandler(handler.Config{
		Games:    gameService,
		Hub:      wsHub,
		Registry: registry,
		Discord:  relay,
		Ready: func(ctx context.Context) error {
			if err := games.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			if postgresRepo != nil {
				if err := postgresRepo.Ping(ctx); err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
			}
			return nil
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// stop accepting requests before the channels go away
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if relay != nil {
		if err := relay.Stop(); err != nil {
			logger.Error("failed to stop Discord relay", "error", err)
		}
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("failed to close Kafka publisher", "error", err)
		}
	}

	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", "error", err)
	}

	logger.Info("server stopped")
}

func newTrackProvider(cfg *config.Config, repo *postgres.Repository) (tracks.Provider, error) {
	switch cfg.Tracks.Source {
	case "postgres":
		return repo, nil
	default:
		catalog, err := tracks.LoadCatalog(cfg.Tracks.CatalogPath)
		if err != nil {
			return nil, err
		}
		seed := cfg.Tracks.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return tracks.NewCatalogProvider(catalog, seed), nil
	}
}
