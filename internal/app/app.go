// Package app wires the process components from config. The server and
// worker binaries share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	mstream "github.com/haowjy/meridian-stream-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley/internal/capabilities"
	"parley/internal/config"
	"parley/internal/domain/repositories"
	"parley/internal/domain/services"
	"parley/internal/handler"
	"parley/internal/handler/sse"
	"parley/internal/realtime"
	"parley/internal/repository/postgres"
	"parley/internal/service"
	serviceLLM "parley/internal/service/llm"
	"parley/internal/service/llm/generation"
	"parley/internal/service/llm/tools"
	"parley/internal/service/llm/tools/external"
	"parley/internal/service/tasks"
)

// App holds the wired components of one process.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool        *pgxpool.Pool
	Catalog     *capabilities.Registry
	Factory     *serviceLLM.ProviderFactory
	Credentials services.CredentialService
	Messages    repositories.MessageStore
	TaskStore   repositories.TaskStore
	Hub         *realtime.Hub
	Bus         realtime.Bus
	Streams     *mstream.Registry
	Generation  *generation.Service
	Queue       *tasks.Queue

	closers []func() error
}

// New connects to the database, applies migrations and builds every
// service. ctx bounds background loops started here (bus forwarder,
// stream registry cleanup).
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if !cfg.SkipMigrations {
		if err := postgres.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			return nil, err
		}
	}

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	logger.Info("database connected", "max_conns", 25, "min_conns", 5, "schema", cfg.DatabaseSchema)

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: postgres.NewTableNames(cfg.DatabaseSchema),
		Logger: logger,
	}
	txManager := postgres.NewTransactionManager(pool)
	a.TaskStore = postgres.NewTaskRepository(repoConfig)
	prefsRepo := postgres.NewUserPreferencesRepository(repoConfig)
	a.Credentials = service.NewCredentialService(prefsRepo, txManager, logger)

	// Realtime fan-out
	a.Hub = realtime.NewHub(logger)
	if cfg.RedisAddr != "" {
		bus, err := realtime.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisChannelPrefix, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
			_ = bus.Close()
			a.Close()
			return nil, err
		}
		a.Bus = bus
		logger.Info("realtime bus: redis", "addr", cfg.RedisAddr)
	} else {
		a.Bus = realtime.NewLocalBus(a.Hub)
		logger.Info("realtime bus: in-process")
	}
	a.closers = append(a.closers, a.Bus.Close)
	a.Messages = realtime.NewNotifyingStore(postgres.NewMessageRepository(repoConfig), a.Bus, logger)

	// Model resolution
	a.Catalog, err = capabilities.NewRegistry()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize capability registry: %w", err)
	}
	a.Factory = serviceLLM.NewProviderFactory(cfg)
	resolver := serviceLLM.NewResolver(a.Catalog, a.Factory, a.Credentials, logger)

	bridge, err := a.buildBridge(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Streams = mstream.NewRegistry()
	go a.Streams.StartCleanup(ctx)

	genOpts := generation.OptionsFromConfig(cfg)
	genOpts.Prompts = service.NewSystemPromptResolver(prefsRepo)
	a.Generation = generation.NewService(resolver, bridge, a.Messages, a.Streams, genOpts, logger)

	a.Queue = tasks.NewQueue(a.TaskStore, logger)
	tasks.RegisterDefaults(a.Queue, a.Generation, a.Messages, postgres.NewChatTitleRepository(repoConfig))

	logger.Info("services initialized")
	return a, nil
}

func (a *App) buildBridge(ctx context.Context) (*tools.Bridge, error) {
	cfg := a.Config
	bridgeCfg := tools.BridgeConfig{
		Credentials:     a.Credentials,
		DefaultImageKey: cfg.ImageAPIKey,
		Logger:          a.Logger,
	}

	if cfg.TavilyAPIKey != "" {
		bridgeCfg.Search = external.NewTavilyClient(cfg.TavilyAPIKey)
	} else {
		a.Logger.Warn("TAVILY_API_KEY not set, search tool disabled")
	}

	if cfg.GCSBucket != "" {
		blobs, err := external.NewGCSBlobStore(ctx, cfg.GCSBucket, cfg.GCSPublicBaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, blobs.Close)
		bridgeCfg.Blobs = blobs
		bridgeCfg.Images = external.NewOpenAIImageClient(cfg.ImageBaseURL, cfg.ImageModel)
	} else {
		a.Logger.Warn("GCS_BUCKET not set, image generation disabled")
	}

	return tools.NewBridge(bridgeCfg), nil
}

// Router builds the HTTP surface.
func (a *App) Router() http.Handler {
	return handler.NewRouter(handler.Routes{
		Generation:  handler.NewGenerationHandler(a.Generation, a.Messages, a.Queue, a.Logger),
		Stream:      handler.NewStreamHandler(a.Messages, a.Hub, sse.DefaultConfig(), a.Logger),
		Models:      handler.NewModelsHandler(a.Catalog, a.Factory.DefaultKey, a.Logger),
		Credentials: handler.NewCredentialsHandler(a.Credentials, a.Logger),
		Tasks:       handler.NewTaskHandler(a.Queue, a.TaskStore, a.Logger),
		Health:      handler.Health(a.Pool),
	}, a.Config.CORSOrigins, a.Logger)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
