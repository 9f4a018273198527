// Package server assembles the application's dependencies and runs the
// HTTP and worker loops until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/api"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/clock/system"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/config"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/credential"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/dispatcher"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/export"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/fetcher"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/fetcher/bitbucket"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/fetcher/github"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/fetcher/gitlab"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/hash/sha256"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/id/uuid"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/joblog"
	joblogsinks "github.com/Timothy-Git/GitMetadataCrawler/internal/joblog/sinks"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/logging"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/metrics"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/parse"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/plugin"
	memorypublisher "github.com/Timothy-Git/GitMetadataCrawler/internal/publisher/memory"
	gcppublisher "github.com/Timothy-Git/GitMetadataCrawler/internal/publisher/pubsub"
	queueMemory "github.com/Timothy-Git/GitMetadataCrawler/internal/queue/memory"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/request"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/rotation"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/service"
	gcsstorage "github.com/Timothy-Git/GitMetadataCrawler/internal/storage/gcs"
	localstorage "github.com/Timothy-Git/GitMetadataCrawler/internal/storage/local"
	memoryStorage "github.com/Timothy-Git/GitMetadataCrawler/internal/storage/memory"
	pgstore "github.com/Timothy-Git/GitMetadataCrawler/internal/storage/postgres"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	logHub          *joblog.Hub
	queue           *queueMemory.Queue
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	jobStore        gitmeta.JobStore
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Log only non-sensitive config fields; tokens and secrets stay out.
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StorageBackend string `json:"storage_backend"`
		WorkerCount    int    `json:"worker_count"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StorageBackend: cfg.Storage.Backend,
		WorkerCount:    cfg.Workers.Count,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.logHub != nil {
		if err := a.logHub.Close(ctx); err != nil {
			a.logger.Warn("job log hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if pg, ok := a.jobStore.(*pgstore.JobStore); ok {
		pg.Close()
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	app.logger.Info("building application dependencies")

	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	blobStore, files, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	logHub := setupJobLog(ctx, app)

	registry, err := setupFetchers(app)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	exporter := export.New(blobStore, sha256.New(), clock, cfg.Server.PublicURL)
	plugins, err := plugin.NewRegistry(plugin.NewLanguageMetrics(exporter))
	if err != nil {
		return nil, fmt.Errorf("plugin registry init failed: %w", err)
	}

	app.queue = queueMemory.NewQueue(cfg.Workers.QueueDepth)

	svc := service.New(service.Config{
		Store:      app.jobStore,
		Queue:      app.queue,
		JobLog:     logHub,
		Fetchers:   registry,
		Plugins:    plugins,
		Exporter:   exporter,
		Publisher:  publisher,
		EventTopic: cfg.PubSub.TopicName,
		Clock:      clock,
		IDs:        uuid.New(),
		Logger:     logger.Named("service"),
	})

	var workers []*worker.Worker
	for i := 0; i < cfg.Workers.Count; i++ {
		workers = append(workers, worker.New(
			app.queue,
			svc,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers)

	app.apiServer = api.NewServer(svc, app.queue, files, *cfg, logger.Named("api"))

	return app, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("No DSN specified for database, keeping jobs in memory")
		app.jobStore = memoryStorage.NewJobStore()
		return nil
	}
	store, err := pgstore.NewJobStore(ctx, pgstore.JobStoreConfig{
		DSN:      app.cfg.DB.DSN,
		MaxConns: int32(app.cfg.DB.MaxConns),
	})
	if err != nil {
		return fmt.Errorf("job store init failed: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("job store schema init failed: %w", err)
	}
	app.logger.Info("postgres job store initialized")
	app.jobStore = store
	return nil
}

// setupStorage selects the blob backend and, where artifacts are readable
// by the server itself, builds the handler backing the /files route.
func setupStorage(ctx context.Context, app *App) (gitmeta.BlobStore, http.Handler, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		// Artifacts live in the bucket; consumers download via the object
		// URI, so the /files route stays disabled.
		return blobStore, nil, nil
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", blobStore.BaseDir()))
		files := api.FileHandler(func(name string) ([]byte, bool) {
			full, err := blobStore.Resolve(path.Join(export.ObjectPrefix, name))
			if err != nil {
				return nil, false
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return nil, false
			}
			return data, true
		})
		return blobStore, files, nil
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore := memoryStorage.NewBlobStore()
		files := api.FileHandler(func(name string) ([]byte, bool) {
			return blobStore.Object(path.Join(export.ObjectPrefix, name))
		})
		return blobStore, files, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (gitmeta.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupJobLog(ctx context.Context, app *App) *joblog.Hub {
	sinkList := []joblog.Sink{
		joblogsinks.NewStoreSink(app.jobStore, app.logger.Named("joblog_store")),
		joblogsinks.NewLogSink(app.logger.Named("joblog")),
		joblogsinks.NewPrometheusSink(),
	}
	app.logHub = joblog.NewHub(joblog.Config{
		BaseContext: ctx,
		Logger:      app.logger.Named("joblog_hub"),
	}, sinkList...)
	return app.logHub
}

// setupFetchers wires one fetcher per platform with configured
// credentials. Platforms without credentials stay out of the registry and
// surface as unsupported at request time.
func setupFetchers(app *App) (*fetcher.Registry, error) {
	cfg := app.cfg
	clock := system.New()
	exec := request.New(nil, request.Config{
		Timeout:     cfg.Fetch.Timeout(),
		MaxAttempts: cfg.Fetch.MaxRetries,
		Backoff: request.BackoffPolicy{
			Multiplier: cfg.Fetch.BackoffMultiplier,
			Min:        cfg.Fetch.BackoffMin(),
			Max:        cfg.Fetch.BackoffMax(),
		},
		RequestDelay: cfg.Fetch.Delay(),
		UserAgent:    cfg.Fetch.UserAgent,
	}, app.logger.Named("request"))
	pacer := request.NewPacer(cfg.Fetch.Delay())
	batch := parse.NewBatchParser(cfg.Fetch.MaxConcurrent)

	var fetchers []gitmeta.Fetcher
	if tokens := cfg.Platforms.GitHub.TokenList(); len(tokens) > 0 {
		pool := credential.New(tokens, cfg.Fetch.BanCooldown(), clock)
		rotator := rotation.NewDriver(pool, gitmeta.PlatformGitHub, app.logger.Named("rotation"))
		client := fetcher.NewGraphQLClient(cfg.Platforms.GitHub.BaseURL, exec, rotator, pacer)
		fetchers = append(fetchers, github.New(client, batch))
		app.logger.Info("GitHub fetcher enabled", zap.Int("tokens", len(tokens)))
	} else {
		app.logger.Warn("no GitHub tokens configured, platform disabled")
	}
	if tokens := cfg.Platforms.GitLab.TokenList(); len(tokens) > 0 {
		pool := credential.New(tokens, cfg.Fetch.BanCooldown(), clock)
		rotator := rotation.NewDriver(pool, gitmeta.PlatformGitLab, app.logger.Named("rotation"))
		client := fetcher.NewGraphQLClient(cfg.Platforms.GitLab.BaseURL, exec, rotator, pacer)
		fetchers = append(fetchers, gitlab.New(client, batch))
		app.logger.Info("GitLab fetcher enabled", zap.Int("tokens", len(tokens)))
	} else {
		app.logger.Warn("no GitLab tokens configured, platform disabled")
	}
	if bb := cfg.Platforms.Bitbucket; bb.ClientID != "" && bb.ClientSecret != "" {
		fetchers = append(fetchers, bitbucket.New(bitbucket.Config{
			BaseURL:      bb.BaseURL,
			TokenURL:     bb.TokenURL,
			ClientID:     bb.ClientID,
			ClientSecret: bb.ClientSecret,
			ResultsKey:   cfg.Fetch.ResultsKey,
			PageSize:     cfg.Fetch.PageSize,
		}, exec, pacer, batch))
		app.logger.Info("Bitbucket fetcher enabled")
	} else {
		app.logger.Warn("no Bitbucket client credentials configured, platform disabled")
	}
	return fetcher.NewRegistry(fetchers...)
}
