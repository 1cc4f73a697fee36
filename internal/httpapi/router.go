package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"model_gateway/internal/artifact"
	"model_gateway/internal/cache"
	"model_gateway/internal/config"
	"model_gateway/internal/drift"
	"model_gateway/internal/events"
	"model_gateway/internal/executor"
	"model_gateway/internal/metrics"
	"model_gateway/internal/middleware"
	"model_gateway/internal/models"
	"model_gateway/internal/registry"
	"model_gateway/internal/storage"
	"model_gateway/internal/utils"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Store    storage.Store
	Manifest *config.Manifest
	Registry *registry.Registry
	Cache    *cache.Cache
	Metrics  *metrics.Aggregator
	Drift    *drift.Detector
	Executor *executor.Executor

	EventQueue  events.Queue
	EventWorker *events.Worker

	logger *utils.Logger
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	logger := utils.NewLogger("gateway")

	manifest, err := config.LoadManifest(cfg.ManifestPath, cfg.DefaultConfidenceThreshold)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load model manifest: %w", err)
	}

	// Persistence: Postgres when a database URL is configured, local JSON
	// files otherwise
	var store storage.Store
	if cfg.Database.URL != "" {
		store, err = storage.NewPostgresStore(storage.PostgresConfig{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database store: %w", err)
		}
	} else {
		store, err = storage.NewFileStore(cfg.Registry.StateDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize file store: %w", err)
		}
	}

	// Artifact source: S3 when a bucket is configured, local directory
	// otherwise
	var artifacts artifact.Store
	if cfg.Artifacts.S3Bucket != "" {
		artifacts, err = artifact.NewS3Store(context.Background(), cfg.Artifacts.S3Bucket, cfg.Artifacts.S3Region, cfg.Artifacts.S3Prefix)
	} else {
		artifacts, err = artifact.NewFileStore(cfg.Artifacts.Dir)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	reg, err := registry.New(store, manifest, cfg.Registry.HistoryDepth, utils.NewLogger("registry"))
	if err != nil {
		return nil, nil, err
	}

	modelCache := cache.New(artifacts, cfg.Cache.LoadTimeout, cfg.Cache.RetryCooldown, utils.NewLogger("cache"))
	aggregator := metrics.NewAggregator(manifest.Thresholds())

	// Event transport: Redis when configured, in-memory otherwise
	useRedis := cfg.Redis.Address != ""
	queueCfg := events.DefaultConfig("monitoring")
	queueCfg.QueueSize = cfg.Events.QueueSize
	queueCfg.BatchSize = cfg.Events.BatchSize
	queueCfg.BatchTimeout = cfg.Events.BatchTimeout
	queueCfg.MaxRetries = cfg.Events.MaxRetries
	queueCfg.RetryBackoff = cfg.Events.RetryBackoff
	queueCfg.UseRedis = useRedis

	var eventQueue events.Queue
	var eventDLQ events.DeadLetterQueue
	if useRedis {
		queueCfg.RedisAddr = cfg.Redis.Address
		queueCfg.RedisPassword = cfg.Redis.Password
		queueCfg.RedisDB = cfg.Redis.DB
		eventQueue, err = events.NewRedisQueue(queueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create event queue: %w", err)
		}
		eventDLQ, err = events.NewRedisDeadLetterQueue(queueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create event DLQ: %w", err)
		}
	} else {
		eventQueue = events.NewMemoryQueue(queueCfg)
		eventDLQ = events.NewMemoryDeadLetterQueue()
	}

	var detector *drift.Detector
	if cfg.Drift.Enabled {
		detector, err = drift.New(store, eventQueue, cfg.Drift.WindowSize, cfg.Drift.Threshold, utils.NewLogger("drift"))
		if err != nil {
			return nil, nil, err
		}
		detector.Start(context.Background())
	}

	worker := events.NewWorker(eventQueue, eventDLQ, &storeSink{store: store, logger: logger}, queueCfg)
	worker.Start(context.Background())

	var observer executor.Observer
	if detector != nil {
		observer = detector
	}
	exec := executor.New(manifest, reg, modelCache, aggregator, observer, eventQueue, cfg.UncertainLabel, utils.NewLogger("executor"))

	if cfg.Cache.PreloadActive {
		exec.Preload(context.Background())
	}

	deps := &Dependencies{
		Store:       store,
		Manifest:    manifest,
		Registry:    reg,
		Cache:       modelCache,
		Metrics:     aggregator,
		Drift:       detector,
		Executor:    exec,
		EventQueue:  eventQueue,
		EventWorker: worker,
		logger:      logger,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg)

	return mux, deps, nil
}

// Close tears down background workers and persistence in dependency order.
func (deps *Dependencies) Close() {
	if deps.Drift != nil {
		if err := deps.Drift.Stop(); err != nil {
			deps.logger.Error("failed to stop drift detector", "error", err)
		}
	}
	if deps.EventWorker != nil {
		if err := deps.EventWorker.Stop(); err != nil {
			deps.logger.Error("failed to stop event worker", "error", err)
		}
	}
	if deps.EventQueue != nil {
		if err := deps.EventQueue.Close(); err != nil {
			deps.logger.Error("failed to close event queue", "error", err)
		}
	}
	if deps.Store != nil {
		if err := deps.Store.Close(); err != nil {
			deps.logger.Error("failed to close store", "error", err)
		}
	}
}

// storeSink delivers monitoring events to durable storage.
type storeSink struct {
	store  storage.DriftEventStore
	logger *utils.Logger
}

func (s *storeSink) HandleDrift(ctx context.Context, event *models.DriftEvent) error {
	return s.store.AppendDriftEvent(ctx, event)
}

func (s *storeSink) HandleLowConfidence(ctx context.Context, event *models.LowConfidenceEvent) error {
	s.logger.Warn("low confidence prediction", "model", event.ModelName, "confidence", event.Confidence, "threshold", event.Threshold)
	return nil
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, cfg *config.Config) {
	// Serving surface
	mux.HandleFunc("/predict/", deps.handlePredict)
	mux.HandleFunc("/models", deps.handleModels)
	mux.HandleFunc("/metrics", deps.handleMetrics)
	mux.HandleFunc("/health", deps.handleHealth)

	// Admin surface: mutations need the operator role, reads allow viewers
	operator := middleware.JWTMiddleware(cfg, "operator")
	viewer := middleware.JWTMiddleware(cfg, "viewer")

	mux.Handle("/admin/models/register", operator(http.HandlerFunc(deps.handleRegister)))
	mux.Handle("/admin/models/activate", operator(http.HandlerFunc(deps.handleActivate)))
	mux.Handle("/admin/models/rollback", operator(http.HandlerFunc(deps.handleRollback)))
	mux.Handle("/admin/cache", operator(http.HandlerFunc(deps.handleCache)))
	mux.Handle("/admin/cache/", operator(http.HandlerFunc(deps.handleCacheEvict)))
	mux.Handle("/admin/drift/reference", operator(http.HandlerFunc(deps.handleDriftReference)))
	mux.Handle("/admin/drift/events", viewer(http.HandlerFunc(deps.handleDriftEvents)))
	mux.Handle("/admin/drift/flagged", viewer(http.HandlerFunc(deps.handleDriftFlagged)))
	mux.Handle("/admin/events/dlq", viewer(http.HandlerFunc(deps.handleEventDLQ)))
}
