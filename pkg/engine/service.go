package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/nis/pkg/cache"
	"github.com/ethpandaops/nis/pkg/models"
	"github.com/ethpandaops/nis/pkg/normalize"
	"github.com/ethpandaops/nis/pkg/observability"
	r "github.com/ethpandaops/nis/pkg/redis"
	"github.com/ethpandaops/nis/pkg/scheduler"
	"github.com/ethpandaops/nis/pkg/store"
	"github.com/ethpandaops/nis/pkg/tasks"
	"github.com/ethpandaops/nis/pkg/worker"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Service owns every component of the engine
type Service struct {
	config *Config
	log    logrus.FieldLogger

	models  *models.Service
	sources *normalize.Manager
	cache   *cache.Cache
	store   store.Store
	facts   *store.FactRepository

	// Refresh pipeline, nil without Redis
	queue     *tasks.QueueManager
	scheduler scheduler.Service
	worker    worker.Service

	// Servers
	healthServer *http.Server
	pprofServer  *http.Server

	redisClient *redis.Client

	openOnce sync.Once
	openErr  error
	ready    atomic.Bool

	mu     sync.RWMutex
	graphs map[string]*builtGraph
}

var _ tasks.Refresher = (*Service)(nil)

// NewService builds the engine. Nothing is loaded or started until Open or Start.
func NewService(log logrus.FieldLogger, cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var s3 normalize.Fetcher

	if cfg.S3.Enabled() {
		f, err := normalize.NewS3Fetcher(context.Background(), &cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 fetcher: %w", err)
		}

		s3 = f
	}

	router := normalize.NewRouter(s3)
	router.HTTP = normalize.NewHTTPFetcher(cfg.Normalize.HTTPTimeout)

	svc := &Service{
		config:  cfg,
		log:     log,
		models:  models.NewService(log, &cfg.Models),
		sources: normalize.NewManager(log, normalize.NewNormalizer(log, nil), router, cfg.Normalize.Parallelism),
		graphs:  make(map[string]*builtGraph),
	}

	var redisOptions *redis.Options

	if cfg.RedisEnabled() {
		opts, err := cfg.Redis.Options()
		if err != nil {
			return nil, err
		}

		redisOptions = opts
		svc.redisClient = redis.NewClient(opts)
	}

	c, err := cache.NewFromConfig(log, &cfg.Cache, svc.redisClient, cfg.Redis.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	svc.cache = c

	if redisOptions != nil {
		queueName := cfg.Redis.PrefixQueue(tasks.QueueRefresh)

		svc.queue = tasks.NewQueueManager(r.AsynqOptions(redisOptions), queueName)
		svc.scheduler = scheduler.NewService(log, &cfg.Scheduler, svc.redisClient, cfg.Redis.PrefixKey(""), svc.queue, svc.models)

		svc.worker, err = worker.NewService(log, &cfg.Worker, redisOptions, queueName, svc)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to create worker service: %w", err)
		}
	}

	return svc, nil
}

// Models returns the loaded model definitions
func (s *Service) Models() *models.Service {
	return s.models
}

// Open connects the store and loads every model definition. It is enough
// for one-shot queries; Start also runs servers and the refresh pipeline.
func (s *Service) Open(ctx context.Context) error {
	s.openOnce.Do(func() {
		s.openErr = s.open(ctx)
	})

	return s.openErr
}

func (s *Service) open(ctx context.Context) error {
	st, err := store.Open(ctx, &s.config.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	s.store = st
	s.facts = store.NewFactRepository(st)

	if err := s.models.Start(); err != nil {
		return fmt.Errorf("failed to start models: %w", err)
	}

	if err := s.registerSources(s.models.Sources()); err != nil {
		return err
	}

	s.ready.Store(true)

	return nil
}

func (s *Service) registerSources(srcs []normalize.Source) error {
	for _, src := range srcs {
		if s.config.Normalize.Lenient {
			src.Policy = normalize.PolicyLenient
		}

		s.sources.Unregister(src.ID)

		if err := s.sources.Register(src); err != nil {
			return fmt.Errorf("failed to register source %s: %w", src.ID, err)
		}
	}

	return nil
}

// Register adds definitions at runtime. Cached results of the registered
// cubes and graphs are invalidated.
func (s *Service) Register(ctx context.Context, sources []normalize.Source, cubes []models.CubeDefinition, graphs []models.GraphDefinition) error {
	if err := s.models.Register(sources, cubes, graphs); err != nil {
		return err
	}

	if err := s.registerSources(sources); err != nil {
		return err
	}

	for _, c := range cubes {
		if _, err := s.cache.Invalidate(ctx, cache.CubePrefix(c.ID)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	for _, g := range graphs {
		delete(s.graphs, g.ID)
	}
	s.mu.Unlock()

	for _, g := range graphs {
		if _, err := s.cache.Invalidate(ctx, cache.GraphPrefix(g.ID)); err != nil {
			return err
		}
	}

	if s.scheduler != nil && len(sources) > 0 {
		return s.scheduler.Reload(ctx)
	}

	return nil
}

// Start opens the engine and starts servers and the refresh pipeline
func (s *Service) Start(ctx context.Context) error {
	s.log.Info("Starting NIS engine...")

	if s.config.MetricsAddr != "" {
		observability.StartMetricsServer(s.log, s.config.MetricsAddr)
	}

	if s.config.HealthCheckAddr != "" {
		s.startHealthCheck()
	}

	if s.config.PProfAddr != "" {
		s.startPProf()
	}

	if err := s.Open(ctx); err != nil {
		return err
	}

	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if s.worker != nil {
		if err := s.worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	s.log.Info("NIS engine started successfully")

	return nil
}

// Stop gracefully shuts down the engine
func (s *Service) Stop() error {
	s.log.Info("Shutting down engine...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopService := func(name string, stopFunc func() error) {
		if err := stopFunc(); err != nil {
			s.log.WithError(err).Errorf("Failed to stop %s", name)
		}
	}

	s.ready.Store(false)

	// 1. Stop scheduler first (stop creating new tasks)
	if s.scheduler != nil {
		stopService("scheduler service", s.scheduler.Stop)
	}

	// 2. Stop worker (finish in-flight refreshes)
	if s.worker != nil {
		stopService("worker service", s.worker.Stop)
	}

	if s.queue != nil {
		stopService("queue manager", s.queue.Close)
	}

	// 3. Close Redis (now safe, nothing is using it)
	if s.redisClient != nil {
		stopService("Redis client", s.redisClient.Close)
	}

	stopService("models service", s.models.Stop)

	if s.store != nil {
		stopService("store", s.store.Close)
	}

	if s.cache != nil {
		stopService("cache", s.cache.Close)
	}

	if s.healthServer != nil {
		stopService("health check server", func() error { return s.healthServer.Shutdown(ctx) })
	}

	if s.pprofServer != nil {
		stopService("pprof server", func() error { return s.pprofServer.Shutdown(ctx) })
	}

	if s.config.MetricsAddr != "" {
		stopService("metrics server", func() error { return observability.StopMetricsServer(ctx) })
	}

	return nil
}

func (s *Service) healthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

func (s *Service) startHealthCheck() {
	s.log.WithField("addr", s.config.HealthCheckAddr).Info("Starting health check server")

	s.healthServer = &http.Server{
		Addr:              s.config.HealthCheckAddr,
		Handler:           s.healthHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Health check server failed")
		}
	}()
}

func (s *Service) startPProf() {
	s.log.WithField("addr", s.config.PProfAddr).Info("Starting pprof server")

	s.pprofServer = &http.Server{
		Addr:              s.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	go func() {
		if err := s.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Pprof server failed")
		}
	}()
}
