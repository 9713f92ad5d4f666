package worker

import (
	"context"
	"fmt"
	"sync"

	r "github.com/ethpandaops/nis/pkg/redis"
	"github.com/ethpandaops/nis/pkg/tasks"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Service defines the public interface for the worker service
type Service interface {
	// Start initializes and starts the worker service
	Start(ctx context.Context) error

	// Stop gracefully shuts down the worker service
	Stop() error
}

type service struct {
	config *Config
	log    logrus.FieldLogger

	wg sync.WaitGroup

	redisOpt  *redis.Options
	queue     string
	refresher tasks.Refresher

	server *asynq.Server
}

// NewService creates a worker consuming refresh tasks from queue
func NewService(log logrus.FieldLogger, cfg *Config, redisOpt *redis.Options, queue string, refresher tasks.Refresher) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &service{
		log:       log.WithField("service", "worker"),
		config:    cfg,
		redisOpt:  redisOpt,
		queue:     queue,
		refresher: refresher,
	}, nil
}

// newServeMux routes every task type the handler knows.
func newServeMux(handler *tasks.TaskHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for taskType, handlerFunc := range handler.Routes() {
		mux.HandleFunc(taskType, handlerFunc)
	}

	return mux
}

// Start initializes and starts the worker service
func (s *service) Start(_ context.Context) error {
	if s.config.Disabled {
		s.log.Info("Worker disabled")
		return nil
	}

	handler := tasks.NewTaskHandler(s.log, s.refresher)

	srv := asynq.NewServer(r.AsynqOptions(s.redisOpt), asynq.Config{
		Concurrency:     s.config.Concurrency,
		Queues:          map[string]int{s.queue: 10},
		ShutdownTimeout: s.config.ShutdownTimeout,
		Logger:          &asynqLogger{log: s.log},
	})

	mux := newServeMux(handler)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if runErr := srv.Run(mux); runErr != nil {
			s.log.WithError(runErr).Error("Worker server stopped with error")
		}
	}()

	s.server = srv

	s.log.WithFields(logrus.Fields{
		"queue":       s.queue,
		"concurrency": s.config.Concurrency,
	}).Info("Worker service started")

	return nil
}

// Stop gracefully shuts down the worker
func (s *service) Stop() error {
	if s.server != nil {
		s.server.Shutdown()
	}

	s.wg.Wait()

	s.log.Info("Worker service stopped")

	return nil
}

// asynqLogger routes asynq's logging through logrus
type asynqLogger struct {
	log logrus.FieldLogger
}

func (l *asynqLogger) Debug(args ...any) { l.log.Debug(args...) }
func (l *asynqLogger) Info(args ...any)  { l.log.Info(args...) }
func (l *asynqLogger) Warn(args ...any)  { l.log.Warn(args...) }
func (l *asynqLogger) Error(args ...any) { l.log.Error(args...) }
func (l *asynqLogger) Fatal(args ...any) { l.log.Fatal(args...) }

var (
	_ Service      = (*service)(nil)
	_ asynq.Logger = (*asynqLogger)(nil)
)
