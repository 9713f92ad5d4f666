package scheduler

import (
	"context"
	"sync"

	"github.com/ethpandaops/nis/pkg/normalize"
	"github.com/ethpandaops/nis/pkg/tasks"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Service defines the public interface for the scheduler
type Service interface {
	// Start begins leader election; the leader enqueues due refreshes
	Start(ctx context.Context) error
	// Stop relinquishes leadership and stops enqueuing
	Stop() error
	// Reload re-reads the refresh schedules of all sources
	Reload(ctx context.Context) error
}

// SourceLister provides the sources whose schedules are tracked
type SourceLister interface {
	Sources() []normalize.Source
}

type service struct {
	log     logrus.FieldLogger
	cfg     *Config
	sources SourceLister

	elector *elector
	ticker  *ticker

	done chan struct{}
	wg   sync.WaitGroup

	mu           sync.Mutex
	cancelTicker context.CancelFunc
}

// NewService creates the scheduler. keyPrefix namespaces its Redis keys.
func NewService(log logrus.FieldLogger, cfg *Config, client *redis.Client, keyPrefix string, queue tasks.Enqueuer, sources SourceLister) Service {
	log = log.WithField("service", "scheduler")

	return &service{
		log:     log,
		cfg:     cfg,
		sources: sources,
		elector: newElector(log, client, keyPrefix+"scheduler:leader", cfg.LeaseTTL, cfg.RenewInterval),
		ticker:  newTicker(log, newScheduleTracker(log, client, keyPrefix+"scheduler:refresh:"), queue, cfg.CheckInterval),
		done:    make(chan struct{}),
	}
}

func (s *service) Start(ctx context.Context) error {
	if s.cfg.Disabled {
		s.log.Info("Scheduler disabled")
		return nil
	}

	if err := s.ticker.SetSchedules(s.sources.Sources()); err != nil {
		return err
	}

	if err := s.elector.Start(ctx); err != nil {
		return err
	}

	s.wg.Add(1)

	go s.handleLeaderElection(ctx)

	s.log.Info("Scheduler started")

	return nil
}

func (s *service) Reload(ctx context.Context) error {
	if err := s.ticker.SetSchedules(s.sources.Sources()); err != nil {
		return err
	}

	if !s.elector.IsLeader() {
		return nil
	}

	return s.ticker.Prune(ctx)
}

func (s *service) handleLeaderElection(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.elector.PromotedChan():
			s.startTicker(ctx)
		case <-s.elector.DemotedChan():
			s.stopTicker()
		case <-s.done:
			s.stopTicker()
			return
		case <-ctx.Done():
			s.stopTicker()
			return
		}
	}
}

func (s *service) startTicker(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelTicker != nil {
		return
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	s.cancelTicker = cancel

	if err := s.ticker.Prune(tickerCtx); err != nil {
		s.log.WithError(err).Warn("Failed to prune stale schedules")
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.ticker.Run(tickerCtx)
	}()
}

func (s *service) stopTicker() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelTicker != nil {
		s.cancelTicker()
		s.cancelTicker = nil
	}
}

func (s *service) Stop() error {
	if s.cfg.Disabled {
		return nil
	}

	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}

	s.wg.Wait()

	if err := s.elector.Stop(); err != nil {
		return err
	}

	s.log.Info("Scheduler stopped")

	return nil
}

var _ Service = (*service)(nil)
