package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethpandaops/nis/pkg/normalize"
	"github.com/ethpandaops/nis/pkg/observability"
	"github.com/ethpandaops/nis/pkg/tasks"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrInvalidSchedule is returned for refresh schedules that do not parse
var ErrInvalidSchedule = errors.New("invalid refresh schedule")

// scheduledRefresh is a source with a refresh schedule
type scheduledRefresh struct {
	SourceID string
	Spec     string
	schedule cron.Schedule
	nextRun  time.Time // cached to avoid a tracker lookup per tick
}

// ticker enqueues refreshes that are due. It only runs on the leader.
type ticker struct {
	log      logrus.FieldLogger
	tracker  scheduleTracker
	queue    tasks.Enqueuer
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	schedules map[string]*scheduledRefresh
}

func newTicker(log logrus.FieldLogger, tracker scheduleTracker, queue tasks.Enqueuer, interval time.Duration) *ticker {
	return &ticker{
		log:       log.WithField("component", "ticker"),
		tracker:   tracker,
		queue:     queue,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		schedules: make(map[string]*scheduledRefresh),
	}
}

// SetSchedules replaces the tracked schedules. Sources without a refresh
// schedule are ignored. Nothing changes if any schedule is invalid.
func (t *ticker) SetSchedules(sources []normalize.Source) error {
	next := make(map[string]*scheduledRefresh, len(sources))

	for _, src := range sources {
		if src.Refresh == "" {
			continue
		}

		sched, err := parseSchedule(src.Refresh)
		if err != nil {
			return fmt.Errorf("source %s: %w", src.ID, err)
		}

		next[src.ID] = &scheduledRefresh{SourceID: src.ID, Spec: src.Refresh, schedule: sched}
	}

	t.mu.Lock()
	t.schedules = next
	t.mu.Unlock()

	t.log.WithField("count", len(next)).Info("Refresh schedules loaded")

	return nil
}

// Prune forgets tracked last runs of sources that are no longer scheduled.
func (t *ticker) Prune(ctx context.Context) error {
	ids, err := t.tracker.GetAllSourceIDs(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	stale := make([]string, 0)

	for _, id := range ids {
		if _, ok := t.schedules[id]; !ok {
			stale = append(stale, id)
		}
	}
	t.mu.Unlock()

	for _, id := range stale {
		if err := t.tracker.DeleteLastRun(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

// Run checks schedules every interval until ctx is canceled.
func (t *ticker) Run(ctx context.Context) {
	t.log.Info("Starting ticker")

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	t.checkSchedules(ctx)

	for {
		select {
		case <-ctx.Done():
			t.log.Info("Ticker stopped")
			return
		case <-tk.C:
			t.checkSchedules(ctx)
		}
	}
}

func (t *ticker) due() []*scheduledRefresh {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*scheduledRefresh, 0, len(t.schedules))
	for _, s := range t.schedules {
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })

	return out
}

func (t *ticker) checkSchedules(ctx context.Context) {
	now := t.now()

	for _, s := range t.due() {
		t.mu.Lock()
		cached := s.nextRun
		t.mu.Unlock()

		if !cached.IsZero() && now.Before(cached) {
			continue
		}

		lastRun, err := t.tracker.GetLastRun(ctx, s.SourceID)
		if err != nil {
			t.log.WithError(err).WithField("source", s.SourceID).Warn("Failed to get last run, will retry next tick")
			continue
		}

		// A source that was never scheduled refreshes immediately.
		if !lastRun.IsZero() {
			nextRun := s.schedule.Next(lastRun)

			t.mu.Lock()
			s.nextRun = nextRun
			t.mu.Unlock()

			if now.Before(nextRun) {
				continue
			}
		}

		payload := tasks.RefreshPayload{
			SourceID:   s.SourceID,
			Trigger:    tasks.TriggerSchedule,
			EnqueuedAt: now,
		}

		if err := t.queue.EnqueueRefresh(ctx, payload); err != nil {
			observability.RecordError("scheduler", "enqueue_error")
			t.log.WithError(err).WithField("source", s.SourceID).Error("Failed to enqueue refresh")

			continue
		}

		t.log.WithFields(logrus.Fields{
			"source":   s.SourceID,
			"schedule": s.Spec,
		}).Info("Enqueued scheduled refresh")

		if err := t.tracker.SetLastRun(ctx, s.SourceID, now); err != nil {
			t.log.WithError(err).WithField("source", s.SourceID).Error("Failed to update last run timestamp")
		}

		t.mu.Lock()
		s.nextRun = s.schedule.Next(now)
		t.mu.Unlock()
	}
}

// parseSchedule accepts five-field cron expressions and descriptors such
// as "@daily" or "@every 6h".
func parseSchedule(spec string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, spec, err)
	}

	return sched, nil
}
