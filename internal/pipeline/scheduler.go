package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lakeflow/internal/domain"
)

// Scheduler fires scheduled DAG runs from each dataset's cron expression.
type Scheduler struct {
	cron    *cron.Cron
	svc     *Service
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cron.EntryID // dataset name → cron entry
}

// NewScheduler creates a scheduler over the service's registered datasets.
func NewScheduler(svc *Service, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		svc:     svc,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
	}
}

// Start registers every scheduled dataset and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSchedules(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "datasets", len(s.entries))
	return nil
}

// Stop gracefully stops the cron loop. Fired triggers already in flight
// keep running.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

// Reload clears all cron entries and re-registers from the registry.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.entries {
		s.cron.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)

	return s.loadSchedules(ctx)
}

func (s *Scheduler) loadSchedules(_ context.Context) error {
	for _, ds := range s.svc.Registry().Datasets() {
		if ds.Schedule == "" {
			continue
		}
		name := ds.Name
		granularity := ds.Granularity
		schedule := ds.Schedule

		entryID, err := s.cron.AddFunc(schedule, func() {
			s.fire(name, granularity)
		})
		if err != nil {
			s.logger.Warn("invalid cron schedule",
				"dataset", name,
				"schedule", schedule,
				"error", err,
			)
			continue
		}

		s.entries[name] = entryID
		s.logger.Info("scheduled dataset", "dataset", name, "schedule", schedule)
	}
	return nil
}

// fire triggers a run for the most recently closed interval: a tick at
// 2024-02-01 06:00 for a monthly dataset targets 2024-01. A tick that lands
// while the interval's previous run is still active is dropped, which is
// what keeps the schedule at most one run per interval.
func (s *Scheduler) fire(dataset string, g domain.Granularity) {
	iv := domain.IntervalFor(s.now(), g).Prev()

	_, err := s.svc.TriggerRun(context.Background(), dataset, iv, domain.TriggerTypeScheduled)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			s.logger.Info("scheduled tick skipped, run already active",
				"dataset", dataset, "interval", iv.Key())
			return
		}
		s.logger.Warn("scheduled trigger failed",
			"dataset", dataset,
			"interval", iv.Key(),
			"error", err,
		)
	}
}
