package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"lakeflow/internal/domain"
)

// RunContext carries the interval-resolved parameters one task attempt sees.
type RunContext struct {
	Dataset  domain.Dataset
	Interval domain.Interval
	WorkDir  string
	Logger   *slog.Logger
}

// SourcePath is the staging location of the raw download.
func (rc RunContext) SourcePath() string {
	return filepath.Join(rc.WorkDir, "source.csv")
}

// ArtifactPath is the staging location of the columnar artifact. Derived
// from the interval so re-runs overwrite.
func (rc RunContext) ArtifactPath() string {
	return filepath.Join(rc.WorkDir, rc.Interval.Key()+".parquet")
}

// SourceURL resolves the dataset's templated source URL for this interval.
func (rc RunContext) SourceURL() string {
	return rc.Interval.Resolve(rc.Dataset.SourceURL)
}

// Service is the task graph engine. It owns run and task-run lifecycle;
// task logic only reports outcomes.
type Service struct {
	registry *Registry
	runs     domain.RunRepository
	workRoot string
	logger   *slog.Logger

	mu        sync.Mutex
	cancelled map[string]*atomic.Bool // run ID → cancel flag
	inflight  sync.WaitGroup
}

// NewService creates the engine. workRoot is the staging directory for
// per-run scratch files.
func NewService(registry *Registry, runs domain.RunRepository, workRoot string, logger *slog.Logger) *Service {
	return &Service{
		registry:  registry,
		runs:      runs,
		workRoot:  workRoot,
		logger:    logger,
		cancelled: make(map[string]*atomic.Bool),
	}
}

// Recover fails runs stranded by a previous process. Call once on startup,
// before the scheduler starts.
func (s *Service) Recover(ctx context.Context) error {
	n, err := s.runs.RecoverStranded(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("recovered stranded runs", "count", n)
	}
	return nil
}

// TriggerRun materializes a DAG run for (dataset, interval) and launches it
// in the background. A second trigger while a run for the same interval is
// active is rejected with ConflictError — the two are never run in parallel.
func (s *Service) TriggerRun(ctx context.Context, datasetName string, iv domain.Interval, triggerType string) (*domain.DagRun, error) {
	run, exec, err := s.prepareRun(ctx, datasetName, iv, triggerType)
	if err != nil {
		return nil, err
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		exec()
	}()
	return run, nil
}

// BackfillResult is the outcome of one interval of a backfill.
type BackfillResult struct {
	Interval domain.Interval
	RunID    string
	Status   string
	Err      error
}

// Backfill runs one DAG run per interval in [from, to], sequentially and
// synchronously. Intervals that fail do not stop later ones.
func (s *Service) Backfill(ctx context.Context, datasetName string, from, to domain.Interval) ([]BackfillResult, error) {
	intervals, err := domain.IntervalRange(from, to)
	if err != nil {
		return nil, err
	}

	results := make([]BackfillResult, 0, len(intervals))
	for _, iv := range intervals {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		run, exec, err := s.prepareRun(ctx, datasetName, iv, domain.TriggerTypeBackfill)
		if err != nil {
			results = append(results, BackfillResult{Interval: iv, Err: err})
			continue
		}
		exec()

		final, err := s.runs.GetRunByID(ctx, run.ID)
		if err != nil {
			results = append(results, BackfillResult{Interval: iv, RunID: run.ID, Err: err})
			continue
		}
		results = append(results, BackfillResult{Interval: iv, RunID: run.ID, Status: final.Status})
	}
	return results, nil
}

// prepareRun validates the trigger, persists the run and its task runs, and
// returns a closure that executes the run to completion.
func (s *Service) prepareRun(ctx context.Context, datasetName string, iv domain.Interval, triggerType string) (*domain.DagRun, func(), error) {
	ds, tasks, levels, err := s.registry.Lookup(datasetName)
	if err != nil {
		return nil, nil, err
	}

	if iv.IsZero() {
		return nil, nil, domain.ErrValidation("interval is required")
	}
	if iv.Granularity != ds.Granularity {
		return nil, nil, domain.ErrValidation("dataset %q expects %s intervals, got %s",
			ds.Name, ds.Granularity, iv.Granularity)
	}

	active, err := s.runs.CountActiveRuns(ctx, ds.Name, iv)
	if err != nil {
		return nil, nil, err
	}
	if active > 0 {
		return nil, nil, domain.ErrConflict("run already active for %s interval %s", ds.Name, iv.Key())
	}

	// The partial unique index backstops the check above under races: the
	// insert itself fails with ConflictError when another trigger won.
	run, err := s.runs.CreateRun(ctx, &domain.DagRun{
		Dataset:     ds.Name,
		Interval:    iv,
		Status:      domain.DagRunStatusPending,
		TriggerType: triggerType,
	})
	if err != nil {
		return nil, nil, err
	}

	taskRunIDs := make(map[string]string, len(tasks))
	for _, t := range tasks {
		tr, err := s.runs.CreateTaskRun(ctx, &domain.TaskRun{
			RunID:    run.ID,
			TaskName: t.Name,
			Status:   domain.TaskRunStatusPending,
		})
		if err != nil {
			return nil, nil, err
		}
		taskRunIDs[t.Name] = tr.ID
	}

	flag := &atomic.Bool{}
	s.mu.Lock()
	s.cancelled[run.ID] = flag
	s.mu.Unlock()

	exec := func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancelled, run.ID)
			s.mu.Unlock()
		}()
		s.executeRun(run.ID, ds, iv, tasks, levels, taskRunIDs, flag)
	}
	return run, exec, nil
}

// CancelRun marks a run cancelled. Tasks not yet started will not be
// dispatched; a task already mid-execution is not interrupted.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	flag, inflight := s.cancelled[runID]
	s.mu.Unlock()

	if inflight {
		// The executor observes the flag before each dispatch and finalizes
		// the run record itself.
		flag.Store(true)
		return nil
	}

	// No executor owns the run. Either it is a stranded PENDING record, or
	// it finished between our flag lookup and here. The conditional update
	// cancels the former and refuses to touch the latter's terminal status.
	if err := s.runs.CancelRunIfActive(ctx, runID); err != nil {
		return err
	}
	taskRuns, err := s.runs.ListTaskRunsByRun(ctx, runID)
	if err != nil {
		return err
	}
	for _, tr := range taskRuns {
		if tr.Status == domain.TaskRunStatusPending {
			_ = s.runs.UpdateTaskRunFinished(ctx, tr.ID, domain.TaskRunStatusCancelled, nil, nil)
		}
	}
	return nil
}

// GetRun returns a DAG run by ID.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.DagRun, error) {
	return s.runs.GetRunByID(ctx, runID)
}

// ListRuns returns a filtered, paginated list of DAG runs.
func (s *Service) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.DagRun, int64, error) {
	return s.runs.ListRuns(ctx, filter)
}

// ListTaskRuns returns the per-task status records of a run.
func (s *Service) ListTaskRuns(ctx context.Context, runID string) ([]domain.TaskRun, error) {
	if _, err := s.runs.GetRunByID(ctx, runID); err != nil {
		return nil, err
	}
	return s.runs.ListTaskRunsByRun(ctx, runID)
}

// Registry exposes the dataset registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Wait blocks until all in-flight runs complete. Used by shutdown and tests.
func (s *Service) Wait() {
	s.inflight.Wait()
}
