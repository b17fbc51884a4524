package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"lakeflow/internal/domain"
)

// executeRun drives one DAG run to a terminal status. It runs in its own
// goroutine (or inline for backfill) and never returns an error: every
// outcome is recorded on the run and task-run rows.
func (s *Service) executeRun(runID string, ds domain.Dataset, iv domain.Interval, tasks []TaskDefinition, levels [][]string, taskRunIDs map[string]string, cancelled *atomic.Bool) {
	ctx := context.Background()
	logger := s.logger.With("run_id", runID, "dataset", ds.Name, "interval", iv.Key())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", "panic", r)
			msg := fmt.Sprintf("panic: %v", r)
			_ = s.runs.UpdateRunFinished(ctx, runID, domain.DagRunStatusFailed, &msg)
		}
	}()

	if err := s.runs.UpdateRunStarted(ctx, runID); err != nil {
		logger.Error("failed to mark run started", "error", err)
		return
	}
	logger.Info("run started")

	workDir := filepath.Join(s.workRoot, runID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		msg := fmt.Sprintf("create work dir: %v", err)
		_ = s.runs.UpdateRunFinished(ctx, runID, domain.DagRunStatusFailed, &msg)
		return
	}
	defer os.RemoveAll(workDir)

	byName := make(map[string]TaskDefinition, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
	}

	rc := RunContext{Dataset: ds, Interval: iv, WorkDir: workDir, Logger: logger}

	// statuses records the terminal status of every task as levels complete.
	// Guarded by mu because tasks within a level finish concurrently.
	var mu sync.Mutex
	statuses := make(map[string]string, len(tasks))

	wasCancelled := false
	for _, level := range levels {
		var g errgroup.Group // not WithContext: a failing branch must not cancel its siblings
		for _, name := range level {
			td := byName[name]
			trID := taskRunIDs[name]

			mu.Lock()
			skip := skipStatus(td, statuses)
			mu.Unlock()

			if cancelled.Load() {
				skip = domain.TaskRunStatusCancelled
				wasCancelled = true
			}

			if skip != "" {
				mu.Lock()
				statuses[name] = skip
				mu.Unlock()
				_ = s.runs.UpdateTaskRunFinished(ctx, trID, skip, nil, nil)
				logger.Info("task skipped", "task", name, "status", skip)
				continue
			}

			g.Go(func() error {
				status, errClass, errMsg := s.executeTask(ctx, td, trID, rc)
				mu.Lock()
				statuses[name] = status
				mu.Unlock()
				_ = s.runs.UpdateTaskRunFinished(ctx, trID, status, errClass, errMsg)
				return nil
			})
		}
		_ = g.Wait()
	}

	finalStatus := domain.DagRunStatusSuccess
	var finalMsg *string
	failed := 0
	for _, st := range statuses {
		switch st {
		case domain.TaskRunStatusFailed, domain.TaskRunStatusUpstreamFailed:
			failed++
		case domain.TaskRunStatusCancelled:
			wasCancelled = true
		}
	}
	switch {
	case failed > 0:
		finalStatus = domain.DagRunStatusFailed
		msg := fmt.Sprintf("%d of %d tasks did not succeed", failed, len(tasks))
		finalMsg = &msg
	case wasCancelled:
		finalStatus = domain.DagRunStatusCancelled
	}

	if err := s.runs.UpdateRunFinished(ctx, runID, finalStatus, finalMsg); err != nil {
		logger.Error("failed to mark run finished", "error", err)
		return
	}
	logger.Info("run finished", "status", finalStatus)
}

// skipStatus decides whether a task should be skipped based on its upstream
// outcomes. A task runs only if every dependency succeeded; other branches
// of the graph are unaffected.
func skipStatus(td TaskDefinition, statuses map[string]string) string {
	for _, dep := range td.DependsOn {
		switch statuses[dep] {
		case domain.TaskRunStatusSuccess:
			// keep checking
		case domain.TaskRunStatusCancelled:
			return domain.TaskRunStatusCancelled
		default:
			return domain.TaskRunStatusUpstreamFailed
		}
	}
	return ""
}

// executeTask runs one task with the retry policy: up to MaxAttempts
// attempts with exponential backoff, each attempt under its own timeout.
// Only transient errors and timeouts are retried.
func (s *Service) executeTask(ctx context.Context, td TaskDefinition, taskRunID string, rc RunContext) (status string, errClass, errMsg *string) {
	policy := rc.Dataset.PolicyFor(td.Name)
	taskLogger := rc.Logger.With("task", td.Name)
	rc.Logger = taskLogger

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := policy.Backoff << uint(attempt-2)
			taskLogger.Warn("task attempt failed, retrying",
				"attempt", attempt-1, "backoff", backoff, "error", lastErr)
			msg := lastErr.Error()
			_ = s.runs.UpdateTaskRunRetrying(ctx, taskRunID, attempt, &msg)
			time.Sleep(backoff)
		}

		if err := s.runs.UpdateTaskRunStarted(ctx, taskRunID, attempt); err != nil {
			taskLogger.Error("failed to mark task started", "error", err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		err := runAttempt(attemptCtx, td, rc)
		cancel()

		if err == nil {
			return domain.TaskRunStatusSuccess, nil, nil
		}
		lastErr = err

		if !domain.IsTransient(err) {
			break
		}
	}

	class := domain.ClassifyError(lastErr)
	msg := lastErr.Error()
	taskLogger.Error("task failed", "class", class, "error", lastErr)
	return domain.TaskRunStatusFailed, &class, &msg
}

// runAttempt isolates one attempt so a panicking task fails the task, not
// the whole process.
func runAttempt(ctx context.Context, td TaskDefinition, rc RunContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", td.Name, r)
		}
	}()
	return td.Run(ctx, rc)
}
