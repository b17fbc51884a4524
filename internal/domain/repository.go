package domain

import "context"

// RunRepository persists DAG run and task run state. The engine goes through
// this interface so restarts can resume from durable records instead of
// in-process globals.
type RunRepository interface {
	CreateRun(ctx context.Context, run *DagRun) (*DagRun, error)
	GetRunByID(ctx context.Context, id string) (*DagRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]DagRun, int64, error)
	// CountActiveRuns returns how many PENDING or RUNNING runs exist for the
	// given (dataset, interval) pair.
	CountActiveRuns(ctx context.Context, dataset string, iv Interval) (int64, error)
	UpdateRunStarted(ctx context.Context, id string) error
	UpdateRunFinished(ctx context.Context, id string, status string, errMsg *string) error
	// CancelRunIfActive moves a run to CANCELLED only while it is still
	// PENDING or RUNNING. A run that already reached a terminal status keeps
	// it and the call fails with a ValidationError.
	CancelRunIfActive(ctx context.Context, id string) error

	CreateTaskRun(ctx context.Context, tr *TaskRun) (*TaskRun, error)
	ListTaskRunsByRun(ctx context.Context, runID string) ([]TaskRun, error)
	UpdateTaskRunStarted(ctx context.Context, id string, attempt int) error
	UpdateTaskRunRetrying(ctx context.Context, id string, attempt int, errMsg *string) error
	UpdateTaskRunFinished(ctx context.Context, id string, status string, errClass, errMsg *string) error

	// RecoverStranded fails any runs and task runs left RUNNING by a previous
	// process. Called once on startup. Returns the number of runs touched.
	RecoverStranded(ctx context.Context) (int64, error)
}
