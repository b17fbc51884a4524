package repository

import (
	"context"
	"database/sql"
	"time"

	"lakeflow/internal/domain"
)

// Compile-time check.
var _ domain.RunRepository = (*RunRepo)(nil)

// RunRepo implements domain.RunRepository using SQLite. Writes go through
// the single-connection write pool; list and lookup queries go through the
// read pool so the status surface never queues behind the engine's writes.
type RunRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewRunRepo creates a new RunRepo over a write/read pool pair. Both may be
// the same handle when a split is not needed.
func NewRunRepo(write, read *sql.DB) *RunRepo {
	return &RunRepo{write: write, read: read}
}

// CreateRun inserts a new DAG run. A second active run for the same
// (dataset, interval) violates ux_dag_runs_active and maps to ConflictError.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.DagRun) (*domain.DagRun, error) {
	id := run.ID
	if id == "" {
		id = domain.NewID()
	}

	_, err := r.write.ExecContext(ctx, `
		INSERT INTO dag_runs (id, dataset, interval_start, interval_end, granularity, status, trigger_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, run.Dataset,
		run.Interval.Start.UTC().Format(timeFormat),
		run.Interval.End().UTC().Format(timeFormat),
		string(run.Interval.Granularity),
		run.Status, run.TriggerType,
	)
	if err != nil {
		return nil, mapDBError(err)
	}
	// Read back on the write pool: the row was just committed there.
	return getDagRun(ctx, r.write, id)
}

// GetRunByID returns a DAG run by its ID.
func (r *RunRepo) GetRunByID(ctx context.Context, id string) (*domain.DagRun, error) {
	return getDagRun(ctx, r.read, id)
}

// ListRuns returns a filtered, paginated list of DAG runs, newest first.
func (r *RunRepo) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.DagRun, int64, error) {
	dataset := ""
	if filter.Dataset != nil {
		dataset = *filter.Dataset
	}
	status := ""
	if filter.Status != nil {
		status = *filter.Status
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var total int64
	err := r.read.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dag_runs
		WHERE (? = '' OR dataset = ?) AND (? = '' OR status = ?)`,
		dataset, dataset, status, status).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.read.QueryContext(ctx, `
		SELECT id, dataset, interval_start, granularity, status, trigger_type,
		       error_message, started_at, finished_at, created_at
		FROM dag_runs
		WHERE (? = '' OR dataset = ?) AND (? = '' OR status = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		dataset, dataset, status, status, limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []domain.DagRun
	for rows.Next() {
		run, err := scanDagRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

// CountActiveRuns returns the number of PENDING or RUNNING runs for the
// given (dataset, interval) pair. It queries the write pool: this count
// guards trigger admission, so it must not lag behind in-flight writes.
func (r *RunRepo) CountActiveRuns(ctx context.Context, dataset string, iv domain.Interval) (int64, error) {
	var n int64
	err := r.write.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dag_runs
		WHERE dataset = ? AND interval_start = ? AND status IN ('PENDING', 'RUNNING')`,
		dataset, iv.Start.UTC().Format(timeFormat)).Scan(&n)
	return n, err
}

// UpdateRunStarted marks a DAG run as started.
func (r *RunRepo) UpdateRunStarted(ctx context.Context, id string) error {
	_, err := r.write.ExecContext(ctx, `
		UPDATE dag_runs SET status = ?, started_at = datetime('now') WHERE id = ?`,
		domain.DagRunStatusRunning, id)
	return mapDBError(err)
}

// UpdateRunFinished marks a DAG run as finished with a final status.
func (r *RunRepo) UpdateRunFinished(ctx context.Context, id string, status string, errMsg *string) error {
	_, err := r.write.ExecContext(ctx, `
		UPDATE dag_runs SET status = ?, error_message = ?, finished_at = datetime('now') WHERE id = ?`,
		status, nullStrFromPtr(errMsg), id)
	return mapDBError(err)
}

// CancelRunIfActive cancels a run atomically: the guard on status means a
// run that finished concurrently keeps its terminal state instead of being
// overwritten.
func (r *RunRepo) CancelRunIfActive(ctx context.Context, id string) error {
	res, err := r.write.ExecContext(ctx, `
		UPDATE dag_runs SET status = ?, finished_at = datetime('now')
		WHERE id = ? AND status IN ('PENDING', 'RUNNING')`,
		domain.DagRunStatusCancelled, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		run, err := r.GetRunByID(ctx, id)
		if err != nil {
			return err
		}
		return domain.ErrValidation("cannot cancel run with status %s", run.Status)
	}
	return nil
}

// CreateTaskRun inserts a new task run.
func (r *RunRepo) CreateTaskRun(ctx context.Context, tr *domain.TaskRun) (*domain.TaskRun, error) {
	id := tr.ID
	if id == "" {
		id = domain.NewID()
	}

	_, err := r.write.ExecContext(ctx, `
		INSERT INTO task_runs (id, run_id, task_name, status, attempt)
		VALUES (?, ?, ?, ?, ?)`,
		id, tr.RunID, tr.TaskName, tr.Status, tr.Attempt)
	if err != nil {
		return nil, mapDBError(err)
	}

	row := r.write.QueryRowContext(ctx, `
		SELECT id, run_id, task_name, status, attempt, error_class, error_message,
		       started_at, finished_at, created_at
		FROM task_runs WHERE id = ?`, id)
	return scanTaskRun(row)
}

// ListTaskRunsByRun returns all task runs for a DAG run in creation order.
func (r *RunRepo) ListTaskRunsByRun(ctx context.Context, runID string) ([]domain.TaskRun, error) {
	rows, err := r.read.QueryContext(ctx, `
		SELECT id, run_id, task_name, status, attempt, error_class, error_message,
		       started_at, finished_at, created_at
		FROM task_runs WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var taskRuns []domain.TaskRun
	for rows.Next() {
		tr, err := scanTaskRun(rows)
		if err != nil {
			return nil, err
		}
		taskRuns = append(taskRuns, *tr)
	}
	return taskRuns, rows.Err()
}

// UpdateTaskRunStarted marks a task run as running on the given attempt.
func (r *RunRepo) UpdateTaskRunStarted(ctx context.Context, id string, attempt int) error {
	_, err := r.write.ExecContext(ctx, `
		UPDATE task_runs SET status = ?, attempt = ?, started_at = COALESCE(started_at, datetime('now'))
		WHERE id = ?`,
		domain.TaskRunStatusRunning, attempt, id)
	return mapDBError(err)
}

// UpdateTaskRunRetrying records a failed attempt that will be retried.
func (r *RunRepo) UpdateTaskRunRetrying(ctx context.Context, id string, attempt int, errMsg *string) error {
	_, err := r.write.ExecContext(ctx, `
		UPDATE task_runs SET status = ?, attempt = ?, error_message = ? WHERE id = ?`,
		domain.TaskRunStatusRetrying, attempt, nullStrFromPtr(errMsg), id)
	return mapDBError(err)
}

// UpdateTaskRunFinished marks a task run as finished with a terminal status.
func (r *RunRepo) UpdateTaskRunFinished(ctx context.Context, id string, status string, errClass, errMsg *string) error {
	_, err := r.write.ExecContext(ctx, `
		UPDATE task_runs SET status = ?, error_class = ?, error_message = ?, finished_at = datetime('now')
		WHERE id = ?`,
		status, nullStrFromPtr(errClass), nullStrFromPtr(errMsg), id)
	return mapDBError(err)
}

// RecoverStranded fails runs left active by a previous process so their
// interval slots free up and a re-trigger converges to a clean state.
func (r *RunRepo) RecoverStranded(ctx context.Context) (int64, error) {
	_, err := r.write.ExecContext(ctx, `
		UPDATE task_runs SET status = ?, finished_at = datetime('now')
		WHERE status IN ('PENDING', 'RUNNING', 'RETRYING')
		  AND run_id IN (SELECT id FROM dag_runs WHERE status IN ('PENDING', 'RUNNING'))`,
		domain.TaskRunStatusCancelled)
	if err != nil {
		return 0, err
	}

	res, err := r.write.ExecContext(ctx, `
		UPDATE dag_runs SET status = ?, error_message = 'interrupted by engine restart', finished_at = datetime('now')
		WHERE status IN ('PENDING', 'RUNNING')`,
		domain.DagRunStatusFailed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// === Private scanners ===

type rowScanner interface {
	Scan(dest ...any) error
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDagRun(ctx context.Context, q rowQuerier, id string) (*domain.DagRun, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, dataset, interval_start, granularity, status, trigger_type,
		       error_message, started_at, finished_at, created_at
		FROM dag_runs WHERE id = ?`, id)
	return scanDagRun(row)
}

func scanDagRun(row rowScanner) (*domain.DagRun, error) {
	var (
		run           domain.DagRun
		intervalStart string
		granularity   string
		errMsg        sql.NullString
		startedAt     sql.NullString
		finishedAt    sql.NullString
		createdAt     string
	)
	err := row.Scan(&run.ID, &run.Dataset, &intervalStart, &granularity, &run.Status,
		&run.TriggerType, &errMsg, &startedAt, &finishedAt, &createdAt)
	if err != nil {
		return nil, mapDBError(err)
	}

	start, err := time.Parse(timeFormat, intervalStart)
	if err != nil {
		return nil, err
	}
	run.Interval = domain.Interval{Start: start.UTC(), Granularity: domain.Granularity(granularity)}
	run.ErrorMessage = ptrFromNullStr(errMsg)
	run.StartedAt = ptrFromNullTime(startedAt)
	run.FinishedAt = ptrFromNullTime(finishedAt)
	run.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return &run, nil
}

func scanTaskRun(row rowScanner) (*domain.TaskRun, error) {
	var (
		tr         domain.TaskRun
		errClass   sql.NullString
		errMsg     sql.NullString
		startedAt  sql.NullString
		finishedAt sql.NullString
		createdAt  string
	)
	err := row.Scan(&tr.ID, &tr.RunID, &tr.TaskName, &tr.Status, &tr.Attempt,
		&errClass, &errMsg, &startedAt, &finishedAt, &createdAt)
	if err != nil {
		return nil, mapDBError(err)
	}

	tr.ErrorClass = ptrFromNullStr(errClass)
	tr.ErrorMessage = ptrFromNullStr(errMsg)
	tr.StartedAt = ptrFromNullTime(startedAt)
	tr.FinishedAt = ptrFromNullTime(finishedAt)
	tr.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return &tr, nil
}
