package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeflow/internal/db"
	"lakeflow/internal/domain"
)

func newTestRepo(t *testing.T) *RunRepo {
	t.Helper()
	writeDB, readDB := db.OpenTestSQLite(t)
	return NewRunRepo(writeDB, readDB)
}

func mustInterval(t *testing.T, key string) domain.Interval {
	t.Helper()
	iv, err := domain.ParseInterval(key, domain.GranularityDaily)
	require.NoError(t, err)
	return iv
}

func TestCreateAndGetRun(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	iv := mustInterval(t, "2024-01-01")

	created, err := repo.CreateRun(ctx, &domain.DagRun{
		Dataset:     "trips",
		Interval:    iv,
		Status:      domain.DagRunStatusPending,
		TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := repo.GetRunByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "trips", got.Dataset)
	assert.Equal(t, "2024-01-01", got.Interval.Key())
	assert.Equal(t, domain.GranularityDaily, got.Interval.Granularity)
	assert.Equal(t, domain.DagRunStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
}

func TestGetRunNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetRunByID(context.Background(), "missing")
	require.Error(t, err)
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestActiveRunUniquePerInterval(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	iv := mustInterval(t, "2024-01-01")

	first, err := repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: iv,
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)

	// Second active run for the same interval is rejected by the store.
	_, err = repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: iv,
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.Error(t, err)
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)

	// A different interval is fine.
	_, err = repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: mustInterval(t, "2024-01-02"),
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)

	// Once the first run finishes, the interval slot frees up.
	require.NoError(t, repo.UpdateRunFinished(ctx, first.ID, domain.DagRunStatusFailed, nil))
	_, err = repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: iv,
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)
}

func TestCountActiveRuns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	iv := mustInterval(t, "2024-01-01")

	n, err := repo.CountActiveRuns(ctx, "trips", iv)
	require.NoError(t, err)
	assert.Zero(t, n)

	run, err := repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: iv,
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeScheduled,
	})
	require.NoError(t, err)

	n, err = repo.CountActiveRuns(ctx, "trips", iv)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// Other datasets and intervals don't count.
	n, err = repo.CountActiveRuns(ctx, "other", iv)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, repo.UpdateRunFinished(ctx, run.ID, domain.DagRunStatusSuccess, nil))
	n, err = repo.CountActiveRuns(ctx, "trips", iv)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: mustInterval(t, "2024-01-01"),
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateRunStarted(ctx, run.ID))
	got, err := repo.GetRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DagRunStatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	errMsg := "download failed"
	require.NoError(t, repo.UpdateRunFinished(ctx, run.ID, domain.DagRunStatusFailed, &errMsg))
	got, err = repo.GetRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DagRunStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "download failed", *got.ErrorMessage)
	assert.NotNil(t, got.FinishedAt)
}

func TestCancelRunIfActive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pending, err := repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: mustInterval(t, "2024-01-01"),
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)

	require.NoError(t, repo.CancelRunIfActive(ctx, pending.ID))
	got, err := repo.GetRunByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DagRunStatusCancelled, got.Status)
	assert.NotNil(t, got.FinishedAt)

	// A run that already reached SUCCESS keeps it: a cancel that lost the
	// race against run completion must not rewrite the terminal status.
	done, err := repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: mustInterval(t, "2024-01-02"),
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateRunFinished(ctx, done.ID, domain.DagRunStatusSuccess, nil))

	err = repo.CancelRunIfActive(ctx, done.ID)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	got, err = repo.GetRunByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DagRunStatusSuccess, got.Status)

	var notFound *domain.NotFoundError
	assert.ErrorAs(t, repo.CancelRunIfActive(ctx, "missing"), &notFound)
}

func TestRunsVisibleOnReadPool(t *testing.T) {
	// GetRunByID and ListRuns serve from the read pool; rows committed
	// through the write pool must be immediately visible there.
	writeDB, readDB := db.OpenTestSQLite(t)
	repo := NewRunRepo(writeDB, readDB)
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: mustInterval(t, "2024-01-01"),
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateRunStarted(ctx, run.ID))

	got, err := repo.GetRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DagRunStatusRunning, got.Status)

	runs, total, err := repo.ListRuns(ctx, domain.RunFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestTaskRunLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: mustInterval(t, "2024-01-01"),
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)

	for _, name := range []string{"download", "convert", "upload"} {
		_, err := repo.CreateTaskRun(ctx, &domain.TaskRun{
			RunID: run.ID, TaskName: name, Status: domain.TaskRunStatusPending,
		})
		require.NoError(t, err)
	}

	taskRuns, err := repo.ListTaskRunsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, taskRuns, 3)

	tr := taskRuns[0]
	require.NoError(t, repo.UpdateTaskRunStarted(ctx, tr.ID, 1))

	errMsg := "connection reset"
	require.NoError(t, repo.UpdateTaskRunRetrying(ctx, tr.ID, 1, &errMsg))

	require.NoError(t, repo.UpdateTaskRunStarted(ctx, tr.ID, 2))
	errClass := domain.ErrorClassTransient
	require.NoError(t, repo.UpdateTaskRunFinished(ctx, tr.ID, domain.TaskRunStatusFailed, &errClass, &errMsg))

	taskRuns, err = repo.ListTaskRunsByRun(ctx, run.ID)
	require.NoError(t, err)
	got := taskRuns[0]
	assert.Equal(t, domain.TaskRunStatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempt)
	require.NotNil(t, got.ErrorClass)
	assert.Equal(t, domain.ErrorClassTransient, *got.ErrorClass)
	assert.NotNil(t, got.FinishedAt)
}

func TestDuplicateTaskRunRejected(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: mustInterval(t, "2024-01-01"),
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)

	_, err = repo.CreateTaskRun(ctx, &domain.TaskRun{
		RunID: run.ID, TaskName: "download", Status: domain.TaskRunStatusPending,
	})
	require.NoError(t, err)

	_, err = repo.CreateTaskRun(ctx, &domain.TaskRun{
		RunID: run.ID, TaskName: "download", Status: domain.TaskRunStatusPending,
	})
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestListRunsFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i, key := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		run, err := repo.CreateRun(ctx, &domain.DagRun{
			Dataset: "trips", Interval: mustInterval(t, key),
			Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeBackfill,
		})
		require.NoError(t, err)
		if i < 2 {
			require.NoError(t, repo.UpdateRunFinished(ctx, run.ID, domain.DagRunStatusSuccess, nil))
		}
	}

	all, total, err := repo.ListRuns(ctx, domain.RunFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, all, 3)

	status := domain.DagRunStatusSuccess
	succeeded, total, err := repo.ListRuns(ctx, domain.RunFilter{Status: &status})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, succeeded, 2)

	other := "other"
	none, total, err := repo.ListRuns(ctx, domain.RunFilter{Dataset: &other})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}

func TestRecoverStranded(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: mustInterval(t, "2024-01-01"),
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateRunStarted(ctx, run.ID))

	tr, err := repo.CreateTaskRun(ctx, &domain.TaskRun{
		RunID: run.ID, TaskName: "download", Status: domain.TaskRunStatusPending,
	})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateTaskRunStarted(ctx, tr.ID, 1))

	done, err := repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: mustInterval(t, "2024-01-02"),
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateRunFinished(ctx, done.ID, domain.DagRunStatusSuccess, nil))

	n, err := repo.RecoverStranded(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := repo.GetRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DagRunStatusFailed, got.Status)

	taskRuns, err := repo.ListTaskRunsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRunStatusCancelled, taskRuns[0].Status)

	// Finished runs untouched.
	got, err = repo.GetRunByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DagRunStatusSuccess, got.Status)

	// The stranded run's interval slot is free again.
	_, err = repo.CreateRun(ctx, &domain.DagRun{
		Dataset: "trips", Interval: mustInterval(t, "2024-01-01"),
		Status: domain.DagRunStatusPending, TriggerType: domain.TriggerTypeManual,
	})
	require.NoError(t, err)
}
