package domain

import "time"

// Run status constants.
const (
	DagRunStatusPending   = "PENDING"
	DagRunStatusRunning   = "RUNNING"
	DagRunStatusSuccess   = "SUCCESS"
	DagRunStatusFailed    = "FAILED"
	DagRunStatusCancelled = "CANCELLED"

	TaskRunStatusPending        = "PENDING"
	TaskRunStatusRunning        = "RUNNING"
	TaskRunStatusRetrying       = "RETRYING"
	TaskRunStatusSuccess        = "SUCCESS"
	TaskRunStatusFailed         = "FAILED"
	TaskRunStatusUpstreamFailed = "UPSTREAM_FAILED"
	TaskRunStatusCancelled      = "CANCELLED"

	TriggerTypeScheduled = "SCHEDULED"
	TriggerTypeManual    = "MANUAL"
	TriggerTypeBackfill  = "BACKFILL"
)

// DagRun is one execution of a dataset's task graph for one interval.
// Identified by (dataset, interval); at most one may be active per pair.
type DagRun struct {
	ID           string
	Dataset      string
	Interval     Interval
	Status       string
	TriggerType  string
	ErrorMessage *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
}

// TaskRun is the execution record of one task within a DAG run. Its
// lifecycle is owned by the engine; task logic only reports an outcome.
type TaskRun struct {
	ID           string
	RunID        string
	TaskName     string
	Status       string
	Attempt      int
	ErrorClass   *string
	ErrorMessage *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
}

// RunFilter holds filter parameters for querying DAG runs.
type RunFilter struct {
	Dataset *string
	Status  *string
	Limit   int
	Offset  int
}
