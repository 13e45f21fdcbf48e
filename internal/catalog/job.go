package catalog

import "time"

// JobStatus represents the lifecycle state of a refresh job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobKind selects what a refresh job does.
type JobKind string

// Job kinds.
const (
	// JobRefresh refreshes the selected providers (all native ones when none are selected).
	JobRefresh JobKind = "refresh"
	// JobReset wipes the catalog and bootstraps it again before refreshing.
	JobReset JobKind = "reset"
	// JobBootstrap seeds an empty catalog and then refreshes it.
	JobBootstrap JobKind = "bootstrap"
)

// OutcomeStatus summarizes one provider refresh.
type OutcomeStatus string

// Provider refresh outcomes.
const (
	OutcomeRefreshed OutcomeStatus = "refreshed"
	OutcomeEmpty     OutcomeStatus = "empty"
	OutcomeDegraded  OutcomeStatus = "degraded"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome is the result of refreshing a single provider.
type Outcome struct {
	PID      string        `json:"pid"`
	Status   OutcomeStatus `json:"status"`
	Backends int           `json:"backends"`
	Error    string        `json:"error,omitempty"`
}

// RefreshJob is the metadata persisted for each submitted refresh.
type RefreshJob struct {
	ID        string     `json:"id"`
	Kind      JobKind    `json:"kind"`
	PIDs      []string   `json:"pids,omitempty"`
	Status    JobStatus  `json:"status"`
	Trigger   string     `json:"trigger"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Outcomes  []Outcome  `json:"outcomes,omitempty"`
}

// JobUpdate carries the fields a worker changes on a job.
type JobUpdate struct {
	Status    JobStatus
	ErrorText string
	Outcomes  []Outcome
	At        time.Time
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Kind      JobKind
	PIDs      []string
	Submitted int64
}
