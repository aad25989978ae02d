package domain

import (
	"encoding/json"
	"time"
)

type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// Terminal reports whether s is a final status. Reaching a terminal status is
// the only event that releases a tenant's concurrency slot.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

func (s Status) Valid() bool {
	switch s {
	case Pending, Running, Completed, Failed:
		return true
	}
	return false
}

// JobRecord is the per-job bookkeeping record kept in the coordination store,
// keyed by (tenant, job id). The set of records with non-terminal status is
// the source of truth for a tenant's active count; the semaphore is a cache
// of that set's cardinality.
type JobRecord struct {
	JobID           string          `json:"job_id"`
	TenantID        string          `json:"tenant_id"`
	Status          Status          `json:"status"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ProcessedCount  int             `json:"processed_count"`
	TotalCount      int             `json:"total_count"`
	SuccessfulCount int             `json:"successful_count"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	// Released makes slot release idempotent per job: once a terminal
	// transition has decremented the semaphore, repeats are no-ops.
	Released    bool      `json:"released"`
	LastUpdated time.Time `json:"last_updated"`
}

// Active reports whether the job still occupies a concurrency slot.
func (j *JobRecord) Active() bool {
	return !j.Status.Terminal()
}
