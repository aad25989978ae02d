// Package dispatch composes admission and the worker pool into the enqueue
// and status-lookup surface the outer layers consume.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/you/slotq/internal/admission"
	"github.com/you/slotq/internal/domain"
	"github.com/you/slotq/internal/pool"
)

type Dispatcher struct {
	jobs *admission.Store
	pool *pool.Pool
	log  *zap.Logger
}

func New(jobs *admission.Store, p *pool.Pool, log *zap.Logger) *Dispatcher {
	return &Dispatcher{jobs: jobs, pool: p, log: log}
}

// EnqueueResult reports admission. A rejection carries the configured limit
// so callers can implement backoff against a known budget.
type EnqueueResult struct {
	JobID    string `json:"job_id,omitempty"`
	Accepted bool   `json:"accepted"`
	Limit    int    `json:"limit,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Enqueue reserves a slot, writes the pending record and pushes the job onto
// the tenant's queue. Any failure after the reservation goes through
// SetError so the slot is released rather than leaked.
func (d *Dispatcher) Enqueue(ctx context.Context, tenant string, payload json.RawMessage, total int) (*EnqueueResult, error) {
	ok, err := d.jobs.ReserveSlot(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if !ok {
		rej := &domain.AdmissionRejectedError{TenantID: tenant, Limit: d.jobs.Limit()}
		d.log.Info("enqueue rejected", zap.String("tenant", tenant), zap.Int("limit", rej.Limit))
		return &EnqueueResult{Accepted: false, Limit: rej.Limit, Reason: rej.Error()}, nil
	}

	jobID := uuid.NewString()
	job := &domain.JobRecord{
		JobID:      jobID,
		TenantID:   tenant,
		Status:     domain.Pending,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		TotalCount: total,
	}
	if err := d.jobs.SaveJob(ctx, job); err != nil {
		d.releaseAfterFailure(ctx, tenant, jobID, "record write failed: "+err.Error())
		return nil, err
	}

	if err := d.pool.Queue(tenant).Push(ctx, jobID); err != nil {
		d.releaseAfterFailure(ctx, tenant, jobID, "queue push failed: "+err.Error())
		return nil, err
	}

	d.log.Info("job enqueued", zap.String("tenant", tenant), zap.String("job_id", jobID))
	return &EnqueueResult{JobID: jobID, Accepted: true}, nil
}

// releaseAfterFailure settles a half-enqueued job as failed. If even this
// fails the slot stays leaked until the reconciliation sweep recounts it.
func (d *Dispatcher) releaseAfterFailure(ctx context.Context, tenant, jobID, reason string) {
	if _, err := d.jobs.SetError(ctx, tenant, jobID, reason); err != nil {
		d.log.Error("failed to release slot after enqueue failure, reconciliation will repair",
			zap.String("tenant", tenant),
			zap.String("job_id", jobID),
			zap.Error(err))
	}
}

func (d *Dispatcher) GetJobStatus(ctx context.Context, tenant, jobID string) (*domain.JobRecord, error) {
	return d.jobs.GetJob(ctx, tenant, jobID)
}

func (d *Dispatcher) GetAllJobsForTenant(ctx context.Context, tenant string) ([]*domain.JobRecord, error) {
	return d.jobs.GetAllJobsForTenant(ctx, tenant)
}
