// Package admission holds the tenant concurrency semaphores and the job
// records they account for. The records are ground truth; the semaphore is a
// fast-path cache of the active-record count, repaired by reconciliation.
package admission

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/slotq/internal/domain"
	"github.com/you/slotq/internal/metrics"
	"github.com/you/slotq/internal/storage"
)

type Store struct {
	store     storage.Storage
	limit     int64
	retention time.Duration
	log       *zap.Logger
}

func New(store storage.Storage, limit int, retention time.Duration, log *zap.Logger) *Store {
	return &Store{store: store, limit: int64(limit), retention: retention, log: log}
}

// Limit returns the per-tenant concurrency budget.
func (s *Store) Limit() int { return int(s.limit) }

// ReserveSlot claims one unit of the tenant's concurrency budget. The
// increment-check-undo happens in a single store round trip, so two callers
// racing for the last slot can never both be admitted.
func (s *Store) ReserveSlot(ctx context.Context, tenant string) (bool, error) {
	_, ok, err := s.store.IncrWithLimit(ctx, storage.SemaphoreKey(tenant), s.limit)
	if err != nil {
		return false, err
	}
	if !ok {
		metrics.AdmissionRejected.WithLabelValues(tenant).Inc()
	}
	return ok, nil
}

// ReleaseSlot returns one unit of budget. A decrement that would go negative
// is clamped at zero and reported: it means a release fired without a
// matching reservation, which must be investigated, not ignored.
func (s *Store) ReleaseSlot(ctx context.Context, tenant string) error {
	_, clamped, err := s.store.DecrClamp(ctx, storage.SemaphoreKey(tenant))
	if err != nil {
		return err
	}
	if clamped {
		metrics.SemaphoreClamped.WithLabelValues(tenant).Inc()
		s.log.Warn("semaphore clamped at zero: release without matching reservation",
			zap.String("tenant", tenant))
	}
	return nil
}

// ActiveCount reads the semaphore value.
func (s *Store) ActiveCount(ctx context.Context, tenant string) (int64, error) {
	return s.store.GetCounter(ctx, storage.SemaphoreKey(tenant))
}

// SetActiveCount overwrites the semaphore. Reconciliation only.
func (s *Store) SetActiveCount(ctx context.Context, tenant string, n int64) error {
	return s.store.SetCounter(ctx, storage.SemaphoreKey(tenant), n)
}

// SaveJob upserts the record under the retention TTL.
func (s *Store) SaveJob(ctx context.Context, job *domain.JobRecord) error {
	job.LastUpdated = time.Now().UTC()
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "marshal job %s", job.JobID)
	}
	return s.store.PutRecord(ctx, storage.JobKey(job.TenantID, job.JobID), data, s.retention)
}

func (s *Store) GetJob(ctx context.Context, tenant, jobID string) (*domain.JobRecord, error) {
	data, err := s.store.GetRecord(ctx, storage.JobKey(tenant, jobID))
	if err == storage.ErrNotFound {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job domain.JobRecord
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.Wrapf(err, "unmarshal job %s", jobID)
	}
	return &job, nil
}

func (s *Store) GetAllJobsForTenant(ctx context.Context, tenant string) ([]*domain.JobRecord, error) {
	keys, err := s.store.ScanKeys(ctx, storage.JobKeyPrefix(tenant))
	if err != nil {
		return nil, err
	}
	jobs := make([]*domain.JobRecord, 0, len(keys))
	for _, key := range keys {
		data, err := s.store.GetRecord(ctx, key)
		if err == storage.ErrNotFound {
			// Evicted between scan and read.
			continue
		}
		if err != nil {
			return nil, err
		}
		var job domain.JobRecord
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, errors.Wrapf(err, "unmarshal record %s", key)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// UpdateStatus moves the job through its state machine. Entering running
// stamps started_at; entering a terminal status stamps completed_at and
// releases the tenant's slot exactly once. Terminal transitions are the only
// code path that releases slots.
func (s *Store) UpdateStatus(ctx context.Context, tenant, jobID string, status domain.Status) (*domain.JobRecord, error) {
	return s.transition(ctx, tenant, jobID, status, "")
}

// SetError fails the job with a message, through the same release-guaranteed
// transition path as UpdateStatus.
func (s *Store) SetError(ctx context.Context, tenant, jobID, message string) (*domain.JobRecord, error) {
	return s.transition(ctx, tenant, jobID, domain.Failed, message)
}

func (s *Store) transition(ctx context.Context, tenant, jobID string, status domain.Status, errMsg string) (*domain.JobRecord, error) {
	now := time.Now().UTC()

	job, err := s.GetJob(ctx, tenant, jobID)
	if err == domain.ErrJobNotFound {
		// The record was evicted or never written. A missing record must
		// not swallow the transition: the slot release below has to fire or
		// the slot leaks permanently. Synthesize the minimum we know.
		metrics.RecordRecreated.WithLabelValues(tenant).Inc()
		s.log.Warn("job record missing, recreating",
			zap.String("tenant", tenant),
			zap.String("job_id", jobID),
			zap.String("status", string(status)))
		job = &domain.JobRecord{
			JobID:     jobID,
			TenantID:  tenant,
			Status:    domain.Pending,
			CreatedAt: now,
		}
	} else if err != nil {
		return nil, err
	}

	if status == domain.Running && job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.Status = status
	if errMsg != "" {
		job.ErrorMessage = errMsg
	}

	if status.Terminal() {
		if job.CompletedAt == nil {
			job.CompletedAt = &now
		}
		if !job.Released {
			if err := s.ReleaseSlot(ctx, tenant); err != nil {
				return nil, err
			}
			job.Released = true
		}
	}

	if err := s.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateProgress persists the running counts so status lookups see them even
// if the progress channel drops messages.
func (s *Store) UpdateProgress(ctx context.Context, tenant, jobID string, processed, successful int) error {
	job, err := s.GetJob(ctx, tenant, jobID)
	if err != nil {
		return err
	}
	job.ProcessedCount = processed
	job.SuccessfulCount = successful
	return s.SaveJob(ctx, job)
}
