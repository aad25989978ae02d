// Package progress publishes best-effort progress reports over the store's
// pub/sub channels. Nothing here may ever affect job state: a dropped or
// failed publish is logged and forgotten.
package progress

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/you/slotq/internal/domain"
	"github.com/you/slotq/internal/storage"
)

// Update is the message published to a job's progress channel.
type Update struct {
	TenantID   string         `json:"tenant_id"`
	JobID      string         `json:"job_id"`
	Processed  int            `json:"processed"`
	Total      int            `json:"total"`
	Percentage int            `json:"percentage"`
	Status     domain.Status  `json:"status"`
	ETASeconds *int64         `json:"eta_seconds,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Broadcaster struct {
	store storage.Storage
	log   *zap.Logger
}

func New(store storage.Storage, log *zap.Logger) *Broadcaster {
	return &Broadcaster{store: store, log: log}
}

// Publish computes the percentage and, when a start time and some progress
// exist, an ETA, then publishes to the (tenant, job) channel. Failures are
// swallowed after logging.
func (b *Broadcaster) Publish(ctx context.Context, tenant, jobID string, processed, total int, status domain.Status, startedAt *time.Time, meta map[string]any) {
	upd := Update{
		TenantID:   tenant,
		JobID:      jobID,
		Processed:  processed,
		Total:      total,
		Percentage: percentage(processed, total),
		Status:     status,
		ETASeconds: eta(processed, total, startedAt),
		Timestamp:  time.Now().UTC(),
		Metadata:   meta,
	}

	payload, err := json.Marshal(upd)
	if err != nil {
		b.log.Warn("progress marshal failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if err := b.store.Publish(ctx, storage.ProgressChannel(tenant, jobID), payload); err != nil {
		b.log.Warn("progress publish failed",
			zap.String("tenant", tenant),
			zap.String("job_id", jobID),
			zap.Error(err))
	}
}

// Subscribe opens the job's progress channel. The caller owns the
// subscription and must Close it.
func (b *Broadcaster) Subscribe(ctx context.Context, tenant, jobID string) (storage.Subscription, error) {
	return b.store.Subscribe(ctx, storage.ProgressChannel(tenant, jobID))
}

func percentage(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := processed * 100 / total
	if p > 100 {
		p = 100
	}
	return p
}

func eta(processed, total int, startedAt *time.Time) *int64 {
	if processed <= 0 || total <= 0 || startedAt == nil {
		return nil
	}
	remaining := total - processed
	if remaining <= 0 {
		zero := int64(0)
		return &zero
	}
	elapsed := time.Since(*startedAt).Seconds()
	if elapsed <= 0 {
		return nil
	}
	rate := float64(processed) / elapsed
	secs := int64(float64(remaining) / rate)
	return &secs
}
