package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job record does not exist for the
	// requested (tenant, job id) pair.
	ErrJobNotFound = errors.New("job not found")

	// ErrLockTimeout is returned when a lock could not be acquired within
	// the caller's timeout. Retryable.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

// AdmissionRejectedError is returned when a tenant is at its concurrency
// limit. It is expected under load; callers use Limit to implement backoff.
type AdmissionRejectedError struct {
	TenantID string
	Limit    int
}

func (e *AdmissionRejectedError) Error() string {
	return fmt.Sprintf("tenant %s is at its concurrency limit of %d", e.TenantID, e.Limit)
}
