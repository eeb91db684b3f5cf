package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound = errors.New("reminder job not found")

	// ErrPastDueSchedule reports that a stage's computed fire time was
	// already in the past at scheduling. The stage is recorded as failed,
	// never fired retroactively.
	ErrPastDueSchedule = errors.New("reminder fire time already past at scheduling")
)

// Store contains all DB interactions needed by the scheduler and dispatcher.
// Status transitions are compare-and-set so a concurrent fire and cancel on
// the same job resolve to exactly one outcome.
type Store interface {
	// CreateJobs persists a batch of jobs atomically.
	CreateJobs(ctx context.Context, jobs []Job) error

	// ListDue returns pending jobs with fire_at <= asOf, oldest first.
	ListDue(ctx context.Context, asOf time.Time) ([]Job, error)

	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Job, error)

	// ClaimFired transitions pending -> fired. Returns false when the job
	// was no longer pending (cancelled, failed, or already claimed).
	ClaimFired(ctx context.Context, id uuid.UUID, firedAt time.Time) (bool, error)

	// DemoteFailed transitions fired -> failed, recording the delivery error.
	DemoteFailed(ctx context.Context, id uuid.UUID, reason string) error

	// CancelPending transitions every pending job of the appointment to
	// cancelled, returning the count. Idempotent.
	CancelPending(ctx context.Context, appointmentID uuid.UUID) (int64, error)

	// FailStalePending transitions pending jobs with fire_at <= cutoff to
	// failed, returning the count. Used by restart recovery.
	FailStalePending(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}
