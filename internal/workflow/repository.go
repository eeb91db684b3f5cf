package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrIntakeNotFound      = errors.New("intake session not found")
	ErrInvalidDOB          = errors.New("invalid date of birth")
	ErrInsuranceRejected   = errors.New("insurance verification rejected")
)

// CancelResult reports what a cancellation transaction touched.
type CancelResult struct {
	// Cancelled is false when the appointment was already terminal.
	Cancelled          bool
	RemindersCancelled int64
}

// Repository contains all DB interactions for appointments.
type Repository interface {
	CreateAppointment(ctx context.Context, a *Appointment) error

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// FindActiveByPhone returns the patient's earliest non-terminal
	// appointment, for attributing inbound replies.
	FindActiveByPhone(ctx context.Context, phone string) (*Appointment, error)

	// UpdateStatus transitions from -> to with a compare-and-set. Returns
	// ErrInvalidTransition when the row is no longer in the from state.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error

	SetInsurance(ctx context.Context, id uuid.UUID, carrier, memberID string, groupID *string) error

	// Rehold points the appointment at a fresh slot hold after an expired
	// confirmation attempt, moving selecting_slot -> held again.
	Rehold(ctx context.Context, id uuid.UUID, slotID, holdToken uuid.UUID, start time.Time) error

	// CancelTx atomically cancels the appointment, releases its slot, and
	// cancels its pending reminder jobs in one transaction. Idempotent:
	// an already-terminal appointment yields Cancelled=false and no writes.
	CancelTx(ctx context.Context, id uuid.UUID, channel string) (CancelResult, error)
}
