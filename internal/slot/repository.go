package slot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound   = errors.New("doctor not found")
	ErrSlotNotFound     = errors.New("slot not found")
	ErrHoldNotFound     = errors.New("hold not found")
	ErrSlotConflict     = errors.New("interval overlaps a held or booked slot")
	ErrHoldExpired      = errors.New("hold has expired, re-run slot selection")
	ErrCalendarBusy     = errors.New("doctor calendar is busy, please retry")
	ErrInvalidDuration  = errors.New("appointment duration must be 30 or 60 minutes")
	ErrStartInPast      = errors.New("slot start time is in the past")
	ErrOutsideWorkHours = errors.New("interval falls outside the doctor's working hours")
)

// Repository contains all DB interactions needed by the store.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)

	// ListLiveIntervals returns booked slots and unexpired holds for a doctor
	// intersecting [from, to), ordered by start time.
	ListLiveIntervals(ctx context.Context, doctorID uuid.UUID, from, to, now time.Time) ([]Slot, error)

	InsertHeldSlot(ctx context.Context, s *Slot) error

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	GetSlotByToken(ctx context.Context, token uuid.UUID) (*Slot, error)

	// ConfirmByToken transitions held to booked iff the token matches and the
	// hold has not expired at now. Returns ErrHoldNotFound when no row
	// qualifies.
	ConfirmByToken(ctx context.Context, token uuid.UUID, now time.Time) (*Slot, error)

	// ReleaseSlot transitions held or booked to released. Idempotent.
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) error

	// ReleaseExpiredHolds flips lapsed holds to released, returning the count.
	ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error)
}
