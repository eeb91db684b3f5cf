package slot

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	// StatusHeld is the short-lived reservation state used during the
	// confirmation handshake. A hold resolves to booked or released within
	// the hold TTL.
	StatusHeld Status = "held"
	// StatusBooked is a confirmed reservation.
	StatusBooked Status = "booked"
	// StatusReleased marks a freed interval. Rows are kept for audit;
	// released intervals are open time again.
	StatusReleased Status = "released"
)

// Doctor describes a doctor's daily working hours. Times are minutes from
// midnight UTC; the clinic runs a single location and timezone.
type Doctor struct {
	ID            uuid.UUID
	Name          string
	Specialty     string
	Location      string
	WorkStartMin  int
	WorkEndMin    int
	LunchStartMin int
	LunchEndMin   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Slot is a reserved interval on a doctor's calendar. Open time is the
// complement of live (held or booked) intervals within working hours and is
// never materialized as rows.
type Slot struct {
	ID            uuid.UUID
	DoctorID      uuid.UUID
	StartTime     time.Time
	EndTime       time.Time
	Status        Status
	HoldToken     *uuid.UUID
	HoldExpiresAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Candidate is an open interval produced by availability search.
type Candidate struct {
	DoctorID        uuid.UUID
	StartTime       time.Time
	EndTime         time.Time
	DurationMinutes int
}

// Hold is the token handed to a caller after a successful reservation. The
// caller confirms or abandons it before ExpiresAt.
type Hold struct {
	SlotID    uuid.UUID
	DoctorID  uuid.UUID
	Token     uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	ExpiresAt time.Time
}

// Window bounds an availability search, [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// overlaps reports whether [start, end) intersects the slot's interval.
func (s *Slot) overlaps(start, end time.Time) bool {
	return start.Before(s.EndTime) && end.After(s.StartTime)
}
