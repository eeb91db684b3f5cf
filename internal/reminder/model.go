package reminder

import (
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	// StageR1 is the informational confirmation with intake forms, sent at
	// booking time.
	StageR1 Stage = "r1"
	// StageR2 is the forms check, one day before the appointment.
	StageR2 Stage = "r2"
	// StageR3 is the confirm-or-cancel touchpoint, two hours before.
	StageR3 Stage = "r3"
)

// Stage lead times relative to the appointment start.
const (
	R2Lead = 24 * time.Hour
	R3Lead = 2 * time.Hour
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusFired     Status = "fired"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Job is one scheduled reminder. Identity is (appointment, stage); exactly
// three jobs exist per appointment. Patient and appointment details are
// denormalized onto the job so the dispatcher renders messages without
// joining back through the workflow.
type Job struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Stage         Stage
	FireAt        time.Time
	Status        Status

	PatientName   string
	PatientEmail  string
	PatientPhone  string
	DoctorName    string
	Location      string
	AppointmentAt time.Time

	FiredAt   *time.Time
	LastError *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
