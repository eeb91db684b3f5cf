package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is the durable booking record. Created when a slot hold
// succeeds, never deleted; cancellation is a status change.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	SlotID          uuid.UUID
	HoldToken       *uuid.UUID
	StartTime       time.Time
	DurationMinutes int
	Status          Status

	InsuranceCarrier  *string
	InsuranceMemberID *string
	InsuranceGroupID  *string

	// CancelChannel records how a cancellation arrived: "api", "sms".
	CancelChannel *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Intake is an in-memory booking session covering the states before a slot
// is reserved. It is not persisted; an abandoned intake simply ages out.
type Intake struct {
	ID     uuid.UUID
	Status Status

	PatientID    uuid.UUID
	PatientName  string
	PatientEmail string
	PatientPhone string
	DOB          time.Time

	// NewPatient fixes the appointment duration: 60 minutes for new
	// patients, 30 for returning.
	NewPatient      bool
	DurationMinutes int

	// InsuranceOnFile is true when the patient already has a verified
	// insurance record, allowing the collection stage to be skipped.
	InsuranceOnFile bool

	AppointmentID *uuid.UUID
	CreatedAt     time.Time
}

const (
	DurationNewPatient       = 60
	DurationReturningPatient = 30
)
