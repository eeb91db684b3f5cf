package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
)

// Audit record kinds appended by the workflow.
const (
	RecordAppointmentHeld      = "APPOINTMENT_HELD"
	RecordAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	RecordAppointmentCancelled = "APPOINTMENT_CANCELLED"
	RecordAppointmentCompleted = "APPOINTMENT_COMPLETED"
	RecordHoldExpired          = "HOLD_EXPIRED"
	RecordInsuranceRejected    = "INSURANCE_REJECTED"
	RecordReminderFailed       = "REMINDER_FAILED"
	RecordInboundReply         = "INBOUND_REPLY"
)

// Ledger is the persistence capability for patient records and the audit
// trail. The workflow engine depends on this contract, not on Postgres.
type Ledger interface {
	// LookupPatient finds a patient by normalized name and date of birth.
	// Returns ErrPatientNotFound when there is no exact match.
	LookupPatient(ctx context.Context, normalizedName string, dob time.Time) (*Patient, error)

	// LookupPatientByPhone finds a patient by normalized phone number.
	LookupPatientByPhone(ctx context.Context, phone string) (*Patient, error)

	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)

	// UpsertPatient inserts the patient or updates the existing record.
	UpsertPatient(ctx context.Context, p *Patient) error

	// RecordVisit increments the patient's visit count after a completed
	// appointment, flipping a new patient to returning.
	RecordVisit(ctx context.Context, id uuid.UUID) error

	// AppendRecord appends an audit entry. Entries are never updated or
	// deleted.
	AppendRecord(ctx context.Context, kind string, appointmentID *uuid.UUID, payload map[string]any) error
}
