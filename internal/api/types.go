package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateIntakeRequest struct {
	Name  string `json:"name"`
	DOB   string `json:"dob"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type IntakeResponse struct {
	ID              uuid.UUID  `json:"id"`
	Status          string     `json:"status"`
	NewPatient      bool       `json:"new_patient"`
	DurationMinutes int        `json:"duration_minutes"`
	InsuranceOnFile bool       `json:"insurance_on_file"`
	AppointmentID   *uuid.UUID `json:"appointment_id,omitempty"`
}

type ReserveSlotRequest struct {
	IntakeID  string `json:"intake_id"`
	DoctorID  string `json:"doctor_id"`
	StartTime string `json:"start_time"`
}

type SubmitInsuranceRequest struct {
	IntakeID string `json:"intake_id"`
	Carrier  string `json:"carrier"`
	MemberID string `json:"member_id"`
	GroupID  string `json:"group_id,omitempty"`
}

type CancelRequest struct {
	Channel string `json:"channel,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	CancelChannel   *string   `json:"cancel_channel,omitempty"`
}

type DoctorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty string    `json:"specialty"`
	Location  string    `json:"location"`
}

type CandidateResponse struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

type SMSWebhookRequest struct {
	From string `json:"from"`
	Body string `json:"body"`
}

type SMSWebhookResponse struct {
	Action string `json:"action"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
