package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careloop/clinic-scheduling/internal/slot"
	"github.com/careloop/clinic-scheduling/internal/workflow"
)

func createIntakeHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateIntakeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := engine.BeginIntake()
		in, err := engine.SubmitIdentity(r.Context(), in.ID, req.Name, req.DOB, req.Email, req.Phone)
		if err != nil {
			handleWorkflowError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, intakeResponse(in))
	}
}

func getIntakeHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_intake_id", "id must be a valid UUID")
			return
		}

		in, err := engine.GetIntake(id)
		if err != nil {
			handleWorkflowError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, intakeResponse(in))
	}
}

func listDoctorsHandler(dir DoctorDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := dir.ListDoctors(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, DoctorResponse{
				ID:        d.ID,
				Name:      d.Name,
				Specialty: d.Specialty,
				Location:  d.Location,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availabilityHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		intakeID, err := uuid.Parse(r.URL.Query().Get("intake_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_intake_id", "intake_id must be a valid UUID")
			return
		}

		from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", "from must be RFC 3339")
			return
		}
		to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", "to must be RFC 3339")
			return
		}

		candidates, err := engine.Candidates(r.Context(), intakeID, doctorID, slot.Window{From: from, To: to})
		if err != nil {
			handleWorkflowError(w, err)
			return
		}

		resp := make([]CandidateResponse, 0, len(candidates))
		for _, c := range candidates {
			resp = append(resp, CandidateResponse{
				DoctorID:        c.DoctorID,
				StartTime:       c.StartTime,
				EndTime:         c.EndTime,
				DurationMinutes: c.DurationMinutes,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func reserveSlotHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReserveSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		intakeID, err := uuid.Parse(req.IntakeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_intake_id", "intake_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC 3339")
			return
		}

		appt, err := engine.ReserveSlot(r.Context(), intakeID, doctorID, start.UTC())
		if err != nil {
			handleWorkflowError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, appointmentResponse(appt))
	}
}

func getAppointmentHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := engine.GetAppointment(r.Context(), id)
		if err != nil {
			handleWorkflowError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func submitInsuranceHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apptID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req SubmitInsuranceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		intakeID, err := uuid.Parse(req.IntakeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_intake_id", "intake_id must be a valid UUID")
			return
		}

		in, err := engine.GetIntake(intakeID)
		if err != nil {
			handleWorkflowError(w, err)
			return
		}
		if in.AppointmentID == nil || *in.AppointmentID != apptID {
			writeError(w, http.StatusConflict, "intake_mismatch", "intake does not belong to this appointment")
			return
		}

		appt, err := engine.SubmitInsurance(r.Context(), intakeID, req.Carrier, req.MemberID, req.GroupID)
		if err != nil {
			handleWorkflowError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func cancelAppointmentHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}
		channel := req.Channel
		if channel == "" {
			channel = "api"
		}

		if err := engine.Cancel(r.Context(), id, channel); err != nil {
			handleWorkflowError(w, err)
			return
		}

		appt, err := engine.GetAppointment(r.Context(), id)
		if err != nil {
			handleWorkflowError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func completeAppointmentHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		if err := engine.Complete(r.Context(), id); err != nil {
			handleWorkflowError(w, err)
			return
		}

		appt, err := engine.GetAppointment(r.Context(), id)
		if err != nil {
			handleWorkflowError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func smsWebhookHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SMSWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.From == "" {
			writeError(w, http.StatusBadRequest, "missing_sender", "from is required")
			return
		}

		action, err := engine.HandleInboundSMS(r.Context(), req.From, req.Body)
		if err != nil {
			handleWorkflowError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SMSWebhookResponse{Action: action})
	}
}

func handleWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrInvalidDOB):
		writeError(w, http.StatusBadRequest, "invalid_dob", err.Error())
	case errors.Is(err, slot.ErrInvalidDuration),
		errors.Is(err, slot.ErrStartInPast),
		errors.Is(err, slot.ErrOutsideWorkHours):
		writeError(w, http.StatusBadRequest, "invalid_slot_request", err.Error())
	case errors.Is(err, workflow.ErrIntakeNotFound):
		writeError(w, http.StatusNotFound, "intake_not_found", err.Error())
	case errors.Is(err, workflow.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, slot.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, slot.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "the interval was taken, re-query availability")
	case errors.Is(err, slot.ErrHoldExpired):
		writeError(w, http.StatusConflict, "hold_expired", "the hold lapsed, select a slot again")
	case errors.Is(err, slot.ErrCalendarBusy):
		writeError(w, http.StatusConflict, "calendar_busy", "the doctor's calendar is busy, please retry shortly")
	case errors.Is(err, workflow.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, workflow.ErrInsuranceRejected):
		writeError(w, http.StatusUnprocessableEntity, "insurance_rejected", err.Error())
	case errors.Is(err, workflow.ErrAppointmentNotStarted):
		writeError(w, http.StatusConflict, "not_started", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func intakeResponse(in *workflow.Intake) IntakeResponse {
	return IntakeResponse{
		ID:              in.ID,
		Status:          string(in.Status),
		NewPatient:      in.NewPatient,
		DurationMinutes: in.DurationMinutes,
		InsuranceOnFile: in.InsuranceOnFile,
		AppointmentID:   in.AppointmentID,
	}
}

func appointmentResponse(a *workflow.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		StartTime:       a.StartTime,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		CancelChannel:   a.CancelChannel,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
