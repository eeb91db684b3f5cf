package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careloop/clinic-scheduling/internal/insurance"
	"github.com/careloop/clinic-scheduling/internal/notify"
	"github.com/careloop/clinic-scheduling/internal/observability/metrics"
	"github.com/careloop/clinic-scheduling/internal/patient"
	"github.com/careloop/clinic-scheduling/internal/reminder"
	"github.com/careloop/clinic-scheduling/internal/slot"
)

var ErrAppointmentNotStarted = errors.New("appointment has not started yet")

// dobLayout is the accepted date-of-birth format, MM/DD/YYYY.
const dobLayout = "01/02/2006"

// SlotService is the calendar capability the engine depends on.
type SlotService interface {
	GetDoctor(ctx context.Context, doctorID uuid.UUID) (*slot.Doctor, error)
	FindAvailable(ctx context.Context, doctorID uuid.UUID, durationMinutes int, w slot.Window) ([]slot.Candidate, error)
	Hold(ctx context.Context, doctorID uuid.UUID, start time.Time, durationMinutes int) (*slot.Hold, error)
	Confirm(ctx context.Context, token uuid.UUID) (*slot.Slot, error)
}

// ReminderService schedules the reminder sequence at booking time.
// Cancellation does not go through it; CancelTx updates reminder rows in the
// same transaction as the appointment and slot.
type ReminderService interface {
	ScheduleAll(ctx context.Context, in reminder.ScheduleInput) ([]reminder.Job, error)
}

// Engine drives the appointment state machine. Pre-reservation states live in
// in-memory intake sessions; from held onward the appointment row is durable
// and every transition is a compare-and-set.
type Engine struct {
	repo      Repository
	slots     SlotService
	reminders ReminderService
	verifier  insurance.Verifier
	ledger    patient.Ledger
	notifier  notify.Notifier
	logger    *zap.Logger
	nowFn     func() time.Time

	mu      sync.Mutex
	intakes map[uuid.UUID]*Intake
}

func NewEngine(
	repo Repository,
	slots SlotService,
	reminders ReminderService,
	verifier insurance.Verifier,
	ledger patient.Ledger,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		repo:      repo,
		slots:     slots,
		reminders: reminders,
		verifier:  verifier,
		ledger:    ledger,
		notifier:  notifier,
		logger:    logger,
		nowFn:     func() time.Time { return time.Now().UTC() },
		intakes:   make(map[uuid.UUID]*Intake),
	}
}

// BeginIntake opens a new booking session.
func (e *Engine) BeginIntake() *Intake {
	in := &Intake{
		ID:        uuid.New(),
		Status:    StatusCollectingInfo,
		CreatedAt: e.nowFn(),
	}

	e.mu.Lock()
	e.intakes[in.ID] = in
	e.mu.Unlock()

	return in
}

func (e *Engine) GetIntake(id uuid.UUID) (*Intake, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.intakes[id]
	if !ok {
		return nil, ErrIntakeNotFound
	}
	return in, nil
}

// SubmitIdentity validates the patient's name and date of birth, classifies
// new vs returning by exact match on normalized name + DOB, and fixes the
// appointment duration: 60 minutes for new patients, 30 for returning.
func (e *Engine) SubmitIdentity(ctx context.Context, intakeID uuid.UUID, name, dob, email, phone string) (*Intake, error) {
	in, err := e.GetIntake(intakeID)
	if err != nil {
		return nil, err
	}
	if in.Status != StatusCollectingInfo {
		return nil, fmt.Errorf("intake is %s: %w", in.Status, ErrInvalidTransition)
	}

	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("name is required: %w", ErrInvalidDOB)
	}
	born, err := time.ParseInLocation(dobLayout, dob, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", dob, ErrInvalidDOB)
	}
	if born.After(e.nowFn()) {
		return nil, fmt.Errorf("date of birth %q is in the future: %w", dob, ErrInvalidDOB)
	}

	in.Status = StatusLookingUpPatient

	p, err := e.ledger.LookupPatient(ctx, patient.NormalizeName(name), born)
	switch {
	case err == nil:
		// Returning patient. Refresh contact details if supplied.
		if email != "" {
			p.Email = email
		}
		if phone != "" {
			p.Phone = phone
		}
		if err := e.ledger.UpsertPatient(ctx, p); err != nil {
			return nil, fmt.Errorf("update patient: %w", err)
		}
		in.NewPatient = false
		in.DurationMinutes = DurationReturningPatient
		in.InsuranceOnFile = p.InsuranceVerified
	case errors.Is(err, patient.ErrPatientNotFound):
		p = &patient.Patient{
			Name:  strings.TrimSpace(name),
			DOB:   born,
			Email: email,
			Phone: phone,
		}
		if err := e.ledger.UpsertPatient(ctx, p); err != nil {
			return nil, fmt.Errorf("create patient: %w", err)
		}
		in.NewPatient = true
		in.DurationMinutes = DurationNewPatient
	default:
		return nil, fmt.Errorf("lookup patient: %w", err)
	}

	in.PatientID = p.ID
	in.PatientName = p.Name
	in.PatientEmail = p.Email
	in.PatientPhone = patient.NormalizePhone(p.Phone)
	in.DOB = born
	in.Status = StatusSelectingSlot

	e.logger.Info("patient classified",
		zap.String("intake_id", in.ID.String()),
		zap.Bool("new_patient", in.NewPatient),
		zap.Int("duration_min", in.DurationMinutes))

	return in, nil
}

// Candidates lists open intervals of the session's fixed duration.
func (e *Engine) Candidates(ctx context.Context, intakeID, doctorID uuid.UUID, w slot.Window) ([]slot.Candidate, error) {
	in, err := e.GetIntake(intakeID)
	if err != nil {
		return nil, err
	}
	if in.Status != StatusSelectingSlot {
		return nil, fmt.Errorf("intake is %s: %w", in.Status, ErrInvalidTransition)
	}

	return e.slots.FindAvailable(ctx, doctorID, in.DurationMinutes, w)
}

// ReserveSlot holds the chosen interval and creates the durable appointment.
// Returning patients with verified insurance on file are confirmed in the
// same call; everyone else proceeds to insurance collection. A SlotConflict
// propagates to the caller, who re-queries and re-selects.
func (e *Engine) ReserveSlot(ctx context.Context, intakeID, doctorID uuid.UUID, start time.Time) (*Appointment, error) {
	in, err := e.GetIntake(intakeID)
	if err != nil {
		return nil, err
	}
	if in.Status != StatusSelectingSlot {
		return nil, fmt.Errorf("intake is %s: %w", in.Status, ErrInvalidTransition)
	}

	hold, err := e.slots.Hold(ctx, doctorID, start, in.DurationMinutes)
	if err != nil {
		if errors.Is(err, slot.ErrSlotConflict) {
			metrics.SlotConflicts.Inc()
		}
		return nil, err
	}

	var appt *Appointment
	if in.AppointmentID != nil {
		// Re-selection after an expired hold; reuse the existing row.
		if err := e.repo.Rehold(ctx, *in.AppointmentID, hold.SlotID, hold.Token, start); err != nil {
			return nil, err
		}
		appt, err = e.repo.GetAppointment(ctx, *in.AppointmentID)
		if err != nil {
			return nil, err
		}
	} else {
		token := hold.Token
		appt = &Appointment{
			ID:              uuid.New(),
			PatientID:       in.PatientID,
			DoctorID:        doctorID,
			SlotID:          hold.SlotID,
			HoldToken:       &token,
			StartTime:       start,
			DurationMinutes: in.DurationMinutes,
			Status:          StatusHeld,
		}
		if err := e.repo.CreateAppointment(ctx, appt); err != nil {
			return nil, err
		}
		id := appt.ID
		in.AppointmentID = &id
	}

	in.Status = StatusHeld
	e.audit(ctx, patient.RecordAppointmentHeld, &appt.ID, map[string]any{
		"doctor_id":    doctorID.String(),
		"start_time":   start.Format(time.RFC3339),
		"duration_min": in.DurationMinutes,
	})

	if !in.NewPatient && in.InsuranceOnFile {
		return e.finalize(ctx, in, appt, StatusHeld)
	}

	if err := e.repo.UpdateStatus(ctx, appt.ID, StatusHeld, StatusCollectingInsurance); err != nil {
		return nil, err
	}
	appt.Status = StatusCollectingInsurance
	in.Status = StatusCollectingInsurance

	return appt, nil
}

// SubmitInsurance verifies the patient's coverage and, on success, confirms
// the booking. A rejection leaves the session in collecting_insurance for
// another attempt. A hold that expired during verification rolls the whole
// appointment back to slot selection.
func (e *Engine) SubmitInsurance(ctx context.Context, intakeID uuid.UUID, carrierInput, memberID, groupID string) (*Appointment, error) {
	in, err := e.GetIntake(intakeID)
	if err != nil {
		return nil, err
	}
	if in.Status != StatusCollectingInsurance || in.AppointmentID == nil {
		return nil, fmt.Errorf("intake is %s: %w", in.Status, ErrInvalidTransition)
	}

	appt, err := e.repo.GetAppointment(ctx, *in.AppointmentID)
	if err != nil {
		return nil, err
	}

	carrier, ok := insurance.Normalize(carrierInput)
	if !ok {
		return nil, fmt.Errorf("unrecognized carrier %q: %w", carrierInput, ErrInsuranceRejected)
	}

	res := e.verifier.Verify(carrier, memberID, groupID)
	if !res.Verified {
		e.audit(ctx, patient.RecordInsuranceRejected, &appt.ID, map[string]any{
			"carrier": string(carrier),
			"reason":  res.Reason,
		})
		return nil, fmt.Errorf("%s: %w", res.Reason, ErrInsuranceRejected)
	}

	var group *string
	if groupID != "" {
		group = &groupID
	}
	if err := e.repo.SetInsurance(ctx, appt.ID, string(carrier), memberID, group); err != nil {
		return nil, err
	}

	p, err := e.ledger.GetPatient(ctx, in.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	carrierStr := string(carrier)
	p.InsuranceCarrier = &carrierStr
	p.InsuranceMemberID = &memberID
	p.InsuranceGroupID = group
	p.InsuranceVerified = true
	if err := e.ledger.UpsertPatient(ctx, p); err != nil {
		return nil, fmt.Errorf("save patient insurance: %w", err)
	}

	return e.finalize(ctx, in, appt, StatusCollectingInsurance)
}

// finalize books the held slot, schedules reminders, and sends the booking
// confirmation. On HoldExpired the appointment rolls back to selecting_slot
// and the caller must re-select.
func (e *Engine) finalize(ctx context.Context, in *Intake, appt *Appointment, from Status) (*Appointment, error) {
	if appt.HoldToken == nil {
		return nil, fmt.Errorf("appointment %s has no hold: %w", appt.ID, ErrInvalidTransition)
	}

	_, err := e.slots.Confirm(ctx, *appt.HoldToken)
	if err != nil {
		if errors.Is(err, slot.ErrHoldExpired) || errors.Is(err, slot.ErrHoldNotFound) {
			metrics.HoldsExpired.Inc()
			if casErr := e.repo.UpdateStatus(ctx, appt.ID, from, StatusSelectingSlot); casErr != nil {
				return nil, casErr
			}
			appt.Status = StatusSelectingSlot
			in.Status = StatusSelectingSlot
			e.audit(ctx, patient.RecordHoldExpired, &appt.ID, nil)
			return nil, slot.ErrHoldExpired
		}
		return nil, err
	}

	if err := e.repo.UpdateStatus(ctx, appt.ID, from, StatusConfirmed); err != nil {
		return nil, err
	}
	appt.Status = StatusConfirmed
	e.audit(ctx, patient.RecordAppointmentConfirmed, &appt.ID, nil)

	doctor, err := e.slots.GetDoctor(ctx, appt.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	_, err = e.reminders.ScheduleAll(ctx, reminder.ScheduleInput{
		AppointmentID: appt.ID,
		PatientName:   in.PatientName,
		PatientEmail:  in.PatientEmail,
		PatientPhone:  in.PatientPhone,
		DoctorName:    doctor.Name,
		Location:      doctor.Location,
		AppointmentAt: appt.StartTime,
	})
	if err != nil {
		return nil, fmt.Errorf("schedule reminders: %w", err)
	}

	if err := e.repo.UpdateStatus(ctx, appt.ID, StatusConfirmed, StatusRemindersScheduled); err != nil {
		return nil, err
	}
	appt.Status = StatusRemindersScheduled
	metrics.BookingsConfirmed.Inc()

	e.sendBookingConfirmation(ctx, in, appt, doctor)

	in.Status = StatusRemindersScheduled
	e.dropIntake(in.ID)

	e.logger.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("doctor", doctor.Name),
		zap.Time("start", appt.StartTime),
		zap.Int("duration_min", appt.DurationMinutes))

	return appt, nil
}

// sendBookingConfirmation notifies on both channels. Delivery failures are
// recorded for follow-up; they never unwind a completed booking.
func (e *Engine) sendBookingConfirmation(ctx context.Context, in *Intake, appt *Appointment, doctor *slot.Doctor) {
	params := messageParams(in.PatientName, doctor, appt)

	if in.PatientEmail != "" {
		_, err := e.notifier.Send(ctx, notify.Message{
			Channel:       notify.ChannelEmail,
			Recipient:     in.PatientEmail,
			RecipientName: in.PatientName,
			Template:      notify.TemplateBookingConfirmation,
			Params:        params,
		})
		if err != nil {
			e.logger.Error("booking confirmation email failed",
				zap.String("appointment_id", appt.ID.String()), zap.Error(err))
		}
	}
	if in.PatientPhone != "" {
		_, err := e.notifier.Send(ctx, notify.Message{
			Channel:   notify.ChannelSMS,
			Recipient: in.PatientPhone,
			Template:  notify.TemplateBookingConfirmation,
			Params:    params,
		})
		if err != nil {
			e.logger.Error("booking confirmation sms failed",
				zap.String("appointment_id", appt.ID.String()), zap.Error(err))
		}
	}
}

// Cancel transitions the appointment to cancelled, releases its slot, and
// cancels pending reminders, all in one transaction. Idempotent; cancelling
// an already-terminal appointment is a no-op.
func (e *Engine) Cancel(ctx context.Context, appointmentID uuid.UUID, channel string) error {
	res, err := e.repo.CancelTx(ctx, appointmentID, channel)
	if err != nil {
		return err
	}
	if !res.Cancelled {
		return nil
	}

	metrics.Cancellations.WithLabelValues(channel).Inc()
	e.audit(ctx, patient.RecordAppointmentCancelled, &appointmentID, map[string]any{
		"channel":             channel,
		"reminders_cancelled": res.RemindersCancelled,
	})

	e.logger.Info("appointment cancelled",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("channel", channel),
		zap.Int64("reminders_cancelled", res.RemindersCancelled))

	e.sendCancellationNotice(ctx, appointmentID)
	return nil
}

func (e *Engine) sendCancellationNotice(ctx context.Context, appointmentID uuid.UUID) {
	appt, err := e.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		e.logger.Warn("cancellation notice skipped", zap.Error(err))
		return
	}
	p, err := e.ledger.GetPatient(ctx, appt.PatientID)
	if err != nil {
		e.logger.Warn("cancellation notice skipped", zap.Error(err))
		return
	}
	doctor, err := e.slots.GetDoctor(ctx, appt.DoctorID)
	if err != nil {
		e.logger.Warn("cancellation notice skipped", zap.Error(err))
		return
	}

	params := messageParams(p.Name, doctor, appt)
	if p.Email != "" {
		_, err := e.notifier.Send(ctx, notify.Message{
			Channel:       notify.ChannelEmail,
			Recipient:     p.Email,
			RecipientName: p.Name,
			Template:      notify.TemplateCancellation,
			Params:        params,
		})
		if err != nil {
			e.logger.Warn("cancellation email failed", zap.Error(err))
		}
	}
	if p.Phone != "" {
		_, err := e.notifier.Send(ctx, notify.Message{
			Channel:   notify.ChannelSMS,
			Recipient: p.Phone,
			Template:  notify.TemplateCancellation,
			Params:    params,
		})
		if err != nil {
			e.logger.Warn("cancellation sms failed", zap.Error(err))
		}
	}
}

// Reply actions recognized in inbound SMS.
const (
	ReplyActionCancelled = "cancelled"
	ReplyActionConfirmed = "confirmed"
	ReplyActionIgnored   = "ignored"
)

// HandleInboundSMS interprets a patient's reply. CANCEL cancels the sender's
// next active appointment; CONFIRM is acknowledged on the audit trail. The
// returned action tells the webhook layer what happened.
func (e *Engine) HandleInboundSMS(ctx context.Context, fromPhone, body string) (string, error) {
	phone := patient.NormalizePhone(fromPhone)
	keyword := strings.ToUpper(strings.TrimSpace(body))

	appt, err := e.repo.FindActiveByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			e.audit(ctx, patient.RecordInboundReply, nil, map[string]any{
				"phone": phone,
				"body":  keyword,
			})
			return ReplyActionIgnored, nil
		}
		return "", err
	}

	e.audit(ctx, patient.RecordInboundReply, &appt.ID, map[string]any{
		"phone": phone,
		"body":  keyword,
	})

	switch {
	case strings.Contains(keyword, "CANCEL"):
		if err := e.Cancel(ctx, appt.ID, "sms"); err != nil {
			return "", err
		}
		return ReplyActionCancelled, nil
	case strings.Contains(keyword, "CONFIRM") || keyword == "YES":
		return ReplyActionConfirmed, nil
	default:
		return ReplyActionIgnored, nil
	}
}

// Complete marks the appointment done after its start time has passed and
// counts the visit, flipping a new patient to returning.
func (e *Engine) Complete(ctx context.Context, appointmentID uuid.UUID) error {
	appt, err := e.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt.Status == StatusCompleted {
		return nil
	}
	if e.nowFn().Before(appt.StartTime) {
		return ErrAppointmentNotStarted
	}

	if err := e.repo.UpdateStatus(ctx, appointmentID, StatusRemindersScheduled, StatusCompleted); err != nil {
		return err
	}

	if err := e.ledger.RecordVisit(ctx, appt.PatientID); err != nil {
		e.logger.Warn("visit count not recorded",
			zap.String("patient_id", appt.PatientID.String()), zap.Error(err))
	}
	e.audit(ctx, patient.RecordAppointmentCompleted, &appointmentID, nil)

	return nil
}

func (e *Engine) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return e.repo.GetAppointment(ctx, id)
}

func (e *Engine) dropIntake(id uuid.UUID) {
	e.mu.Lock()
	delete(e.intakes, id)
	e.mu.Unlock()
}

// audit appends to the trail; the trail is best-effort and never fails the
// operation it records.
func (e *Engine) audit(ctx context.Context, kind string, appointmentID *uuid.UUID, payload map[string]any) {
	if err := e.ledger.AppendRecord(ctx, kind, appointmentID, payload); err != nil {
		e.logger.Warn("audit append failed", zap.String("kind", kind), zap.Error(err))
	}
}

func messageParams(patientName string, doctor *slot.Doctor, appt *Appointment) map[string]string {
	return map[string]string{
		"patient_name": patientName,
		"doctor_name":  doctor.Name,
		"location":     doctor.Location,
		"date":         appt.StartTime.Format("Monday, January 2, 2006"),
		"time":         appt.StartTime.Format("3:04 PM"),
		"duration":     fmt.Sprintf("%d minutes", appt.DurationMinutes),
	}
}
