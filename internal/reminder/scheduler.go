package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ScheduleInput carries everything needed to build the reminder sequence for
// one confirmed appointment.
type ScheduleInput struct {
	AppointmentID uuid.UUID
	PatientName   string
	PatientEmail  string
	PatientPhone  string
	DoctorName    string
	Location      string
	AppointmentAt time.Time
}

// Scheduler creates and cancels reminder sequences. Firing is the
// Dispatcher's job.
type Scheduler struct {
	store  Store
	logger *zap.Logger
	nowFn  func() time.Time
}

func NewScheduler(store Store, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		logger: logger,
		nowFn:  time.Now,
	}
}

// ScheduleAll creates the three-stage sequence for an appointment: R1 due
// immediately, R2 a day before the start, R3 two hours before. A stage whose
// fire time is already past is recorded as failed rather than fired
// retroactively. Returns ErrPastDueSchedule when the appointment start itself
// is not in the future.
func (s *Scheduler) ScheduleAll(ctx context.Context, in ScheduleInput) ([]Job, error) {
	now := s.nowFn().UTC()
	if !in.AppointmentAt.After(now) {
		return nil, fmt.Errorf("appointment %s starts at %s: %w",
			in.AppointmentID, in.AppointmentAt.Format(time.RFC3339), ErrPastDueSchedule)
	}

	jobs := []Job{
		s.buildJob(in, StageR1, now, now),
		s.buildJob(in, StageR2, in.AppointmentAt.Add(-R2Lead), now),
		s.buildJob(in, StageR3, in.AppointmentAt.Add(-R3Lead), now),
	}

	if err := s.store.CreateJobs(ctx, jobs); err != nil {
		return nil, fmt.Errorf("schedule reminders for appointment %s: %w", in.AppointmentID, err)
	}

	for _, j := range jobs {
		if j.Status == StatusFailed {
			s.logger.Warn("reminder stage skipped, fire time already past",
				zap.String("appointment_id", in.AppointmentID.String()),
				zap.String("stage", string(j.Stage)),
				zap.Time("fire_at", j.FireAt))
		}
	}

	s.logger.Info("reminder sequence scheduled",
		zap.String("appointment_id", in.AppointmentID.String()),
		zap.Time("appointment_at", in.AppointmentAt))

	return jobs, nil
}

func (s *Scheduler) buildJob(in ScheduleInput, stage Stage, fireAt, now time.Time) Job {
	j := Job{
		ID:            uuid.New(),
		AppointmentID: in.AppointmentID,
		Stage:         stage,
		FireAt:        fireAt,
		Status:        StatusPending,
		PatientName:   in.PatientName,
		PatientEmail:  in.PatientEmail,
		PatientPhone:  in.PatientPhone,
		DoctorName:    in.DoctorName,
		Location:      in.Location,
		AppointmentAt: in.AppointmentAt,
	}

	// R1 fires at scheduling time so "before now" only applies to the
	// lead-time stages.
	if stage != StageR1 && fireAt.Before(now) {
		reason := "fire time already past at scheduling"
		j.Status = StatusFailed
		j.LastError = &reason
	}

	return j
}

// CancelAll cancels every pending reminder for the appointment. Fired and
// failed jobs are left untouched; calling again is a no-op.
func (s *Scheduler) CancelAll(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	n, err := s.store.CancelPending(ctx, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("cancel reminders for appointment %s: %w", appointmentID, err)
	}

	if n > 0 {
		s.logger.Info("pending reminders cancelled",
			zap.String("appointment_id", appointmentID.String()),
			zap.Int64("count", n))
	}

	return n, nil
}
