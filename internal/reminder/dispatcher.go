package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/clinic-scheduling/internal/notify"
	"github.com/careloop/clinic-scheduling/internal/observability/metrics"
)

// Dispatcher delivers due reminder jobs. Each job is claimed with a
// compare-and-set before any send, so a cancellation racing the fire path
// resolves to exactly one outcome: a job observed cancelled is never sent.
type Dispatcher struct {
	store    Store
	notifier notify.Notifier
	logger   *zap.Logger
	nowFn    func() time.Time
}

func NewDispatcher(store Store, notifier notify.Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// DispatchDue fires every pending job whose fire time has arrived. Returns
// the number of jobs delivered. Delivery failures demote the job to failed
// and are counted, not returned; only store errors abort the pass.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	now := d.nowFn().UTC()

	due, err := d.store.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	var delivered int
	for _, job := range due {
		claimed, err := d.store.ClaimFired(ctx, job.ID, now)
		if err != nil {
			return delivered, fmt.Errorf("claim reminder %s: %w", job.ID, err)
		}
		if !claimed {
			// Lost the race to a cancellation or another worker.
			continue
		}

		if err := d.deliver(ctx, job); err != nil {
			metrics.RemindersFailed.WithLabelValues(string(job.Stage)).Inc()
			d.logger.Error("reminder delivery failed",
				zap.String("job_id", job.ID.String()),
				zap.String("appointment_id", job.AppointmentID.String()),
				zap.String("stage", string(job.Stage)),
				zap.Error(err))
			if demoteErr := d.store.DemoteFailed(ctx, job.ID, err.Error()); demoteErr != nil {
				return delivered, fmt.Errorf("demote reminder %s: %w", job.ID, demoteErr)
			}
			continue
		}

		metrics.RemindersFired.WithLabelValues(string(job.Stage)).Inc()
		delivered++
		d.logger.Info("reminder fired",
			zap.String("job_id", job.ID.String()),
			zap.String("appointment_id", job.AppointmentID.String()),
			zap.String("stage", string(job.Stage)))
	}

	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) error {
	template := notify.StageTemplate(string(job.Stage))
	if template == "" {
		return fmt.Errorf("no template for stage %q", job.Stage)
	}

	params := map[string]string{
		"patient_name": job.PatientName,
		"doctor_name":  job.DoctorName,
		"location":     job.Location,
		"date":         job.AppointmentAt.Format("Monday, January 2, 2006"),
		"time":         job.AppointmentAt.Format("3:04 PM"),
	}

	var errs []string
	if job.PatientEmail != "" {
		_, err := d.notifier.Send(ctx, notify.Message{
			Channel:       notify.ChannelEmail,
			Recipient:     job.PatientEmail,
			RecipientName: job.PatientName,
			Template:      template,
			Params:        params,
		})
		if err != nil {
			errs = append(errs, "email: "+err.Error())
		}
	}
	if job.PatientPhone != "" {
		_, err := d.notifier.Send(ctx, notify.Message{
			Channel:       notify.ChannelSMS,
			Recipient:     job.PatientPhone,
			RecipientName: job.PatientName,
			Template:      template,
			Params:        params,
		})
		if err != nil {
			errs = append(errs, "sms: "+err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("deliver stage %s: %s", job.Stage, strings.Join(errs, "; "))
	}
	return nil
}

// RecoverPastDue marks pending jobs whose fire time fell more than grace
// before now as failed. Run once at worker startup so reminders missed during
// downtime are recorded instead of arriving long after their moment.
func (d *Dispatcher) RecoverPastDue(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := d.nowFn().UTC().Add(-grace)

	n, err := d.store.FailStalePending(ctx, cutoff, "missed fire window during downtime")
	if err != nil {
		return 0, fmt.Errorf("recover past-due reminders: %w", err)
	}

	if n > 0 {
		metrics.RemindersFailed.WithLabelValues("stale").Add(float64(n))
		d.logger.Warn("stale pending reminders failed",
			zap.Int64("count", n),
			zap.Time("cutoff", cutoff))
	}

	return n, nil
}
