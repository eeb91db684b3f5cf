package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx pool interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `id, patient_id, doctor_id, slot_id, hold_token,
		start_time, duration_minutes, status,
		insurance_carrier, insurance_member_id, insurance_group_id,
		cancel_channel, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.HoldToken,
		&a.StartTime,
		&a.DurationMinutes,
		&a.Status,
		&a.InsuranceCarrier,
		&a.InsuranceMemberID,
		&a.InsuranceGroupID,
		&a.CancelChannel,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, hold_token,
			start_time, duration_minutes, status,
			insurance_carrier, insurance_member_id, insurance_group_id,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.PatientID, a.DoctorID, a.SlotID, a.HoldToken,
		a.StartTime, a.DurationMinutes, a.Status,
		a.InsuranceCarrier, a.InsuranceMemberID, a.InsuranceGroupID)

	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)

	return scanAppointment(row)
}

func (r *PgRepository) FindActiveByPhone(ctx context.Context, phone string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT a.id, a.patient_id, a.doctor_id, a.slot_id, a.hold_token,
			a.start_time, a.duration_minutes, a.status,
			a.insurance_carrier, a.insurance_member_id, a.insurance_group_id,
			a.cancel_channel, a.created_at, a.updated_at
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE p.phone = $1
		  AND a.status NOT IN ('cancelled', 'completed')
		ORDER BY a.start_time ASC
		LIMIT 1
	`, phone)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment %s is not %s: %w", id, from, ErrInvalidTransition)
	}
	return nil
}

func (r *PgRepository) SetInsurance(ctx context.Context, id uuid.UUID, carrier, memberID string, groupID *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET insurance_carrier = $2,
		    insurance_member_id = $3,
		    insurance_group_id = $4,
		    updated_at = now()
		WHERE id = $1
	`, id, carrier, memberID, groupID)
	if err != nil {
		return fmt.Errorf("set appointment insurance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) Rehold(ctx context.Context, id uuid.UUID, slotID, holdToken uuid.UUID, start time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    hold_token = $3,
		    start_time = $4,
		    status = 'held',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'selecting_slot'
	`, id, slotID, holdToken, start)
	if err != nil {
		return fmt.Errorf("rehold appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment %s is not selecting_slot: %w", id, ErrInvalidTransition)
	}
	return nil
}

// CancelTx applies the three-way cancellation in one transaction so no
// observer sees a cancelled appointment whose slot is still booked or whose
// reminders are still pending.
func (r *PgRepository) CancelTx(ctx context.Context, id uuid.UUID, channel string) (CancelResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return CancelResult{}, fmt.Errorf("begin cancel: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var slotID uuid.UUID
	var status Status
	err = tx.QueryRow(ctx, `
		SELECT slot_id, status
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&slotID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CancelResult{}, ErrAppointmentNotFound
		}
		return CancelResult{}, fmt.Errorf("lock appointment for cancel: %w", err)
	}

	if IsTerminal(status) {
		return CancelResult{Cancelled: false}, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancel_channel = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, channel)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel appointment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE slots
		SET status = 'released',
		    hold_token = NULL,
		    hold_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('held', 'booked')
	`, slotID)
	if err != nil {
		return CancelResult{}, fmt.Errorf("release slot on cancel: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled',
		    updated_at = now()
		WHERE appointment_id = $1
		  AND status = 'pending'
	`, id)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel reminders on cancel: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return CancelResult{}, fmt.Errorf("commit cancel: %w", err)
	}

	return CancelResult{Cancelled: true, RemindersCancelled: tag.RowsAffected()}, nil
}
