package reminder

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

type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

const jobColumns = `id, appointment_id, stage, fire_at, status,
		patient_name, patient_email, patient_phone, doctor_name, location, appointment_at,
		fired_at, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job

	err := row.Scan(
		&j.ID,
		&j.AppointmentID,
		&j.Stage,
		&j.FireAt,
		&j.Status,
		&j.PatientName,
		&j.PatientEmail,
		&j.PatientPhone,
		&j.DoctorName,
		&j.Location,
		&j.AppointmentAt,
		&j.FiredAt,
		&j.LastError,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	return &j, nil
}

func (s *PgStore) CreateJobs(ctx context.Context, jobs []Job) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create jobs: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range jobs {
		j := &jobs[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO reminder_jobs (id, appointment_id, stage, fire_at, status,
				patient_name, patient_email, patient_phone, doctor_name, location, appointment_at,
				last_error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		`, j.ID, j.AppointmentID, j.Stage, j.FireAt, j.Status,
			j.PatientName, j.PatientEmail, j.PatientPhone, j.DoctorName, j.Location, j.AppointmentAt,
			j.LastError)
		if err != nil {
			return fmt.Errorf("insert reminder job %s/%s: %w", j.AppointmentID, j.Stage, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create jobs: %w", err)
	}
	return nil
}

func (s *PgStore) ListDue(ctx context.Context, asOf time.Time) ([]Job, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM reminder_jobs
		WHERE status = 'pending'
		  AND fire_at <= $1
		ORDER BY fire_at ASC
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (s *PgStore) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Job, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM reminder_jobs
		WHERE appointment_id = $1
		ORDER BY fire_at ASC
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by appointment: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (s *PgStore) ClaimFired(ctx context.Context, id uuid.UUID, firedAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'fired',
		    fired_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, id, firedAt)
	if err != nil {
		return false, fmt.Errorf("claim job fired: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) DemoteFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'failed',
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'fired'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("demote job failed: %w", err)
	}
	return nil
}

func (s *PgStore) CancelPending(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled',
		    updated_at = now()
		WHERE appointment_id = $1
		  AND status = 'pending'
	`, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) FailStalePending(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'failed',
		    last_error = $2,
		    updated_at = now()
		WHERE status = 'pending'
		  AND fire_at <= $1
	`, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("fail stale pending jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectJobs(rows pgx.Rows) ([]Job, error) {
	var result []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *j)
	}
	return result, rows.Err()
}
