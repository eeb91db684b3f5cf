package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const slotColumns = `id, doctor_id, start_time, end_time, status, hold_token, hold_expires_at, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.Location,
		&d.WorkStartMin,
		&d.WorkEndMin,
		&d.LunchStartMin,
		&d.LunchEndMin,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.HoldToken,
		&s.HoldExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, location, work_start_min, work_end_min, lunch_start_min, lunch_end_min, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, specialty, location, work_start_min, work_end_min, lunch_start_min, lunch_end_min, created_at, updated_at
		FROM doctors
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListLiveIntervals(ctx context.Context, doctorID uuid.UUID, from, to, now time.Time) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		  AND (status = 'booked' OR (status = 'held' AND hold_expires_at > $4))
		ORDER BY start_time
	`, doctorID, from, to, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	return result, rows.Err()
}

func (r *PgRepository) InsertHeldSlot(ctx context.Context, s *Slot) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO slots (id, doctor_id, start_time, end_time, status, hold_token, hold_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'held', $5, $6, now(), now())
	`, s.ID, s.DoctorID, s.StartTime, s.EndTime, s.HoldToken, s.HoldExpiresAt)
	if err != nil {
		return fmt.Errorf("insert held slot: %w", err)
	}
	return nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) GetSlotByToken(ctx context.Context, token uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE hold_token = $1
	`, token)
	return scanSlot(row)
}

func (r *PgRepository) ConfirmByToken(ctx context.Context, token uuid.UUID, now time.Time) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE slots
		SET status = 'booked',
		    updated_at = now()
		WHERE hold_token = $1
		  AND status = 'held'
		  AND hold_expires_at > $2
		RETURNING `+slotColumns+`
	`, token, now)

	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrHoldNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE slots
		SET status = 'released',
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('held', 'booked')
	`, slotID)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (r *PgRepository) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE slots
		SET status = 'released',
		    updated_at = now()
		WHERE status = 'held'
		  AND hold_expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("release expired holds: %w", err)
	}
	return tag.RowsAffected(), nil
}
