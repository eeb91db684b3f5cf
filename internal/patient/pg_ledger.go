package patient

import (
	"context"
	"encoding/json"
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

type PgLedger struct {
	db DB
}

func NewPgLedger(db DB) *PgLedger {
	return &PgLedger{db: db}
}

const patientColumns = `id, name, normalized_name, dob, email, phone,
		insurance_carrier, insurance_member_id, insurance_group_id, insurance_verified,
		visit_count, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var normalizedName string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&normalizedName,
		&p.DOB,
		&p.Email,
		&p.Phone,
		&p.InsuranceCarrier,
		&p.InsuranceMemberID,
		&p.InsuranceGroupID,
		&p.InsuranceVerified,
		&p.VisitCount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (l *PgLedger) LookupPatient(ctx context.Context, normalizedName string, dob time.Time) (*Patient, error) {
	row := l.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE normalized_name = $1 AND dob = $2
	`, normalizedName, dob)
	return scanPatient(row)
}

func (l *PgLedger) LookupPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	row := l.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE phone = $1
	`, NormalizePhone(phone))
	return scanPatient(row)
}

func (l *PgLedger) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := l.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (l *PgLedger) UpsertPatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	_, err := l.db.Exec(ctx, `
		INSERT INTO patients (id, name, normalized_name, dob, email, phone,
			insurance_carrier, insurance_member_id, insurance_group_id, insurance_verified,
			visit_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (normalized_name, dob) DO UPDATE SET
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			insurance_carrier = EXCLUDED.insurance_carrier,
			insurance_member_id = EXCLUDED.insurance_member_id,
			insurance_group_id = EXCLUDED.insurance_group_id,
			insurance_verified = EXCLUDED.insurance_verified,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, NormalizeName(p.Name), p.DOB, p.Email, NormalizePhone(p.Phone),
		p.InsuranceCarrier, p.InsuranceMemberID, p.InsuranceGroupID, p.InsuranceVerified,
		p.VisitCount, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert patient: %w", err)
	}
	return nil
}

func (l *PgLedger) RecordVisit(ctx context.Context, id uuid.UUID) error {
	tag, err := l.db.Exec(ctx, `
		UPDATE patients
		SET visit_count = visit_count + 1,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("record visit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (l *PgLedger) AppendRecord(ctx context.Context, kind string, appointmentID *uuid.UUID, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO audit_records (kind, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, now())
	`, kind, appointmentID, data)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}
