package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient is a clinic patient record. New vs returning classification is an
// exact match on normalized name + DOB.
type Patient struct {
	ID                uuid.UUID
	Name              string
	DOB               time.Time
	Email             string
	Phone             string
	InsuranceCarrier  *string
	InsuranceMemberID *string
	InsuranceGroupID  *string
	InsuranceVerified bool
	VisitCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AuditRecord is an append-only entry in the clinic's audit trail.
type AuditRecord struct {
	ID            int64
	Kind          string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// NormalizeName lowercases and collapses interior whitespace so that lookups
// are insensitive to casing and stray spaces.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// NormalizePhone strips everything but digits and a leading plus sign.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
