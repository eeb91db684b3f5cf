package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/careloop/clinic-scheduling/internal/slot"
	"github.com/careloop/clinic-scheduling/internal/workflow"
)

// Engine is the booking workflow surface the HTTP layer depends on.
type Engine interface {
	BeginIntake() *workflow.Intake
	GetIntake(id uuid.UUID) (*workflow.Intake, error)
	SubmitIdentity(ctx context.Context, intakeID uuid.UUID, name, dob, email, phone string) (*workflow.Intake, error)
	Candidates(ctx context.Context, intakeID, doctorID uuid.UUID, w slot.Window) ([]slot.Candidate, error)
	ReserveSlot(ctx context.Context, intakeID, doctorID uuid.UUID, start time.Time) (*workflow.Appointment, error)
	SubmitInsurance(ctx context.Context, intakeID uuid.UUID, carrier, memberID, groupID string) (*workflow.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*workflow.Appointment, error)
	Cancel(ctx context.Context, appointmentID uuid.UUID, channel string) error
	Complete(ctx context.Context, appointmentID uuid.UUID) error
	HandleInboundSMS(ctx context.Context, fromPhone, body string) (string, error)
}

// DoctorDirectory lists the clinic's doctors.
type DoctorDirectory interface {
	ListDoctors(ctx context.Context) ([]slot.Doctor, error)
}

type RouterConfig struct {
	Engine  Engine
	Doctors DoctorDirectory
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/intakes", createIntakeHandler(cfg.Engine))
	r.Get("/intakes/{id}", getIntakeHandler(cfg.Engine))

	r.Get("/doctors", listDoctorsHandler(cfg.Doctors))
	r.Get("/doctors/{id}/availability", availabilityHandler(cfg.Engine))

	r.Post("/appointments", reserveSlotHandler(cfg.Engine))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Engine))
	r.Post("/appointments/{id}/insurance", submitInsuranceHandler(cfg.Engine))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Engine))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Engine))

	r.Post("/webhooks/sms", smsWebhookHandler(cfg.Engine))

	return r
}
