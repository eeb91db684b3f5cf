package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careloop/clinic-scheduling/internal/slot"
	"github.com/careloop/clinic-scheduling/internal/workflow"
)

type fakeEngine struct {
	intake      *workflow.Intake
	appointment *workflow.Appointment
	candidates  []slot.Candidate

	identityErr  error
	reserveErr   error
	insuranceErr error
	cancelErr    error

	cancelledWith string
	smsAction     string
}

func (f *fakeEngine) BeginIntake() *workflow.Intake {
	return &workflow.Intake{ID: f.intake.ID, Status: workflow.StatusCollectingInfo}
}

func (f *fakeEngine) GetIntake(id uuid.UUID) (*workflow.Intake, error) {
	if f.intake == nil || f.intake.ID != id {
		return nil, workflow.ErrIntakeNotFound
	}
	return f.intake, nil
}

func (f *fakeEngine) SubmitIdentity(_ context.Context, _ uuid.UUID, _, _, _, _ string) (*workflow.Intake, error) {
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	return f.intake, nil
}

func (f *fakeEngine) Candidates(_ context.Context, _, _ uuid.UUID, _ slot.Window) ([]slot.Candidate, error) {
	return f.candidates, nil
}

func (f *fakeEngine) ReserveSlot(_ context.Context, _, _ uuid.UUID, _ time.Time) (*workflow.Appointment, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	return f.appointment, nil
}

func (f *fakeEngine) SubmitInsurance(_ context.Context, _ uuid.UUID, _, _, _ string) (*workflow.Appointment, error) {
	if f.insuranceErr != nil {
		return nil, f.insuranceErr
	}
	return f.appointment, nil
}

func (f *fakeEngine) GetAppointment(_ context.Context, id uuid.UUID) (*workflow.Appointment, error) {
	if f.appointment == nil || f.appointment.ID != id {
		return nil, workflow.ErrAppointmentNotFound
	}
	return f.appointment, nil
}

func (f *fakeEngine) Cancel(_ context.Context, _ uuid.UUID, channel string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelledWith = channel
	f.appointment.Status = workflow.StatusCancelled
	return nil
}

func (f *fakeEngine) Complete(_ context.Context, _ uuid.UUID) error {
	f.appointment.Status = workflow.StatusCompleted
	return nil
}

func (f *fakeEngine) HandleInboundSMS(_ context.Context, _, _ string) (string, error) {
	return f.smsAction, nil
}

type fakeDoctors struct {
	doctors []slot.Doctor
}

func (f *fakeDoctors) ListDoctors(_ context.Context) ([]slot.Doctor, error) {
	return f.doctors, nil
}

func newTestServer(engine *fakeEngine, doctors *fakeDoctors) *httptest.Server {
	router := NewRouter(RouterConfig{
		Engine:  engine,
		Doctors: doctors,
		Logger:  zap.NewNop(),
		Env:     "test",
		Version: "test",
	})
	return httptest.NewServer(router)
}

func defaultEngine() *fakeEngine {
	intakeID := uuid.New()
	apptID := uuid.New()
	return &fakeEngine{
		intake: &workflow.Intake{
			ID:              intakeID,
			Status:          workflow.StatusSelectingSlot,
			NewPatient:      true,
			DurationMinutes: 60,
			AppointmentID:   &apptID,
		},
		appointment: &workflow.Appointment{
			ID:              apptID,
			PatientID:       uuid.New(),
			DoctorID:        uuid.New(),
			StartTime:       time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC),
			DurationMinutes: 60,
			Status:          workflow.StatusCollectingInsurance,
		},
		smsAction: workflow.ReplyActionCancelled,
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateIntake(t *testing.T) {
	engine := defaultEngine()
	srv := newTestServer(engine, &fakeDoctors{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/intakes", CreateIntakeRequest{
		Name: "Asha Rao", DOB: "03/15/1995", Email: "asha@example.com", Phone: "+15551234567",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[IntakeResponse](t, resp)
	assert.Equal(t, engine.intake.ID, body.ID)
	assert.True(t, body.NewPatient)
	assert.Equal(t, 60, body.DurationMinutes)
}

func TestCreateIntakeBadDOB(t *testing.T) {
	engine := defaultEngine()
	engine.identityErr = fmt.Errorf("parse: %w", workflow.ErrInvalidDOB)
	srv := newTestServer(engine, &fakeDoctors{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/intakes", CreateIntakeRequest{Name: "Asha Rao", DOB: "bogus"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_dob", body.Error)
}

func TestReserveSlotConflict(t *testing.T) {
	engine := defaultEngine()
	engine.reserveErr = slot.ErrSlotConflict
	srv := newTestServer(engine, &fakeDoctors{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/appointments", ReserveSlotRequest{
		IntakeID:  engine.intake.ID.String(),
		DoctorID:  uuid.NewString(),
		StartTime: "2025-06-10T10:00:00Z",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "slot_conflict", body.Error)
}

func TestReserveSlotCreated(t *testing.T) {
	engine := defaultEngine()
	srv := newTestServer(engine, &fakeDoctors{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/appointments", ReserveSlotRequest{
		IntakeID:  engine.intake.ID.String(),
		DoctorID:  uuid.NewString(),
		StartTime: "2025-06-10T10:00:00Z",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[AppointmentResponse](t, resp)
	assert.Equal(t, engine.appointment.ID, body.ID)
	assert.Equal(t, "collecting_insurance", body.Status)
}

func TestSubmitInsuranceRejected(t *testing.T) {
	engine := defaultEngine()
	engine.insuranceErr = fmt.Errorf("bad member id: %w", workflow.ErrInsuranceRejected)
	srv := newTestServer(engine, &fakeDoctors{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/appointments/"+engine.appointment.ID.String()+"/insurance",
		SubmitInsuranceRequest{IntakeID: engine.intake.ID.String(), Carrier: "Aetna", MemberID: "nope"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "insurance_rejected", body.Error)
}

func TestSubmitInsuranceIntakeMismatch(t *testing.T) {
	engine := defaultEngine()
	srv := newTestServer(engine, &fakeDoctors{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/appointments/"+uuid.NewString()+"/insurance",
		SubmitInsuranceRequest{IntakeID: engine.intake.ID.String(), Carrier: "Aetna", MemberID: "A12345678"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "intake_mismatch", body.Error)
}

func TestCancelAppointment(t *testing.T) {
	engine := defaultEngine()
	srv := newTestServer(engine, &fakeDoctors{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/appointments/"+engine.appointment.ID.String()+"/cancel",
		CancelRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[AppointmentResponse](t, resp)
	assert.Equal(t, "cancelled", body.Status)
	assert.Equal(t, "api", engine.cancelledWith)
}

func TestGetAppointmentNotFound(t *testing.T) {
	engine := defaultEngine()
	srv := newTestServer(engine, &fakeDoctors{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/appointments/" + uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/appointments/not-a-uuid")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestListDoctors(t *testing.T) {
	engine := defaultEngine()
	srv := newTestServer(engine, &fakeDoctors{doctors: []slot.Doctor{
		{ID: uuid.New(), Name: "Dr. Iyer", Specialty: "Cardiology", Location: "Main Clinic"},
	}})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/doctors")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[[]DoctorResponse](t, resp)
	require.Len(t, body, 1)
	assert.Equal(t, "Dr. Iyer", body[0].Name)
}

func TestSMSWebhook(t *testing.T) {
	engine := defaultEngine()
	srv := newTestServer(engine, &fakeDoctors{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/webhooks/sms", SMSWebhookRequest{From: "+15551234567", Body: "CANCEL"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[SMSWebhookResponse](t, resp)
	assert.Equal(t, workflow.ReplyActionCancelled, body.Action)

	resp = postJSON(t, srv.URL+"/webhooks/sms", SMSWebhookRequest{Body: "CANCEL"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
