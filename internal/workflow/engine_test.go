package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careloop/clinic-scheduling/internal/insurance"
	"github.com/careloop/clinic-scheduling/internal/notify"
	"github.com/careloop/clinic-scheduling/internal/patient"
	"github.com/careloop/clinic-scheduling/internal/reminder"
	"github.com/careloop/clinic-scheduling/internal/slot"
)

var (
	testNow   = time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	testStart = time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
)

type memRepo struct {
	mu            sync.Mutex
	appointments  map[uuid.UUID]*Appointment
	phoneIndex    map[string]uuid.UUID
	releasedSlots []uuid.UUID
}

func newMemRepo() *memRepo {
	return &memRepo{
		appointments: make(map[uuid.UUID]*Appointment),
		phoneIndex:   make(map[string]uuid.UUID),
	}
}

func (m *memRepo) CreateAppointment(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *memRepo) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) FindActiveByPhone(_ context.Context, phone string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.phoneIndex[phone]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a, ok := m.appointments[id]
	if !ok || IsTerminal(a.Status) {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if a.Status != from {
		return ErrInvalidTransition
	}
	a.Status = to
	return nil
}

func (m *memRepo) SetInsurance(_ context.Context, id uuid.UUID, carrier, memberID string, groupID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.InsuranceCarrier = &carrier
	a.InsuranceMemberID = &memberID
	a.InsuranceGroupID = groupID
	return nil
}

func (m *memRepo) Rehold(_ context.Context, id uuid.UUID, slotID, holdToken uuid.UUID, start time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if a.Status != StatusSelectingSlot {
		return ErrInvalidTransition
	}
	a.SlotID = slotID
	a.HoldToken = &holdToken
	a.StartTime = start
	a.Status = StatusHeld
	return nil
}

func (m *memRepo) CancelTx(_ context.Context, id uuid.UUID, channel string) (CancelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return CancelResult{}, ErrAppointmentNotFound
	}
	if IsTerminal(a.Status) {
		return CancelResult{Cancelled: false}, nil
	}
	a.Status = StatusCancelled
	a.CancelChannel = &channel
	m.releasedSlots = append(m.releasedSlots, a.SlotID)
	return CancelResult{Cancelled: true, RemindersCancelled: 3}, nil
}

type fakeSlots struct {
	doctor     slot.Doctor
	holdErr    error
	expireOnce bool
	holds      int
	confirmed  int
}

func newFakeSlots() *fakeSlots {
	return &fakeSlots{
		doctor: slot.Doctor{
			ID:        uuid.New(),
			Name:      "Dr. Iyer",
			Specialty: "Cardiology",
			Location:  "Main Clinic",
		},
	}
}

func (f *fakeSlots) GetDoctor(_ context.Context, _ uuid.UUID) (*slot.Doctor, error) {
	d := f.doctor
	return &d, nil
}

func (f *fakeSlots) FindAvailable(_ context.Context, doctorID uuid.UUID, durationMinutes int, _ slot.Window) ([]slot.Candidate, error) {
	return []slot.Candidate{{
		DoctorID:        doctorID,
		StartTime:       testStart,
		EndTime:         testStart.Add(time.Duration(durationMinutes) * time.Minute),
		DurationMinutes: durationMinutes,
	}}, nil
}

func (f *fakeSlots) Hold(_ context.Context, doctorID uuid.UUID, start time.Time, durationMinutes int) (*slot.Hold, error) {
	if f.holdErr != nil {
		return nil, f.holdErr
	}
	f.holds++
	return &slot.Hold{
		SlotID:    uuid.New(),
		DoctorID:  doctorID,
		Token:     uuid.New(),
		StartTime: start,
		EndTime:   start.Add(time.Duration(durationMinutes) * time.Minute),
		ExpiresAt: start.Add(5 * time.Minute),
	}, nil
}

func (f *fakeSlots) Confirm(_ context.Context, token uuid.UUID) (*slot.Slot, error) {
	if f.expireOnce {
		f.expireOnce = false
		return nil, slot.ErrHoldExpired
	}
	f.confirmed++
	return &slot.Slot{ID: uuid.New(), Status: slot.StatusBooked}, nil
}

type fakeReminders struct {
	inputs []reminder.ScheduleInput
	err    error
}

func (f *fakeReminders) ScheduleAll(_ context.Context, in reminder.ScheduleInput) ([]reminder.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return make([]reminder.Job, 3), nil
}

type memLedger struct {
	mu       sync.Mutex
	byKey    map[string]*patient.Patient
	byID     map[uuid.UUID]*patient.Patient
	audit    []string
	auditIDs []*uuid.UUID
}

func newMemLedger() *memLedger {
	return &memLedger{
		byKey: make(map[string]*patient.Patient),
		byID:  make(map[uuid.UUID]*patient.Patient),
	}
}

func ledgerKey(name string, dob time.Time) string {
	return name + "|" + dob.Format("2006-01-02")
}

func (m *memLedger) LookupPatient(_ context.Context, normalizedName string, dob time.Time) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byKey[ledgerKey(normalizedName, dob)]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memLedger) LookupPatientByPhone(_ context.Context, phone string) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if patient.NormalizePhone(p.Phone) == phone {
			cp := *p
			return &cp, nil
		}
	}
	return nil, patient.ErrPatientNotFound
}

func (m *memLedger) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memLedger) UpsertPatient(_ context.Context, p *patient.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	m.byKey[ledgerKey(patient.NormalizeName(p.Name), p.DOB)] = &cp
	m.byID[p.ID] = &cp
	return nil
}

func (m *memLedger) RecordVisit(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return patient.ErrPatientNotFound
	}
	p.VisitCount++
	return nil
}

func (m *memLedger) AppendRecord(_ context.Context, kind string, appointmentID *uuid.UUID, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, kind)
	m.auditIDs = append(m.auditIDs, appointmentID)
	return nil
}

func (m *memLedger) auditKinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.audit...)
}

type testEnv struct {
	engine    *Engine
	repo      *memRepo
	slots     *fakeSlots
	reminders *fakeReminders
	ledger    *memLedger
	notifier  *recordingNotifier
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (r *recordingNotifier) Send(_ context.Context, msg notify.Message) (notify.DeliveryResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return notify.DeliveryResult{Success: true}, nil
}

func (r *recordingNotifier) templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.sent {
		out = append(out, m.Template)
	}
	return out
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:      newMemRepo(),
		slots:     newFakeSlots(),
		reminders: &fakeReminders{},
		ledger:    newMemLedger(),
		notifier:  &recordingNotifier{},
	}
	env.engine = NewEngine(env.repo, env.slots, env.reminders,
		insurance.NewVerifier(), env.ledger, env.notifier, zap.NewNop())
	env.engine.nowFn = func() time.Time { return testNow }
	return env
}

func (env *testEnv) bookNewPatient(t *testing.T) *Appointment {
	t.Helper()
	ctx := context.Background()

	in := env.engine.BeginIntake()
	_, err := env.engine.SubmitIdentity(ctx, in.ID, "Asha Rao", "03/15/1995",
		"asha@example.com", "+1 (555) 123-4567")
	require.NoError(t, err)

	appt, err := env.engine.ReserveSlot(ctx, in.ID, env.slots.doctor.ID, testStart)
	require.NoError(t, err)

	appt, err = env.engine.SubmitInsurance(ctx, in.ID, "Aetna", "A12345678", "123456")
	require.NoError(t, err)
	return appt
}

func TestNewPatientBookingFlow(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	in := env.engine.BeginIntake()
	assert.Equal(t, StatusCollectingInfo, in.Status)

	in, err := env.engine.SubmitIdentity(ctx, in.ID, "Asha Rao", "03/15/1995",
		"asha@example.com", "+15551234567")
	require.NoError(t, err)
	assert.True(t, in.NewPatient)
	assert.Equal(t, 60, in.DurationMinutes)
	assert.Equal(t, StatusSelectingSlot, in.Status)

	candidates, err := env.engine.Candidates(ctx, in.ID, env.slots.doctor.ID, slot.Window{
		From: testStart.Add(-2 * time.Hour),
		To:   testStart.Add(8 * time.Hour),
	})
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	appt, err := env.engine.ReserveSlot(ctx, in.ID, env.slots.doctor.ID, testStart)
	require.NoError(t, err)
	assert.Equal(t, StatusCollectingInsurance, appt.Status)
	assert.Equal(t, 60, appt.DurationMinutes)

	appt, err = env.engine.SubmitInsurance(ctx, in.ID, "Aetna", "A12345678", "123456")
	require.NoError(t, err)
	assert.Equal(t, StatusRemindersScheduled, appt.Status)

	require.Len(t, env.reminders.inputs, 1)
	sched := env.reminders.inputs[0]
	assert.Equal(t, appt.ID, sched.AppointmentID)
	assert.Equal(t, "Asha Rao", sched.PatientName)
	assert.Equal(t, "Dr. Iyer", sched.DoctorName)
	assert.Equal(t, testStart, sched.AppointmentAt)

	// Confirmation goes out on both channels, independent of reminders.
	assert.Equal(t, []string{notify.TemplateBookingConfirmation, notify.TemplateBookingConfirmation},
		env.notifier.templates())

	assert.Contains(t, env.ledger.auditKinds(), patient.RecordAppointmentHeld)
	assert.Contains(t, env.ledger.auditKinds(), patient.RecordAppointmentConfirmed)

	// The session is finished; the intake is gone.
	_, err = env.engine.GetIntake(in.ID)
	assert.ErrorIs(t, err, ErrIntakeNotFound)
}

func TestReturningPatientSkipsInsurance(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	carrier := "Aetna"
	member := "A12345678"
	require.NoError(t, env.ledger.UpsertPatient(ctx, &patient.Patient{
		Name:              "Ravi Menon",
		DOB:               time.Date(1980, 7, 4, 0, 0, 0, 0, time.UTC),
		Email:             "ravi@example.com",
		Phone:             "+15559876543",
		InsuranceCarrier:  &carrier,
		InsuranceMemberID: &member,
		InsuranceVerified: true,
		VisitCount:        4,
	}))

	in := env.engine.BeginIntake()
	in, err := env.engine.SubmitIdentity(ctx, in.ID, "Ravi Menon", "07/04/1980", "", "")
	require.NoError(t, err)
	assert.False(t, in.NewPatient)
	assert.Equal(t, 30, in.DurationMinutes)
	assert.True(t, in.InsuranceOnFile)

	appt, err := env.engine.ReserveSlot(ctx, in.ID, env.slots.doctor.ID, testStart)
	require.NoError(t, err)
	assert.Equal(t, StatusRemindersScheduled, appt.Status)
	assert.Equal(t, 30, appt.DurationMinutes)
	assert.Len(t, env.reminders.inputs, 1)
}

func TestSubmitIdentityRejectsBadDOB(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for _, dob := range []string{"not-a-date", "1995-03-15", "02/30/2001", "13/01/1990", ""} {
		in := env.engine.BeginIntake()
		_, err := env.engine.SubmitIdentity(ctx, in.ID, "Asha Rao", dob, "", "")
		assert.ErrorIs(t, err, ErrInvalidDOB, "dob %q", dob)
	}
}

func TestInsuranceRejectedLoopsBack(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	in := env.engine.BeginIntake()
	_, err := env.engine.SubmitIdentity(ctx, in.ID, "Asha Rao", "03/15/1995",
		"asha@example.com", "+15551234567")
	require.NoError(t, err)
	_, err = env.engine.ReserveSlot(ctx, in.ID, env.slots.doctor.ID, testStart)
	require.NoError(t, err)

	// Aetna member IDs are a letter plus eight digits.
	_, err = env.engine.SubmitInsurance(ctx, in.ID, "Aetna", "12345", "123456")
	assert.ErrorIs(t, err, ErrInsuranceRejected)

	in, err = env.engine.GetIntake(in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCollectingInsurance, in.Status)
	assert.Contains(t, env.ledger.auditKinds(), patient.RecordInsuranceRejected)

	// A corrected submission succeeds.
	appt, err := env.engine.SubmitInsurance(ctx, in.ID, "Aetna", "A12345678", "123456")
	require.NoError(t, err)
	assert.Equal(t, StatusRemindersScheduled, appt.Status)
}

func TestSelfPaySkipsVerification(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	in := env.engine.BeginIntake()
	_, err := env.engine.SubmitIdentity(ctx, in.ID, "Asha Rao", "03/15/1995",
		"asha@example.com", "+15551234567")
	require.NoError(t, err)
	_, err = env.engine.ReserveSlot(ctx, in.ID, env.slots.doctor.ID, testStart)
	require.NoError(t, err)

	appt, err := env.engine.SubmitInsurance(ctx, in.ID, "self-pay", "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusRemindersScheduled, appt.Status)
}

func TestHoldExpiredRollsBackToSelection(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	in := env.engine.BeginIntake()
	_, err := env.engine.SubmitIdentity(ctx, in.ID, "Asha Rao", "03/15/1995",
		"asha@example.com", "+15551234567")
	require.NoError(t, err)
	appt, err := env.engine.ReserveSlot(ctx, in.ID, env.slots.doctor.ID, testStart)
	require.NoError(t, err)

	env.slots.expireOnce = true
	_, err = env.engine.SubmitInsurance(ctx, in.ID, "Aetna", "A12345678", "123456")
	assert.ErrorIs(t, err, slot.ErrHoldExpired)

	in, err = env.engine.GetIntake(in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSelectingSlot, in.Status)

	stored, err := env.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSelectingSlot, stored.Status)

	// Re-selection reuses the appointment row with a fresh hold.
	later := testStart.Add(time.Hour)
	appt2, err := env.engine.ReserveSlot(ctx, in.ID, env.slots.doctor.ID, later)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, appt2.ID)
	assert.Equal(t, later, appt2.StartTime)

	appt2, err = env.engine.SubmitInsurance(ctx, in.ID, "Aetna", "A12345678", "123456")
	require.NoError(t, err)
	assert.Equal(t, StatusRemindersScheduled, appt2.Status)
}

func TestSlotConflictPropagates(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	in := env.engine.BeginIntake()
	_, err := env.engine.SubmitIdentity(ctx, in.ID, "Asha Rao", "03/15/1995",
		"asha@example.com", "+15551234567")
	require.NoError(t, err)

	env.slots.holdErr = slot.ErrSlotConflict
	_, err = env.engine.ReserveSlot(ctx, in.ID, env.slots.doctor.ID, testStart)
	assert.ErrorIs(t, err, slot.ErrSlotConflict)

	// Caller can retry without restarting the session.
	in, err = env.engine.GetIntake(in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSelectingSlot, in.Status)
}

func TestCancelIsAtomicAndIdempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	appt := env.bookNewPatient(t)

	require.NoError(t, env.engine.Cancel(ctx, appt.ID, "api"))

	stored, err := env.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelChannel)
	assert.Equal(t, "api", *stored.CancelChannel)
	assert.Contains(t, env.repo.releasedSlots, stored.SlotID)
	assert.Contains(t, env.ledger.auditKinds(), patient.RecordAppointmentCancelled)
	assert.Contains(t, env.notifier.templates(), notify.TemplateCancellation)

	sentBefore := len(env.notifier.templates())
	require.NoError(t, env.engine.Cancel(ctx, appt.ID, "api"))
	assert.Equal(t, sentBefore, len(env.notifier.templates()), "second cancel must not notify again")
}

func TestHandleInboundSMS(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	appt := env.bookNewPatient(t)
	env.repo.phoneIndex["+15551234567"] = appt.ID

	action, err := env.engine.HandleInboundSMS(ctx, "+1 (555) 123-4567", "  cancel  ")
	require.NoError(t, err)
	assert.Equal(t, ReplyActionCancelled, action)

	stored, err := env.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelChannel)
	assert.Equal(t, "sms", *stored.CancelChannel)
	assert.Contains(t, env.ledger.auditKinds(), patient.RecordInboundReply)

	// No active appointment left for this number.
	action, err = env.engine.HandleInboundSMS(ctx, "+15551234567", "cancel")
	require.NoError(t, err)
	assert.Equal(t, ReplyActionIgnored, action)

	action, err = env.engine.HandleInboundSMS(ctx, "+15550000001", "hello?")
	require.NoError(t, err)
	assert.Equal(t, ReplyActionIgnored, action)
}

func TestHandleInboundSMSConfirm(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	appt := env.bookNewPatient(t)
	env.repo.phoneIndex["+15551234567"] = appt.ID

	action, err := env.engine.HandleInboundSMS(ctx, "+15551234567", "CONFIRM")
	require.NoError(t, err)
	assert.Equal(t, ReplyActionConfirmed, action)

	stored, err := env.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRemindersScheduled, stored.Status)
}

func TestCompleteAfterStart(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	appt := env.bookNewPatient(t)

	err := env.engine.Complete(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotStarted)

	env.engine.nowFn = func() time.Time { return testStart.Add(2 * time.Hour) }
	require.NoError(t, env.engine.Complete(ctx, appt.ID))

	stored, err := env.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)

	p, err := env.ledger.GetPatient(ctx, appt.PatientID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.VisitCount)

	// Completing twice is a no-op.
	require.NoError(t, env.engine.Complete(ctx, appt.ID))
}
