package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/careloop/clinic-scheduling/internal/redis"
)

// gridStep is the granularity of bookable start times.
const gridStep = 30 * time.Minute

// maxCandidates bounds an availability walk.
const maxCandidates = 100

// Store owns every doctor calendar. Hold, confirm and release for one doctor
// are serialized behind the per-doctor lock; no notification or other I/O ever
// runs inside it.
type Store struct {
	repo    Repository
	locker  redisclient.Locker
	holdTTL time.Duration
	logger  *zap.Logger
	nowFn   func() time.Time
}

func NewStore(repo Repository, locker redisclient.Locker, holdTTL time.Duration, logger *zap.Logger) *Store {
	return &Store{
		repo:    repo,
		locker:  locker,
		holdTTL: holdTTL,
		logger:  logger,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// GetDoctor loads one doctor's profile and working hours.
func (st *Store) GetDoctor(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	return st.repo.GetDoctorByID(ctx, doctorID)
}

// ListDoctors returns every doctor in the clinic.
func (st *Store) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return st.repo.ListDoctors(ctx)
}

// FindAvailable walks the doctor's working hours on the 30-minute grid and
// returns open intervals of the requested duration inside the window,
// earliest first. Pure query; restartable.
func (st *Store) FindAvailable(ctx context.Context, doctorID uuid.UUID, durationMinutes int, w Window) ([]Candidate, error) {
	if durationMinutes != 30 && durationMinutes != 60 {
		return nil, ErrInvalidDuration
	}

	doctor, err := st.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	now := st.nowFn()
	if w.To.Before(w.From) || w.To.Equal(w.From) {
		return nil, nil
	}

	busy, err := st.repo.ListLiveIntervals(ctx, doctorID, w.From, w.To, now)
	if err != nil {
		return nil, fmt.Errorf("list live intervals: %w", err)
	}

	duration := time.Duration(durationMinutes) * time.Minute
	var candidates []Candidate

	day := w.From.UTC().Truncate(24 * time.Hour)
	for !day.After(w.To) && len(candidates) < maxCandidates {
		workStart := day.Add(time.Duration(doctor.WorkStartMin) * time.Minute)
		workEnd := day.Add(time.Duration(doctor.WorkEndMin) * time.Minute)
		lunchStart := day.Add(time.Duration(doctor.LunchStartMin) * time.Minute)
		lunchEnd := day.Add(time.Duration(doctor.LunchEndMin) * time.Minute)

		for start := workStart; len(candidates) < maxCandidates; start = start.Add(gridStep) {
			end := start.Add(duration)
			if end.After(workEnd) {
				break
			}
			if start.Before(w.From) || end.After(w.To) {
				continue
			}
			if !start.After(now) {
				continue
			}
			// Lunch break blocks the interval.
			if start.Before(lunchEnd) && end.After(lunchStart) {
				continue
			}
			if overlapsAny(busy, start, end) {
				continue
			}
			candidates = append(candidates, Candidate{
				DoctorID:        doctorID,
				StartTime:       start,
				EndTime:         end,
				DurationMinutes: durationMinutes,
			})
		}

		day = day.Add(24 * time.Hour)
	}

	return candidates, nil
}

// Hold atomically reserves [start, start+duration) for the doctor. This is
// the sole synchronization point preventing double-booking: the overlap check
// and the insert run under the per-doctor lock.
func (st *Store) Hold(ctx context.Context, doctorID uuid.UUID, start time.Time, durationMinutes int) (*Hold, error) {
	if durationMinutes != 30 && durationMinutes != 60 {
		return nil, ErrInvalidDuration
	}

	now := st.nowFn()
	if !start.After(now) {
		return nil, ErrStartInPast
	}

	doctor, err := st.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	if !withinWorkingHours(doctor, start, end) {
		return nil, ErrOutsideWorkHours
	}

	var hold *Hold

	err = st.locker.WithDoctorLock(ctx, doctorID, func(lockCtx context.Context) error {
		busy, err := st.repo.ListLiveIntervals(lockCtx, doctorID, start, end, now)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if overlapsAny(busy, start, end) {
			return ErrSlotConflict
		}

		token := uuid.New()
		expiresAt := now.Add(st.holdTTL)
		s := &Slot{
			ID:            uuid.New(),
			DoctorID:      doctorID,
			StartTime:     start,
			EndTime:       end,
			Status:        StatusHeld,
			HoldToken:     &token,
			HoldExpiresAt: &expiresAt,
		}
		if err := st.repo.InsertHeldSlot(lockCtx, s); err != nil {
			return err
		}

		hold = &Hold{
			SlotID:    s.ID,
			DoctorID:  doctorID,
			Token:     token,
			StartTime: start,
			EndTime:   end,
			ExpiresAt: expiresAt,
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrCalendarBusy
		}
		return nil, err
	}

	st.logger.Debug("slot held",
		zap.String("doctor_id", doctorID.String()),
		zap.Time("start", start),
		zap.Int("duration_min", durationMinutes))

	return hold, nil
}

// Confirm transitions a held slot to booked. A hold whose TTL has elapsed, at
// the boundary instant included, fails with ErrHoldExpired and is released so
// the interval opens up again.
func (st *Store) Confirm(ctx context.Context, token uuid.UUID) (*Slot, error) {
	s, err := st.repo.GetSlotByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrHoldNotFound
		}
		return nil, fmt.Errorf("load hold: %w", err)
	}

	var confirmed *Slot

	err = st.locker.WithDoctorLock(ctx, s.DoctorID, func(lockCtx context.Context) error {
		now := st.nowFn()
		booked, err := st.repo.ConfirmByToken(lockCtx, token, now)
		if err == nil {
			confirmed = booked
			return nil
		}
		if !errors.Is(err, ErrHoldNotFound) {
			return fmt.Errorf("confirm slot: %w", err)
		}

		// CAS missed: the hold expired, was released, or was already booked.
		current, getErr := st.repo.GetSlotByToken(lockCtx, token)
		if getErr != nil {
			return ErrHoldNotFound
		}
		if current.Status == StatusBooked {
			confirmed = current
			return nil
		}
		if current.Status == StatusHeld {
			// Expired in place; free the interval for re-selection.
			if relErr := st.repo.ReleaseSlot(lockCtx, current.ID); relErr != nil {
				st.logger.Warn("release of expired hold failed",
					zap.String("slot_id", current.ID.String()), zap.Error(relErr))
			}
		}
		return ErrHoldExpired
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrCalendarBusy
		}
		return nil, err
	}

	return confirmed, nil
}

// Release frees a held or booked slot. Idempotent; releasing an already
// released slot is a no-op.
func (st *Store) Release(ctx context.Context, slotID uuid.UUID) error {
	s, err := st.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return fmt.Errorf("load slot: %w", err)
	}
	if s.Status == StatusReleased {
		return nil
	}

	err = st.locker.WithDoctorLock(ctx, s.DoctorID, func(lockCtx context.Context) error {
		return st.repo.ReleaseSlot(lockCtx, slotID)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return ErrCalendarBusy
		}
		return err
	}

	st.logger.Debug("slot released", zap.String("slot_id", slotID.String()))
	return nil
}

// ReleaseByToken frees the slot a hold token points at. Callers that only
// carry the token from Hold use this instead of Release.
func (st *Store) ReleaseByToken(ctx context.Context, token uuid.UUID) error {
	s, err := st.repo.GetSlotByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return ErrHoldNotFound
		}
		return fmt.Errorf("load hold: %w", err)
	}
	return st.Release(ctx, s.ID)
}

// SweepExpiredHolds releases lapsed holds in bulk. Expired holds are already
// invisible to overlap checks, so the sweep needs no doctor lock; it keeps
// the audit trail honest about abandoned reservations.
func (st *Store) SweepExpiredHolds(ctx context.Context) (int64, error) {
	n, err := st.repo.ReleaseExpiredHolds(ctx, st.nowFn())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		st.logger.Info("expired holds swept", zap.Int64("count", n))
	}
	return n, nil
}

func overlapsAny(busy []Slot, start, end time.Time) bool {
	for i := range busy {
		if busy[i].overlaps(start, end) {
			return true
		}
	}
	return false
}

func withinWorkingHours(d *Doctor, start, end time.Time) bool {
	day := start.UTC().Truncate(24 * time.Hour)
	workStart := day.Add(time.Duration(d.WorkStartMin) * time.Minute)
	workEnd := day.Add(time.Duration(d.WorkEndMin) * time.Minute)
	lunchStart := day.Add(time.Duration(d.LunchStartMin) * time.Minute)
	lunchEnd := day.Add(time.Duration(d.LunchEndMin) * time.Minute)

	if start.Before(workStart) || end.After(workEnd) {
		return false
	}
	if start.Before(lunchEnd) && end.After(lunchStart) {
		return false
	}
	return true
}
