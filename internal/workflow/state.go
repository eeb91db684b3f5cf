package workflow

import "errors"

var ErrInvalidTransition = errors.New("invalid appointment state transition")

// Status is the appointment state machine. The first three states exist only
// inside an in-memory intake session; an appointment row is created at
// StatusHeld and is durable from then on.
type Status string

const (
	StatusCollectingInfo      Status = "collecting_info"
	StatusLookingUpPatient    Status = "looking_up_patient"
	StatusSelectingSlot       Status = "selecting_slot"
	StatusHeld                Status = "held"
	StatusCollectingInsurance Status = "collecting_insurance"
	StatusConfirmed           Status = "confirmed"
	StatusRemindersScheduled  Status = "reminders_scheduled"
	StatusCancelled           Status = "cancelled"
	StatusCompleted           Status = "completed"
)

// transitions is the total transition table. Anything not listed is invalid.
var transitions = map[Status][]Status{
	StatusCollectingInfo:   {StatusLookingUpPatient},
	StatusLookingUpPatient: {StatusSelectingSlot},
	StatusSelectingSlot:    {StatusHeld},
	StatusHeld: {
		StatusCollectingInsurance,
		// Returning patients with verified insurance on file skip the
		// collection stage.
		StatusConfirmed,
		// Hold expired before confirmation on the skip path.
		StatusSelectingSlot,
		StatusCancelled,
	},
	StatusCollectingInsurance: {
		StatusConfirmed,
		// Hold expired during confirmation; the caller re-selects.
		StatusSelectingSlot,
		StatusCancelled,
	},
	StatusConfirmed: {
		StatusRemindersScheduled,
		StatusCancelled,
	},
	StatusRemindersScheduled: {
		StatusCompleted,
		StatusCancelled,
	},
	StatusCancelled: nil,
	StatusCompleted: nil,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the state.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// IsDurable reports whether the state is persisted on an appointment row
// rather than held in the intake session.
func IsDurable(s Status) bool {
	switch s {
	case StatusCollectingInfo, StatusLookingUpPatient, StatusSelectingSlot:
		return false
	}
	return true
}
