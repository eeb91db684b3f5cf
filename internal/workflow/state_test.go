package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusCollectingInfo, StatusLookingUpPatient},
		{StatusLookingUpPatient, StatusSelectingSlot},
		{StatusSelectingSlot, StatusHeld},
		{StatusHeld, StatusCollectingInsurance},
		{StatusHeld, StatusConfirmed},
		{StatusHeld, StatusCancelled},
		{StatusCollectingInsurance, StatusConfirmed},
		{StatusCollectingInsurance, StatusSelectingSlot},
		{StatusCollectingInsurance, StatusCancelled},
		{StatusConfirmed, StatusRemindersScheduled},
		{StatusConfirmed, StatusCancelled},
		{StatusRemindersScheduled, StatusCompleted},
		{StatusRemindersScheduled, StatusCancelled},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to Status }{
		{StatusCollectingInfo, StatusHeld},
		{StatusSelectingSlot, StatusConfirmed},
		{StatusConfirmed, StatusHeld},
		{StatusCancelled, StatusHeld},
		{StatusCancelled, StatusCompleted},
		{StatusCompleted, StatusCancelled},
		{StatusRemindersScheduled, StatusConfirmed},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminal(StatusCancelled))
	assert.True(t, IsTerminal(StatusCompleted))
	assert.False(t, IsTerminal(StatusHeld))
	assert.False(t, IsTerminal(StatusRemindersScheduled))
}

func TestDurableStates(t *testing.T) {
	assert.False(t, IsDurable(StatusCollectingInfo))
	assert.False(t, IsDurable(StatusLookingUpPatient))
	assert.False(t, IsDurable(StatusSelectingSlot))
	assert.True(t, IsDurable(StatusHeld))
	assert.True(t, IsDurable(StatusCancelled))
}
