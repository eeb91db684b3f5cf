package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingsConfirmed counts appointments that reached reminders_scheduled.
	BookingsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_bookings_confirmed_total",
		Help: "Appointments confirmed and scheduled for reminders.",
	})

	// SlotConflicts counts rejected holds due to overlapping reservations.
	SlotConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_slot_conflicts_total",
		Help: "Slot hold attempts rejected because the interval was taken.",
	})

	// HoldsExpired counts holds that lapsed before confirmation.
	HoldsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_holds_expired_total",
		Help: "Slot holds that expired before the booking was confirmed.",
	})

	// RemindersFired counts dispatched reminder jobs by stage.
	RemindersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_reminders_fired_total",
		Help: "Reminder jobs delivered, by stage.",
	}, []string{"stage"})

	// RemindersFailed counts reminder jobs that could not be delivered.
	RemindersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_reminders_failed_total",
		Help: "Reminder jobs that failed delivery or went stale, by stage.",
	}, []string{"stage"})

	// Cancellations counts appointment cancellations by channel.
	Cancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_cancellations_total",
		Help: "Appointment cancellations, by originating channel.",
	}, []string{"channel"})
)
