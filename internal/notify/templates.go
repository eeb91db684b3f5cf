package notify

import "fmt"

// Template IDs used by the workflow and reminder dispatcher.
const (
	TemplateBookingConfirmation = "booking_confirmation"
	TemplateReminderR1          = "reminder_r1"
	TemplateReminderR2          = "reminder_r2"
	TemplateReminderR3          = "reminder_r3"
	TemplateCancellation        = "cancellation_notice"
)

// Render produces subject and body for a template. Subject is empty for SMS.
// Expected params: patient_name, doctor_name, location, date, time, duration.
func Render(template string, channel Channel, p map[string]string) (subject, body string, err error) {
	get := func(key string) string { return p[key] }

	switch template {
	case TemplateBookingConfirmation:
		if channel == ChannelSMS {
			return "", fmt.Sprintf("Your %s appointment with %s on %s at %s is confirmed. Intake forms were sent by email.",
				get("duration"), get("doctor_name"), get("date"), get("time")), nil
		}
		return "Appointment Confirmation & Intake Forms", fmt.Sprintf(
			"Dear %s,\n\nYour appointment is confirmed.\n\nDoctor: %s\nLocation: %s\nDate: %s\nTime: %s\nDuration: %s\n\nWe've attached your intake forms. Please complete them before your visit.",
			get("patient_name"), get("doctor_name"), get("location"), get("date"), get("time"), get("duration")), nil

	case TemplateReminderR1:
		if channel == ChannelSMS {
			return "", fmt.Sprintf("Reminder: appointment with %s on %s at %s. Please complete your intake forms.",
				get("doctor_name"), get("date"), get("time")), nil
		}
		return "Your Upcoming Appointment", fmt.Sprintf(
			"Dear %s,\n\nThis is a reminder of your upcoming appointment:\n\nDoctor: %s\nLocation: %s\nDate: %s\nTime: %s\n\nPlease arrive 15 minutes early for check-in and complete your intake forms before your visit.",
			get("patient_name"), get("doctor_name"), get("location"), get("date"), get("time")), nil

	case TemplateReminderR2:
		if channel == ChannelSMS {
			return "", fmt.Sprintf("Your appointment with %s is tomorrow at %s. Have you completed your intake forms? Reply CANCEL if you cannot attend.",
				get("doctor_name"), get("time")), nil
		}
		return "Appointment Tomorrow - Forms Check", fmt.Sprintf(
			"Dear %s,\n\nYour appointment is tomorrow!\n\nDoctor: %s\nLocation: %s\nTime: %s\n\nHave you completed your intake forms? Please do so before your visit.\n\nIf you cannot attend, reply CANCEL to free up this slot.",
			get("patient_name"), get("doctor_name"), get("location"), get("time")), nil

	case TemplateReminderR3:
		if channel == ChannelSMS {
			return "", fmt.Sprintf("Final reminder: your appointment with %s is in 2 hours (%s). Reply CONFIRM to confirm or CANCEL to cancel.",
				get("doctor_name"), get("time")), nil
		}
		return "Appointment in 2 Hours - Please Confirm", fmt.Sprintf(
			"Dear %s,\n\nYour appointment is in 2 hours!\n\nDoctor: %s\nLocation: %s\nToday at %s\n\nPlease reply CONFIRM to confirm you'll attend, or CANCEL if you cannot make it.\n\nRemember to arrive 15 minutes early.",
			get("patient_name"), get("doctor_name"), get("location"), get("time")), nil

	case TemplateCancellation:
		if channel == ChannelSMS {
			return "", fmt.Sprintf("Your appointment with %s on %s at %s has been cancelled. The slot has been released.",
				get("doctor_name"), get("date"), get("time")), nil
		}
		return "Appointment Cancelled", fmt.Sprintf(
			"Dear %s,\n\nYour appointment has been cancelled:\n\nDoctor: %s\nDate: %s\nTime: %s\n\nThe slot has been released. If this was a mistake, please book again at your convenience.",
			get("patient_name"), get("doctor_name"), get("date"), get("time")), nil
	}

	return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, template)
}

// StageTemplate maps a reminder stage to its template ID.
func StageTemplate(stage string) string {
	switch stage {
	case "r1":
		return TemplateReminderR1
	case "r2":
		return TemplateReminderR2
	case "r3":
		return TemplateReminderR3
	}
	return ""
}
