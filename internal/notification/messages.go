package notification

import (
	"fmt"
	"time"

	"inkediin-backend/internal/model"
)

// Compose returns the title and body of the persistent notification a
// recipient receives for e. loc formats the appointment time.
func Compose(e model.Event, loc *time.Location) (string, string) {
	r := &e.Reservation
	name := r.Title()
	who := "The " + string(e.ActorRole)
	if e.ActorRole == "" {
		who = "Inkediin"
	}

	switch e.Kind {
	case model.KindCreated:
		return "New reservation request", fmt.Sprintf("A client requested %s.", name)
	case model.KindConfirmed:
		return "Reservation confirmed", fmt.Sprintf("The artist confirmed %s for %s.", name, appointment(r, loc))
	case model.KindRejected:
		body := fmt.Sprintf("The artist declined %s.", name)
		if r.Reason != "" {
			body += " Reason: " + r.Reason
		}
		if r.ArtistResponse != "" {
			body += " Message from the artist: " + r.ArtistResponse
		}
		return "Reservation declined", body
	case model.KindCancelled:
		return "Reservation cancelled", withNote(fmt.Sprintf("%s cancelled %s.", who, name), e.Note)
	case model.KindCompleted:
		return "Reservation completed", fmt.Sprintf("%s is marked as completed.", name)
	case model.KindModified:
		return "Reservation updated", fmt.Sprintf("%s updated the details of %s.", who, name)
	case model.KindAppointment:
		return "Appointment scheduled", fmt.Sprintf("The appointment for %s is set to %s.", name, appointment(r, loc))
	case model.KindReminder:
		return "Upcoming appointment", fmt.Sprintf("Reminder: %s is scheduled for %s.", name, appointment(r, loc))
	case model.KindDeleted:
		return "Reservation removed", fmt.Sprintf("%s was removed by an administrator.", name)
	}
	return "Reservation update", name
}

// ToastText is the short confirmation shown to the user who acted.
func ToastText(e model.Event) string {
	switch e.Kind {
	case model.KindCreated:
		return "Reservation request sent"
	case model.KindConfirmed:
		return "Reservation confirmed"
	case model.KindRejected:
		return "Reservation declined"
	case model.KindCancelled:
		return "Reservation cancelled"
	case model.KindCompleted:
		return "Reservation completed"
	case model.KindAppointment:
		return "Appointment saved"
	case model.KindDeleted:
		return "Reservation deleted"
	}
	return "Reservation updated"
}

func appointment(r *model.Reservation, loc *time.Location) string {
	if r.AppointmentAt == nil {
		return "a date to be agreed"
	}
	if loc == nil {
		loc = time.UTC
	}
	return r.AppointmentAt.In(loc).Format("Mon 2 Jan 2006 15:04")
}

func withNote(text, note string) string {
	if note == "" {
		return text
	}
	return fmt.Sprintf("%s Reason: %s", text, note)
}
