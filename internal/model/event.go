package model

import "time"

// SystemActor performs writes that no user initiated, such as reminders.
var SystemActor = Actor{ID: "system"}

// Event describes one committed write to a reservation.
type Event struct {
	Kind        NotificationKind `json:"kind"`
	Reservation Reservation      `json:"reservation"`
	From        Status           `json:"from,omitempty"`
	To          Status           `json:"to"`
	ActorID     string           `json:"actorId"`
	ActorRole   Role             `json:"actorRole,omitempty"`
	Note        string           `json:"note,omitempty"`
	OccurredAt  time.Time        `json:"occurredAt"`
}

// Recipients returns the users who get a persistent notification for e: the
// counterparty of the actor, or both parties when the actor is not one of them.
func (e Event) Recipients() []string {
	r := &e.Reservation
	if r.IsParty(e.ActorID) {
		return []string{r.Counterparty(e.ActorID)}
	}
	return []string{r.ClientID, r.ArtistID}
}

// Parties returns the client and the artist of the reservation.
func (e Event) Parties() []string {
	return []string{e.Reservation.ClientID, e.Reservation.ArtistID}
}

// KindForStatus maps a target status to the event kind announcing it.
func KindForStatus(s Status) NotificationKind {
	switch s {
	case StatusPending:
		return KindCreated
	case StatusConfirmed:
		return KindConfirmed
	case StatusRejected:
		return KindRejected
	case StatusCancelled:
		return KindCancelled
	case StatusCompleted:
		return KindCompleted
	}
	return KindModified
}
