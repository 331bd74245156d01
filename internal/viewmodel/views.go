package viewmodel

import (
	"sort"
	"time"

	"inkediin-backend/internal/model"
)

// Get returns the reservation as currently shown, and whether an action on it
// is in flight.
func (c *Cache) Get(id string) (model.Reservation, bool, bool) {
	e, ok := c.snapshot().entries[id]
	if !ok {
		return model.Reservation{}, false, false
	}
	return e.current(), e.pending != nil, true
}

// All returns every cached reservation, newest first.
func (c *Cache) All() []model.Reservation {
	return c.filter(func(model.Reservation) bool { return true })
}

// GroupedByStatus returns the cached reservations per status, newest first
// within each group.
func (c *Cache) GroupedByStatus() map[model.Status][]model.Reservation {
	groups := make(map[model.Status][]model.Reservation)
	for _, r := range c.All() {
		groups[r.Status] = append(groups[r.Status], r)
	}
	return groups
}

// Upcoming returns confirmed reservations whose appointment is after now,
// soonest first.
func (c *Cache) Upcoming(now time.Time) []model.Reservation {
	out := c.filter(func(r model.Reservation) bool {
		return r.Status == model.StatusConfirmed && r.AppointmentAt != nil && r.AppointmentAt.After(now)
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AppointmentAt.Before(*out[j].AppointmentAt)
	})
	return out
}

// AwaitingMyResponse returns pending requests the user must answer as artist.
func (c *Cache) AwaitingMyResponse() []model.Reservation {
	return c.filter(func(r model.Reservation) bool {
		return r.Status == model.StatusPending && r.ArtistID == c.userID
	})
}

// AwaitingTheirResponse returns the user's own pending requests.
func (c *Cache) AwaitingTheirResponse() []model.Reservation {
	return c.filter(func(r model.Reservation) bool {
		return r.Status == model.StatusPending && r.ClientID == c.userID
	})
}

// Counts returns the number of cached reservations per status. Every status
// is present.
func (c *Cache) Counts() map[model.Status]int {
	counts := make(map[model.Status]int, len(model.Statuses))
	for _, s := range model.Statuses {
		counts[s] = 0
	}
	for _, e := range c.snapshot().entries {
		counts[e.current().Status]++
	}
	return counts
}

func (c *Cache) filter(keep func(model.Reservation) bool) []model.Reservation {
	st := c.snapshot()
	out := make([]model.Reservation, 0, len(st.entries))
	for _, e := range st.entries {
		if r := e.current(); keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
