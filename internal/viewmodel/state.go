package viewmodel

import "inkediin-backend/internal/model"

// entry is one cached reservation. base is the last state the server vouched
// for; pending, when set, is the optimistic state of an action in flight.
type entry struct {
	base    model.Reservation
	pending *model.Reservation
}

func (e entry) current() model.Reservation {
	if e.pending != nil {
		return *e.pending
	}
	return e.base
}

// state is an immutable snapshot of the cache. reduce never modifies the
// state it is given.
type state struct {
	entries map[string]entry
}

type action interface{ isAction() }

type (
	// loaded replaces the cache with a bulk fetch.
	loaded struct{ items []model.Reservation }
	// received applies a server-pushed reservation snapshot.
	received struct{ reservation model.Reservation }
	// removed drops a reservation deleted on the server.
	removed struct{ id string }
	// began marks an optimistic action in flight.
	began struct {
		id        string
		projected model.Reservation
	}
	// committed settles an action with the server's answer.
	committed struct{ reservation model.Reservation }
	// rolledBack discards the optimistic state of a failed action.
	rolledBack struct{ id string }
)

func (loaded) isAction()     {}
func (received) isAction()   {}
func (removed) isAction()    {}
func (began) isAction()      {}
func (committed) isAction()  {}
func (rolledBack) isAction() {}

// reduce returns the state that results from applying a to s, and whether
// anything changed.
func reduce(s state, a action) (state, bool) {
	switch a := a.(type) {
	case loaded:
		next := make(map[string]entry, len(a.items))
		for _, r := range a.items {
			e := entry{base: r}
			if old, ok := s.entries[r.ID]; ok {
				// A push may have overtaken the fetch.
				if old.base.Version > r.Version {
					e.base = old.base
				}
				e.pending = old.pending
			}
			next[r.ID] = e
		}
		// Keep entries with an action in flight even if the fetch missed them.
		for id, old := range s.entries {
			if _, ok := next[id]; !ok && old.pending != nil {
				next[id] = old
			}
		}
		return state{entries: next}, true

	case received:
		old, ok := s.entries[a.reservation.ID]
		if ok && a.reservation.Version <= old.base.Version {
			return s, false
		}
		return s.with(a.reservation.ID, entry{base: a.reservation, pending: old.pending}), true

	case removed:
		if _, ok := s.entries[a.id]; !ok {
			return s, false
		}
		return s.without(a.id), true

	case began:
		old, ok := s.entries[a.id]
		if !ok {
			return s, false
		}
		projected := a.projected
		return s.with(a.id, entry{base: old.base, pending: &projected}), true

	case committed:
		old, ok := s.entries[a.reservation.ID]
		if !ok {
			// Deleted while the action was in flight.
			return s, false
		}
		e := entry{base: old.base}
		if a.reservation.Version > old.base.Version {
			e.base = a.reservation
		}
		return s.with(a.reservation.ID, e), true

	case rolledBack:
		old, ok := s.entries[a.id]
		if !ok || old.pending == nil {
			return s, false
		}
		return s.with(a.id, entry{base: old.base}), true
	}
	return s, false
}

func (s state) with(id string, e entry) state {
	next := make(map[string]entry, len(s.entries)+1)
	for k, v := range s.entries {
		next[k] = v
	}
	next[id] = e
	return state{entries: next}
}

func (s state) without(id string) state {
	next := make(map[string]entry, len(s.entries))
	for k, v := range s.entries {
		if k != id {
			next[k] = v
		}
	}
	return state{entries: next}
}
