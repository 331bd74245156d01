// Package viewmodel keeps one user's reservations cached on the client side.
// The cache is filled by a bulk fetch, kept current by pushed events and
// updated optimistically while the user's own actions are in flight. Every
// mutation goes through a single reducer.
package viewmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"inkediin-backend/internal/apperr"
	"inkediin-backend/internal/client"
	"inkediin-backend/internal/model"
	"inkediin-backend/internal/parse"
	"inkediin-backend/internal/realtime"
)

const defaultActionTimeout = 30 * time.Second

// ErrActionInFlight is returned when an action targets a reservation whose
// previous action has not settled yet.
var ErrActionInFlight = errors.New("an action on this reservation is already in flight")

// Backend is the data access the cache needs. *client.Client implements it.
type Backend interface {
	ListAll(ctx context.Context) ([]model.Reservation, error)
	Respond(ctx context.Context, id string, in client.RespondInput) (*model.Reservation, error)
	Cancel(ctx context.Context, id, reason string, expectedVersion *int64) (*model.Reservation, error)
	Complete(ctx context.Context, id string, expectedVersion *int64) (*model.Reservation, error)
}

// Cache is the reservation cache of one user.
type Cache struct {
	userID  string
	backend Backend
	timeout time.Duration
	loc     *time.Location

	mu        sync.RWMutex
	st        state
	listeners []func()
}

// Option configures a Cache.
type Option func(*Cache)

// WithActionTimeout bounds each server call of an optimistic action. A call
// that times out counts as failed.
func WithActionTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

// WithLocation sets the zone used to project appointment times that carry no
// offset.
func WithLocation(loc *time.Location) Option {
	return func(c *Cache) { c.loc = loc }
}

// New creates an empty cache for userID.
func New(userID string, backend Backend, opts ...Option) *Cache {
	c := &Cache{
		userID:  userID,
		backend: backend,
		timeout: defaultActionTimeout,
		loc:     time.UTC,
		st:      state{entries: map[string]entry{}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to be called after every change of the cache.
func (c *Cache) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// dispatch runs a through the reducer and notifies listeners on change.
func (c *Cache) dispatch(a action) {
	c.mu.Lock()
	next, changed := reduce(c.st, a)
	c.st = next
	listeners := c.listeners
	c.mu.Unlock()

	if changed {
		notify(listeners)
	}
}

func notify(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}

func (c *Cache) snapshot() state {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st
}

// Load replaces the cache with every reservation of the user.
func (c *Cache) Load(ctx context.Context) error {
	items, err := c.backend.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load reservations: %w", err)
	}
	c.dispatch(loaded{items: items})
	return nil
}

// Apply folds one pushed message into the cache. Messages other than
// reservation updates are ignored. An update whose version is not newer than
// the cached one is stale and dropped.
func (c *Cache) Apply(msg realtime.Message) error {
	if msg.Type != realtime.TypeReservation {
		return nil
	}
	var e model.Event
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		return fmt.Errorf("failed to decode reservation update: %w", err)
	}
	if e.Kind == model.KindDeleted {
		c.dispatch(removed{id: e.Reservation.ID})
		return nil
	}
	c.dispatch(received{reservation: e.Reservation})
	return nil
}

// Run applies messages from feed in delivery order until the feed closes or
// ctx is done.
func (c *Cache) Run(ctx context.Context, feed <-chan realtime.Message) {
	for {
		select {
		case msg, ok := <-feed:
			if !ok {
				return
			}
			if err := c.Apply(msg); err != nil {
				log.Printf("Ignoring pushed message: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Respond confirms or rejects a pending reservation as its artist.
func (c *Cache) Respond(ctx context.Context, id string, in client.RespondInput) (*model.Reservation, error) {
	return c.act(ctx, id, func(r *model.Reservation) {
		r.Status = in.Status
		switch in.Status {
		case model.StatusConfirmed:
			r.ArtistResponse = in.Message
			if at, err := parse.Appointment(in.AppointmentAt, "", c.loc); err == nil {
				r.AppointmentAt = &at
			}
			if in.Location != nil {
				r.Location = *in.Location
			}
			if in.DurationMinutes != nil {
				r.DurationMinutes = *in.DurationMinutes
			}
		case model.StatusRejected:
			r.ArtistResponse = in.Message
			r.Reason = in.Reason
		}
	}, func(ctx context.Context, version int64) (*model.Reservation, error) {
		if in.ExpectedVersion == nil {
			in.ExpectedVersion = &version
		}
		return c.backend.Respond(ctx, id, in)
	})
}

// Cancel cancels a pending or confirmed reservation.
func (c *Cache) Cancel(ctx context.Context, id, reason string) (*model.Reservation, error) {
	return c.act(ctx, id, func(r *model.Reservation) {
		r.Status = model.StatusCancelled
		r.Reason = reason
		role := model.RoleClient
		if r.ArtistID == c.userID {
			role = model.RoleArtist
		}
		r.CancelledBy = &role
	}, func(ctx context.Context, version int64) (*model.Reservation, error) {
		return c.backend.Cancel(ctx, id, reason, &version)
	})
}

// Complete marks a confirmed reservation as done.
func (c *Cache) Complete(ctx context.Context, id string) (*model.Reservation, error) {
	return c.act(ctx, id, func(r *model.Reservation) {
		r.Status = model.StatusCompleted
	}, func(ctx context.Context, version int64) (*model.Reservation, error) {
		return c.backend.Complete(ctx, id, &version)
	})
}

// act runs an optimistic action: project shows the expected outcome while
// call runs against the server; the projection is then replaced by the
// server's answer or discarded.
func (c *Cache) act(ctx context.Context, id string, project func(*model.Reservation), call func(context.Context, int64) (*model.Reservation, error)) (*model.Reservation, error) {
	version, err := c.begin(id, project)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	updated, err := call(ctx, version)
	if err != nil {
		c.dispatch(rolledBack{id: id})
		return nil, err
	}
	c.dispatch(committed{reservation: *updated})
	return updated, nil
}

// begin installs the projection of an action and returns the version it was
// based on. The check for an action in flight and the install happen under
// one lock.
func (c *Cache) begin(id string, project func(*model.Reservation)) (int64, error) {
	c.mu.Lock()
	e, ok := c.st.entries[id]
	if !ok {
		c.mu.Unlock()
		return 0, apperr.NotFound("reservation %s is not cached", id)
	}
	if e.pending != nil {
		c.mu.Unlock()
		return 0, ErrActionInFlight
	}
	projected := e.base
	project(&projected)
	c.st, _ = reduce(c.st, began{id: id, projected: projected})
	listeners := c.listeners
	c.mu.Unlock()

	notify(listeners)
	return e.base.Version, nil
}
