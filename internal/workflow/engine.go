// Package workflow owns every write to a reservation. Each operation validates
// the request against the reservation's current state, persists it through a
// single versioned store update and hands exactly one event to the dispatcher.
package workflow

import (
	"context"
	"net/url"
	"strings"
	"time"

	"inkediin-backend/internal/apperr"
	"inkediin-backend/internal/clock"
	"inkediin-backend/internal/model"
	"inkediin-backend/internal/parse"
	"inkediin-backend/internal/store"
)

const maxDurationMinutes = 24 * 60

// Dispatcher receives the event of every committed write. Implementations must
// not block the caller.
type Dispatcher interface {
	Dispatch(e model.Event)
}

// Engine is the sole writer of reservations.
type Engine struct {
	store      store.ReservationStore
	dispatcher Dispatcher
	clock      clock.Clock
	loc        *time.Location
}

// NewEngine creates an engine. loc is the zone appointment times without an
// offset are read in; nil means UTC.
func NewEngine(s store.ReservationStore, d Dispatcher, clk clock.Clock, loc *time.Location) *Engine {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{store: s, dispatcher: d, clock: clk, loc: loc}
}

// Payload carries the optional data accompanying a transition.
type Payload struct {
	Message          string
	Reason           string
	AppointmentAt    string
	AppointmentTime  string
	DurationMinutes  *int
	Location         *string
	QuotedPriceCents *int64
	ConversationID   *string
	ExpectedVersion  *int64
}

// TransitionRequest asks for reservation ReservationID to move to status To.
type TransitionRequest struct {
	ReservationID string
	To            model.Status
	Actor         model.Actor
	Payload       Payload
}

// ApplyTransition validates and applies a status change. Checks run in a fixed
// order: existence, terminal state, legal pair, actor, payload, version.
func (e *Engine) ApplyTransition(ctx context.Context, req TransitionRequest) (*model.Reservation, error) {
	r, err := e.store.GetByID(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}
	from := r.Status

	if from.Terminal() {
		return nil, apperr.InvalidTransition("reservation already finalized (%s)", from)
	}
	rl, ok := transitions[edge{from, req.To}]
	if !ok {
		return nil, apperr.InvalidTransition("cannot move a %s reservation to %q", from, req.To)
	}
	if !rl.permits(req.Actor.Role) || !actsAs(r, req.Actor) {
		return nil, apperr.Forbidden("only the %s may %s this reservation", rolesLabel(rl.roles), rl.action)
	}

	now := e.clock.Now()
	status := req.To
	patch := store.Patch{Status: &status, UpdatedAt: now}
	note := strings.TrimSpace(req.Payload.Message)

	switch req.To {
	case model.StatusConfirmed:
		at := r.AppointmentAt
		if strings.TrimSpace(req.Payload.AppointmentAt) != "" {
			parsed, err := e.appointment(req.Payload.AppointmentAt, req.Payload.AppointmentTime)
			if err != nil {
				return nil, err
			}
			at = &parsed
			patch.AppointmentAt = &parsed
		}
		if at == nil {
			return nil, apperr.Validation("an appointment date is required to confirm a reservation")
		}
		if err := e.applyArtistTerms(&patch, req.Payload.DurationMinutes, req.Payload.Location, req.Payload.QuotedPriceCents); err != nil {
			return nil, err
		}
		if note != "" {
			patch.ArtistResponse = &note
		}
	case model.StatusRejected:
		if note != "" {
			patch.ArtistResponse = &note
		}
		if reason := strings.TrimSpace(req.Payload.Reason); reason != "" {
			patch.Reason = &reason
			if note == "" {
				note = reason
			}
		}
	case model.StatusCancelled:
		reason := strings.TrimSpace(req.Payload.Reason)
		if reason == "" && req.Actor.Role == model.RoleArtist {
			return nil, apperr.Validation("a reason is required when the artist cancels")
		}
		if reason != "" {
			patch.Reason = &reason
			note = reason
		}
		role := req.Actor.Role
		patch.CancelledBy = &role
	case model.StatusCompleted:
		if r.AppointmentAt == nil {
			return nil, apperr.Validation("an appointment must be set before completing a reservation")
		}
	}
	if req.Payload.ConversationID != nil {
		id := strings.TrimSpace(*req.Payload.ConversationID)
		patch.ConversationID = &id
	}

	if err := checkVersion(r, req.Payload.ExpectedVersion); err != nil {
		return nil, err
	}

	patch.History = &model.ReservationHistory{
		FromStatus: from,
		ToStatus:   req.To,
		ActorID:    req.Actor.ID,
		ActorRole:  req.Actor.Role,
		Action:     rl.action,
		Note:       note,
		ObservedAt: now,
	}

	updated, err := e.store.Update(ctx, r.ID, patch, r.Version)
	if err != nil {
		return nil, err
	}
	e.emit(model.KindForStatus(req.To), updated, from, req.Actor, note, now)
	return updated, nil
}

// CreateInput describes a new reservation request.
type CreateInput struct {
	ArtistID        string
	Type            model.Type
	FlashID         string
	ProjectTitle    string
	Description     string
	Style           string
	Size            string
	Placement       string
	Budget          string
	ReferenceImages []string
	PreferredDates  []string
	Message         string
	ConversationID  string
}

// Create records a new pending reservation on behalf of a client.
func (e *Engine) Create(ctx context.Context, actor model.Actor, in CreateInput) (*model.Reservation, error) {
	if actor.Role != model.RoleClient || actor.ID == "" {
		return nil, apperr.Forbidden("only clients may request a reservation")
	}
	artistID := strings.TrimSpace(in.ArtistID)
	if artistID == "" {
		return nil, apperr.Validation("artistId is required")
	}
	if artistID == actor.ID {
		return nil, apperr.Validation("a reservation needs two different parties")
	}
	if !in.Type.Valid() {
		return nil, apperr.Validation("unknown reservation type %q", in.Type)
	}
	if err := validateImages(in.ReferenceImages); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	r := &model.Reservation{
		ClientID:        actor.ID,
		ArtistID:        artistID,
		Type:            in.Type,
		Status:          model.StatusPending,
		Version:         1,
		Message:         strings.TrimSpace(in.Message),
		ReferenceImages: trimAll(in.ReferenceImages),
		PreferredDates:  trimAll(in.PreferredDates),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	switch in.Type {
	case model.TypeFlash:
		flashID := strings.TrimSpace(in.FlashID)
		if flashID == "" {
			return nil, apperr.Validation("flashId is required for a flash reservation")
		}
		if in.ProjectTitle != "" || in.Description != "" {
			return nil, apperr.Validation("a flash reservation carries no project details")
		}
		r.FlashID = &flashID
	case model.TypeCustom:
		if strings.TrimSpace(in.FlashID) != "" {
			return nil, apperr.Validation("a custom reservation cannot reference a flash")
		}
		r.ProjectTitle = strings.TrimSpace(in.ProjectTitle)
		r.Description = strings.TrimSpace(in.Description)
		if r.ProjectTitle == "" || r.Description == "" {
			return nil, apperr.Validation("projectTitle and description are required for a custom reservation")
		}
		r.Style = strings.TrimSpace(in.Style)
		r.Size = strings.TrimSpace(in.Size)
		r.Placement = strings.TrimSpace(in.Placement)
		r.Budget = strings.TrimSpace(in.Budget)
	}
	if id := strings.TrimSpace(in.ConversationID); id != "" {
		r.ConversationID = &id
	}

	history := &model.ReservationHistory{
		ToStatus:   model.StatusPending,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     "create",
		Note:       r.Message,
		ObservedAt: now,
	}
	if err := e.store.Create(ctx, r, history); err != nil {
		return nil, err
	}
	e.emit(model.KindCreated, r, "", actor, r.Message, now)
	return r, nil
}

// Amendment lists the fields a party may change on a live reservation. The
// client owns the project details, the artist owns the practical terms.
type Amendment struct {
	ProjectTitle    *string
	Description     *string
	Style           *string
	Size            *string
	Placement       *string
	Budget          *string
	Message         *string
	ReferenceImages *[]string
	PreferredDates  *[]string

	Location         *string
	DurationMinutes  *int
	QuotedPriceCents *int64

	ConversationID *string
}

func (a Amendment) clientFields() bool {
	return a.ProjectTitle != nil || a.Description != nil || a.Style != nil || a.Size != nil ||
		a.Placement != nil || a.Budget != nil || a.Message != nil || a.ReferenceImages != nil || a.PreferredDates != nil
}

func (a Amendment) artistFields() bool {
	return a.Location != nil || a.DurationMinutes != nil || a.QuotedPriceCents != nil
}

// Modify amends a pending or confirmed reservation without changing its status.
func (e *Engine) Modify(ctx context.Context, id string, actor model.Actor, a Amendment, expectedVersion *int64) (*model.Reservation, error) {
	r, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := amendable(r); err != nil {
		return nil, err
	}
	if !actsAs(r, actor) {
		return nil, apperr.Forbidden("only the parties of a reservation may modify it")
	}
	if !a.clientFields() && !a.artistFields() && a.ConversationID == nil {
		return nil, apperr.Validation("nothing to modify")
	}
	if a.clientFields() && actor.Role != model.RoleClient {
		return nil, apperr.Forbidden("only the client may change the request details")
	}
	if a.artistFields() && actor.Role != model.RoleArtist {
		return nil, apperr.Forbidden("only the artist may change location, duration or price")
	}

	now := e.clock.Now()
	patch := store.Patch{UpdatedAt: now}

	if a.ProjectTitle != nil || a.Description != nil || a.Style != nil || a.Size != nil || a.Placement != nil || a.Budget != nil {
		if r.Type != model.TypeCustom {
			return nil, apperr.Validation("a flash reservation carries no project details")
		}
	}
	if a.ProjectTitle != nil {
		v := strings.TrimSpace(*a.ProjectTitle)
		if v == "" {
			return nil, apperr.Validation("projectTitle cannot be blank")
		}
		patch.ProjectTitle = &v
	}
	if a.Description != nil {
		v := strings.TrimSpace(*a.Description)
		if v == "" {
			return nil, apperr.Validation("description cannot be blank")
		}
		patch.Description = &v
	}
	patch.Style = trimmed(a.Style)
	patch.Size = trimmed(a.Size)
	patch.Placement = trimmed(a.Placement)
	patch.Budget = trimmed(a.Budget)
	patch.Message = trimmed(a.Message)
	patch.ConversationID = trimmed(a.ConversationID)
	if a.ReferenceImages != nil {
		if err := validateImages(*a.ReferenceImages); err != nil {
			return nil, err
		}
		v := []string(trimAll(*a.ReferenceImages))
		patch.ReferenceImages = &v
	}
	if a.PreferredDates != nil {
		v := []string(trimAll(*a.PreferredDates))
		patch.PreferredDates = &v
	}
	if err := e.applyArtistTerms(&patch, a.DurationMinutes, a.Location, a.QuotedPriceCents); err != nil {
		return nil, err
	}

	if err := checkVersion(r, expectedVersion); err != nil {
		return nil, err
	}

	patch.History = &model.ReservationHistory{
		FromStatus: r.Status,
		ToStatus:   r.Status,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     "modify",
		ObservedAt: now,
	}
	updated, err := e.store.Update(ctx, r.ID, patch, r.Version)
	if err != nil {
		return nil, err
	}
	e.emit(model.KindModified, updated, r.Status, actor, "", now)
	return updated, nil
}

// AppointmentInput sets or moves the appointment of a reservation.
type AppointmentInput struct {
	Date            string
	Time            string
	DurationMinutes *int
	Location        *string
}

// SetAppointment lets the artist schedule a pending or confirmed reservation.
func (e *Engine) SetAppointment(ctx context.Context, id string, actor model.Actor, in AppointmentInput, expectedVersion *int64) (*model.Reservation, error) {
	r, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := amendable(r); err != nil {
		return nil, err
	}
	if actor.Role != model.RoleArtist || !actsAs(r, actor) {
		return nil, apperr.Forbidden("only the artist may set the appointment")
	}
	at, err := e.appointment(in.Date, in.Time)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	patch := store.Patch{AppointmentAt: &at, UpdatedAt: now}
	if err := e.applyArtistTerms(&patch, in.DurationMinutes, in.Location, nil); err != nil {
		return nil, err
	}
	if r.ReminderSentAt != nil && (r.AppointmentAt == nil || !r.AppointmentAt.Equal(at)) {
		patch.ClearReminder = true
	}
	if err := checkVersion(r, expectedVersion); err != nil {
		return nil, err
	}

	note := at.In(e.loc).Format("2006-01-02 15:04")
	patch.History = &model.ReservationHistory{
		FromStatus: r.Status,
		ToStatus:   r.Status,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     "appointment",
		Note:       note,
		ObservedAt: now,
	}
	updated, err := e.store.Update(ctx, r.ID, patch, r.Version)
	if err != nil {
		return nil, err
	}
	e.emit(model.KindAppointment, updated, r.Status, actor, note, now)
	return updated, nil
}

// RecordReminder stores that the appointment reminder for r went out and
// notifies both parties. r must be the version the caller observed.
func (e *Engine) RecordReminder(ctx context.Context, r *model.Reservation) (*model.Reservation, error) {
	if r.Status != model.StatusConfirmed || r.AppointmentAt == nil {
		return nil, apperr.InvalidTransition("reservation %s has no upcoming appointment", r.ID)
	}
	now := e.clock.Now()
	patch := store.Patch{
		ReminderSentAt: &now,
		UpdatedAt:      now,
		History: &model.ReservationHistory{
			FromStatus: r.Status,
			ToStatus:   r.Status,
			ActorID:    model.SystemActor.ID,
			ActorRole:  model.SystemActor.Role,
			Action:     "reminder",
			ObservedAt: now,
		},
	}
	updated, err := e.store.Update(ctx, r.ID, patch, r.Version)
	if err != nil {
		return nil, err
	}
	e.emit(model.KindReminder, updated, r.Status, model.SystemActor, "", now)
	return updated, nil
}

// Get returns a reservation readable by actor: one of its parties or an admin.
func (e *Engine) Get(ctx context.Context, id string, actor model.Actor) (*model.Reservation, error) {
	r, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != model.RoleAdmin && !r.IsParty(actor.ID) {
		return nil, apperr.Forbidden("not a party of reservation %s", id)
	}
	return r, nil
}

// History returns the audit trail of a reservation readable by actor.
func (e *Engine) History(ctx context.Context, id string, actor model.Actor) ([]model.ReservationHistory, error) {
	if _, err := e.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	return e.store.History(ctx, id)
}

// List returns the actor's reservations. role narrows the side the actor is on
// and may be empty.
func (e *Engine) List(ctx context.Context, actor model.Actor, role model.Role, f store.Filter, page, limit int) (store.Page, error) {
	if role != "" && role != model.RoleClient && role != model.RoleArtist {
		return store.Page{}, apperr.Validation("unknown role %q", role)
	}
	return e.store.ListByParty(ctx, actor.ID, role, f, page, limit)
}

// Stats counts the actor's reservations per status.
func (e *Engine) Stats(ctx context.Context, actor model.Actor, role model.Role) (map[model.Status]int64, error) {
	return e.store.CountByStatus(ctx, actor.ID, role)
}

// Delete removes a reservation as an administrative override.
func (e *Engine) Delete(ctx context.Context, id string, actor model.Actor) error {
	if actor.Role != model.RoleAdmin {
		return apperr.Forbidden("only administrators may delete reservations")
	}
	r, err := e.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.emit(model.KindDeleted, r, r.Status, actor, "", e.clock.Now())
	return nil
}

func (e *Engine) emit(kind model.NotificationKind, r *model.Reservation, from model.Status, actor model.Actor, note string, at time.Time) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.Dispatch(model.Event{
		Kind:        kind,
		Reservation: *r,
		From:        from,
		To:          r.Status,
		ActorID:     actor.ID,
		ActorRole:   actor.Role,
		Note:        note,
		OccurredAt:  at,
	})
}

// appointment parses a requested appointment and refuses instants in the past.
func (e *Engine) appointment(date, clock string) (time.Time, error) {
	at, err := parse.Appointment(date, clock, e.loc)
	if err != nil {
		return time.Time{}, apperr.Validation("%v", err)
	}
	if at.Before(e.clock.Now()) {
		return time.Time{}, apperr.Validation("appointment %s is in the past", at.Format(time.RFC3339))
	}
	return at, nil
}

func (e *Engine) applyArtistTerms(p *store.Patch, duration *int, location *string, priceCents *int64) error {
	if duration != nil {
		if *duration <= 0 || *duration > maxDurationMinutes {
			return apperr.Validation("durationMinutes must be between 1 and %d", maxDurationMinutes)
		}
		p.DurationMinutes = duration
	}
	if location != nil {
		p.Location = trimmed(location)
	}
	if priceCents != nil {
		if *priceCents < 0 {
			return apperr.Validation("quotedPriceCents cannot be negative")
		}
		p.QuotedPriceCents = priceCents
	}
	return nil
}

func amendable(r *model.Reservation) error {
	if r.Status != model.StatusPending && r.Status != model.StatusConfirmed {
		return apperr.InvalidTransition("a %s reservation can no longer be modified", r.Status)
	}
	return nil
}

func checkVersion(r *model.Reservation, expected *int64) error {
	if expected != nil && *expected != r.Version {
		return apperr.Conflict("reservation %s is at version %d, not %d; reload and retry", r.ID, r.Version, *expected)
	}
	return nil
}

func validateImages(urls []string) error {
	for _, raw := range urls {
		u, err := url.ParseRequestURI(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperr.Validation("invalid reference image URL %q", raw)
		}
	}
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func rolesLabel(roles []model.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, " or ")
}
