package notification

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/cespare/xxhash/v2"

	"inkediin-backend/internal/model"
	"inkediin-backend/internal/realtime"
	"inkediin-backend/internal/store"
)

const processTimeout = 10 * time.Second

// Dispatcher turns committed reservation events into notifications. Events are
// spread over one queue per worker by reservation id, so the events of one
// reservation are handled in the order they were dispatched.
type Dispatcher struct {
	queues    []chan model.Event
	store     store.NotificationStore
	broker    realtime.Broker
	sender    NotificationSender
	webpush   *webpush.Options
	publisher Publisher
	loc       *time.Location

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures optional delivery channels of a Dispatcher.
type Option func(*Dispatcher)

// WithWebPush enables browser push with the given VAPID options.
func WithWebPush(opts *webpush.Options) Option {
	return func(d *Dispatcher) { d.webpush = opts }
}

// WithSender replaces the web push transport.
func WithSender(s NotificationSender) Option {
	return func(d *Dispatcher) { d.sender = s }
}

// WithPublisher forwards every event to a message broker.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithLocation sets the zone appointment times are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) { d.loc = loc }
}

// NewDispatcher creates a dispatcher with size workers, each owning a queue of
// queueSize events.
func NewDispatcher(size, queueSize int, st store.NotificationStore, broker realtime.Broker, opts ...Option) *Dispatcher {
	if size < 1 {
		size = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		queues: make([]chan model.Event, size),
		store:  st,
		broker: broker,
		sender: NewWebPushSender(),
		loc:    time.UTC,
	}
	for i := range d.queues {
		d.queues[i] = make(chan model.Event, queueSize)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, q := range d.queues {
		d.wg.Add(1)
		go d.worker(ctx, i, q)
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int, q <-chan model.Event) {
	defer d.wg.Done()
	log.Printf("Dispatcher worker %d started", id)
	for {
		select {
		case e, ok := <-q:
			if !ok {
				log.Printf("Dispatcher worker %d drained", id)
				return
			}
			d.Process(ctx, e)
		case <-ctx.Done():
			log.Printf("Dispatcher worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues e without blocking. When the reservation's queue is full the
// event is dropped and logged; the write it describes is already committed.
func (d *Dispatcher) Dispatch(e model.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Printf("Dispatcher closed, dropping %s for reservation %s", e.Kind, e.Reservation.ID)
		return
	}
	q := d.queues[d.shard(e.Reservation.ID)]
	select {
	case q <- e:
	default:
		log.Printf("Dispatcher queue full, dropping %s for reservation %s", e.Kind, e.Reservation.ID)
	}
}

// Close stops accepting events and waits until the queued ones are handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) shard(reservationID string) int {
	return int(xxhash.Sum64String(reservationID) % uint64(len(d.queues)))
}

// Process delivers every side effect of e. Each step is independent and only
// logs its failure.
func (d *Dispatcher) Process(ctx context.Context, e model.Event) {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	r := &e.Reservation
	if r.IsParty(e.ActorID) {
		d.toast(ctx, e)
	}

	title, body := Compose(e, d.loc)
	for _, userID := range e.Recipients() {
		n := &model.Notification{
			UserID:        userID,
			Kind:          e.Kind,
			Title:         title,
			Body:          body,
			ReservationID: r.ID,
			CreatedAt:     e.OccurredAt,
		}
		if err := d.store.CreateNotification(ctx, n); err != nil {
			log.Printf("Error storing %s notification for %s: %v", e.Kind, userID, err)
		} else {
			d.push(ctx, userID, realtime.TypeNotification, n)
		}
		d.sendWebPush(ctx, userID, title, body, e)
	}

	for _, userID := range e.Parties() {
		d.push(ctx, userID, realtime.TypeReservation, e)
	}

	if d.publisher != nil {
		payload, err := json.Marshal(e)
		if err != nil {
			log.Printf("Error encoding event for reservation %s: %v", r.ID, err)
			return
		}
		if err := d.publisher.Publish(ctx, string(e.Kind), payload); err != nil {
			log.Printf("Error publishing %s for reservation %s: %v", e.Kind, r.ID, err)
		}
	}
}

func (d *Dispatcher) toast(ctx context.Context, e model.Event) {
	d.push(ctx, e.ActorID, realtime.TypeToast, realtime.Toast{
		Level:         "success",
		Text:          ToastText(e),
		ReservationID: e.Reservation.ID,
	})
}

func (d *Dispatcher) push(ctx context.Context, userID, typ string, v any) {
	if d.broker == nil {
		return
	}
	msg, err := realtime.NewMessage(typ, v)
	if err != nil {
		log.Printf("Error encoding %s for %s: %v", typ, userID, err)
		return
	}
	if err := d.broker.Publish(ctx, userID, msg); err != nil {
		log.Printf("Error pushing %s to %s: %v", typ, userID, err)
	}
}

type pushPayload struct {
	Title         string                 `json:"title"`
	Body          string                 `json:"body"`
	Kind          model.NotificationKind `json:"kind"`
	ReservationID string                 `json:"reservationId"`
}

// sendWebPush notifies every browser subscription of userID.
func (d *Dispatcher) sendWebPush(ctx context.Context, userID, title, body string, e model.Event) {
	if d.webpush == nil {
		return
	}
	subs, err := d.store.SubscriptionsFor(ctx, userID)
	if err != nil {
		log.Printf("Error fetching subscriptions for %s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(pushPayload{Title: title, Body: body, Kind: e.Kind, ReservationID: e.Reservation.ID})
	if err != nil {
		log.Printf("Error encoding push payload: %v", err)
		return
	}
	log.Printf("Sending %d push notifications to %s", len(subs), userID)
	opts := pushOptions(d.webpush, e.Kind)
	for _, sub := range subs {
		d.sendNotification(ctx, sub, payload, opts)
	}
}

// sendNotification sends a single web push notification.
func (d *Dispatcher) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte, opts *webpush.Options) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := d.sender.Send(payload, wpSub, opts)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := d.store.ExpireSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
