package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkediin-backend/internal/model"
	"inkediin-backend/internal/realtime"
	"inkediin-backend/internal/store"
	"inkediin-backend/internal/testutil"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

type published struct {
	key  string
	body []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, key string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{key: key, body: body})
	return f.err
}

func response(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(""))}
}

func event(kind model.NotificationKind, from, to model.Status, version int64) model.Event {
	at := time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC)
	flash := "flash-swallow"
	return model.Event{
		Kind: kind,
		Reservation: model.Reservation{
			ID: "res-1", ClientID: "client-c", ArtistID: "artist-a",
			Type: model.TypeFlash, Status: to, Version: version,
			FlashID: &flash, AppointmentAt: &at,
		},
		From:       from,
		To:         to,
		ActorID:    "artist-a",
		ActorRole:  model.RoleArtist,
		OccurredAt: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func drain(ch <-chan realtime.Message) []realtime.Message {
	var out []realtime.Message
	for {
		select {
		case msg := <-ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func types(msgs []realtime.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func TestDispatcher_DeliversEverySideEffect(t *testing.T) {
	st := store.NewGormStore(testutil.NewSQLite(t))
	ctx := context.Background()
	require.NoError(t, st.SaveSubscription(ctx, &model.PushSubscription{
		Endpoint: "https://push.example/client", P256DH: "p256", Auth: "auth", UserID: "client-c",
	}))
	require.NoError(t, st.SaveSubscription(ctx, &model.PushSubscription{
		Endpoint: "https://push.example/artist", P256DH: "p256", Auth: "auth", UserID: "artist-a",
	}))

	broker := realtime.NewMemoryBroker()
	artistFeed, cancelArtist, err := broker.Subscribe(ctx, "artist-a")
	require.NoError(t, err)
	defer cancelArtist()
	clientFeed, cancelClient, err := broker.Subscribe(ctx, "client-c")
	require.NoError(t, err)
	defer cancelClient()

	var mu sync.Mutex
	var pushedTo []string
	sender := &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			mu.Lock()
			pushedTo = append(pushedTo, sub.Endpoint)
			mu.Unlock()
			var p pushPayload
			assert.NoError(t, json.Unmarshal(payload, &p))
			assert.Equal(t, "Reservation confirmed", p.Title)
			assert.Equal(t, "res-1", p.ReservationID)
			assert.Equal(t, webpush.UrgencyNormal, options.Urgency)
			return response(http.StatusCreated), nil
		},
	}
	pub := &fakePublisher{}

	d := NewDispatcher(2, 8, st, broker,
		WithWebPush(&webpush.Options{}), WithSender(sender), WithPublisher(pub))
	d.Start(ctx)
	d.Dispatch(event(model.KindConfirmed, model.StatusPending, model.StatusConfirmed, 2))
	d.Close()

	// The actor gets a toast and the snapshot, the counterparty a notification
	// and the snapshot.
	artistMsgs := drain(artistFeed)
	assert.Equal(t, []string{realtime.TypeToast, realtime.TypeReservation}, types(artistMsgs))
	var toast realtime.Toast
	require.NoError(t, json.Unmarshal(artistMsgs[0].Data, &toast))
	assert.Equal(t, "Reservation confirmed", toast.Text)

	clientMsgs := drain(clientFeed)
	assert.Equal(t, []string{realtime.TypeNotification, realtime.TypeReservation}, types(clientMsgs))
	var snapshot model.Event
	require.NoError(t, json.Unmarshal(clientMsgs[1].Data, &snapshot))
	assert.Equal(t, int64(2), snapshot.Reservation.Version)
	assert.Equal(t, model.StatusConfirmed, snapshot.To)

	inbox, total, err := st.ListNotifications(ctx, "client-c", true, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, model.KindConfirmed, inbox[0].Kind)
	assert.Contains(t, inbox[0].Body, "Thu 1 May 2025 14:00")

	_, artistTotal, err := st.ListNotifications(ctx, "artist-a", false, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, artistTotal)

	assert.Equal(t, []string{"https://push.example/client"}, pushedTo)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "reservation.confirmed", pub.msgs[0].key)
}

func TestDispatcher_DeletesExpiredSubscription(t *testing.T) {
	st := store.NewGormStore(testutil.NewSQLite(t))
	ctx := context.Background()
	require.NoError(t, st.SaveSubscription(ctx, &model.PushSubscription{
		Endpoint: "https://push.example/expired", P256DH: "p256", Auth: "auth", UserID: "client-c",
	}))

	sender := &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			return response(http.StatusGone), nil
		},
	}
	d := NewDispatcher(1, 1, st, realtime.NewMemoryBroker(), WithWebPush(&webpush.Options{}), WithSender(sender))
	d.Process(ctx, event(model.KindCompleted, model.StatusConfirmed, model.StatusCompleted, 3))

	subs, err := st.SubscriptionsFor(ctx, "client-c")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestDispatcher_FailuresDoNotStopDelivery(t *testing.T) {
	st := store.NewGormStore(testutil.NewSQLite(t))
	ctx := context.Background()
	require.NoError(t, st.SaveSubscription(ctx, &model.PushSubscription{
		Endpoint: "https://push.example/down", P256DH: "p256", Auth: "auth", UserID: "client-c",
	}))

	broker := realtime.NewMemoryBroker()
	clientFeed, cancel, err := broker.Subscribe(ctx, "client-c")
	require.NoError(t, err)
	defer cancel()

	sender := &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			return nil, errors.New("push service unreachable")
		},
	}
	pub := &fakePublisher{err: errors.New("broker down")}
	d := NewDispatcher(1, 1, st, broker, WithWebPush(&webpush.Options{}), WithSender(sender), WithPublisher(pub))

	e := event(model.KindCancelled, model.StatusPending, model.StatusCancelled, 2)
	e.ActorID, e.ActorRole, e.Note = "artist-a", model.RoleArtist, "studio closed"
	d.Process(ctx, e)

	assert.Equal(t, []string{realtime.TypeNotification, realtime.TypeReservation}, types(drain(clientFeed)))
	inbox, _, err := st.ListNotifications(ctx, "client-c", false, 1, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Contains(t, inbox[0].Body, "Reason: studio closed")

	subs, err := st.SubscriptionsFor(ctx, "client-c")
	require.NoError(t, err)
	assert.Len(t, subs, 1, "a transport error is not an expiry")
}

func TestDispatcher_PreservesPerReservationOrder(t *testing.T) {
	st := store.NewGormStore(testutil.NewSQLite(t))
	ctx := context.Background()
	broker := realtime.NewMemoryBroker()
	feed, cancel, err := broker.Subscribe(ctx, "client-c")
	require.NoError(t, err)
	defer cancel()

	d := NewDispatcher(4, 16, st, broker)
	d.Start(ctx)
	d.Dispatch(event(model.KindConfirmed, model.StatusPending, model.StatusConfirmed, 2))
	d.Dispatch(event(model.KindAppointment, model.StatusConfirmed, model.StatusConfirmed, 3))
	d.Dispatch(event(model.KindCompleted, model.StatusConfirmed, model.StatusCompleted, 4))
	d.Close()

	var versions []int64
	for _, msg := range drain(feed) {
		if msg.Type != realtime.TypeReservation {
			continue
		}
		var e model.Event
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		versions = append(versions, e.Reservation.Version)
	}
	assert.Equal(t, []int64{2, 3, 4}, versions)
}

func TestPushOptions_RaiseUrgency(t *testing.T) {
	base := &webpush.Options{VAPIDPublicKey: "pub", TTL: 60}

	reminder := pushOptions(base, model.KindReminder)
	assert.Equal(t, webpush.UrgencyHigh, reminder.Urgency)
	assert.Equal(t, 60, reminder.TTL)
	assert.Equal(t, webpush.UrgencyHigh, pushOptions(base, model.KindCancelled).Urgency)
	assert.Equal(t, webpush.UrgencyNormal, pushOptions(base, model.KindModified).Urgency)
	assert.Empty(t, base.Urgency, "the configured options are left untouched")
}

func TestDispatcher_SystemEventsNotifyBothParties(t *testing.T) {
	st := store.NewGormStore(testutil.NewSQLite(t))
	ctx := context.Background()
	d := NewDispatcher(1, 1, st, realtime.NewMemoryBroker())

	e := event(model.KindReminder, model.StatusConfirmed, model.StatusConfirmed, 3)
	e.ActorID, e.ActorRole = model.SystemActor.ID, model.SystemActor.Role
	d.Process(ctx, e)

	for _, user := range []string{"client-c", "artist-a"} {
		count, err := st.UnreadCount(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count, user)
	}
}

func TestDispatcher_FullQueueDropsWithoutBlocking(t *testing.T) {
	d := NewDispatcher(1, 1, nil, nil)

	done := make(chan struct{})
	go func() {
		d.Dispatch(event(model.KindConfirmed, model.StatusPending, model.StatusConfirmed, 2))
		d.Dispatch(event(model.KindCompleted, model.StatusConfirmed, model.StatusCompleted, 3))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
	assert.Len(t, d.queues[0], 1)

	d.Close()
	d.Dispatch(event(model.KindCompleted, model.StatusConfirmed, model.StatusCompleted, 3))
}

func TestCompose(t *testing.T) {
	e := event(model.KindCreated, "", model.StatusPending, 1)
	e.ActorID, e.ActorRole = "client-c", model.RoleClient

	title, body := Compose(e, time.UTC)
	assert.Equal(t, "New reservation request", title)
	assert.Equal(t, "A client requested flash flash-swallow.", body)

	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	e.Kind = model.KindAppointment
	_, body = Compose(e, paris)
	assert.Contains(t, body, "Thu 1 May 2025 16:00")

	e.Kind = model.KindCancelled
	e.Note = "changed my mind"
	_, body = Compose(e, time.UTC)
	assert.Equal(t, "The client cancelled flash flash-swallow. Reason: changed my mind", body)
}

func TestCompose_DeclineSeparatesReasonFromMessage(t *testing.T) {
	e := event(model.KindRejected, model.StatusPending, model.StatusRejected, 2)
	e.ActorID, e.ActorRole = "artist-a", model.RoleArtist

	e.Note = "Sorry, fully booked"
	e.Reservation.ArtistResponse = "Sorry, fully booked"
	_, body := Compose(e, time.UTC)
	assert.Equal(t, "The artist declined flash flash-swallow. Message from the artist: Sorry, fully booked", body)
	assert.NotContains(t, body, "Reason:")

	e.Reservation.Reason = "calendar full"
	_, body = Compose(e, time.UTC)
	assert.Equal(t, "The artist declined flash flash-swallow. Reason: calendar full Message from the artist: Sorry, fully booked", body)

	e.Reservation.ArtistResponse = ""
	e.Note = "calendar full"
	_, body = Compose(e, time.UTC)
	assert.Equal(t, "The artist declined flash flash-swallow. Reason: calendar full", body)
}
