package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkediin-backend/internal/clock"
	"inkediin-backend/internal/model"
	"inkediin-backend/internal/mw"
	"inkediin-backend/internal/realtime"
	"inkediin-backend/internal/store"
	"inkediin-backend/internal/testutil"
	"inkediin-backend/internal/workflow"
)

const testSecret = "handler-test-secret"

var (
	testNow  = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	client   = model.Actor{ID: "client-c", Role: model.RoleClient}
	artist   = model.Actor{ID: "artist-a", Role: model.RoleArtist}
	stranger = model.Actor{ID: "client-x", Role: model.RoleClient}
	admin    = model.Actor{ID: "admin-1", Role: model.RoleAdmin}
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Dispatch(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type testEnv struct {
	router  *gin.Engine
	handler *Handler
	store  store.Store
	broker *realtime.MemoryBroker
	events *recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewGormStore(testutil.NewSQLite(t))
	rec := &recorder{}
	broker := realtime.NewMemoryBroker()
	engine := workflow.NewEngine(st, rec, clock.NewFixed(testNow), time.UTC)
	h := NewHandler(engine, st, broker, &webpush.Options{VAPIDPublicKey: "vapid-pub"}, 50*time.Millisecond)
	router := NewRouter(h, RouterConfig{JWTSecret: testSecret, RateLimitPerSec: 1000, RateLimitBurst: 1000})
	return &testEnv{router: router, handler: h, store: st, broker: broker, events: rec}
}

func token(t *testing.T, actor model.Actor) string {
	t.Helper()
	tok, err := mw.IssueToken(testSecret, actor.ID, actor.Role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, actor *model.Actor, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *actor))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (e *testEnv) createFlash(t *testing.T) model.Reservation {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/reservations", &client, gin.H{
		"artistId": artist.ID, "type": "flash", "flashId": "flash-swallow", "message": "still available?",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[model.Reservation](t, w)
}

func TestCreateAndGetReservation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/reservations", &client, gin.H{
		"artistId": artist.ID, "type": "flash", "flashId": "flash-swallow",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[model.Reservation](t, w)
	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, "/api/reservations/"+created.ID, w.Header().Get("Location"))

	w = env.do(t, http.MethodGet, "/api/reservations/"+created.ID, &artist, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.Reservation](t, w)
	assert.Equal(t, "flash-swallow", *got.FlashID)

	w = env.do(t, http.MethodGet, "/api/reservations/"+created.ID, &stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decode[errorBody](t, w).Code)

	w = env.do(t, http.MethodGet, "/api/reservations/missing", &client, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, w).Code)
}

func TestCreateReservation_Rejections(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name     string
		actor    model.Actor
		body     gin.H
		expected int
	}{
		{name: "artist cannot book", actor: artist, body: gin.H{"artistId": "artist-b", "type": "flash", "flashId": "f"}, expected: http.StatusForbidden},
		{name: "unknown type", actor: client, body: gin.H{"artistId": artist.ID, "type": "walk-in"}, expected: http.StatusBadRequest},
		{name: "blank artist", actor: client, body: gin.H{"artistId": "  ", "type": "flash", "flashId": "f"}, expected: http.StatusBadRequest},
		{name: "custom without description", actor: client, body: gin.H{"artistId": artist.ID, "type": "custom", "projectTitle": "Koi"}, expected: http.StatusBadRequest},
		{name: "image is not a url", actor: client, body: gin.H{"artistId": artist.ID, "type": "custom", "projectTitle": "Koi", "description": "d", "referenceImages": []string{"koi.jpg"}}, expected: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/reservations", &tc.actor, tc.body)
			assert.Equal(t, tc.expected, w.Code, w.Body.String())
		})
	}
	assert.Zero(t, env.events.count())
}

func TestRespondReservation(t *testing.T) {
	env := newTestEnv(t)
	r := env.createFlash(t)
	path := "/api/reservations/" + r.ID + "/respond"

	w := env.do(t, http.MethodPatch, path, &client, gin.H{"status": "confirmed", "appointmentAt": "2025-05-01T14:00"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPatch, path, &artist, gin.H{"status": "confirmed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decode[errorBody](t, w).Code)

	w = env.do(t, http.MethodPatch, path, &artist, gin.H{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "respond only confirms or rejects")

	w = env.do(t, http.MethodPatch, path, &artist, gin.H{"status": "confirmed", "appointmentAt": "2025-05-01T14:00", "expectedVersion": 9})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decode[errorBody](t, w).Code)

	w = env.do(t, http.MethodPatch, path, &artist, gin.H{
		"status": "confirmed", "appointmentDate": "2025-05-01", "appointmentTime": "14:00",
		"message": "see you", "quotedPriceCents": 15000, "expectedVersion": 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	confirmed := decode[model.Reservation](t, w)
	assert.Equal(t, model.StatusConfirmed, confirmed.Status)
	assert.True(t, time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC).Equal(*confirmed.AppointmentAt))
	assert.Equal(t, int64(15000), *confirmed.QuotedPriceCents)

	w = env.do(t, http.MethodPatch, path, &artist, gin.H{"status": "rejected"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode[errorBody](t, w).Code)
}

func TestScenario_CompleteThenCancelFails(t *testing.T) {
	env := newTestEnv(t)
	r := env.createFlash(t)
	base := "/api/reservations/" + r.ID

	w := env.do(t, http.MethodPatch, base+"/respond", &artist, gin.H{"status": "confirmed", "appointmentAt": "2025-05-01T14:00"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPatch, base+"/complete", &client, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPatch, base+"/complete", &artist, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusCompleted, decode[model.Reservation](t, w).Status)

	w = env.do(t, http.MethodPatch, base+"/cancel", &client, gin.H{"reason": "changed my mind"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode[errorBody](t, w).Code)

	w = env.do(t, http.MethodGet, base+"/history", &client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Items []model.ReservationHistory `json:"items"`
	}](t, w)
	require.Len(t, history.Items, 3)
	assert.Equal(t, model.StatusCompleted, history.Items[2].ToStatus)
}

func TestCancelReservation(t *testing.T) {
	env := newTestEnv(t)
	r := env.createFlash(t)

	w := env.do(t, http.MethodPatch, "/api/reservations/"+r.ID+"/cancel", &client, gin.H{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.Reservation](t, w)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, "changed my mind", got.Reason)
	assert.Equal(t, 2, env.events.count())
}

func TestModifyAndAppointment(t *testing.T) {
	env := newTestEnv(t)
	r := env.createFlash(t)
	base := "/api/reservations/" + r.ID

	w := env.do(t, http.MethodPatch, base, &client, gin.H{"message": "can we do it in colour?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), decode[model.Reservation](t, w).Version)

	w = env.do(t, http.MethodPatch, base, &client, gin.H{"location": "my place"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPatch, base+"/appointment", &artist, gin.H{"appointmentAt": "2025-05-02T10:30", "durationMinutes": 90})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.Reservation](t, w)
	assert.Equal(t, 90, got.DurationMinutes)
	assert.Equal(t, model.StatusPending, got.Status)

	w = env.do(t, http.MethodPatch, base+"/appointment", &artist, gin.H{"appointmentAt": "2024-01-01T10:00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMyReservations(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.createFlash(t)
	}
	w := env.do(t, http.MethodPost, "/api/reservations", &client, gin.H{
		"artistId": "artist-b", "type": "custom", "projectTitle": "Botanical sleeve", "description": "ferns",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	type page struct {
		Items   []model.Reservation `json:"items"`
		Total   int64               `json:"total"`
		HasMore bool                `json:"hasMore"`
	}

	w = env.do(t, http.MethodGet, "/api/reservations/mine?limit=2", &client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[page](t, w)
	assert.Len(t, p.Items, 2)
	assert.Equal(t, int64(4), p.Total)
	assert.True(t, p.HasMore)

	w = env.do(t, http.MethodGet, "/api/reservations/mine?type=custom&q=botanical", &client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[page](t, w).Total)

	w = env.do(t, http.MethodGet, "/api/reservations/mine?role=artist", &artist, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(3), decode[page](t, w).Total)

	w = env.do(t, http.MethodGet, "/api/reservations/mine?role=client", &artist, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[page](t, w).Total)

	w = env.do(t, http.MethodGet, "/api/reservations/mine?status=pending,confirmed&from=2025-04-01&to=2025-04-02", &client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(4), decode[page](t, w).Total)

	for _, query := range []string{"status=confirmee", "type=walk-in", "limit=101", "page=0", "from=yesterday", "role=admin"} {
		w = env.do(t, http.MethodGet, "/api/reservations/mine?"+query, &client, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}

	w = env.do(t, http.MethodGet, "/api/reservations/stats", &client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[struct {
		Counts map[model.Status]int64 `json:"counts"`
		Total  int64                  `json:"total"`
	}](t, w)
	assert.Equal(t, int64(4), stats.Counts[model.StatusPending])
	assert.Equal(t, int64(4), stats.Total)
}

func TestIdempotentCreate(t *testing.T) {
	env := newTestEnv(t)
	body := gin.H{"artistId": artist.ID, "type": "flash", "flashId": "flash-swallow"}

	first := env.do(t, http.MethodPost, "/api/reservations", &client, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := env.do(t, http.MethodPost, "/api/reservations", &client, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, second.Code)

	assert.Equal(t, decode[model.Reservation](t, first).ID, decode[model.Reservation](t, second).ID)
	assert.Equal(t, "true", second.Header().Get(mw.ReplayedHeader))
	assert.Equal(t, 1, env.events.count())
}

func TestDeleteReservation(t *testing.T) {
	env := newTestEnv(t)
	r := env.createFlash(t)

	w := env.do(t, http.MethodDelete, "/api/reservations/"+r.ID, &client, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodDelete, "/api/reservations/"+r.ID, &admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/reservations/"+r.ID, &client, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotifications(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, title := range []string{"first", "second"} {
		require.NoError(t, env.store.CreateNotification(ctx, &model.Notification{
			UserID: artist.ID, Kind: model.KindCreated, Title: title, CreatedAt: testNow,
		}))
	}

	w := env.do(t, http.MethodGet, "/api/notifications/unread-count", &artist, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":2}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/notifications?unread=true", &artist, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Items []model.Notification `json:"items"`
		Total int64                `json:"total"`
	}](t, w)
	require.Len(t, list.Items, 2)

	w = env.do(t, http.MethodPatch, "/api/notifications/"+list.Items[0].ID+"/read", &artist, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodPatch, "/api/notifications/"+list.Items[1].ID+"/read", &client, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "someone else's notification")

	w = env.do(t, http.MethodPatch, "/api/notifications/read-all", &artist, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":1}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/notifications/unread-count", &artist, nil)
	assert.JSONEq(t, `{"count":0}`, w.Body.String())
}

func TestSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	sub := gin.H{"endpoint": "https://push.example/abc", "p256dh": "key", "auth": "secret"}

	w := env.do(t, http.MethodPut, "/api/subscriptions", &client, gin.H{"endpoint": "https://push.example/abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/subscriptions", &client, sub)
	assert.Equal(t, http.StatusCreated, w.Code)
	subs, err := env.store.SubscriptionsFor(context.Background(), client.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	w = env.do(t, http.MethodPut, "/api/subscriptions", &client, sub)
	assert.Equal(t, http.StatusCreated, w.Code)
	w = env.do(t, http.MethodPut, "/api/subscriptions", &artist, sub)
	assert.Equal(t, http.StatusForbidden, w.Code)
	subs, err = env.store.SubscriptionsFor(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	w = env.do(t, http.MethodDelete, "/api/subscriptions", &artist, gin.H{"endpoint": "https://push.example/abc"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, "/api/subscriptions", &client, gin.H{"endpoint": "https://push.example/abc"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestPublicEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/vapid_public_key", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"publicKey":"vapid-pub"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/reservations/mine", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r := gin.New()
	r.GET("/api/vapid_public_key", NewHandler(nil, nil, nil, nil, 0).GetVAPIDPublicKey)
	w = httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/vapid_public_key", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?access_token="+token(t, client), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	reader := bufio.NewReader(resp.Body)
	next := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && event != "":
				return event, data
			}
		}
	}

	event, data := next()
	assert.Equal(t, "ready", event)
	assert.JSONEq(t, `{"userId":"client-c"}`, data)

	msg, err := realtime.NewMessage(realtime.TypeToast, realtime.Toast{Level: "success", Text: "Reservation cancelled"})
	require.NoError(t, err)
	require.NoError(t, env.broker.Publish(ctx, client.ID, msg))

	event, data = next()
	assert.Equal(t, realtime.TypeToast, event)
	assert.JSONEq(t, `{"level":"success","text":"Reservation cancelled"}`, data)
}

func TestEventsStream_EndsOnShutdown(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewUnstartedServer(env.router)
	srv.Config.RegisterOnShutdown(env.handler.Shutdown)
	srv.Start()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events?access_token=" + token(t, client))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event:ready\n", line)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Config.Shutdown(ctx), "open streams must not hold the server")

	_, err = io.ReadAll(reader)
	assert.NoError(t, err)
}
