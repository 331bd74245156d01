package api

import (
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"inkediin-backend/internal/realtime"
	"inkediin-backend/internal/store"
	"inkediin-backend/internal/workflow"
)

const defaultKeepAlive = 25 * time.Second

// Handler holds shared dependencies for API handlers.
type Handler struct {
	engine    *workflow.Engine
	inbox     store.NotificationStore
	broker    realtime.Broker
	webpush   *webpush.Options
	keepAlive time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewHandler creates a new API handler. webpushOptions may be nil when push is
// not configured.
func NewHandler(engine *workflow.Engine, inbox store.NotificationStore, broker realtime.Broker, webpushOptions *webpush.Options, keepAlive time.Duration) *Handler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &Handler{
		engine:    engine,
		inbox:     inbox,
		broker:    broker,
		webpush:   webpushOptions,
		keepAlive: keepAlive,
		done:      make(chan struct{}),
	}
}

// Shutdown ends every open event stream. Register it with
// http.Server.RegisterOnShutdown.
func (h *Handler) Shutdown() {
	h.stopOnce.Do(func() { close(h.done) })
}
