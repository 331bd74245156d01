package notification

import (
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"inkediin-backend/internal/model"
)

const pushTimeout = 10 * time.Second

// NotificationSender delivers one web push message to a browser subscription.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender sends through the browser vendor's push service.
type WebPushSender struct {
	Client *http.Client
}

// NewWebPushSender creates a sender whose requests time out after
// pushTimeout.
func NewWebPushSender() *WebPushSender {
	return &WebPushSender{Client: &http.Client{Timeout: pushTimeout}}
}

// Send encrypts payload for sub and posts it.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	opts := *options
	if opts.HTTPClient == nil && s.Client != nil {
		opts.HTTPClient = s.Client
	}
	return webpush.SendNotification(payload, sub, &opts)
}

// pushOptions derives the options of one message from the configured ones.
// Appointment reminders and cancellations are worth waking a device for.
func pushOptions(base *webpush.Options, kind model.NotificationKind) *webpush.Options {
	opts := *base
	switch kind {
	case model.KindReminder, model.KindCancelled:
		opts.Urgency = webpush.UrgencyHigh
	default:
		opts.Urgency = webpush.UrgencyNormal
	}
	return &opts
}
