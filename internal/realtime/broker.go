// Package realtime delivers live messages to the sessions of a user. A single
// process uses the in-memory hub; several API instances share one Redis
// pub/sub namespace.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message types pushed to live sessions.
const (
	TypeToast        = "toast"
	TypeReservation  = "reservation.updated"
	TypeNotification = "notification"
)

// Message is one pushed frame. Data holds the JSON payload of Type.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewMessage encodes v as the payload of a message of type typ.
func NewMessage(typ string, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s message: %w", typ, err)
	}
	return Message{Type: typ, Data: data}, nil
}

// Toast is a transient notice shown to the user who acted.
type Toast struct {
	Level         string `json:"level"`
	Text          string `json:"text"`
	ReservationID string `json:"reservationId,omitempty"`
}

// Broker fans messages out to every live session of a user.
type Broker interface {
	Publish(ctx context.Context, userID string, msg Message) error
	// Subscribe returns the user's message stream and a function that ends
	// the subscription and closes the stream.
	Subscribe(ctx context.Context, userID string) (<-chan Message, func(), error)
}
