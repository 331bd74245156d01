package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"inkediin-backend/internal/realtime"
)

// TypeReady names the first event of every stream.
const TypeReady = "ready"

// Events opens the caller's Server-Sent Events stream. The returned channel
// yields one message per event and is closed when the stream ends or ctx is
// done.
func (c *Client) Events(ctx context.Context) (<-chan realtime.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")

	// The stream stays open for the whole session, so the per-call timeout of
	// c.http must not apply.
	stream := &http.Client{Transport: c.http.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, decodeError(resp.StatusCode, raw)
	}

	out := make(chan realtime.Message, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		err := Decode(resp.Body, func(msg realtime.Message) bool {
			select {
			case out <- msg:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("Event stream ended: %v", err)
		}
	}()
	return out, nil
}

// Decode reads Server-Sent Events from r and hands each one to fn until fn
// returns false or r is exhausted. Comment lines are skipped and multi-line
// data is joined with newlines.
func Decode(r io.Reader, fn func(realtime.Message) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var typ string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				if typ == "" {
					typ = "message"
				}
				if !fn(realtime.Message{Type: typ, Data: []byte(strings.Join(data, "\n"))}) {
					return nil
				}
			}
			typ, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			typ = value
		case "data":
			data = append(data, value)
		}
	}
	return scanner.Err()
}
