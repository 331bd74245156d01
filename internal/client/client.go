// Package client is the Go client of the reservation REST API. It is the
// data-access layer behind the view-model and the inkwatch terminal client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"inkediin-backend/internal/apperr"
	"inkediin-backend/internal/model"
)

const (
	defaultTimeout = 30 * time.Second
	listPageSize   = 100
)

// Client calls the API on behalf of one bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the API served at baseURL, e.g.
// "https://api.inkediin.example".
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Page is one page of the caller's reservations.
type Page struct {
	Items   []model.Reservation `json:"items"`
	Page    int                 `json:"page"`
	Limit   int                 `json:"limit"`
	Total   int64               `json:"total"`
	HasMore bool                `json:"hasMore"`
}

// RespondInput is the artist's answer to a pending request.
type RespondInput struct {
	Status           model.Status `json:"status"`
	Message          string       `json:"message,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	AppointmentAt    string       `json:"appointmentAt,omitempty"`
	DurationMinutes  *int         `json:"durationMinutes,omitempty"`
	Location         *string      `json:"location,omitempty"`
	QuotedPriceCents *int64       `json:"quotedPriceCents,omitempty"`
	ExpectedVersion  *int64       `json:"expectedVersion,omitempty"`
}

// CreateInput is a client's flash or custom request.
type CreateInput struct {
	ArtistID        string     `json:"artistId"`
	Type            model.Type `json:"type"`
	FlashID         string     `json:"flashId,omitempty"`
	ProjectTitle    string     `json:"projectTitle,omitempty"`
	Description     string     `json:"description,omitempty"`
	Style           string     `json:"style,omitempty"`
	Size            string     `json:"size,omitempty"`
	Placement       string     `json:"placement,omitempty"`
	Budget          string     `json:"budget,omitempty"`
	ReferenceImages []string   `json:"referenceImages,omitempty"`
	PreferredDates  []string   `json:"preferredDates,omitempty"`
	Message         string     `json:"message,omitempty"`
	ConversationID  string     `json:"conversationId,omitempty"`
}

type cancelInput struct {
	Reason          string `json:"reason,omitempty"`
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

type completeInput struct {
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

// List fetches one page of the caller's reservations.
func (c *Client) List(ctx context.Context, page, limit int) (Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var p Page
	err := c.do(ctx, http.MethodGet, "/api/reservations/mine?"+q.Encode(), nil, &p)
	return p, err
}

// ListAll fetches every reservation of the caller, page by page.
//
// Pages are offsets over the newest-first listing, so a reservation created
// while paging shifts later pages by one. A row pushed into the next page is
// returned once, keeping the newer version. A row that slips behind the
// current offset is missed here; callers subscribe to Events before calling
// ListAll so the creation still reaches them through the feed.
func (c *Client) ListAll(ctx context.Context) ([]model.Reservation, error) {
	var all []model.Reservation
	seen := make(map[string]int)
	for page := 1; ; page++ {
		p, err := c.List(ctx, page, listPageSize)
		if err != nil {
			return nil, err
		}
		for _, r := range p.Items {
			if i, ok := seen[r.ID]; ok {
				if r.Version > all[i].Version {
					all[i] = r
				}
				continue
			}
			seen[r.ID] = len(all)
			all = append(all, r)
		}
		if !p.HasMore || len(p.Items) == 0 {
			return all, nil
		}
	}
}

// Get fetches one reservation.
func (c *Client) Get(ctx context.Context, id string) (*model.Reservation, error) {
	var r model.Reservation
	if err := c.do(ctx, http.MethodGet, reservationPath(id, ""), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Create submits a new reservation request.
func (c *Client) Create(ctx context.Context, in CreateInput) (*model.Reservation, error) {
	var r model.Reservation
	if err := c.do(ctx, http.MethodPost, "/api/reservations", in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Respond confirms or rejects a pending reservation.
func (c *Client) Respond(ctx context.Context, id string, in RespondInput) (*model.Reservation, error) {
	var r model.Reservation
	if err := c.do(ctx, http.MethodPatch, reservationPath(id, "/respond"), in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Cancel cancels a pending or confirmed reservation.
func (c *Client) Cancel(ctx context.Context, id, reason string, expectedVersion *int64) (*model.Reservation, error) {
	var r model.Reservation
	in := cancelInput{Reason: reason, ExpectedVersion: expectedVersion}
	if err := c.do(ctx, http.MethodPatch, reservationPath(id, "/cancel"), in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Complete marks a confirmed reservation as done.
func (c *Client) Complete(ctx context.Context, id string, expectedVersion *int64) (*model.Reservation, error) {
	var r model.Reservation
	in := completeInput{ExpectedVersion: expectedVersion}
	if err := c.do(ctx, http.MethodPatch, reservationPath(id, "/complete"), in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func reservationPath(id, suffix string) string {
	return "/api/reservations/" + url.PathEscape(id) + suffix
}

// do sends one JSON request and decodes the response into out. Error bodies
// are turned back into *apperr.Error when they carry a known kind.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal api response: %w", err)
	}
	return nil
}

// StatusError is a failed call whose body did not map to a known error kind,
// such as an expired token or a rate limit.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

var knownKinds = map[apperr.Kind]bool{
	apperr.KindNotFound:          true,
	apperr.KindInvalidTransition: true,
	apperr.KindForbidden:         true,
	apperr.KindValidation:        true,
	apperr.KindConflict:          true,
}

func decodeError(status int, raw []byte) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return &StatusError{StatusCode: status}
	}
	if kind := apperr.Kind(body.Code); knownKinds[kind] {
		return &apperr.Error{Kind: kind, Message: body.Error}
	}
	return &StatusError{StatusCode: status, Code: body.Code, Message: body.Error}
}

// IsUnauthorized reports whether err is a rejected bearer token.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}
