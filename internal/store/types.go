package store

import (
	"time"

	"gorm.io/datatypes"

	"inkediin-backend/internal/model"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter narrows a party's reservation listing.
type Filter struct {
	Statuses []model.Status
	Type     model.Type
	From     *time.Time // created at or after
	To       *time.Time // created before
	Search   string     // case-insensitive match on title, description and message
}

// Page is one page of a listing together with the total match count.
type Page struct {
	Items []model.Reservation `json:"items"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
	Total int64               `json:"total"`
}

// HasMore reports whether further pages exist after this one.
func (p Page) HasMore() bool {
	return int64(p.Page*p.Limit) < p.Total
}

// NormalizePage clamps page and limit into their accepted ranges.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

// Patch describes the columns a single versioned update writes. Nil fields are
// left untouched. History, when set, is appended in the same transaction with
// its Version set to the new reservation version.
type Patch struct {
	Status           *model.Status
	ArtistResponse   *string
	Reason           *string
	CancelledBy      *model.Role
	AppointmentAt    *time.Time
	DurationMinutes  *int
	Location         *string
	QuotedPriceCents *int64
	ReminderSentAt   *time.Time

	ProjectTitle    *string
	Description     *string
	Style           *string
	Size            *string
	Placement       *string
	Budget          *string
	Message         *string
	ReferenceImages *[]string
	PreferredDates  *[]string
	ConversationID  *string

	// ClearReminder resets ReminderSentAt so the reminder sweep picks the
	// reservation up again.
	ClearReminder bool

	UpdatedAt time.Time
	History   *model.ReservationHistory
}

func (p Patch) columns() map[string]any {
	cols := make(map[string]any)
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.ArtistResponse != nil {
		cols["artist_response"] = *p.ArtistResponse
	}
	if p.Reason != nil {
		cols["reason"] = *p.Reason
	}
	if p.CancelledBy != nil {
		cols["cancelled_by"] = *p.CancelledBy
	}
	if p.AppointmentAt != nil {
		cols["appointment_at"] = p.AppointmentAt.UTC()
	}
	if p.DurationMinutes != nil {
		cols["duration_minutes"] = *p.DurationMinutes
	}
	if p.Location != nil {
		cols["location"] = *p.Location
	}
	if p.QuotedPriceCents != nil {
		cols["quoted_price_cents"] = *p.QuotedPriceCents
	}
	if p.ReminderSentAt != nil {
		cols["reminder_sent_at"] = p.ReminderSentAt.UTC()
	}
	if p.ClearReminder {
		cols["reminder_sent_at"] = nil
	}
	if p.ProjectTitle != nil {
		cols["project_title"] = *p.ProjectTitle
	}
	if p.Description != nil {
		cols["description"] = *p.Description
	}
	if p.Style != nil {
		cols["style"] = *p.Style
	}
	if p.Size != nil {
		cols["size"] = *p.Size
	}
	if p.Placement != nil {
		cols["placement"] = *p.Placement
	}
	if p.Budget != nil {
		cols["budget"] = *p.Budget
	}
	if p.Message != nil {
		cols["message"] = *p.Message
	}
	if p.ReferenceImages != nil {
		cols["reference_images"] = datatypes.JSONSlice[string](*p.ReferenceImages)
	}
	if p.PreferredDates != nil {
		cols["preferred_dates"] = datatypes.JSONSlice[string](*p.PreferredDates)
	}
	if p.ConversationID != nil {
		cols["conversation_id"] = *p.ConversationID
	}
	if !p.UpdatedAt.IsZero() {
		cols["updated_at"] = p.UpdatedAt
	}
	return cols
}

// StatusCount is one row of a per-status aggregation.
type StatusCount struct {
	Status model.Status
	Count  int64
}
