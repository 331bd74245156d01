package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Type distinguishes a booking against an existing flash from a bespoke project.
type Type string

const (
	TypeFlash  Type = "flash"
	TypeCustom Type = "custom"
)

// Valid reports whether t is a known reservation type.
func (t Type) Valid() bool {
	return t == TypeFlash || t == TypeCustom
}

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusRejected, StatusCancelled, StatusCompleted}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// Role is the capacity in which a user acts on a reservation.
type Role string

const (
	RoleClient Role = "client"
	RoleArtist Role = "artist"
	RoleAdmin  Role = "admin"
)

// Actor identifies who performs an operation and in which role.
type Actor struct {
	ID   string
	Role Role
}

// Reservation is a client's booking request towards an artist.
type Reservation struct {
	ID       string `gorm:"type:varchar(36);primaryKey" json:"id"`
	ClientID string `gorm:"size:64;not null;index" json:"clientId"`
	ArtistID string `gorm:"size:64;not null;index" json:"artistId"`
	Type     Type   `gorm:"size:16;not null" json:"type"`
	Status   Status `gorm:"size:16;not null;index" json:"status"`
	Version  int64  `gorm:"not null;default:1" json:"version"`

	// Flash reservations
	FlashID *string `gorm:"size:64" json:"flashId,omitempty"`

	// Custom reservations
	ProjectTitle    string                      `gorm:"size:200" json:"projectTitle,omitempty"`
	Description     string                      `gorm:"type:text" json:"description,omitempty"`
	Style           string                      `gorm:"size:64" json:"style,omitempty"`
	Size            string                      `gorm:"size:64" json:"size,omitempty"`
	Placement       string                      `gorm:"size:64" json:"placement,omitempty"`
	Budget          string                      `gorm:"size:64" json:"budget,omitempty"`
	ReferenceImages datatypes.JSONSlice[string] `json:"referenceImages,omitempty"`
	PreferredDates  datatypes.JSONSlice[string] `json:"preferredDates,omitempty"`

	Message          string     `gorm:"type:text" json:"message,omitempty"`
	ArtistResponse   string     `gorm:"type:text" json:"artistResponse,omitempty"`
	Reason           string     `gorm:"type:text" json:"reason,omitempty"`
	CancelledBy      *Role      `gorm:"size:16" json:"cancelledBy,omitempty"`
	AppointmentAt    *time.Time `gorm:"index" json:"appointmentAt,omitempty"`
	DurationMinutes  int        `json:"durationMinutes,omitempty"`
	Location         string     `gorm:"size:256" json:"location,omitempty"`
	QuotedPriceCents *int64     `json:"quotedPriceCents,omitempty"`
	ConversationID   *string    `gorm:"size:64" json:"conversationId,omitempty"`
	ReminderSentAt   *time.Time `json:"reminderSentAt,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"not null" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsParty reports whether userID is the client or the artist of r.
func (r *Reservation) IsParty(userID string) bool {
	return userID != "" && (r.ClientID == userID || r.ArtistID == userID)
}

// Counterparty returns the other party of the reservation relative to userID.
func (r *Reservation) Counterparty(userID string) string {
	if r.ClientID == userID {
		return r.ArtistID
	}
	return r.ClientID
}

// Title returns a short human label for the reservation.
func (r *Reservation) Title() string {
	if r.Type == TypeCustom && r.ProjectTitle != "" {
		return r.ProjectTitle
	}
	if r.FlashID != nil {
		return "flash " + *r.FlashID
	}
	return "reservation " + r.ID
}

// BeforeCreate assigns an id when the caller did not provide one.
func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
