package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationKind categorises a persistent notification.
type NotificationKind string

const (
	KindCreated     NotificationKind = "reservation.created"
	KindConfirmed   NotificationKind = "reservation.confirmed"
	KindRejected    NotificationKind = "reservation.rejected"
	KindCancelled   NotificationKind = "reservation.cancelled"
	KindCompleted   NotificationKind = "reservation.completed"
	KindModified    NotificationKind = "reservation.modified"
	KindAppointment NotificationKind = "reservation.appointment"
	KindReminder    NotificationKind = "reservation.reminder"
	KindDeleted     NotificationKind = "reservation.deleted"
)

// Notification is an inbox entry kept for a user.
type Notification struct {
	ID            string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID        string           `gorm:"size:64;not null;index" json:"userId"`
	Kind          NotificationKind `gorm:"size:48;not null" json:"kind"`
	Title         string           `gorm:"size:200;not null" json:"title"`
	Body          string           `gorm:"type:text" json:"body"`
	ReservationID string           `gorm:"type:varchar(36);index" json:"reservationId,omitempty"`
	Read          bool             `gorm:"not null;default:false" json:"read"`
	CreatedAt     time.Time        `gorm:"not null;index" json:"createdAt"`
}

// BeforeCreate assigns an id when the caller did not provide one.
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
