package model

import "time"

// ReservationHistory is an append-only log of every write applied to a
// reservation. FromStatus equals ToStatus for amendments.
type ReservationHistory struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReservationID string    `gorm:"type:varchar(36);not null;index" json:"reservationId"`
	FromStatus    Status    `gorm:"size:16" json:"fromStatus,omitempty"`
	ToStatus      Status    `gorm:"size:16;not null" json:"toStatus"`
	ActorID       string    `gorm:"size:64;not null" json:"actorId"`
	ActorRole     Role      `gorm:"size:16;not null" json:"actorRole"`
	Action        string    `gorm:"size:32;not null" json:"action"`
	Version       int64     `gorm:"not null" json:"version"`
	Note          string    `gorm:"type:text" json:"note,omitempty"`
	ObservedAt    time.Time `gorm:"not null" json:"observedAt"`
}
