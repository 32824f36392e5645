package models

import "time"

// Notification is the fire-and-forget sink: one row per employee touched by
// a completed extraction. Delivery failures never fail the job.
type Notification struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RecipientEmail string    `gorm:"column:recipient_email;size:100;not null;index" json:"recipient_email"`
	Title          string    `gorm:"size:255" json:"title"`
	Body           string    `gorm:"type:text" json:"body"`
	Read           bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
