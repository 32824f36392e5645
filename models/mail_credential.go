package models

import "time"

// MailCredential holds the mailbox login the worker searches with.
// AppPassword is secretbox-encrypted and base64-encoded at rest; it is
// decrypted only while building a worker request.
type MailCredential struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string    `gorm:"column:user_id;size:64;unique;not null" json:"user_id"`
	Email       string    `gorm:"size:100;not null" json:"email"`
	AppPassword string    `gorm:"column:app_password;type:text;not null" json:"-"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MailCredential) TableName() string {
	return "mail_credentials"
}
