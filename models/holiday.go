package models

import "time"

// Holiday is a company holiday calendar row. Date comparison is date-only.
type Holiday struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Date      time.Time `gorm:"type:date;not null;index" json:"date"`
	Name      string    `gorm:"size:100" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Holiday) TableName() string {
	return "holidays"
}
