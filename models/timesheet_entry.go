package models

import "time"

// TimesheetEntry is the durable merge target. The composite unique index is
// the upsert conflict key: re-running an extraction over overlapping dates
// updates existing rows instead of duplicating them.
type TimesheetEntry struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Date          string    `gorm:"column:date;size:10;not null;uniqueIndex:idx_timesheet_entries_natural_key" json:"date"`
	SenderEmail   string    `gorm:"column:sender_email;size:100;not null;uniqueIndex:idx_timesheet_entries_natural_key" json:"sender_email"`
	Project       string    `gorm:"column:project;size:255;not null;uniqueIndex:idx_timesheet_entries_natural_key" json:"project"`
	Client        string    `gorm:"column:client;size:255;not null;uniqueIndex:idx_timesheet_entries_natural_key" json:"client"`
	Day           string    `gorm:"column:day;size:20" json:"day"`
	Hours         float64   `gorm:"column:hours;not null;default:0" json:"hours"`
	Activity      string    `gorm:"column:activity;size:20" json:"activity"`
	EmployeeID    string    `gorm:"column:employee_id;size:64" json:"employee_id"`
	EmployeeName  string    `gorm:"column:employee_name;size:100" json:"employee_name"`
	RequiredHours float64   `gorm:"column:required_hours;not null;default:0" json:"required_hours"`
	ExtractedBy   string    `gorm:"column:extracted_by;size:100" json:"extracted_by"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TimesheetEntry) TableName() string {
	return "timesheet_entries"
}
