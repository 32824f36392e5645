package models

import "time"

// Project assigns an employee to a client engagement with a daily hour quota.
// Read-only collaborator table.
type Project struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EmployeeEmail string    `gorm:"column:employee_email;size:100;not null;index" json:"employee_email"`
	Client        string    `gorm:"size:255;not null" json:"client"`
	ProjectName   string    `gorm:"column:project_name;size:255;not null" json:"project_name"`
	RequiredHours float64   `gorm:"column:required_hours;not null;default:8" json:"required_hours"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Project) TableName() string {
	return "projects"
}
