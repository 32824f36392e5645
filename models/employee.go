package models

import "time"

// Employee is a read-only collaborator table owned by the main app.
type Employee struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"size:100;not null" json:"name"`
	EmployeeCode string    `gorm:"column:employee_code;size:64" json:"employee_code"`
	Email        string    `gorm:"size:100;unique;not null" json:"email"` // stored lowercase
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Employee) TableName() string {
	return "employees"
}
