package models

import "time"

const LeaveStatusApproved = "approved"

// LeaveRequest is an approved-leave interval for an employee. Only rows with
// status "approved" participate in activity classification.
type LeaveRequest struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EmployeeEmail string    `gorm:"column:employee_email;size:100;not null;index" json:"employee_email"`
	StartDate     time.Time `gorm:"column:start_date;type:date;not null" json:"start_date"`
	EndDate       time.Time `gorm:"column:end_date;type:date;not null" json:"end_date"`
	Status        string    `gorm:"size:20;not null;default:'pending'" json:"status"`
	LeaveType     string    `gorm:"column:leave_type;size:50" json:"leave_type"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (LeaveRequest) TableName() string {
	return "leave_requests"
}
