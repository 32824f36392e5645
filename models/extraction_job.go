package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ExtractedEntry is one normalized timesheet row as stored on the job record
// for the polling client. Mirrors the worker's output plus the fields resolved
// during post-processing (project, required_hours, activity overrides).
type ExtractedEntry struct {
	Date          string  `json:"date"`
	Day           string  `json:"day,omitempty"`
	Hours         float64 `json:"hours"`
	Activity      string  `json:"activity"`
	Client        string  `json:"client"`
	Project       string  `json:"project"`
	EmployeeID    string  `json:"employee_id"`
	EmployeeName  string  `json:"employee_name"`
	SenderEmail   string  `json:"sender_email"`
	RequiredHours float64 `json:"required_hours"`
}

// ExtractedEntryList is stored as a single jsonb column on extraction_jobs.
type ExtractedEntryList []ExtractedEntry

func (l ExtractedEntryList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *ExtractedEntryList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("unsupported type for ExtractedEntryList")
	}
}

// ExtractionJob is the progress store: one row per admitted extraction,
// polled by the client until is_processing flips to false.
//
// The partial unique index on user_id closes the check-then-insert race at
// the store level: a second concurrent admission for the same user fails on
// insert instead of creating a duplicate active job.
type ExtractionJob struct {
	JobID                 string             `gorm:"column:job_id;primaryKey;size:36" json:"job_id"`
	UserID                string             `gorm:"column:user_id;size:64;uniqueIndex:idx_extraction_jobs_active_user,where:is_processing" json:"user_id"`
	IsProcessing          bool               `gorm:"column:is_processing;not null;default:false" json:"is_processing"`
	Progress              int                `gorm:"column:progress;not null;default:0" json:"progress"`
	Message               string             `gorm:"column:message;type:text" json:"message"`
	Error                 *string            `gorm:"column:error;type:text" json:"error,omitempty"`
	SearchMethod          string             `gorm:"column:search_method;size:255" json:"search_method"`
	StartDate             string             `gorm:"column:start_date;size:10" json:"start_date"`
	EndDate               string             `gorm:"column:end_date;size:10" json:"end_date"`
	ExtractedBy           string             `gorm:"column:extracted_by;size:100" json:"extracted_by"`
	TotalEntries          int                `gorm:"column:total_entries;not null;default:0" json:"total_entries"`
	TotalEntriesProcessed int                `gorm:"column:total_entries_processed;not null;default:0" json:"total_entries_processed"`
	TotalEntriesInserted  int                `gorm:"column:total_entries_inserted;not null;default:0" json:"total_entries_inserted"`
	ExtractedEntries      ExtractedEntryList `gorm:"column:extracted_entries;type:jsonb" json:"extracted_entries"`
	CreatedAt             time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt           *time.Time         `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (ExtractionJob) TableName() string {
	return "extraction_jobs"
}
