package extraction

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"gorm.io/gorm"

	"github.com/vnkhanh/timesheet-server/models"
	"github.com/vnkhanh/timesheet-server/services/worker"
	"github.com/vnkhanh/timesheet-server/utils"
)

const (
	dateLayout   = "2006-01-02"
	maxRangeDays = 90
)

// Service owns the extraction job lifecycle: admission, the detached
// pipeline, and the status projection. All progress store writes for a job go
// through this type; nothing else mutates extraction_jobs rows.
type Service struct {
	db     *gorm.DB
	runner worker.Runner

	// tick between heartbeat progress writes; shortened in tests.
	heartbeatEvery time.Duration

	// Single-flight guard in front of admission. The check-then-insert
	// against the store is not atomic on its own; this plus the partial
	// unique index on (user_id) WHERE is_processing keeps concurrent
	// admissions for one user down to a single job.
	mu        sync.Mutex
	admitting map[string]struct{}
}

func NewService(db *gorm.DB, runner worker.Runner) *Service {
	return &Service{
		db:             db,
		runner:         runner,
		heartbeatEvery: heartbeatInterval,
		admitting:      make(map[string]struct{}),
	}
}

// StartParams is one admission request.
type StartParams struct {
	UserID       string
	SenderFilter string
	StartDate    string
	EndDate      string
	ExtractedBy  string
}

// Start validates an admission request, creates the job row and launches the
// pipeline detached. Returns the job id immediately; the caller polls Status.
//
// Validation is fail-fast in a fixed order: user, no active job, date format,
// date ordering, date policy, prerequisite data.
func (s *Service) Start(p StartParams) (string, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", ErrUserIDRequired
	}
	userID := strings.TrimSpace(p.UserID)

	s.mu.Lock()
	if _, busy := s.admitting[userID]; busy {
		s.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	s.admitting[userID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.admitting, userID)
		s.mu.Unlock()
	}()

	var active models.ExtractionJob
	err := s.db.Where("user_id = ? AND is_processing = ?", userID, true).First(&active).Error
	if err == nil {
		return "", ErrAlreadyRunning
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("check active job: %w", err)
	}

	start, err := time.Parse(dateLayout, p.StartDate)
	if err != nil {
		return "", ErrInvalidDateFormat
	}
	end, err := time.Parse(dateLayout, p.EndDate)
	if err != nil {
		return "", ErrInvalidDateFormat
	}
	if start.After(end) {
		return "", ErrStartAfterEnd
	}
	if start.After(time.Now()) {
		return "", ErrStartInFuture
	}
	if end.Sub(start) > maxRangeDays*24*time.Hour {
		return "", ErrRangeTooLarge
	}

	var cred models.MailCredential
	if err := s.db.Where("user_id = ?", userID).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoCredentials
		}
		return "", fmt.Errorf("load mail credential: %w", err)
	}
	mailPassword, err := utils.DecryptCredential(cred.AppPassword)
	if err != nil {
		log.Warn().Str("user_id", userID).Err(err).Msg("stored mail credential unusable")
		return "", ErrNoCredentials
	}

	var employeeCount, projectCount int64
	if err := s.db.Model(&models.Employee{}).Count(&employeeCount).Error; err != nil {
		return "", fmt.Errorf("count employees: %w", err)
	}
	if employeeCount == 0 {
		return "", ErrNoEmployees
	}
	if err := s.db.Model(&models.Project{}).Count(&projectCount).Error; err != nil {
		return "", fmt.Errorf("count projects: %w", err)
	}
	if projectCount == 0 {
		return "", ErrNoProjects
	}

	jobID := uuid.New().String()
	job := models.ExtractionJob{
		JobID:        jobID,
		UserID:       userID,
		IsProcessing: true,
		Progress:     5,
		Message:      "Starting extraction...",
		SearchMethod: fmt.Sprintf("Date range: %s to %s", p.StartDate, p.EndDate),
		StartDate:    p.StartDate,
		EndDate:      p.EndDate,
		ExtractedBy:  p.ExtractedBy,
	}
	if err := s.db.Create(&job).Error; err != nil {
		if isUniqueViolation(err) {
			return "", ErrAlreadyRunning
		}
		return "", fmt.Errorf("create extraction job: %w", err)
	}

	log.Info().Str("job_id", jobID).Str("user_id", userID).
		Str("range", job.SearchMethod).Msg("extraction admitted")

	go s.runPipeline(pipelineInput{
		JobID:        jobID,
		UserID:       userID,
		SenderFilter: p.SenderFilter,
		StartDate:    p.StartDate,
		EndDate:      p.EndDate,
		ExtractedBy:  p.ExtractedBy,
		MailEmail:    cred.Email,
		MailPassword: mailPassword,
	})

	return jobID, nil
}

// isUniqueViolation matches the partial unique index on active jobs firing
// under Postgres or the sqlite used in tests.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint")
}

// StatusView is the read-only projection returned to polling clients.
type StatusView struct {
	Success               bool                      `json:"success"`
	IsProcessing          bool                      `json:"is_processing"`
	Progress              int                       `json:"progress"`
	Message               string                    `json:"message"`
	Error                 *string                   `json:"error,omitempty"`
	Data                  models.ExtractedEntryList `json:"data"`
	TotalEntries          int                       `json:"total_entries"`
	TotalEntriesProcessed int                       `json:"total_entries_processed"`
	TotalEntriesInserted  int                       `json:"total_entries_inserted"`
	SearchMethod          string                    `json:"search_method,omitempty"`
	JobID                 string                    `json:"job_id,omitempty"`
}

// Status returns the current view of a job: the exact job when jobID is
// given, otherwise the user's most recent one. Pure read, no side effects.
func (s *Service) Status(userID, jobID string) (StatusView, error) {
	if strings.TrimSpace(userID) == "" {
		return StatusView{}, ErrUserIDRequired
	}

	q := s.db.Where("user_id = ?", userID)
	if jobID != "" {
		q = q.Where("job_id = ?", jobID)
	}

	var job models.ExtractionJob
	err := q.Order("created_at DESC").First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StatusView{
			Success:      false,
			IsProcessing: false,
			Message:      "No extraction found",
			Data:         models.ExtractedEntryList{},
		}, nil
	}
	if err != nil {
		return StatusView{}, fmt.Errorf("load extraction job: %w", err)
	}

	data := job.ExtractedEntries
	if data == nil {
		data = models.ExtractedEntryList{}
	}

	// success is derived, not stored: no error and either still running or
	// the run produced at least one entry.
	success := job.Error == nil && (job.IsProcessing || len(data) > 0)

	return StatusView{
		Success:               success,
		IsProcessing:          job.IsProcessing,
		Progress:              job.Progress,
		Message:               job.Message,
		Error:                 job.Error,
		Data:                  data,
		TotalEntries:          job.TotalEntries,
		TotalEntriesProcessed: job.TotalEntriesProcessed,
		TotalEntriesInserted:  job.TotalEntriesInserted,
		SearchMethod:          job.SearchMethod,
		JobID:                 job.JobID,
	}, nil
}

// updateProgress advances a running job's progress/message. The guard on
// is_processing makes writes to a terminal job a no-op.
func (s *Service) updateProgress(jobID string, progress int, message string) {
	err := s.db.Model(&models.ExtractionJob{}).
		Where("job_id = ? AND is_processing = ?", jobID, true).
		Updates(map[string]interface{}{
			"progress": progress,
			"message":  message,
		}).Error
	if err != nil {
		log.Warn().Str("job_id", jobID).Err(err).Msg("progress update failed")
	}
}

// markFailed moves a job to its terminal failure state exactly once.
func (s *Service) markFailed(jobID, errMsg string) {
	now := time.Now()
	res := s.db.Model(&models.ExtractionJob{}).
		Where("job_id = ? AND is_processing = ?", jobID, true).
		Updates(map[string]interface{}{
			"is_processing": false,
			"error":         errMsg,
			"message":       "Extraction failed",
			"completed_at":  now,
		})
	if res.Error != nil {
		log.Error().Str("job_id", jobID).Err(res.Error).Msg("failed to record terminal error")
		return
	}
	if res.RowsAffected == 0 {
		log.Warn().Str("job_id", jobID).Msg("terminal error write skipped, job already terminal")
		return
	}
	log.Error().Str("job_id", jobID).Str("error", errMsg).Msg("extraction failed")
}

// markCompleted moves a job to its terminal success state exactly once.
func (s *Service) markCompleted(jobID, message string, entries models.ExtractedEntryList, total, processed, inserted int) {
	now := time.Now()
	if entries == nil {
		entries = models.ExtractedEntryList{}
	}
	res := s.db.Model(&models.ExtractionJob{}).
		Where("job_id = ? AND is_processing = ?", jobID, true).
		Updates(map[string]interface{}{
			"is_processing":           false,
			"progress":                100,
			"message":                 message,
			"total_entries":           total,
			"total_entries_processed": processed,
			"total_entries_inserted":  inserted,
			"extracted_entries":       entries,
			"completed_at":            now,
		})
	if res.Error != nil {
		log.Error().Str("job_id", jobID).Err(res.Error).Msg("failed to record completion")
		return
	}
	if res.RowsAffected == 0 {
		log.Warn().Str("job_id", jobID).Msg("completion write skipped, job already terminal")
		return
	}
	log.Info().Str("job_id", jobID).Int("total", total).Int("processed", processed).
		Int("inserted", inserted).Msg("extraction completed")
}
