package extraction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vnkhanh/timesheet-server/models"
	"github.com/vnkhanh/timesheet-server/services/worker"
)

// Activity overrides applied during post-processing. Anything else keeps the
// activity the worker reported (WORK, PTO, ...).
const (
	ActivityHoliday = "HOLIDAY"
	ActivityLeave   = "PTO"
)

type pipelineInput struct {
	JobID        string
	UserID       string
	SenderFilter string
	StartDate    string
	EndDate      string
	ExtractedBy  string
	MailEmail    string
	MailPassword string
}

// runPipeline drives one admitted job from mapping build through merge and
// notification. It runs detached from the admission request; every exit path,
// including panics, leaves the job row terminal.
func (s *Service) runPipeline(in pipelineInput) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job_id", in.JobID).Interface("panic", r).Msg("pipeline panicked")
			s.markFailed(in.JobID, fmt.Sprintf("internal error: %v", r))
		}
	}()
	defer s.cleanupResultFile(in.JobID)

	// Re-entry guard: a job id whose record is already terminal is never
	// processed again.
	var job models.ExtractionJob
	if err := s.db.First(&job, "job_id = ?", in.JobID).Error; err != nil {
		log.Error().Str("job_id", in.JobID).Err(err).Msg("pipeline could not load job")
		return
	}
	if !job.IsProcessing {
		log.Warn().Str("job_id", in.JobID).Msg("pipeline invoked for terminal job, skipping")
		return
	}

	s.updateProgress(in.JobID, 15, "Building employee project mapping...")
	mapping, err := s.buildEmployeeMapping()
	if err != nil {
		s.markFailed(in.JobID, fmt.Sprintf("building employee mapping failed: %v", err))
		return
	}
	s.updateProgress(in.JobID, 25, "Employee mapping ready")

	s.updateProgress(in.JobID, 30, "Searching mailbox for timesheets...")

	// The heartbeat and the wait-for-exit share one cancellation signal;
	// whichever resolves first tears the other down. The deferred cancel
	// covers the panic path too, a heartbeat must never outlive its pipeline.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.heartbeat(ctx, in.JobID)
	result, runErr := s.runner.Run(ctx, worker.Request{
		GmailEmail:      in.MailEmail,
		GmailPassword:   in.MailPassword,
		SenderFilter:    in.SenderFilter,
		EmployeeMapping: mapping,
		ResultsID:       in.JobID,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
	})
	cancel()

	if runErr != nil {
		if errors.Is(runErr, worker.ErrTimeout) {
			s.markFailed(in.JobID, fmt.Sprintf("extraction timed out: %v", runErr))
		} else {
			s.markFailed(in.JobID, fmt.Sprintf("extraction worker failed: %v", runErr))
		}
		return
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "extraction worker reported failure"
		}
		s.markFailed(in.JobID, msg)
		return
	}

	if len(result.ExtractedData) == 0 {
		// An empty mailbox window is a successful run, not an error.
		s.markCompleted(in.JobID, "No timesheet entries found for the selected date range", nil, 0, 0, 0)
		return
	}

	s.updateProgress(in.JobID, 80, "Classifying holidays and approved leave...")

	var holidays []models.Holiday
	var leaves []models.LeaveRequest
	g := new(errgroup.Group)
	g.Go(func() error {
		return s.db.Find(&holidays).Error
	})
	g.Go(func() error {
		return s.db.Where("status = ?", models.LeaveStatusApproved).Find(&leaves).Error
	})
	if err := g.Wait(); err != nil {
		s.markFailed(in.JobID, fmt.Sprintf("loading calendars failed: %v", err))
		return
	}

	processed := postProcess(result.ExtractedData, mapping, holidays, leaves)

	s.updateProgress(in.JobID, 95, "Saving timesheet entries...")
	inserted, err := s.mergeEntries(processed, in.ExtractedBy)
	if err != nil {
		s.markFailed(in.JobID, fmt.Sprintf("saving timesheet entries failed: %v", err))
		return
	}

	total := result.TotalEntries
	if total == 0 {
		total = len(result.ExtractedData)
	}
	s.markCompleted(in.JobID,
		fmt.Sprintf("Extraction completed: %d entries", len(processed)),
		processed, total, len(processed), inserted)

	s.notifyEmployees(processed)
}

// postProcess enriches worker rows with the employee/project mapping and
// reclassifies activity from the calendars. Holiday wins over approved leave;
// otherwise the worker's activity stands.
func postProcess(entries []worker.Entry, mapping map[string]worker.EmployeeMapping,
	holidays []models.Holiday, leaves []models.LeaveRequest) models.ExtractedEntryList {

	holidaySet := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		holidaySet[h.Date.Format(dateLayout)] = struct{}{}
	}

	processed := make(models.ExtractedEntryList, 0, len(entries))
	for _, e := range entries {
		email := strings.ToLower(strings.TrimSpace(e.SenderEmail))
		day := dateOnly(e.Date)

		out := models.ExtractedEntry{
			Date:         day,
			Day:          e.Day,
			Hours:        e.Hours,
			Activity:     e.Activity,
			Client:       e.Client,
			Project:      e.Project,
			EmployeeID:   e.EmployeeID,
			EmployeeName: e.EmployeeName,
			SenderEmail:  email,
		}

		if em, ok := mapping[email]; ok {
			if out.EmployeeName == "" {
				out.EmployeeName = em.Name
			}
			if out.EmployeeID == "" {
				out.EmployeeID = em.EmployeeID
			}
			if pa, ok := em.Projects[NormalizeClient(e.Client)]; ok {
				out.Project = pa.Project
				out.RequiredHours = pa.RequiredHours
			}
		}

		if _, isHoliday := holidaySet[day]; isHoliday {
			out.Activity = ActivityHoliday
		} else if onApprovedLeave(email, day, leaves) {
			out.Activity = ActivityLeave
		}

		processed = append(processed, out)
	}
	return processed
}

// dateOnly strips any time component the worker may have attached.
func dateOnly(date string) string {
	if len(date) > 10 {
		return date[:10]
	}
	return date
}

func onApprovedLeave(email, day string, leaves []models.LeaveRequest) bool {
	d, err := time.Parse(dateLayout, day)
	if err != nil {
		return false
	}
	for _, lr := range leaves {
		if !strings.EqualFold(strings.TrimSpace(lr.EmployeeEmail), email) {
			continue
		}
		start, err := time.Parse(dateLayout, lr.StartDate.Format(dateLayout))
		if err != nil {
			continue
		}
		end, err := time.Parse(dateLayout, lr.EndDate.Format(dateLayout))
		if err != nil {
			continue
		}
		if !d.Before(start) && !d.After(end) {
			return true
		}
	}
	return false
}

// mergeEntries upserts the batch inside one transaction. The conflict key is
// the natural key (date, sender_email, project, client): a second extraction
// over overlapping dates updates rows instead of duplicating them. The batch
// is all-or-nothing.
func (s *Service) mergeEntries(entries models.ExtractedEntryList, extractedBy string) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	// The worker can report the same timesheet twice, e.g. one attachment
	// forwarded on two emails inside the window. Postgres rejects a
	// multi-row upsert touching one conflict key twice, so collapse the
	// batch by natural key first, last occurrence wins.
	rows := make([]models.TimesheetEntry, 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		row := models.TimesheetEntry{
			Date:          e.Date,
			SenderEmail:   e.SenderEmail,
			Project:       e.Project,
			Client:        e.Client,
			Day:           e.Day,
			Hours:         e.Hours,
			Activity:      e.Activity,
			EmployeeID:    e.EmployeeID,
			EmployeeName:  e.EmployeeName,
			RequiredHours: e.RequiredHours,
			ExtractedBy:   extractedBy,
		}
		key := strings.Join([]string{e.Date, e.SenderEmail, e.Project, e.Client}, "\x1f")
		if i, dup := index[key]; dup {
			rows[i] = row
			continue
		}
		index[key] = len(rows)
		rows = append(rows, row)
	}

	var affected int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "date"}, {Name: "sender_email"}, {Name: "project"}, {Name: "client"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"day", "hours", "activity", "employee_id", "employee_name",
				"required_hours", "extracted_by", "updated_at",
			}),
		}).Create(&rows)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// notifyEmployees writes one notification per distinct employee touched by
// the run. Fire-and-forget: failures are logged, never escalated.
func (s *Service) notifyEmployees(entries models.ExtractedEntryList) {
	counts := make(map[string]int)
	for _, e := range entries {
		if e.SenderEmail == "" {
			continue
		}
		counts[e.SenderEmail]++
	}

	for email, n := range counts {
		note := models.Notification{
			RecipientEmail: email,
			Title:          "Timesheet extraction completed",
			Body:           fmt.Sprintf("%d timesheet entries were imported from your emails.", n),
		}
		if err := s.db.Create(&note).Error; err != nil {
			log.Warn().Str("recipient", email).Err(err).Msg("notification write failed")
		}
	}
}

// cleanupResultFile removes the worker's result artifact. A missing file is
// the expected case on failure paths and stays silent.
func (s *Service) cleanupResultFile(jobID string) {
	path := s.runner.ResultFile(jobID)
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("job_id", jobID).Str("path", path).Err(err).
			Msg("result file cleanup failed")
	}
}
