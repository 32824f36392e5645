package extraction

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vnkhanh/timesheet-server/models"
	"github.com/vnkhanh/timesheet-server/services/worker"
)

func seedJob(t *testing.T, db *gorm.DB, jobID, userID string) {
	t.Helper()
	require.NoError(t, db.Create(&models.ExtractionJob{
		JobID:        jobID,
		UserID:       userID,
		IsProcessing: true,
		Progress:     5,
		Message:      "Starting extraction...",
	}).Error)
}

func testInput(jobID string) pipelineInput {
	return pipelineInput{
		JobID:        jobID,
		UserID:       "u1",
		StartDate:    "2024-01-01",
		EndDate:      "2024-01-31",
		ExtractedBy:  "admin@example.com",
		MailEmail:    "inbox@example.com",
		MailPassword: "app-password",
	}
}

func sampleEntries() []worker.Entry {
	return []worker.Entry{
		{Date: "2024-01-02", Day: "Tuesday", Hours: 8, Client: "Acme Technology Consulting LLC",
			Project: "reported", SenderEmail: "Alice@Example.com", Activity: "WORK"},
		{Date: "2024-01-03", Day: "Wednesday", Hours: 8, Client: "Acme",
			Project: "reported", SenderEmail: "alice@example.com", Activity: "WORK"},
	}
}

func TestPipelineWorkerFailureIsTerminal(t *testing.T) {
	fr := &fakeRunner{err: errors.New("imap login rejected")}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")
	seedJob(t, db, "j1", "u1")

	s.runPipeline(testInput("j1"))

	job := loadJob(t, db, "j1")
	assert.False(t, job.IsProcessing)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "imap login rejected")
	require.NotNil(t, job.CompletedAt)
}

func TestPipelineTimeoutIsTerminalAndDistinct(t *testing.T) {
	fr := &fakeRunner{blockCtx: true}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")
	seedJob(t, db, "j1", "u1")

	s.runPipeline(testInput("j1"))

	job := loadJob(t, db, "j1")
	assert.False(t, job.IsProcessing)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "timed out")
	assert.LessOrEqual(t, job.Progress, heartbeatCeiling)
}

func TestPipelineZeroRowsIsSuccess(t *testing.T) {
	fr := &fakeRunner{result: worker.Result{Success: true, ExtractedData: nil}}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")
	seedJob(t, db, "j1", "u1")

	s.runPipeline(testInput("j1"))

	job := loadJob(t, db, "j1")
	assert.False(t, job.IsProcessing)
	assert.Nil(t, job.Error)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 0, job.TotalEntries)
	assert.Equal(t, 0, job.TotalEntriesInserted)
	require.NotNil(t, job.CompletedAt)
}

func TestPipelineWorkerReportedFailure(t *testing.T) {
	fr := &fakeRunner{result: worker.Result{Success: false, Message: "no mailbox access"}}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")
	seedJob(t, db, "j1", "u1")

	s.runPipeline(testInput("j1"))

	job := loadJob(t, db, "j1")
	assert.False(t, job.IsProcessing)
	require.NotNil(t, job.Error)
	assert.Equal(t, "no mailbox access", *job.Error)
}

func TestPipelineSuccessEnrichesAndMerges(t *testing.T) {
	fr := &fakeRunner{result: worker.Result{Success: true, ExtractedData: sampleEntries()}}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")
	seedJob(t, db, "j1", "u1")

	s.runPipeline(testInput("j1"))

	job := loadJob(t, db, "j1")
	assert.False(t, job.IsProcessing)
	assert.Nil(t, job.Error)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 2, job.TotalEntries)
	assert.Equal(t, 2, job.TotalEntriesProcessed)
	require.Len(t, job.ExtractedEntries, 2)

	// both client spellings resolve to the seeded project via normalization
	for _, e := range job.ExtractedEntries {
		assert.Equal(t, "Acme Portal", e.Project)
		assert.Equal(t, float64(8), e.RequiredHours)
		assert.Equal(t, "alice@example.com", e.SenderEmail)
	}

	var rows []models.TimesheetEntry
	require.NoError(t, db.Order("date").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "admin@example.com", rows[0].ExtractedBy)

	// one notification per distinct employee
	var notes []models.Notification
	require.NoError(t, db.Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Equal(t, "alice@example.com", notes[0].RecipientEmail)
}

func TestPipelineMergeIsIdempotent(t *testing.T) {
	fr := &fakeRunner{result: worker.Result{Success: true, ExtractedData: sampleEntries()}}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")

	seedJob(t, db, "j1", "u1")
	s.runPipeline(testInput("j1"))

	var countOnce int64
	require.NoError(t, db.Model(&models.TimesheetEntry{}).Count(&countOnce).Error)

	// identical worker output over an overlapping range must update, not
	// duplicate
	seedJob(t, db, "j2", "u1")
	in := testInput("j2")
	s.runPipeline(in)

	var countTwice int64
	require.NoError(t, db.Model(&models.TimesheetEntry{}).Count(&countTwice).Error)
	assert.Equal(t, countOnce, countTwice)
}

func TestPipelineMergesDuplicateWorkerRows(t *testing.T) {
	// the same timesheet forwarded on two emails in the window arrives twice
	// with one natural key; the batch must collapse before the upsert, last
	// occurrence winning
	fr := &fakeRunner{result: worker.Result{Success: true, ExtractedData: []worker.Entry{
		{Date: "2024-01-02", Hours: 6, Client: "Acme", Project: "reported",
			SenderEmail: "alice@example.com", Activity: "WORK"},
		{Date: "2024-01-02", Hours: 8, Client: "Acme", Project: "reported",
			SenderEmail: "alice@example.com", Activity: "WORK"},
	}}}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")
	seedJob(t, db, "j1", "u1")

	s.runPipeline(testInput("j1"))

	job := loadJob(t, db, "j1")
	assert.False(t, job.IsProcessing)
	assert.Nil(t, job.Error)
	assert.Equal(t, 2, job.TotalEntriesProcessed)

	var rows []models.TimesheetEntry
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(8), rows[0].Hours)
}

func TestPipelineMergeFailureIsTerminal(t *testing.T) {
	fr := &fakeRunner{result: worker.Result{Success: true, ExtractedData: sampleEntries()}}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")
	seedJob(t, db, "j1", "u1")

	// break the merge target so the upsert fails
	require.NoError(t, db.Migrator().DropTable(&models.TimesheetEntry{}))

	s.runPipeline(testInput("j1"))

	job := loadJob(t, db, "j1")
	assert.False(t, job.IsProcessing)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "saving timesheet entries failed")
	require.NotNil(t, job.CompletedAt)

	// a failed merge must not notify anyone
	var notes []models.Notification
	require.NoError(t, db.Find(&notes).Error)
	assert.Empty(t, notes)
}

func TestPipelineNotificationFailureDoesNotFailJob(t *testing.T) {
	fr := &fakeRunner{result: worker.Result{Success: true, ExtractedData: sampleEntries()}}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")
	seedJob(t, db, "j1", "u1")

	// break only the notification sink
	require.NoError(t, db.Migrator().DropTable(&models.Notification{}))

	s.runPipeline(testInput("j1"))

	job := loadJob(t, db, "j1")
	assert.False(t, job.IsProcessing)
	assert.Nil(t, job.Error)
	assert.Equal(t, 100, job.Progress)

	// the merge itself went through
	var count int64
	require.NoError(t, db.Model(&models.TimesheetEntry{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestPipelineHolidayPrecedence(t *testing.T) {
	fr := &fakeRunner{result: worker.Result{Success: true, ExtractedData: []worker.Entry{
		{Date: "2024-01-02", Hours: 8, Client: "Acme", SenderEmail: "alice@example.com", Activity: "WORK"},
		{Date: "2024-01-03", Hours: 8, Client: "Acme", SenderEmail: "alice@example.com", Activity: "WORK"},
		{Date: "2024-01-04", Hours: 8, Client: "Acme", SenderEmail: "alice@example.com", Activity: "WORK"},
	}}}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")
	seedJob(t, db, "j1", "u1")

	day := func(s string) time.Time {
		d, err := time.Parse("2006-01-02", s)
		require.NoError(t, err)
		return d
	}
	require.NoError(t, db.Create(&models.Holiday{Date: day("2024-01-02"), Name: "New Year (observed)"}).Error)
	// leave interval covering both the holiday and the following day
	require.NoError(t, db.Create(&models.LeaveRequest{
		EmployeeEmail: "alice@example.com",
		StartDate:     day("2024-01-01"),
		EndDate:       day("2024-01-03"),
		Status:        models.LeaveStatusApproved,
	}).Error)
	// pending leave must not classify anything
	require.NoError(t, db.Create(&models.LeaveRequest{
		EmployeeEmail: "alice@example.com",
		StartDate:     day("2024-01-04"),
		EndDate:       day("2024-01-04"),
		Status:        "pending",
	}).Error)

	s.runPipeline(testInput("j1"))

	job := loadJob(t, db, "j1")
	require.Len(t, job.ExtractedEntries, 3)
	byDate := map[string]string{}
	for _, e := range job.ExtractedEntries {
		byDate[e.Date] = e.Activity
	}
	assert.Equal(t, ActivityHoliday, byDate["2024-01-02"]) // holiday wins over leave
	assert.Equal(t, ActivityLeave, byDate["2024-01-03"])
	assert.Equal(t, "WORK", byDate["2024-01-04"])
}

func TestPipelineSkipsTerminalJob(t *testing.T) {
	fr := &fakeRunner{result: worker.Result{Success: true}}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")

	errMsg := "already failed"
	require.NoError(t, db.Create(&models.ExtractionJob{
		JobID: "j1", UserID: "u1", IsProcessing: false, Error: &errMsg,
	}).Error)

	s.runPipeline(testInput("j1"))

	assert.Zero(t, fr.calls, "worker must not run for a terminal job")
	job := loadJob(t, db, "j1")
	assert.Equal(t, "already failed", *job.Error)
}

func TestPipelinePanicBecomesTerminalError(t *testing.T) {
	// a nil runner makes the worker invocation panic inside the pipeline
	s, db := newTestService(t, &fakeRunner{})
	s.runner = nil
	seedPrerequisites(t, db, "u1")
	seedJob(t, db, "j1", "u1")

	require.NotPanics(t, func() {
		s.runPipeline(testInput("j1"))
	})

	job := loadJob(t, db, "j1")
	assert.False(t, job.IsProcessing)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "internal error")

	// the heartbeat is torn down with the pipeline; nothing keeps writing
	frozen := job.Progress
	time.Sleep(5 * s.heartbeatEvery)
	assert.Equal(t, frozen, loadJob(t, db, "j1").Progress)
}

func TestCleanupResultFile(t *testing.T) {
	dir := t.TempDir()
	fr := &fakeRunner{resultDir: dir}
	s, _ := newTestService(t, fr)

	path := filepath.Join(dir, "timesheet_results_j1.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"success":true}`), 0644))

	s.cleanupResultFile("j1")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// second attempt is a silent no-op
	assert.NotPanics(t, func() { s.cleanupResultFile("j1") })
}

func TestProgressIsMonotonic(t *testing.T) {
	fr := &fakeRunner{result: worker.Result{Success: true, ExtractedData: sampleEntries()}}
	s, db := newTestService(t, fr)
	seedPrerequisites(t, db, "u1")

	jobID, err := s.Start(validParams("u1"))
	require.NoError(t, err)

	last := -1
	regressed := false
	require.Eventually(t, func() bool {
		view, err := s.Status("u1", jobID)
		if err != nil {
			return false
		}
		if view.Progress < last {
			regressed = true
			return true
		}
		last = view.Progress
		return !view.IsProcessing
	}, 5*time.Second, 5*time.Millisecond)
	assert.False(t, regressed, "progress regressed during the run")

	view, err := s.Status("u1", jobID)
	require.NoError(t, err)
	assert.Equal(t, 100, view.Progress)
}
