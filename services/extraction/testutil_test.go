package extraction

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vnkhanh/timesheet-server/config"
	"github.com/vnkhanh/timesheet-server/models"
	"github.com/vnkhanh/timesheet-server/services/worker"
	"github.com/vnkhanh/timesheet-server/utils"
)

// newTestDB opens a per-test shared in-memory sqlite so the detached pipeline
// goroutine sees the same database as the test.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	return db
}

// fakeRunner satisfies worker.Runner without spawning a process.
type fakeRunner struct {
	mu        sync.Mutex
	result    worker.Result
	err       error
	blockCtx  bool // simulate a hung worker killed by the wall-clock bound
	resultDir string

	calls   int
	lastReq worker.Request
}

func (f *fakeRunner) Run(ctx context.Context, req worker.Request) (worker.Result, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	blocking := f.blockCtx
	res, err := f.result, f.err
	f.mu.Unlock()

	if blocking {
		// the real runner owns its wall-clock bound; mimic it with a short one
		select {
		case <-ctx.Done():
		case <-time.After(100 * time.Millisecond):
		}
		return worker.Result{}, fmt.Errorf("%w after 100ms", worker.ErrTimeout)
	}
	return res, err
}

func (f *fakeRunner) ResultFile(resultsID string) string {
	if f.resultDir == "" {
		return ""
	}
	return filepath.Join(f.resultDir, "timesheet_results_"+resultsID+".json")
}

func (f *fakeRunner) request(t *testing.T) worker.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func newTestService(t *testing.T, fr *fakeRunner) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	s := NewService(db, fr)
	s.heartbeatEvery = 10 * time.Millisecond
	return s, db
}

// seedPrerequisites satisfies the admission prerequisite checks: a usable
// mail credential for userID plus one employee and one project.
func seedPrerequisites(t *testing.T, db *gorm.DB, userID string) {
	t.Helper()
	t.Setenv("CREDENTIAL_SECRET", "test-credential-secret")

	encrypted, err := utils.EncryptCredential("app-password")
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.MailCredential{
		UserID:      userID,
		Email:       "inbox@example.com",
		AppPassword: encrypted,
	}).Error)

	require.NoError(t, db.Create(&models.Employee{
		Name:         "Alice Nguyen",
		EmployeeCode: "EMP-001",
		Email:        "alice@example.com",
	}).Error)
	require.NoError(t, db.Create(&models.Project{
		EmployeeEmail: "alice@example.com",
		Client:        "Acme Technology Consulting LLC",
		ProjectName:   "Acme Portal",
		RequiredHours: 8,
	}).Error)
}

func validParams(userID string) StartParams {
	return StartParams{
		UserID:      userID,
		StartDate:   "2024-01-01",
		EndDate:     "2024-01-31",
		ExtractedBy: "admin@example.com",
	}
}

// waitTerminal polls until the job leaves is_processing, the way a real
// client would.
func waitTerminal(t *testing.T, s *Service, userID, jobID string) StatusView {
	t.Helper()
	var view StatusView
	require.Eventually(t, func() bool {
		v, err := s.Status(userID, jobID)
		if err != nil {
			return false
		}
		view = v
		return !v.IsProcessing
	}, 5*time.Second, 10*time.Millisecond, "job never reached a terminal state")
	return view
}

func loadJob(t *testing.T, db *gorm.DB, jobID string) models.ExtractionJob {
	t.Helper()
	var job models.ExtractionJob
	require.NoError(t, db.First(&job, "job_id = ?", jobID).Error)
	return job
}
