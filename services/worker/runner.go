package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/phuslu/log"
)

// ErrTimeout marks a run killed by the wall-clock bound. The pipeline reports
// it differently from ordinary worker failures.
var ErrTimeout = errors.New("worker timed out")

// ProjectAssignment is one client engagement inside the employee mapping sent
// to the worker.
type ProjectAssignment struct {
	Project       string  `json:"project"`
	RequiredHours float64 `json:"required_hours"`
}

// EmployeeMapping is the per-employee part of the mapping, keyed in the
// request by lowercase employee email.
type EmployeeMapping struct {
	Name       string                       `json:"name"`
	EmployeeID string                       `json:"employee_id"`
	Projects   map[string]ProjectAssignment `json:"projects"`
}

// Request is the single JSON document written to the worker's stdin.
// Field names are the worker's wire contract, do not rename.
type Request struct {
	GmailEmail      string                     `json:"gmail_email"`
	GmailPassword   string                     `json:"gmail_password"`
	SenderFilter    string                     `json:"sender_filter,omitempty"`
	EmployeeMapping map[string]EmployeeMapping `json:"employee_mapping"`
	ResultsID       string                     `json:"results_id"`
	StartDate       string                     `json:"start_date"`
	EndDate         string                     `json:"end_date"`
}

// Entry is one raw timesheet row as the worker reports it.
type Entry struct {
	Date         string  `json:"date"`
	Day          string  `json:"day"`
	Hours        float64 `json:"hours"`
	Client       string  `json:"client"`
	Project      string  `json:"project"`
	EmployeeName string  `json:"employee_name"`
	EmployeeID   string  `json:"employee_id"`
	SenderEmail  string  `json:"sender_email"`
	Activity     string  `json:"activity"`
	CreatedAt    string  `json:"created_at,omitempty"`
}

// Result is the JSON document the worker writes to its result file before
// exiting. The file content is authoritative over the exit code.
type Result struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	ExtractedData []Entry  `json:"extracted_data"`
	TotalEntries  int      `json:"total_entries"`
	Errors        []string `json:"errors"`
}

// Runner abstracts the external worker process so the pipeline can be tested
// without spawning Python.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
	// ResultFile returns the path the worker writes its result to for a
	// given results id. Used by the pipeline for cleanup.
	ResultFile(resultsID string) string
}

// ScriptRunner runs the real extraction script: one JSON request on stdin,
// result recovered from timesheet_results_<id>.json next to the script.
type ScriptRunner struct {
	Python  string
	Script  string
	Timeout time.Duration
}

func NewScriptRunner(python, script string, timeout time.Duration) *ScriptRunner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ScriptRunner{Python: python, Script: script, Timeout: timeout}
}

func (r *ScriptRunner) ResultFile(resultsID string) string {
	return filepath.Join(filepath.Dir(r.Script), fmt.Sprintf("timesheet_results_%s.json", resultsID))
}

func (r *ScriptRunner) Run(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal worker request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Python, r.Script)
	cmd.Dir = filepath.Dir(r.Script)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Kill leaves no grace period; make sure Wait cannot hang on inherited
	// pipes after the process is gone.
	cmd.WaitDelay = 10 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	dur := time.Since(start)

	timedOut := ctx.Err() == context.DeadlineExceeded

	if runErr != nil {
		log.Warn().Str("results_id", req.ResultsID).Err(runErr).Dur("duration", dur).
			Msg("worker exited non-zero, checking result file")
	} else {
		log.Info().Str("results_id", req.ResultsID).Dur("duration", dur).
			Int("stdout_bytes", stdout.Len()).Msg("worker exited")
	}

	// The result file is authoritative: the worker writes it on both success
	// and handled failure, even when it exits non-zero — and a complete file
	// outranks the deadline when the kill landed just after a clean finish.
	// Only a missing or garbled file turns the deadline into a timeout.
	raw, readErr := os.ReadFile(r.ResultFile(req.ResultsID))
	if readErr != nil {
		if timedOut {
			log.Error().Str("results_id", req.ResultsID).Dur("duration", dur).
				Msg("worker killed by timeout")
			return Result{}, fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
		}
		return Result{}, fmt.Errorf("read worker result file: %v; stderr: %s",
			readErr, stderrTail(stderr.String()))
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		if timedOut {
			log.Error().Str("results_id", req.ResultsID).Dur("duration", dur).
				Msg("worker killed by timeout, result file incomplete")
			return Result{}, fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
		}
		return Result{}, fmt.Errorf("parse worker result file: %v; stderr: %s",
			err, stderrTail(stderr.String()))
	}

	if timedOut {
		log.Warn().Str("results_id", req.ResultsID).Dur("duration", dur).
			Msg("worker hit the deadline but left a complete result file")
	}

	// Tolerate a worker that filled extracted_data but forgot the flag.
	if !res.Success && len(res.ExtractedData) > 0 {
		res.Success = true
	}
	return res, nil
}

// stderrTail caps captured stderr so a chatty worker cannot bloat the job's
// error message.
func stderrTail(s string) string {
	const max = 2 << 10
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
