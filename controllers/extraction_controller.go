package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phuslu/log"

	"github.com/vnkhanh/timesheet-server/middleware"
	"github.com/vnkhanh/timesheet-server/services/extraction"
)

// ExtractionController exposes the admission and status endpoints over the
// extraction service.
type ExtractionController struct {
	svc *extraction.Service
}

func NewExtractionController(svc *extraction.Service) *ExtractionController {
	return &ExtractionController{svc: svc}
}

type StartExtractionRequest struct {
	UserID       string `json:"user_id"`
	SenderFilter string `json:"sender_filter"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	ExtractedBy  string `json:"extracted_by"`
}

// POST /api/extractions
// Validates, creates the job row and returns the job id immediately; the
// pipeline runs detached and the client polls GET /api/extractions/status.
func (ec *ExtractionController) StartExtraction(c *gin.Context) {
	var req StartExtractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request payload"})
		return
	}

	// extracted_by falls back to the authenticated user.
	if req.ExtractedBy == "" {
		req.ExtractedBy = middleware.UserEmail(c)
	}
	if req.UserID == "" {
		req.UserID = middleware.UserID(c)
	}

	jobID, err := ec.svc.Start(extraction.StartParams{
		UserID:       req.UserID,
		SenderFilter: req.SenderFilter,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		ExtractedBy:  req.ExtractedBy,
	})
	if err != nil {
		status := admissionStatus(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("user_id", req.UserID).Msg("admission failed")
			c.JSON(status, gin.H{"success": false, "message": "Failed to start extraction"})
			return
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Extraction started",
		"job_id":  jobID,
	})
}

// GET /api/extractions/status?user_id=...&job_id=...
func (ec *ExtractionController) GetExtractionStatus(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = middleware.UserID(c)
	}
	jobID := c.Query("job_id")

	view, err := ec.svc.Status(userID, jobID)
	if err != nil {
		if errors.Is(err, extraction.ErrUserIDRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}
		log.Error().Err(err).Str("user_id", userID).Str("job_id", jobID).Msg("status query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to load extraction status"})
		return
	}

	c.JSON(http.StatusOK, view)
}

// admissionStatus maps service errors to HTTP statuses. Conflict for an
// already running job, 400 for validation and prerequisite failures.
func admissionStatus(err error) int {
	switch {
	case errors.Is(err, extraction.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, extraction.ErrUserIDRequired),
		errors.Is(err, extraction.ErrInvalidDateFormat),
		errors.Is(err, extraction.ErrStartAfterEnd),
		errors.Is(err, extraction.ErrStartInFuture),
		errors.Is(err, extraction.ErrRangeTooLarge),
		errors.Is(err, extraction.ErrNoCredentials),
		errors.Is(err, extraction.ErrNoEmployees),
		errors.Is(err, extraction.ErrNoProjects):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
