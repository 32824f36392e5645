package extraction

import (
	"context"
	"time"

	"github.com/phuslu/log"

	"github.com/vnkhanh/timesheet-server/models"
)

const (
	heartbeatInterval = 2 * time.Second
	heartbeatCeiling  = 75
	heartbeatStep     = 3
)

// heartbeat gives polling clients a sense of motion while the worker runs:
// every tick it nudges progress toward the ceiling and rewrites the message
// for the coarse phase. It reads current progress before incrementing so it
// never exceeds the ceiling and never regresses a value advanced elsewhere.
//
// The pipeline cancels ctx on every worker exit path; a leaked heartbeat
// would keep mutating a terminal job, so teardown is unconditional.
func (s *Service) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(s.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var job models.ExtractionJob
			if err := s.db.First(&job, "job_id = ?", jobID).Error; err != nil {
				log.Warn().Str("job_id", jobID).Err(err).Msg("heartbeat read failed")
				continue
			}
			if !job.IsProcessing {
				return
			}
			if job.Progress >= heartbeatCeiling {
				continue
			}

			next := job.Progress + heartbeatStep
			if next > heartbeatCeiling {
				next = heartbeatCeiling
			}
			// the progress guard keeps a tick that lost the race against a
			// pipeline phase write from rolling progress backwards
			err := s.db.Model(&models.ExtractionJob{}).
				Where("job_id = ? AND is_processing = ? AND progress < ?", jobID, true, next).
				Updates(map[string]interface{}{
					"progress": next,
					"message":  heartbeatMessage(next),
				}).Error
			if err != nil {
				log.Warn().Str("job_id", jobID).Err(err).Msg("heartbeat write failed")
			}
		}
	}
}

func heartbeatMessage(progress int) string {
	switch {
	case progress < 45:
		return "Searching mailbox for timesheets..."
	case progress < 65:
		return "Downloading and parsing attachments..."
	default:
		return "Extracting timesheet entries..."
	}
}
