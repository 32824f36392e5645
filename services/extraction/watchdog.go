package extraction

import (
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"github.com/vnkhanh/timesheet-server/models"
)

// RecoverInterrupted fails every job still marked processing. Called once on
// boot: a processing row at startup means the owning pipeline died with the
// previous process, and nothing will ever finish it.
func (s *Service) RecoverInterrupted() error {
	now := time.Now()
	res := s.db.Model(&models.ExtractionJob{}).
		Where("is_processing = ?", true).
		Updates(map[string]interface{}{
			"is_processing": false,
			"error":         "extraction interrupted by server restart",
			"message":       "Extraction failed",
			"completed_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Warn().Int64("jobs", res.RowsAffected).Msg("recovered interrupted extraction jobs")
	}
	return nil
}

// StartWatchdog schedules a periodic sweep failing jobs whose updated_at has
// gone stale. The heartbeat writes every 2 seconds while a pipeline is alive,
// so a row untouched for longer than the worker timeout plus slack has lost
// its owner. Returns the cron so main can Stop it on shutdown.
func (s *Service) StartWatchdog(staleAfter time.Duration) *cron.Cron {
	c := cron.New()
	c.AddFunc("@every 10m", func() { s.sweepStale(staleAfter) })
	c.Start()
	return c
}

func (s *Service) sweepStale(staleAfter time.Duration) {
	cutoff := time.Now().Add(-staleAfter)
	res := s.db.Model(&models.ExtractionJob{}).
		Where("is_processing = ? AND updated_at < ?", true, cutoff).
		Updates(map[string]interface{}{
			"is_processing": false,
			"error":         "extraction stalled: no progress updates, marked failed by watchdog",
			"message":       "Extraction failed",
			"completed_at":  time.Now(),
		})
	if res.Error != nil {
		log.Error().Err(res.Error).Msg("watchdog sweep failed")
		return
	}
	if res.RowsAffected > 0 {
		log.Warn().Int64("jobs", res.RowsAffected).Msg("watchdog failed stale extraction jobs")
	}
}
