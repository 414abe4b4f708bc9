// Package retention periodically removes old runs and stale uploads.
package retention

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSchedule runs the sweep at the top of every hour.
const DefaultSchedule = "@hourly"

// uploadMaxAge bounds how long a spooled upload may outlive its run. Runs
// remove their own upload, so anything older was left by a crash.
const uploadMaxAge = 24 * time.Hour

type RunStore interface {
	DeleteRunsBefore(cutoff time.Time) (int64, error)
}

type UploadSpool interface {
	Sweep(cutoff time.Time) int
}

// Sweeper deletes stored runs older than the retention period and uploads
// older than a day.
type Sweeper struct {
	runs  RunStore
	spool UploadSpool
	keep  time.Duration
	cron  *cron.Cron
	now   func() time.Time
}

// New schedules the sweep with a standard five-field cron spec or a
// descriptor such as "@daily". A zero keep disables run removal.
func New(runs RunStore, spool UploadSpool, keep time.Duration, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Sweeper{
		runs:  runs,
		spool: spool,
		keep:  keep,
		cron:  cron.New(),
		now:   time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep() }); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs one sweep immediately and then follows the schedule.
func (s *Sweeper) Start() {
	s.Sweep()
	s.cron.Start()
}

// Stop waits for a sweep in progress to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep removes what is past retention and reports the counts.
func (s *Sweeper) Sweep() (runs int64, uploads int) {
	now := s.now()
	if s.keep > 0 && s.runs != nil {
		n, err := s.runs.DeleteRunsBefore(now.Add(-s.keep))
		if err != nil {
			log.Error().Err(err).Msg("[retention] Failed to delete old runs")
		}
		runs = n
	}
	if s.spool != nil {
		uploads = s.spool.Sweep(now.Add(-uploadMaxAge))
	}
	if runs > 0 || uploads > 0 {
		log.Info().Int64("runs", runs).Int("uploads", uploads).Msg("[retention] Swept")
	}
	return runs, uploads
}
