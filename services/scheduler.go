// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartMaintenanceScheduler runs the fixed-period background jobs: the
// stale-ticket sweep and question-cache eviction.
func (s *MatchmakingService) StartMaintenanceScheduler(questions *QuestionService) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: evict tickets past the staleness threshold.
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			s.SweepStale()
		}),
	)

	// Every ten minutes: drop expired question cache entries.
	_, _ = sched.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(func() {
			questions.EvictExpired()
		}),
	)

	log.Println("✅ Maintenance scheduler running (ticket sweep every 60s)")
}
