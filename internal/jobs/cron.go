// Package jobs runs periodic maintenance for the import service.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the archive sweep every night at 02:00.
const DefaultSweepSchedule = "0 2 * * *"

type sweeper interface {
	Sweep(ctx context.Context, retention time.Duration) (int, error)
}

// StartArchiveSweep schedules removal of upload archives older than
// retention. The caller stops the returned scheduler on shutdown.
func StartArchiveSweep(schedule string, retention time.Duration, archive sweeper) (*cron.Cron, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, sweepJob(archive, retention)); err != nil {
		return nil, fmt.Errorf("schedule archive sweep %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

func sweepJob(archive sweeper, retention time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		removed, err := archive.Sweep(ctx, retention)
		if err != nil {
			log.Printf("jobs: archive sweep failed after %d removals: %v", removed, err)
			return
		}
		if removed > 0 {
			log.Printf("jobs: archive sweep removed %d uploads", removed)
		}
	}
}
