// workers/cleanup_worker.go
package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// Sweeper deletes events whose retention window has passed.
type Sweeper interface {
	SweepForCleanup(ctx context.Context, now time.Time) ([]string, error)
}

// CleanupWorker triggers the cleanup sweep on a fixed interval. Runs never
// overlap; a run that is still going when the next is due causes that next
// run to be skipped.
type CleanupWorker struct {
	sweeper  Sweeper
	clock    clockwork.Clock
	interval time.Duration
}

func NewCleanupWorker(sweeper Sweeper, clock clockwork.Clock, interval time.Duration) *CleanupWorker {
	return &CleanupWorker{
		sweeper:  sweeper,
		clock:    clock,
		interval: interval,
	}
}

// Start schedules the sweep and stops the scheduler when ctx is cancelled.
func (w *CleanupWorker) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(
		gocron.WithClock(w.clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return fmt.Errorf("create cleanup scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			w.RunOnce(ctx)
		}),
		gocron.WithName("quick-event-cleanup"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule cleanup sweep: %w", err)
	}

	sched.Start()
	log.Printf("🧹 [CLEANUP] sweep scheduled every %s", w.interval)

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			log.Printf("⚠️ [CLEANUP] scheduler shutdown: %v", err)
		}
	}()
	return nil
}

// RunOnce performs a single sweep at the clock's current time.
func (w *CleanupWorker) RunOnce(ctx context.Context) []string {
	deleted, err := w.sweeper.SweepForCleanup(ctx, w.clock.Now())
	if err != nil {
		log.Printf("❌ [CLEANUP] sweep failed: %v", err)
		return nil
	}
	for _, id := range deleted {
		log.Printf("🧹 [CLEANUP] removed event %s", id)
	}
	return deleted
}
