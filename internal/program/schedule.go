package program

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default trigger times, evaluated in the scheduler's zone.
const (
	DefaultMorningCron = "0 7 * * *"
	DefaultEveningCron = "0 22 * * *"
)

// JobScheduler registers named wall-clock jobs.
type JobScheduler interface {
	AddNamedJob(name, expr string, task func()) error
}

// Schedule registers the morning and evening scans. Each run is bounded by
// timeout so a stuck transport cannot block the next trigger forever.
func Schedule(ctx context.Context, s JobScheduler, b *Broadcaster, morningExpr, eveningExpr string, timeout time.Duration) error {
	jobs := []struct {
		slot Slot
		expr string
	}{
		{SlotMorning, morningExpr},
		{SlotEvening, eveningExpr},
	}
	for _, j := range jobs {
		slot := j.slot
		if err := s.AddNamedJob(string(slot), j.expr, func() {
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if _, err := b.Run(runCtx, slot, time.Now()); err != nil {
				slog.Error("program.Schedule: scan failed", "slot", slot, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule %s broadcast: %w", slot, err)
		}
		slog.Info("program.Schedule: broadcast scheduled", "slot", slot, "cron", j.expr)
	}
	return nil
}
