package checkin

import (
	"context"
	"log/slog"
	"time"

	"boxsync-backend/lib/timezone"
)

const DefaultScrapeInterval = 15 * time.Minute

// CalendarHour is when the daily calendar snapshot runs. the schedule
// grid changes rarely, once a night off-peak is enough.
const CalendarHour = 3

// ScrapeWorker triggers extractions on a fixed interval until the
// context is cancelled. the first run fires immediately so a fresh
// deployment has data without waiting a full interval. intervals where
// the previous run is still in flight are skipped, not queued.
func (s *Service) ScrapeWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultScrapeInterval
	}

	tick := func() {
		s.SetNextScheduled(timezone.Now().Add(interval))
		if !s.TriggerScrape(ctx) {
			slog.InfoContext(ctx, "previous scrape still running, skipping interval")
		}
	}

	go func() {
		tick()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
}

// CalendarWorker snapshots the schedule grid once a day.
func (s *Service) CalendarWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if timezone.Now().Hour() != CalendarHour {
					continue
				}
				if !s.TriggerCalendarScrape(ctx) {
					slog.InfoContext(ctx, "scrape in progress, skipping calendar run")
				}
			}
		}
	}()
}
