package checkin

import (
	"context"
	"log/slog"
	"time"

	"boxsync-backend/lib/timezone"
)

// The pipeline talks to the scraper through these three interfaces so
// extraction logic can be exercised without a browser.

type ListingNavigator interface {
	OpenListing(ctx context.Context) error
}

type ClassEnumerator interface {
	ClassesForDate(ctx context.Context, date string) ([]ClassOption, error)
}

type ReservationFetcher interface {
	ReservationsFor(ctx context.Context, opt ClassOption, date string) (ClassResult, error)
}

type Pipeline struct {
	Nav   ListingNavigator
	Enum  ClassEnumerator
	Fetch ReservationFetcher
}

type ExtractRequest struct {
	Start time.Time
	Days  int
	// Seed carries a previous run whose dates fill gaps the new run
	// does not cover.
	Seed *ExtractionRun
	// OnProgress runs synchronously after each completed date with a
	// snapshot of the run so far. callers may retain and read it while
	// the extraction keeps going.
	OnProgress func(*ExtractionRun)
}

// Extract walks the date span and collects every class roster it can
// reach. per-date and per-class failures are absorbed, the run always
// returns whatever it managed to gather.
func (p Pipeline) Extract(ctx context.Context, req ExtractRequest) (*ExtractionRun, error) {
	ctx, span := tracer.Start(ctx, "Extract")
	defer span.End()

	run := NewExtractionRun(FormatDay(req.Start), req.Days)
	run.ScrapedAt = timezone.Now().Format(time.RFC3339)
	run.MergeSeed(req.Seed)

	if err := p.Nav.OpenListing(ctx); err != nil {
		return nil, err
	}

	for _, date := range DayRange(req.Start, req.Days) {
		if ctx.Err() != nil {
			return run, ctx.Err()
		}

		result, err := p.extractDate(ctx, date)
		if err != nil {
			logAbsorbed(ctx, "date extraction failed", err, "date", date)
		} else {
			run.Dates[date] = result
		}

		run.ComputeSummary()
		if req.OnProgress != nil {
			req.OnProgress(run.Snapshot())
		}
	}

	run.ComputeSummary()
	slog.InfoContext(ctx, "extraction finished",
		"dates", run.Summary.TotalDates,
		"classes", run.Summary.TotalClasses,
		"reservations", run.Summary.TotalReservations)
	return run, nil
}

func (p Pipeline) extractDate(ctx context.Context, date string) (DateResult, error) {
	options, err := p.Enum.ClassesForDate(ctx, date)
	if err != nil {
		return DateResult{}, err
	}

	result := DateResult{
		Date:      date,
		Classes:   map[string]ClassResult{},
		ScrapedAt: timezone.Now().Format(time.RFC3339),
	}
	for _, opt := range options {
		if !ValidClassID(opt.ID) {
			slog.WarnContext(ctx, "skipping class with malformed id", "id", opt.ID, "name", opt.Name)
			continue
		}
		classResult, err := p.Fetch.ReservationsFor(ctx, opt, date)
		if err != nil {
			logAbsorbed(ctx, "class extraction failed", err, "date", date, "class", opt.Name)
			continue
		}
		result.Classes[opt.Name] = classResult
	}
	result.TotalClasses = len(result.Classes)
	return result, nil
}
