package checkin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"boxsync-backend/lib/retryutil"
)

const dateInputSelector = `input[type="date"], input[name*="fecha" i], input[id*="fecha" i]`

// selectDate moves the listing page to the given date. the date widget
// is reactive, a plain value assignment does not wake its listener, so
// the events are dispatched by script as well.
func (s *Scraper) selectDate(ctx context.Context, date string) error {
	iso, err := toISODay(date)
	if err != nil {
		return err
	}

	script := fmt.Sprintf(`(() => {
		const input = document.querySelector(%q);
		if (!input) { return false; }
		input.value = %q;
		input.dispatchEvent(new Event('input', { bubbles: true }));
		input.dispatchEvent(new Event('change', { bubbles: true }));
		if (window.jQuery) { window.jQuery(input).trigger('change'); }
		return true;
	})()`, dateInputSelector, iso)

	var ok bool
	if err := s.browser.Eval(ctx, script, &ok); err != nil {
		return err
	}
	if !ok {
		s.browser.Screenshot(ctx, "date_input_missing")
		return fmt.Errorf("%w: date input", ErrFieldNotFound)
	}
	s.browser.Sleep(ctx, 2*time.Second)
	return nil
}

// ClassesForDate selects the date on the listing page and enumerates
// the classes it offers. an exhausted retry budget yields an empty
// list, an empty schedule day and a slow page look the same from here
// and neither should abort the run.
func (s *Scraper) ClassesForDate(ctx context.Context, date string) ([]ClassOption, error) {
	ctx, span := tracer.Start(ctx, "ClassesForDate")
	defer span.End()

	if err := s.selectDate(ctx, date); err != nil {
		return nil, err
	}

	var options []ClassOption
	err := retryutil.Do(ctx, 5, 2*time.Second, func() error {
		found, err := s.fetchClassList(ctx, date)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("no classes listed yet for %s", date)
		}
		options = found
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.WarnContext(ctx, "no classes found after retries", "date", date)
		return nil, nil
	}
	return options, nil
}

// fetchClassList asks the class endpoint directly and falls back to
// scraping the select element the page renders from the same data.
func (s *Scraper) fetchClassList(ctx context.Context, date string) ([]ClassOption, error) {
	if err := s.syncCookies(ctx); err != nil {
		return nil, err
	}

	resp, err := s.roster.http.R().
		SetContext(ctx).
		Get("/checkin/date_get_clases/" + date)
	if err == nil && resp.IsSuccess() {
		options := NormalizeClassList(json.RawMessage(resp.Body()))
		if len(options) > 0 {
			return options, nil
		}
	} else if err != nil {
		slog.DebugContext(ctx, "class endpoint failed, reading page", "err", err)
	}

	var markup string
	evalErr := s.browser.Eval(ctx,
		`(() => { const el = document.querySelector('select[name*="clase" i], select[id*="clase" i], select'); return el ? el.outerHTML : ""; })()`,
		&markup)
	if evalErr != nil {
		return nil, evalErr
	}
	return NormalizeClassList(markup), nil
}
