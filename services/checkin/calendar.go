package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"boxsync-backend/lib/timezone"

	"github.com/chromedp/chromedp/kb"
	"go.opentelemetry.io/otel/codes"
)

// EventDetails is what the event's modal dialog exposes. every field
// is optional, the modal markup is label-prefixed free text.
type EventDetails struct {
	Day         string `json:"day,omitempty"`
	ClassName   string `json:"className,omitempty"`
	Program     string `json:"program,omitempty"`
	StartTime   string `json:"startTime,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
	Capacity    string `json:"capacity,omitempty"`
	TrialClass  string `json:"trialClass,omitempty"`
	OnlineClass string `json:"onlineClass,omitempty"`
	FreeClass   string `json:"freeClass,omitempty"`
	Teachers    string `json:"teachers,omitempty"`
}

// CalendarEvent is one block on the weekly schedule grid.
type CalendarEvent struct {
	Index     int           `json:"index"`
	Text      string        `json:"text"`
	StartTime string        `json:"startTime"`
	EndTime   string        `json:"endTime"`
	Details   *EventDetails `json:"modalDetails,omitempty"`
	Coach     string        `json:"filteredCoach,omitempty"`
}

type CalendarSnapshot struct {
	Coach       string          `json:"coach,omitempty"`
	Events      []CalendarEvent `json:"events"`
	TotalEvents int             `json:"totalEvents"`
	URL         string          `json:"url"`
	ScrapedAt   string          `json:"scrapedAt"`
}

// rawEvent is the shape listEvents produces in the page.
type rawEvent struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	HasTime   bool   `json:"hasTime"`
}

const eventSelector = `.fc-time-grid-event.fc-v-event.fc-event`

// ScrapeCalendar walks the weekly schedule grid, opening each event's
// modal for its details. coach filters the grid first when non-empty.
// per-event failures are absorbed, the snapshot holds what was reached.
func (s *Scraper) ScrapeCalendar(ctx context.Context, coach string) (*CalendarSnapshot, error) {
	ctx, span := tracer.Start(ctx, "ScrapeCalendar")
	defer span.End()

	if !s.authenticated {
		return nil, ErrAuthenticationRequired
	}

	if err := s.browser.Navigate(ctx, s.cfg.CalendarURL); err != nil {
		s.browser.Screenshot(ctx, "calendar_navigate_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	// the grid renders its events after load
	s.browser.Sleep(ctx, 3*time.Second)

	if coach != "" {
		if err := s.filterByCoach(ctx, coach); err != nil {
			s.browser.Screenshot(ctx, "coach_filter_failed")
			return nil, err
		}
	}

	raw, err := s.listEvents(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &CalendarSnapshot{
		Coach:     coach,
		Events:    []CalendarEvent{},
		URL:       s.cfg.CalendarURL,
		ScrapedAt: timezone.Now().Format(time.RFC3339),
	}

	for _, ev := range raw {
		if !ev.HasTime {
			continue
		}
		event := CalendarEvent{
			Index:     ev.Index,
			Text:      ev.Text,
			StartTime: ev.StartTime,
			EndTime:   ev.EndTime,
			Coach:     coach,
		}
		details, err := s.eventDetails(ctx, ev.Index)
		if err != nil {
			logAbsorbed(ctx, "failed to read event details", err, "index", ev.Index, "start", ev.StartTime)
		} else {
			event.Details = details
		}
		snapshot.Events = append(snapshot.Events, event)
	}

	snapshot.TotalEvents = len(snapshot.Events)
	slog.InfoContext(ctx, "calendar scraped", "events", snapshot.TotalEvents, "coach", coach)
	return snapshot, nil
}

// listEvents pulls the time-grid blocks with their visible text and a
// parsed HH:MM-HH:MM range when the block carries one.
func (s *Scraper) listEvents(ctx context.Context) ([]rawEvent, error) {
	script := fmt.Sprintf(`(() => {
		const events = [];
		document.querySelectorAll(%q).forEach((el, index) => {
			const text = el.textContent.trim();
			const m = text.match(/(\d{1,2}:\d{2})\s*-\s*(\d{1,2}:\d{2})/);
			events.push({
				index: index,
				text: text,
				startTime: m ? m[1] : "",
				endTime: m ? m[2] : "",
				hasTime: m !== null,
			});
		});
		return events;
	})()`, eventSelector)

	var raw []rawEvent
	if err := s.browser.Eval(ctx, script, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// eventDetails opens the event's modal, reads the labeled values out of
// it and closes it again.
func (s *Scraper) eventDetails(ctx context.Context, index int) (*EventDetails, error) {
	clickScript := fmt.Sprintf(`(() => {
		const el = document.querySelectorAll(%q)[%d];
		if (!el) { return false; }
		el.scrollIntoView({ block: "center" });
		el.click();
		return true;
	})()`, eventSelector, index)

	var clicked bool
	if err := s.browser.Eval(ctx, clickScript, &clicked); err != nil {
		return nil, err
	}
	if !clicked {
		return nil, fmt.Errorf("event %d no longer on the grid", index)
	}
	s.browser.Sleep(ctx, time.Second)

	detailScript := `(() => {
		const modal = document.querySelector('.modal-content, [role="dialog"], .modal');
		if (!modal) { return null; }

		const labeled = (label) => {
			for (const el of modal.querySelectorAll('*')) {
				const text = el.textContent.trim();
				if (text.startsWith(label)) {
					const value = text.replace(label, '').trim();
					return value.split(/\n|\s{2,}/)[0].trim();
				}
			}
			return "";
		};

		const teachers = () => {
			const m = modal.textContent.match(/Profesores asignados:\s*([^]+?)(?=Select|Sala|$)/);
			if (!m) { return ""; }
			const names = m[1].match(/[A-Z][a-z]+\s+[A-Z][a-z]+/g) || [];
			return [...new Set(names)].join(', ');
		};

		return {
			day: labeled('Día:'),
			className: labeled('Clase:'),
			program: labeled('Programa'),
			startTime: labeled('Hora Inicio:'),
			endTime: labeled('Hora Fin:'),
			capacity: labeled('Cupos de clientes por clase:'),
			trialClass: labeled('Clase de prueba:'),
			onlineClass: labeled('Clase Online'),
			freeClass: labeled('Clase libre'),
			teachers: teachers(),
		};
	})()`

	var details *EventDetails
	err := s.browser.Eval(ctx, detailScript, &details)
	s.closeModal(ctx)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, fmt.Errorf("modal for event %d never appeared", index)
	}
	return details, nil
}

func (s *Scraper) closeModal(ctx context.Context) {
	script := `(() => {
		const selectors = ['.modal-close', '[aria-label="Close"]', 'button.close'];
		for (const sel of selectors) {
			const btn = document.querySelector(sel);
			if (btn) { btn.click(); return true; }
		}
		for (const btn of document.querySelectorAll('button')) {
			const text = btn.textContent.trim().toLowerCase();
			if (text === 'cerrar' || text === 'close') { btn.click(); return true; }
		}
		return false;
	})()`

	var closed bool
	if err := s.browser.Eval(ctx, script, &closed); err != nil || !closed {
		// Escape works on modals without a close control
		if err := s.browser.SendKeys(ctx, "body", kb.Escape); err != nil {
			logAbsorbed(ctx, "could not close event modal", err)
		}
	}
	s.browser.Sleep(ctx, time.Second)
}

// filterByCoach narrows the grid to one coach: pick them in whichever
// select holds coach names, then press the filter button if there is
// one. grids without a button auto-filter on the change event.
func (s *Scraper) filterByCoach(ctx context.Context, coach string) error {
	selectScript := fmt.Sprintf(`((coachName) => {
		for (const select of document.querySelectorAll('select')) {
			const options = Array.from(select.options);
			const hasCoaches = options.some(opt =>
				opt.text.includes('Profesor') || /[A-Z][a-z]+\s+[A-Z][a-z]+/.test(opt.text));
			if (!hasCoaches) { continue; }

			const match = options.find(opt =>
				opt.text.trim() === coachName || opt.text.trim().includes(coachName));
			if (!match) { continue; }

			select.value = match.value;
			select.dispatchEvent(new Event('input', { bubbles: true }));
			select.dispatchEvent(new Event('change', { bubbles: true }));
			if (window.jQuery) { window.jQuery(select).trigger('change'); }
			return true;
		}
		return false;
	})(%q)`, coach)

	var selected bool
	if err := s.browser.Eval(ctx, selectScript, &selected); err != nil {
		return err
	}
	if !selected {
		return fmt.Errorf("coach %q not found in any dropdown", coach)
	}

	filterScript := `(() => {
		for (const btn of document.querySelectorAll('button, input[type="submit"], a.btn')) {
			const text = (btn.textContent || btn.value || '').trim().toLowerCase();
			if (text.includes('filtrar') || text.includes('filter') || text.includes('aplicar')) {
				btn.click();
				return true;
			}
		}
		return false;
	})()`

	var filtered bool
	if err := s.browser.Eval(ctx, filterScript, &filtered); err != nil {
		return err
	}
	if !filtered {
		slog.DebugContext(ctx, "no filter button, relying on auto-filter")
	}
	s.browser.Sleep(ctx, 3*time.Second)
	return nil
}
