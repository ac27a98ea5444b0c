package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"boxsync-backend/lib/timezone"
	"boxsync-backend/services/checkin/store"

	"github.com/go-chi/chi/v5"
)

// Runner performs one full extraction. the production runner opens a
// browser, tests inject something cheaper.
type Runner func(ctx context.Context, onProgress func(*ExtractionRun)) (*ExtractionRun, error)

// CalendarRunner produces one schedule-grid snapshot.
type CalendarRunner func(ctx context.Context) (*CalendarSnapshot, error)

// Service serves the latest extraction snapshot and accepts scrape
// triggers. exactly one scrape of either kind may be in flight at a
// time, a second trigger is rejected rather than queued.
type Service struct {
	store          store.Store
	runner         Runner
	calendarRunner CalendarRunner

	latest         atomic.Pointer[ExtractionRun]
	latestCalendar atomic.Pointer[CalendarSnapshot]
	running        atomic.Bool

	statusMu sync.Mutex
	status   ScrapeStatus
}

func NewService(st store.Store, runner Runner, calendarRunner CalendarRunner) *Service {
	s := &Service{store: st, runner: runner, calendarRunner: calendarRunner}
	s.loadPersisted(context.Background())
	return s
}

// loadPersisted seeds the in-memory snapshots from the database so the
// API answers immediately after a restart.
func (s *Service) loadPersisted(ctx context.Context) {
	payload, updatedAt, err := s.store.LatestSnapshot(ctx, store.KindCheckin)
	if err == nil {
		var run ExtractionRun
		if err := json.Unmarshal(payload, &run); err != nil {
			logAbsorbed(ctx, "persisted snapshot is corrupt", err)
		} else {
			s.latest.Store(&run)
			s.statusMu.Lock()
			s.status.LastScrape = timestamp(updatedAt)
			s.status.LastSuccess = timestamp(updatedAt)
			s.statusMu.Unlock()
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		logAbsorbed(ctx, "failed to load persisted snapshot", err)
	}

	payload, _, err = s.store.LatestSnapshot(ctx, store.KindCalendar)
	if err == nil {
		var calendar CalendarSnapshot
		if err := json.Unmarshal(payload, &calendar); err != nil {
			logAbsorbed(ctx, "persisted calendar is corrupt", err)
		} else {
			s.latestCalendar.Store(&calendar)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		logAbsorbed(ctx, "failed to load persisted calendar", err)
	}
}

// Latest returns the most recent run, possibly restored from disk.
func (s *Service) Latest() *ExtractionRun {
	return s.latest.Load()
}

// LatestCalendar returns the most recent schedule snapshot.
func (s *Service) LatestCalendar() *CalendarSnapshot {
	return s.latestCalendar.Load()
}

// Seed returns the run a new extraction should merge from.
func (s *Service) Seed() *ExtractionRun {
	return s.latest.Load()
}

func (s *Service) persist(ctx context.Context, run *ExtractionRun) {
	if err := s.store.SaveSnapshot(ctx, store.KindCheckin, run); err != nil {
		logAbsorbed(ctx, "failed to persist snapshot", err)
	}
}

// TriggerScrape starts one extraction unless one is already running.
func (s *Service) TriggerScrape(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	s.statusMu.Lock()
	s.status.IsScraping = true
	s.status.Error = ""
	s.statusMu.Unlock()

	go func() {
		defer s.running.Store(false)

		started := timezone.Now()
		run, err := s.runner(ctx, func(partial *ExtractionRun) {
			s.latest.Store(partial)
			s.persist(ctx, partial)
		})

		s.statusMu.Lock()
		defer s.statusMu.Unlock()
		s.status.IsScraping = false
		s.status.LastScrape = timestamp(started)
		if err != nil {
			slog.ErrorContext(ctx, "extraction failed", "err", err)
			s.status.Error = err.Error()
			return
		}
		s.status.LastSuccess = timestamp(timezone.Now())
		s.latest.Store(run)
		s.persist(ctx, run)
	}()
	return true
}

// TriggerCalendarScrape starts one calendar snapshot run. it shares
// the run guard with check-in extraction, both drive the same browser.
func (s *Service) TriggerCalendarScrape(ctx context.Context) bool {
	if s.calendarRunner == nil {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	go func() {
		defer s.running.Store(false)

		snapshot, err := s.calendarRunner(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "calendar scrape failed", "err", err)
			return
		}
		s.latestCalendar.Store(snapshot)
		if err := s.store.SaveSnapshot(ctx, store.KindCalendar, snapshot); err != nil {
			logAbsorbed(ctx, "failed to persist calendar", err)
		}
	}()
	return true
}

// SetNextScheduled records when the worker plans the next run, shown
// on the status endpoint.
func (s *Service) SetNextScheduled(t time.Time) {
	s.statusMu.Lock()
	s.status.NextScheduled = timestamp(t)
	s.statusMu.Unlock()
}

func (s *Service) Status() ScrapeStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// Router builds the HTTP surface.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/checkin", s.handleCheckin)
	r.Get("/api/checkin/{date}", s.handleCheckinDate)
	r.Get("/api/checkin/class/{date}/{class}", s.handleCheckinClass)
	r.Get("/api/calendar", s.handleCalendar)
	r.Get("/api/all-data", s.handleAllData)
	r.Post("/api/scrape/now", s.handleScrapeNow)
	return r
}

func (s *Service) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "boxsync",
		"endpoints": []string{
			"GET /health",
			"GET /api/status",
			"GET /api/checkin",
			"GET /api/checkin/{date}",
			"GET /api/checkin/class/{date}/{class}",
			"GET /api/calendar",
			"GET /api/all-data",
			"POST /api/scrape/now",
		},
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   timestamp(timezone.Now()),
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": s.Status(),
		"data_available": map[string]bool{
			"checkin":  s.latest.Load() != nil,
			"calendar": s.latestCalendar.Load() != nil,
		},
	})
}

func (s *Service) handleCheckin(w http.ResponseWriter, r *http.Request) {
	run := s.latest.Load()
	if run == nil {
		writeError(w, http.StatusNotFound, "no extraction data available yet")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Service) handleCheckinDate(w http.ResponseWriter, r *http.Request) {
	run := s.latest.Load()
	if run == nil {
		writeError(w, http.StatusNotFound, "no extraction data available yet")
		return
	}
	date := chi.URLParam(r, "date")
	result, ok := run.Dates[date]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":           "no data for date " + date,
			"available_dates": sortedKeys(run.Dates),
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleCheckinClass(w http.ResponseWriter, r *http.Request) {
	run := s.latest.Load()
	if run == nil {
		writeError(w, http.StatusNotFound, "no extraction data available yet")
		return
	}
	date := chi.URLParam(r, "date")
	// class names contain spaces, chi hands the segment back escaped
	class, err := url.PathUnescape(chi.URLParam(r, "class"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed class name")
		return
	}

	dateResult, ok := run.Dates[date]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":           "no data for date " + date,
			"available_dates": sortedKeys(run.Dates),
		})
		return
	}
	classResult, ok := dateResult.Classes[class]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":             "no data for class " + class,
			"available_classes": sortedKeys(dateResult.Classes),
		})
		return
	}
	writeJSON(w, http.StatusOK, classResult)
}

func (s *Service) handleCalendar(w http.ResponseWriter, r *http.Request) {
	snapshot := s.latestCalendar.Load()
	if snapshot == nil {
		writeError(w, http.StatusNotFound, "no calendar data available yet")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Service) handleAllData(w http.ResponseWriter, r *http.Request) {
	run := s.latest.Load()
	calendar := s.latestCalendar.Load()
	if run == nil && calendar == nil {
		writeError(w, http.StatusNotFound, "no data available yet")
		return
	}

	summary := map[string]any{
		"checkin_available":     run != nil,
		"calendar_available":    calendar != nil,
		"total_dates":           0,
		"total_classes":         0,
		"total_reservations":    0,
		"total_calendar_events": 0,
	}
	if run != nil {
		summary["total_dates"] = run.Summary.TotalDates
		summary["total_classes"] = run.Summary.TotalClasses
		summary["total_reservations"] = run.Summary.TotalReservations
	}
	if calendar != nil {
		summary["total_calendar_events"] = calendar.TotalEvents
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scrapedAt": timestamp(timezone.Now()),
		"status":    s.Status(),
		"data": map[string]any{
			"checkin":  run,
			"calendar": calendar,
		},
		"summary": summary,
	})
}

func (s *Service) handleScrapeNow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type string `json:"type"`
	}
	// an empty body means a check-in scrape
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Type == "" {
		body.Type = "checkin"
	}

	var started bool
	switch body.Type {
	case "checkin":
		started = s.TriggerScrape(context.WithoutCancel(r.Context()))
	case "calendar":
		if s.calendarRunner == nil {
			writeError(w, http.StatusServiceUnavailable, "calendar scraping is not configured")
			return
		}
		started = s.TriggerCalendarScrape(context.WithoutCancel(r.Context()))
	default:
		writeError(w, http.StatusBadRequest, "invalid scrape type "+body.Type)
		return
	}
	if !started {
		writeError(w, http.StatusConflict, "a scrape is already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": body.Type + " scrape started"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// corsMiddleware allows any origin. the API serves read-only dashboard
// pages on other hosts and carries no credentials.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
