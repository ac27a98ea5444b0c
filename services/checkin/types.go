package checkin

import (
	"strings"
	"time"
)

// Reservation is one student's booking for one class instance. FullName
// is always recomputed from the name parts, upstream concatenations are
// not trusted.
type Reservation struct {
	ID                  int64  `json:"id"`
	ReservationID       int64  `json:"reservationId"`
	HashReservationID   string `json:"hashReservationId"`
	FirstName           string `json:"firstName"`
	LastName            string `json:"lastName"`
	FullName            string `json:"fullName"`
	Email               string `json:"email"`
	Phone               string `json:"phone"`
	Status              int64  `json:"status"`
	PlanName            string `json:"planName"`
	Channel             string `json:"channel"`
	CreatedAt           string `json:"createdAt"`
	AttendanceConfirmed bool   `json:"attendanceConfirmed"`
	PendingPayment      bool   `json:"pendingPayment"`
	FormURL             string `json:"formUrl"`
	ShowForm            bool   `json:"showForm"`
	Rating              string `json:"rating"`
	Avatar              string `json:"avatar"`
}

// JoinName builds a display name out of possibly padded name parts.
func JoinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// ClassResult is the roster extracted for one class on one date.
// TotalReservations always equals len(Reservations); it is recomputed
// rather than copied from the endpoint's own counters.
type ClassResult struct {
	ClassName         string        `json:"class"`
	ClassID           string        `json:"classId"`
	Reservations      []Reservation `json:"reservations"`
	TotalReservations int           `json:"totalReservations"`
	ExtractedAt       string        `json:"extractedAt"`
	// raw endpoint payload, retained only when the endpoint reported
	// success=false so the response can be inspected afterwards
	Diagnostic string `json:"diagnostic,omitempty"`
}

// DateResult groups class results for one calendar date (DD-MM-YYYY).
// TotalClasses counts the map entries, classes whose extraction failed
// are simply absent.
type DateResult struct {
	Date         string                 `json:"date"`
	Classes      map[string]ClassResult `json:"classes"`
	TotalClasses int                    `json:"totalClasses"`
	ScrapedAt    string                 `json:"scrapedAt"`
}

type Summary struct {
	TotalDates        int `json:"totalDates"`
	TotalClasses      int `json:"totalClasses"`
	TotalReservations int `json:"totalReservations"`
}

// ExtractionRun is one complete pass over a requested date span.
type ExtractionRun struct {
	StartDate string                `json:"startDate"`
	Days      int                   `json:"days"`
	Dates     map[string]DateResult `json:"dates"`
	Summary   Summary               `json:"summary"`
	ScrapedAt string                `json:"scrapedAt"`
}

func NewExtractionRun(startDate string, days int) *ExtractionRun {
	return &ExtractionRun{
		StartDate: startDate,
		Days:      days,
		Dates:     map[string]DateResult{},
	}
}

// Snapshot returns a copy that is safe to hand to readers while the
// run is still being built. date entries are never mutated once
// inserted, so copying the date map is enough.
func (r *ExtractionRun) Snapshot() *ExtractionRun {
	out := &ExtractionRun{
		StartDate: r.StartDate,
		Days:      r.Days,
		Dates:     make(map[string]DateResult, len(r.Dates)),
		ScrapedAt: r.ScrapedAt,
	}
	for date, result := range r.Dates {
		out.Dates[date] = result
	}
	out.ComputeSummary()
	return out
}

// MergeSeed pre-populates the run with a prior run's dates so an
// interrupted extraction restarted over a different window keeps what
// was already scraped. dates extracted by this run overwrite seeded
// entries wholesale.
func (r *ExtractionRun) MergeSeed(seed *ExtractionRun) {
	if seed == nil {
		return
	}
	for date, result := range seed.Dates {
		if _, ok := r.Dates[date]; !ok {
			r.Dates[date] = result
		}
	}
}

// ComputeSummary recounts everything by walking the date map. counters
// are never tracked incrementally, retries and seed merges make that
// drift.
func (r *ExtractionRun) ComputeSummary() Summary {
	s := Summary{TotalDates: len(r.Dates)}
	for _, date := range r.Dates {
		s.TotalClasses += len(date.Classes)
		for _, class := range date.Classes {
			s.TotalReservations += len(class.Reservations)
		}
	}
	r.Summary = s
	return s
}

// ScrapeStatus mirrors what /api/status reports.
type ScrapeStatus struct {
	IsScraping    bool   `json:"is_scraping"`
	LastScrape    string `json:"last_scrape,omitempty"`
	LastSuccess   string `json:"last_success,omitempty"`
	NextScheduled string `json:"next_scheduled,omitempty"`
	Error         string `json:"error,omitempty"`
}

func timestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
