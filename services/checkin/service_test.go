package checkin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"boxsync-backend/lib/testutil"
	"boxsync-backend/services/checkin/store"

	"github.com/stretchr/testify/require"
)

func serviceFixture(t *testing.T, runner Runner) (*Service, store.Store) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/checkin",
		DbSchema: store.Schema,
	})
	t.Cleanup(cleanup)
	t.Cleanup(func() { setup.DB.Close() })

	st := store.New(setup.DB)
	if runner == nil {
		runner = func(ctx context.Context, onProgress func(*ExtractionRun)) (*ExtractionRun, error) {
			return NewExtractionRun("09-03-2025", 0), nil
		}
	}
	return NewService(st, runner, nil), st
}

func sampleRun() *ExtractionRun {
	run := NewExtractionRun("09-03-2025", 2)
	run.Dates["09-03-2025"] = DateResult{
		Date: "09-03-2025",
		Classes: map[string]ClassResult{
			"CrossFit 18:00": {
				ClassName:         "CrossFit 18:00",
				ClassID:           "104996-237092",
				Reservations:      []Reservation{{FullName: "Ana Rojas"}},
				TotalReservations: 1,
			},
		},
		TotalClasses: 1,
	}
	run.ComputeSummary()
	return run
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) int {
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestAPIWithoutData(t *testing.T) {
	service, _ := serviceFixture(t, nil)
	srv := httptest.NewServer(service.Router())
	defer srv.Close()

	require.Equal(t, http.StatusOK, getJSON(t, srv, "/health", nil))
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/status", nil))
	require.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/checkin", nil))
	require.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/checkin/09-03-2025", nil))
}

func TestAPILookups(t *testing.T) {
	service, _ := serviceFixture(t, nil)
	service.latest.Store(sampleRun())

	srv := httptest.NewServer(service.Router())
	defer srv.Close()

	var run ExtractionRun
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/checkin", &run))
	require.Equal(t, 1, run.Summary.TotalReservations)

	var date DateResult
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/checkin/09-03-2025", &date))
	require.Equal(t, 1, date.TotalClasses)

	var class ClassResult
	status := getJSON(t, srv, "/api/checkin/class/09-03-2025/CrossFit%2018:00", &class)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "104996-237092", class.ClassID)
}

func TestAPINotFoundListsAlternatives(t *testing.T) {
	service, _ := serviceFixture(t, nil)
	service.latest.Store(sampleRun())

	srv := httptest.NewServer(service.Router())
	defer srv.Close()

	var body struct {
		Error          string   `json:"error"`
		AvailableDates []string `json:"available_dates"`
	}
	require.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/checkin/10-03-2025", &body))
	require.Equal(t, []string{"09-03-2025"}, body.AvailableDates)

	var classBody struct {
		Error            string   `json:"error"`
		AvailableClasses []string `json:"available_classes"`
	}
	status := getJSON(t, srv, "/api/checkin/class/09-03-2025/Yoga", &classBody)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, []string{"CrossFit 18:00"}, classBody.AvailableClasses)
}

func TestScrapeTriggerRejectsConcurrentRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	runner := func(ctx context.Context, onProgress func(*ExtractionRun)) (*ExtractionRun, error) {
		close(started)
		<-release
		return sampleRun(), nil
	}
	service, _ := serviceFixture(t, runner)

	srv := httptest.NewServer(service.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/scrape/now", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-started

	resp, err = http.Post(srv.URL+"/api/scrape/now", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	close(release)
	require.Eventually(t, func() bool {
		return !service.Status().IsScraping
	}, 5*time.Second, 10*time.Millisecond)
	require.NotNil(t, service.Latest())
}

func TestScrapeFailureRecordedInStatus(t *testing.T) {
	runner := func(ctx context.Context, onProgress func(*ExtractionRun)) (*ExtractionRun, error) {
		return nil, ErrLoginFailed
	}
	service, _ := serviceFixture(t, runner)

	require.True(t, service.TriggerScrape(context.Background()))
	require.Eventually(t, func() bool {
		return !service.Status().IsScraping
	}, 5*time.Second, 10*time.Millisecond)

	status := service.Status()
	require.Contains(t, status.Error, "login failed")
	require.NotEmpty(t, status.LastScrape)
	require.Empty(t, status.LastSuccess)
}

func TestServiceRestoresPersistedSnapshot(t *testing.T) {
	service, st := serviceFixture(t, nil)

	require.True(t, service.TriggerScrape(context.Background()))
	require.Eventually(t, func() bool {
		return !service.Status().IsScraping
	}, 5*time.Second, 10*time.Millisecond)

	err := st.SaveSnapshot(context.Background(), store.KindCheckin, sampleRun())
	if err != nil {
		t.Fatal(err)
	}

	restored := NewService(st, service.runner, nil)
	require.NotNil(t, restored.Latest())
	require.Equal(t, 1, restored.Latest().Summary.TotalReservations)
	require.NotEmpty(t, restored.Status().LastSuccess)
}

func TestCalendarEndpoints(t *testing.T) {
	service, st := serviceFixture(t, nil)
	service.calendarRunner = func(ctx context.Context) (*CalendarSnapshot, error) {
		return &CalendarSnapshot{
			Events:      []CalendarEvent{{Index: 0, Text: "18:00 - 19:00 CrossFit", StartTime: "18:00", EndTime: "19:00"}},
			TotalEvents: 1,
		}, nil
	}

	srv := httptest.NewServer(service.Router())
	defer srv.Close()

	require.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/calendar", nil))

	resp, err := http.Post(srv.URL+"/api/scrape/now", "application/json", strings.NewReader(`{"type":"calendar"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return service.LatestCalendar() != nil
	}, 5*time.Second, 10*time.Millisecond)

	var snapshot CalendarSnapshot
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/calendar", &snapshot))
	require.Equal(t, 1, snapshot.TotalEvents)

	// persisted, so a restarted service still has it
	require.Eventually(t, func() bool {
		_, _, err := st.LatestSnapshot(context.Background(), store.KindCalendar)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	restored := NewService(st, service.runner, service.calendarRunner)
	require.NotNil(t, restored.LatestCalendar())
}

func TestScrapeNowRejectsUnknownType(t *testing.T) {
	service, _ := serviceFixture(t, nil)
	srv := httptest.NewServer(service.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/scrape/now", "application/json", strings.NewReader(`{"type":"bogus"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCalendarTriggerWithoutRunner(t *testing.T) {
	service, _ := serviceFixture(t, nil)
	srv := httptest.NewServer(service.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/scrape/now", "application/json", strings.NewReader(`{"type":"calendar"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAllDataSummary(t *testing.T) {
	service, _ := serviceFixture(t, nil)
	srv := httptest.NewServer(service.Router())
	defer srv.Close()

	require.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/all-data", nil))

	service.latest.Store(sampleRun())
	var body struct {
		Summary struct {
			CheckinAvailable    bool `json:"checkin_available"`
			CalendarAvailable   bool `json:"calendar_available"`
			TotalReservations   int  `json:"total_reservations"`
			TotalCalendarEvents int  `json:"total_calendar_events"`
		} `json:"summary"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/all-data", &body))
	require.True(t, body.Summary.CheckinAvailable)
	require.False(t, body.Summary.CalendarAvailable)
	require.Equal(t, 1, body.Summary.TotalReservations)
	require.Equal(t, 0, body.Summary.TotalCalendarEvents)
}

func TestProgressPersistsPartialRuns(t *testing.T) {
	partial := sampleRun()
	runner := func(ctx context.Context, onProgress func(*ExtractionRun)) (*ExtractionRun, error) {
		onProgress(partial)
		return partial, nil
	}
	service, st := serviceFixture(t, runner)

	require.True(t, service.TriggerScrape(context.Background()))
	require.Eventually(t, func() bool {
		payload, _, err := st.LatestSnapshot(context.Background(), store.KindCheckin)
		return err == nil && len(payload) > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, partial, service.Latest())
}
