package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"boxsync-backend/lib/configutil"
	"boxsync-backend/lib/serviceutil"
	"boxsync-backend/lib/telemetry"
	"boxsync-backend/lib/timezone"
	"boxsync-backend/services/checkin"
	"boxsync-backend/services/checkin/store"

	"github.com/lmittmann/tint"
)

type Config struct {
	Port     int    `json:"port"`
	Database string `json:"database"`

	BaseURL       string `json:"base_url"`
	LoginURL      string `json:"login_url"`
	CheckinURL    string `json:"checkin_url"`
	CalendarURL   string `json:"calendar_url"`
	RoleLabel     string `json:"role_label"`
	CoachFilter   string `json:"coach_filter"`
	Headless      *bool  `json:"headless"`
	ScreenshotDir string `json:"screenshot_dir"`

	ScrapeIntervalMinutes int `json:"scrape_interval_minutes"`
	DaysAhead             int `json:"days_ahead"`
}

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	})))

	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	if config.Port == 0 {
		config.Port = 8350
	}
	if config.Database == "" {
		config.Database = "checkin.db"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://boxmagic.cl"
	}
	if config.DaysAhead == 0 {
		config.DaysAhead = 7
	}

	configutil.LoadDotenv()
	username := os.Getenv("BOXSYNC_USERNAME")
	password := os.Getenv("BOXSYNC_PASSWORD")
	if username == "" || password == "" {
		serviceutil.Fatal("missing credentials", checkin.ErrAuthenticationRequired)
	}

	t, err := telemetry.SetupFromEnv(ctx, "checkin")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	st, db, err := store.Open(config.Database)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}
	defer db.Close()

	headless := true
	if config.Headless != nil {
		headless = *config.Headless
	}
	scraperConfig := checkin.ScraperConfig{
		BaseURL:       config.BaseURL,
		LoginURL:      config.LoginURL,
		CheckinURL:    config.CheckinURL,
		CalendarURL:   config.CalendarURL,
		RoleLabel:     config.RoleLabel,
		Username:      username,
		Password:      password,
		Headless:      headless,
		ScreenshotDir: config.ScreenshotDir,
	}

	// the runner needs the service for its seed and the service needs
	// the runner, so the variable is bound before the closure runs.
	var service *checkin.Service
	runner := func(ctx context.Context, onProgress func(*checkin.ExtractionRun)) (*checkin.ExtractionRun, error) {
		scraper, err := checkin.NewScraper(ctx, scraperConfig, st)
		if err != nil {
			return nil, err
		}
		defer scraper.Close()

		if err := scraper.EnsureAuthenticated(ctx, true); err != nil {
			return nil, err
		}
		return scraper.Run(ctx, checkin.ExtractRequest{
			Start:      timezone.Now(),
			Days:       config.DaysAhead,
			Seed:       service.Seed(),
			OnProgress: onProgress,
		})
	}
	calendarRunner := func(ctx context.Context) (*checkin.CalendarSnapshot, error) {
		scraper, err := checkin.NewScraper(ctx, scraperConfig, st)
		if err != nil {
			return nil, err
		}
		defer scraper.Close()

		if err := scraper.EnsureAuthenticated(ctx, true); err != nil {
			return nil, err
		}
		return scraper.ScrapeCalendar(ctx, config.CoachFilter)
	}

	service = checkin.NewService(st, runner, calendarRunner)
	service.ScrapeWorker(ctx, time.Duration(config.ScrapeIntervalMinutes)*time.Minute)
	service.CalendarWorker(ctx)

	go serviceutil.StartHttpServer(config.Port, service.Router())

	<-ctx.Done()
}
