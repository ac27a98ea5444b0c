package checkin

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"boxsync-backend/lib/browser"
	"boxsync-backend/lib/telemetry"
	"boxsync-backend/services/checkin/store"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/checkin")

type ScraperConfig struct {
	// https://boxmagic.cl
	BaseURL string `json:"base_url"`
	// overridable for staging mirrors, default derived from BaseURL
	LoginURL    string `json:"login_url"`
	CheckinURL  string `json:"checkin_url"`
	CalendarURL string `json:"calendar_url"`
	// label of the account role to pick on the post-login interstitial
	RoleLabel string `json:"role_label"`

	Username string `json:"-"`
	Password string `json:"-"`

	Headless      bool   `json:"headless"`
	ScreenshotDir string `json:"screenshot_dir"`
	UserAgent     string `json:"user_agent"`
}

func (c *ScraperConfig) applyDefaults() error {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	if c.LoginURL == "" {
		c.LoginURL = base.JoinPath("/login").String()
	}
	if c.CheckinURL == "" {
		c.CheckinURL = base.JoinPath("/checkin/clases").String()
	}
	if c.CalendarURL == "" {
		c.CalendarURL = base.JoinPath("/horarios/agenda_general").String()
	}
	if c.RoleLabel == "" {
		c.RoleLabel = "Administrador"
	}
	return nil
}

// page is the slice of browser behavior the scraper drives. satisfied
// by *browser.Browser.
type page interface {
	Navigate(ctx context.Context, url string) error
	Eval(ctx context.Context, expr string, out any) error
	Location(ctx context.Context) (string, error)
	Sleep(ctx context.Context, d time.Duration)
	SetValue(ctx context.Context, sel, value string) error
	SendKeys(ctx context.Context, sel, keys string) error
	Click(ctx context.Context, sel string) error
	Screenshot(ctx context.Context, name string)
	ExportStorage(ctx context.Context) (*browser.StorageState, error)
	RestoreStorage(ctx context.Context, state *browser.StorageState) error
	HTTPCookies(ctx context.Context) ([]*http.Cookie, error)
	Close()
}

// Scraper drives one browser session against the remote scheduling
// service. it is strictly sequential, one logical thread of control
// owns the page at any time.
type Scraper struct {
	cfg     ScraperConfig
	browser page
	roster  rosterClient
	store   store.Store

	authenticated bool
}

func NewScraper(ctx context.Context, cfg ScraperConfig, st store.Store) (*Scraper, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	b, err := browser.New(ctx, browser.Options{
		Headless:      cfg.Headless,
		UserAgent:     cfg.UserAgent,
		ScreenshotDir: cfg.ScreenshotDir,
	})
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetHeader("x-requested-with", "XMLHttpRequest")
	client.SetTimeout(time.Second * 30)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	telemetry.InstrumentResty(client, "services/checkin/http")

	return &Scraper{
		cfg:     cfg,
		browser: b,
		roster:  rosterClient{http: client},
		store:   st,
	}, nil
}

// Close releases the browser. must run on every exit path, success or
// failure, or scheduled runs leak chrome processes.
func (s *Scraper) Close() {
	s.browser.Close()
}

// OpenListing navigates to the check-in listing page. the page is
// loaded exactly once per run, later dates only change the selection
// on the already-loaded page.
func (s *Scraper) OpenListing(ctx context.Context) error {
	if !s.authenticated {
		return ErrAuthenticationRequired
	}
	if err := s.browser.Navigate(ctx, s.cfg.CheckinURL); err != nil {
		s.browser.Screenshot(ctx, "open_listing_failed")
		return err
	}
	// the listing builds its widgets after load
	s.browser.Sleep(ctx, 2*time.Second)
	return nil
}

// Run performs a full extraction over the requested span.
func (s *Scraper) Run(ctx context.Context, req ExtractRequest) (*ExtractionRun, error) {
	if !s.authenticated {
		return nil, ErrAuthenticationRequired
	}
	return Pipeline{Nav: s, Enum: s, Fetch: s}.Extract(ctx, req)
}

// syncCookies copies the browser's cookie state into the direct HTTP
// client so endpoint calls ride the same authenticated session. cookies
// rotate during UI interaction, so this runs before every direct call.
func (s *Scraper) syncCookies(ctx context.Context) error {
	cookies, err := s.browser.HTTPCookies(ctx)
	if err != nil {
		return err
	}
	// assign instead of SetCookies, which appends across syncs
	s.roster.http.Cookies = cookies
	return nil
}

func logAbsorbed(ctx context.Context, what string, err error, args ...any) {
	args = append(args, "err", err)
	slog.WarnContext(ctx, what, args...)
}
