package checkin

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"boxsync-backend/lib/browser"
	"boxsync-backend/lib/testutil"
	"boxsync-backend/services/checkin/store"

	"github.com/stretchr/testify/require"
)

// fakePage scripts the handful of page interactions a login walks
// through. clicking submit moves the location to afterSubmit, the way
// the real app redirects after the credential exchange.
type fakePage struct {
	location    string
	afterSubmit string
	rolePresent bool
	roleClicks  bool
	shots       []string
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.location = url
	return nil
}

func (p *fakePage) Eval(ctx context.Context, expr string, out any) error {
	if v, ok := out.(*bool); ok {
		if strings.Contains(expr, "querySelectorAll") {
			*v = p.roleClicks
		} else {
			*v = p.rolePresent
		}
	}
	return nil
}

func (p *fakePage) Location(ctx context.Context) (string, error) { return p.location, nil }

func (p *fakePage) Sleep(ctx context.Context, d time.Duration) {}

func (p *fakePage) SetValue(ctx context.Context, sel, value string) error { return nil }

func (p *fakePage) SendKeys(ctx context.Context, sel, keys string) error { return nil }

func (p *fakePage) Click(ctx context.Context, sel string) error {
	if p.afterSubmit != "" {
		p.location = p.afterSubmit
	}
	return nil
}

func (p *fakePage) Screenshot(ctx context.Context, name string) {
	p.shots = append(p.shots, name)
}

func (p *fakePage) ExportStorage(ctx context.Context) (*browser.StorageState, error) {
	return &browser.StorageState{}, nil
}

func (p *fakePage) RestoreStorage(ctx context.Context, state *browser.StorageState) error {
	return nil
}

func (p *fakePage) HTTPCookies(ctx context.Context) ([]*http.Cookie, error) { return nil, nil }

func (p *fakePage) Close() {}

func scraperOver(t *testing.T, p *fakePage) (*Scraper, store.Store) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/checkin",
		DbSchema: store.Schema,
	})
	t.Cleanup(cleanup)
	t.Cleanup(func() { setup.DB.Close() })

	cfg := ScraperConfig{
		BaseURL:  "https://boxmagic.cl",
		Username: "owner@example.com",
		Password: "secret",
	}
	require.NoError(t, cfg.applyDefaults())

	st := store.New(setup.DB)
	return &Scraper{cfg: cfg, browser: p, store: st}, st
}

func TestLoginWithoutRolePicker(t *testing.T) {
	p := &fakePage{afterSubmit: "https://boxmagic.cl/checkin/clases"}
	s, st := scraperOver(t, p)

	err := s.login(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	_, err = st.LoadSession(context.Background(), sessionID)
	require.NoError(t, err)
}

func TestLoginClicksThroughRolePicker(t *testing.T) {
	p := &fakePage{
		afterSubmit: "https://boxmagic.cl/checkin/clases",
		rolePresent: true,
		roleClicks:  true,
	}
	s, _ := scraperOver(t, p)
	require.NoError(t, s.login(context.Background()))
}

func TestLoginFailsWhenRoleUnmatched(t *testing.T) {
	p := &fakePage{
		// the redirect lands off the login page, so only the picker
		// outcome can tell this login apart from a good one
		afterSubmit: "https://boxmagic.cl/cuentas",
		rolePresent: true,
		roleClicks:  false,
	}
	s, st := scraperOver(t, p)

	err := s.login(context.Background())
	require.ErrorIs(t, err, ErrLoginFailed)
	require.Contains(t, p.shots, "login_role_unmatched")

	// a login stuck on the picker must not persist a session
	_, err = st.LoadSession(context.Background(), sessionID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoginRejectedStaysOnLoginPage(t *testing.T) {
	p := &fakePage{afterSubmit: "https://boxmagic.cl/login?error=1"}
	s, _ := scraperOver(t, p)

	err := s.login(context.Background())
	require.ErrorIs(t, err, ErrLoginFailed)
}
