package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"boxsync-backend/services/checkin/store"

	"github.com/chromedp/chromedp/kb"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrLoginFailed            = errors.New("login failed")
	ErrFieldNotFound          = errors.New("could not locate form field")
	ErrAuthenticationRequired = errors.New("authentication required")
)

const sessionID = "boxmagic"

// EnsureAuthenticated makes the browser session usable. it first tries
// to restore a persisted session and validate it against the listing
// page, and only falls back to a fresh login when allowLogin is set.
func (s *Scraper) EnsureAuthenticated(ctx context.Context, allowLogin bool) error {
	ctx, span := tracer.Start(ctx, "EnsureAuthenticated")
	defer span.End()

	if s.authenticated {
		return nil
	}

	state, err := s.store.LoadSession(ctx, sessionID)
	if err == nil {
		if err := s.browser.RestoreStorage(ctx, state); err != nil {
			logAbsorbed(ctx, "failed to restore saved session", err)
		} else if s.sessionValid(ctx) {
			slog.InfoContext(ctx, "reusing saved session")
			s.authenticated = true
			return nil
		} else {
			slog.InfoContext(ctx, "saved session expired, discarding")
			if err := s.store.DeleteSession(ctx, sessionID); err != nil {
				logAbsorbed(ctx, "failed to discard expired session", err)
			}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		logAbsorbed(ctx, "failed to load saved session", err)
	}

	if !allowLogin {
		return ErrAuthenticationRequired
	}

	if err := s.login(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.authenticated = true
	return nil
}

// sessionValid probes the listing page with the restored cookies. a
// dead session bounces back to the login screen.
func (s *Scraper) sessionValid(ctx context.Context) bool {
	if err := s.browser.Navigate(ctx, s.cfg.CheckinURL); err != nil {
		return false
	}
	s.browser.Sleep(ctx, 2*time.Second)
	loc, err := s.browser.Location(ctx)
	if err != nil {
		return false
	}
	return !s.isLoginLocation(loc)
}

func (s *Scraper) isLoginLocation(loc string) bool {
	return strings.Contains(loc, "/login") || strings.Contains(loc, "/iniciar")
}

// fieldStrategy selectors are tried in order. the markup has shifted
// between releases of the remote app, so each field carries several
// candidates from most to least specific.
var (
	usernameStrategies = []string{
		`input[type="email"]`,
		`input[name*="email" i]`,
		`input[name*="user" i]`,
		`input[id*="email" i]`,
		`input[placeholder*="correo" i]`,
		`input[placeholder*="email" i]`,
	}
	passwordStrategies = []string{
		`input[type="password"]`,
		`input[name*="pass" i]`,
		`input[id*="pass" i]`,
	}
	submitStrategies = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`form button`,
	}
)

func (s *Scraper) fillField(ctx context.Context, strategies []string, value string) error {
	for _, sel := range strategies {
		if err := s.browser.SetValue(ctx, sel, value); err == nil {
			return nil
		}
	}
	return ErrFieldNotFound
}

func (s *Scraper) login(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "login")
	defer span.End()

	if s.cfg.Username == "" || s.cfg.Password == "" {
		return fmt.Errorf("%w: missing credentials", ErrLoginFailed)
	}

	if err := s.browser.Navigate(ctx, s.cfg.LoginURL); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	s.browser.Sleep(ctx, 2*time.Second)

	if err := s.fillField(ctx, usernameStrategies, s.cfg.Username); err != nil {
		s.browser.Screenshot(ctx, "login_username_missing")
		return fmt.Errorf("%w: username field", err)
	}
	if err := s.fillField(ctx, passwordStrategies, s.cfg.Password); err != nil {
		s.browser.Screenshot(ctx, "login_password_missing")
		return fmt.Errorf("%w: password field", err)
	}

	if err := s.submitLogin(ctx); err != nil {
		s.browser.Screenshot(ctx, "login_submit_failed")
		return err
	}

	// the app redirects asynchronously after the credential exchange
	s.browser.Sleep(ctx, 5*time.Second)

	if err := s.passRoleInterstitial(ctx); err != nil {
		if errors.Is(err, ErrLoginFailed) {
			s.browser.Screenshot(ctx, "login_role_unmatched")
			return err
		}
		logAbsorbed(ctx, "role selection check failed, continuing", err)
	}

	loc, err := s.browser.Location(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if s.isLoginLocation(loc) {
		s.browser.Screenshot(ctx, "login_rejected")
		return fmt.Errorf("%w: still on login page at %s", ErrLoginFailed, loc)
	}

	slog.InfoContext(ctx, "login succeeded", "location", loc)
	s.persistSession(ctx)
	return nil
}

func (s *Scraper) submitLogin(ctx context.Context) error {
	for _, sel := range submitStrategies {
		if err := s.browser.Click(ctx, sel); err == nil {
			return nil
		}
	}
	// no recognizable submit control, the form may still accept Enter
	return s.browser.SendKeys(ctx, `input[type="password"]`, kb.Enter)
}

// passRoleInterstitial handles the account picker some tenants show
// right after login. absence of the picker is not an error, but a
// picker whose target role cannot be clicked fails the login.
func (s *Scraper) passRoleInterstitial(ctx context.Context) error {
	present, err := s.roleInterstitialPresent(ctx)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}

	// click the last element matching the role label. on nested card
	// markup the last match is the innermost node, which carries the
	// actual click handler.
	script := fmt.Sprintf(`(() => {
		const label = %q.toLowerCase();
		const groups = ['[class*="perfil"] *', '[class*="cuenta"] *', '[class*="role"] *', 'a, button, div, span'];
		for (const sel of groups) {
			let last = null;
			for (const el of document.querySelectorAll(sel)) {
				const text = (el.innerText || "").trim().toLowerCase();
				if (text === label || (text.includes(label) && text.length < label.length + 20)) {
					last = el;
				}
			}
			if (last) { last.click(); return true; }
		}
		return false;
	})()`, s.cfg.RoleLabel)

	var clicked bool
	if err := s.browser.Eval(ctx, script, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%w: no element matched role %q", ErrLoginFailed, s.cfg.RoleLabel)
	}
	s.browser.Sleep(ctx, 3*time.Second)
	return nil
}

// roleInterstitialPresent checks the structural picker markers first
// and only then falls back to scanning the page text for the role
// label.
func (s *Scraper) roleInterstitialPresent(ctx context.Context) (bool, error) {
	script := fmt.Sprintf(`(() => {
		if (document.querySelector('[class*="perfil"], [class*="cuenta"], [class*="role"]')) { return true; }
		const body = document.body ? document.body.innerText : "";
		return body.toLowerCase().includes(%q.toLowerCase());
	})()`, s.cfg.RoleLabel)

	var present bool
	if err := s.browser.Eval(ctx, script, &present); err != nil {
		return false, err
	}
	return present, nil
}

// persistSession exports the cookie jar right after a successful login
// so the next run can skip the credential exchange.
func (s *Scraper) persistSession(ctx context.Context) {
	state, err := s.browser.ExportStorage(ctx)
	if err != nil {
		logAbsorbed(ctx, "failed to export session", err)
		return
	}
	if err := s.store.SaveSession(ctx, sessionID, state); err != nil {
		logAbsorbed(ctx, "failed to save session", err)
	}
}
