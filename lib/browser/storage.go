package browser

import (
	"context"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// StorageState is the persistable part of a browser session. it plays
// the same role as playwright's storage_state blob: everything needed
// to come back as the same logged-in user.
type StorageState struct {
	Cookies []Cookie `json:"cookies"`
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// ExportStorage snapshots the browser's cookies.
func (b *Browser) ExportStorage(ctx context.Context) (*StorageState, error) {
	var raw []*network.Cookie
	err := b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, err
	}

	state := &StorageState{Cookies: make([]Cookie, len(raw))}
	for i, c := range raw {
		state.Cookies[i] = Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		}
	}
	return state, nil
}

// RestoreStorage loads a previously exported session into the browser.
func (b *Browser) RestoreStorage(ctx context.Context, state *StorageState) error {
	if state == nil || len(state.Cookies) == 0 {
		return nil
	}

	params := make([]*network.CookieParam, len(state.Cookies))
	for i, c := range state.Cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: network.CookieSameSite(c.SameSite),
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		params[i] = p
	}

	return b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return storage.SetCookies(params).Do(c)
	}))
}

// HTTPCookies converts the browser's current cookies into net/http form
// so a plain HTTP client can call the remote service's endpoints inside
// the same authenticated session.
func (b *Browser) HTTPCookies(ctx context.Context) ([]*http.Cookie, error) {
	state, err := b.ExportStorage(ctx)
	if err != nil {
		return nil, err
	}

	cookies := make([]*http.Cookie, len(state.Cookies))
	for i, c := range state.Cookies {
		cookies[i] = &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		}
	}
	return cookies, nil
}
