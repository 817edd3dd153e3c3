package credentials

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Cookie names and domain the site uses for its session.
const (
	TokenCookie  = "idToken"
	A1DataCookie = "a1Data"
	CookieDomain = "reserveamerica.com"
)

// Browser reads the session cookies from a Chrome instance the user is
// already logged in with, reached through its DevTools websocket URL
// (for example the value printed by chrome --remote-debugging-port).
//
// The connection is opened on first use and reused afterwards. The browser
// itself is never closed; it belongs to the user.
type Browser struct {
	ControlURL string

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowser returns a [Browser] provider for the given DevTools URL.
func NewBrowser(controlURL string) *Browser {
	return &Browser{ControlURL: controlURL}
}

func (b *Browser) connect(ctx context.Context) (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser.Context(ctx), nil
	}
	if b.ControlURL == "" {
		return nil, fmt.Errorf("browser: no control url")
	}

	br := rod.New().ControlURL(b.ControlURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	b.browser = br
	return br.Context(ctx), nil
}

// Credentials implements [Provider].
func (b *Browser) Credentials(ctx context.Context) (Credentials, error) {
	br, err := b.connect(ctx)
	if err != nil {
		return Credentials{}, err
	}

	cookies, err := br.GetCookies()
	if err != nil {
		return Credentials{}, fmt.Errorf("browser: get cookies: %w", err)
	}

	c := fromCookies(cookies).Normalized()
	if c.Empty() {
		return Credentials{}, fmt.Errorf("%w: no %s/%s cookies for %s", ErrMissing, TokenCookie, A1DataCookie, CookieDomain)
	}
	return c, nil
}

// CurrentURL returns the URL of the first open page on the site, or an
// empty string when none is open.
func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	br, err := b.connect(ctx)
	if err != nil {
		return "", err
	}

	pages, err := br.Pages()
	if err != nil {
		return "", fmt.Errorf("browser: list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if strings.Contains(info.URL, CookieDomain) {
			return info.URL, nil
		}
	}
	return "", nil
}

func fromCookies(cookies []*proto.NetworkCookie) Credentials {
	var c Credentials
	for _, ck := range cookies {
		if ck == nil || !strings.HasSuffix(strings.TrimPrefix(ck.Domain, "."), CookieDomain) {
			continue
		}
		switch ck.Name {
		case TokenCookie:
			if c.IDToken == "" {
				c.IDToken = ck.Value
			}
		case A1DataCookie:
			if c.A1Data == "" {
				c.A1Data = ck.Value
			}
		}
	}
	return c
}
