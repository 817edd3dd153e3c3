// Package credentials supplies the authentication material the polling
// engine sends with every inventory request.
//
// The engine never authenticates on its own: a [Provider] hands it an
// identity token and the companion a1Data artifact, and the engine reads a
// fresh pair at the start of every session. Providers are available for
// static values, environment variables (optionally loaded from a .env file),
// token files on disk, and a running Chrome instance reached over the
// DevTools protocol.
package credentials

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrMissing is returned when a provider has no usable token or a1Data.
var ErrMissing = errors.New("missing credentials")

// Credentials is the authentication material for one session.
type Credentials struct {
	// IDToken is sent verbatim in the authorization header.
	IDToken string `json:"idToken"`

	// A1Data is sent in the a1data header after normalization.
	A1Data string `json:"a1Data"`
}

// Empty reports whether either value is missing.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.IDToken) == "" || strings.TrimSpace(c.A1Data) == ""
}

// Normalized returns a copy with trimmed values and a decoded a1Data.
func (c Credentials) Normalized() Credentials {
	return Credentials{
		IDToken: strings.TrimSpace(c.IDToken),
		A1Data:  NormalizeA1Data(c.A1Data),
	}
}

// Provider returns the current credentials.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// ProviderFunc adapts a function to [Provider].
type ProviderFunc func(ctx context.Context) (Credentials, error)

// Credentials calls f.
func (f ProviderFunc) Credentials(ctx context.Context) (Credentials, error) {
	return f(ctx)
}

// Static is a [Provider] that always returns the same credentials.
type Static Credentials

// Credentials returns the static values, or [ErrMissing] if either is empty.
func (s Static) Credentials(context.Context) (Credentials, error) {
	c := Credentials(s).Normalized()
	if c.Empty() {
		return Credentials{}, ErrMissing
	}
	return c, nil
}

var encodedBrace = regexp.MustCompile(`(?i)%7B|%7D`)

// NormalizeA1Data decodes a URL-encoded a1Data value. The site stores the
// cookie encoded; the API expects the raw JSON. Values that fail to decode
// are returned unchanged.
func NormalizeA1Data(v string) string {
	v = strings.TrimSpace(v)
	if !encodedBrace.MatchString(v) {
		return v
	}
	decoded, err := url.PathUnescape(v)
	if err != nil {
		return v
	}
	return decoded
}
