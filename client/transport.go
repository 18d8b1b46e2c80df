package client

import (
	"net/http"
)

// AuthTransport wraps an http.RoundTripper to add the session token as
// a bearer Authorization header.
type AuthTransport struct {
	Base http.RoundTripper

	// GetToken supplies the token per request, so a re-login through
	// the owning AuthClient is picked up without rebuilding transports.
	GetToken func() string
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := ""
	if t.GetToken != nil {
		token = t.GetToken()
	}
	if token != "" {
		// Clone so the caller's request is not mutated.
		req2 := req.Clone(req.Context())
		req2.Header.Set("Authorization", "Bearer "+token)
		req = req2
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
