package authgate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type claimsKey struct{}

// Middleware is the session gate: it decides per request whether the
// caller is authenticated and attaches the verified claims to the
// request context. Token transport is the Authorization header first,
// then the named cookie.
type Middleware struct {
	AuthTokenHeaderName string
	AuthTokenCookieName string
	CallbackURLParam    string

	// VerifyToken validates a token string; normally TokenIssuer.Verify.
	VerifyToken func(tokenString string) (*SessionClaims, error)

	// GetRedirURL, when set, marks the caller as browser-navigation
	// style: rejections redirect here with an error indicator instead
	// of returning a structured 401.
	GetRedirURL func(r *http.Request) string

	// AuthenticatedURL is where RequireAnonymous sends callers that
	// already hold a valid session.
	AuthenticatedURL string

	// AnonymousAllowlist are path prefixes RequireAnonymous always
	// permits even for authenticated callers, to avoid redirect
	// loops on static assets and informational routes.
	AnonymousAllowlist []string
}

// EnsureReasonableDefaults fills config values that were left unset.
func (m *Middleware) EnsureReasonableDefaults() {
	if m.AuthTokenHeaderName == "" {
		m.AuthTokenHeaderName = "Authorization"
	}
	if m.AuthTokenCookieName == "" {
		m.AuthTokenCookieName = DefaultTokenCookieName
	}
	if m.CallbackURLParam == "" {
		m.CallbackURLParam = "callbackURL"
	}
	if m.AuthenticatedURL == "" {
		m.AuthenticatedURL = "/"
	}
}

// ClaimsFromRequest extracts and verifies the session token carried by
// the request. The Authorization header takes precedence over the
// cookie. Returns nil when no valid token is present. Read-only on the
// Middleware, so concurrent requests share one gate safely; unset
// names fall back to the defaults without being written back.
func (m *Middleware) ClaimsFromRequest(r *http.Request) *SessionClaims {
	if m.VerifyToken == nil {
		slog.Warn("no token verifier configured on session gate")
		return nil
	}

	headerName := m.AuthTokenHeaderName
	if headerName == "" {
		headerName = "Authorization"
	}
	cookieName := m.AuthTokenCookieName
	if cookieName == "" {
		cookieName = DefaultTokenCookieName
	}

	var candidates []string
	for _, v := range r.Header.Values(headerName) {
		candidates = append(candidates, strings.TrimPrefix(v, "Bearer "))
	}
	for _, cookie := range r.Cookies() {
		if cookie.Name == cookieName && cookie.Value != "" {
			candidates = append(candidates, cookie.Value)
		}
	}

	for _, tokenString := range candidates {
		claims, err := m.VerifyToken(tokenString)
		if err == nil && claims != nil {
			return claims
		}
		if err != nil {
			slog.Warn("rejected session token", "error", err)
		}
	}
	return nil
}

// ExtractUser attaches claims to the request context when a valid
// token is present, without enforcing that one exists. Handlers that
// must have a user go through EnsureUser instead.
func (m *Middleware) ExtractUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := m.ClaimsFromRequest(r); claims != nil {
			r = requestWithClaims(r, claims)
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser rejects unauthenticated requests. API-style callers get a
// structured UNAUTHENTICATED response; browser-navigation callers are
// redirected to the login entry point with the original URL preserved
// in the callback parameter.
func (m *Middleware) EnsureUser(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := m.ClaimsFromRequest(r)
		if claims == nil {
			m.rejectUnauthenticated(w, r)
			return
		}
		next.ServeHTTP(w, requestWithClaims(r, claims))
	})
}

// RequireAnonymous is the inverse gate for login/registration pages:
// callers that already hold a valid session are redirected away.
// Allow-listed prefixes always pass through.
func (m *Middleware) RequireAnonymous(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.AnonymousAllowlist {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if claims := m.ClaimsFromRequest(r); claims != nil {
			http.Redirect(w, r, m.AuthenticatedURL, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	redirURL := ""
	if m.GetRedirURL != nil {
		redirURL = m.GetRedirURL(r)
	}
	if redirURL != "" {
		encoded := strings.Replace(url.QueryEscape(r.URL.Path), "+", "%20", -1)
		target := fmt.Sprintf("%s?error=login_required&%s=%s", redirURL, m.CallbackURLParam, encoded)
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(NewAuthError(CodeUnauthenticated, "Authentication required", ""))
}

func requestWithClaims(r *http.Request, claims *SessionClaims) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims))
}

// ClaimsFromContext returns the claims attached by the session gate,
// or nil when the request was not authenticated.
func ClaimsFromContext(ctx context.Context) *SessionClaims {
	claims, _ := ctx.Value(claimsKey{}).(*SessionClaims)
	return claims
}

// AccountIDFromContext is a convenience accessor for the common case
// of only needing the account id.
func AccountIDFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}
