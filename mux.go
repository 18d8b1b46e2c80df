package authgate

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"golang.org/x/oauth2"
)

// DefaultTokenCookieName is the cookie that carries the session token
// when the client is a browser rather than an API caller.
const DefaultTokenCookieName = "authgate_token"

// AuthGate composes the credential store, hasher, second-factor
// verifier, token issuer and external identity bridge into the
// register/login/logout/verify flows, and owns the cookie and
// pre-authentication session lifecycle around them.
type AuthGate struct {
	router *mux.Router

	// Session manages short-lived pre-authentication state (OAuth
	// round trips). It is terminated on external-login completion and
	// on logout so no mixed-mode session cookies survive.
	Session *scs.SessionManager

	Middleware Middleware

	Local  *LocalAuth
	Bridge *Bridge
	Tokens *TokenIssuer

	// Optional name used as a prefix for defaults
	AppName string

	// Name of the cookie carrying the session token
	TokenCookieName string

	// All the domains the token cookie is set on at login and cleared
	// on logout
	CookieDomains []string

	// Secure attribute on issued cookies
	SecureCookies bool

	// Where external-login completion redirects on success
	PostLoginURL string
}

// New creates an AuthGate over the given stores. The signing secret
// and hashing work factor are fixed here and never mutated afterwards.
func New(appName string, secretKey []byte, stores Stores) *AuthGate {
	a := &AuthGate{
		AppName: appName,
		Tokens:  &TokenIssuer{SecretKey: secretKey},
	}
	a.Local = &LocalAuth{Stores: stores}
	a.Bridge = &Bridge{Stores: stores}
	return a.EnsureDefaults()
}

// EnsureDefaults fills unset configuration. Safe to call repeatedly.
func (a *AuthGate) EnsureDefaults() *AuthGate {
	if a.AppName == "" {
		a.AppName = "AuthGate"
	}
	if a.TokenCookieName == "" {
		a.TokenCookieName = DefaultTokenCookieName
	}
	if a.PostLoginURL == "" {
		a.PostLoginURL = "/"
	}
	if a.Tokens == nil {
		a.Tokens = &TokenIssuer{}
	}
	if len(a.Tokens.SecretKey) == 0 {
		a.Tokens.SecretKey = []byte(strings.TrimSpace(os.Getenv("AUTHGATE_JWT_SECRET_KEY")))
	}
	if a.Tokens.Issuer == "" {
		a.Tokens.Issuer = fmt.Sprintf("%s-Issuer", a.AppName)
	}
	if a.Local != nil {
		if a.Local.TOTPIssuer == "" {
			a.Local.TOTPIssuer = a.AppName
		}
		if a.Local.HandleAccount == nil {
			a.Local.HandleAccount = a.IssueSessionAndRespond
		}
	}
	if a.Middleware.AuthTokenCookieName == "" {
		a.Middleware.AuthTokenCookieName = a.TokenCookieName
	}
	if a.Middleware.VerifyToken == nil {
		a.Middleware.VerifyToken = a.Tokens.Verify
	}
	return a
}

// Handler returns the HTTP handler carrying all auth routes. External
// providers are mounted separately via AddProvider before calling
// this.
func (a *AuthGate) Handler() http.Handler {
	a.EnsureDefaults()
	r := a.setupRoutes()
	if a.Session != nil {
		return a.Session.LoadAndSave(r)
	}
	return r
}

func (a *AuthGate) setupRoutes() *mux.Router {
	if a.router == nil {
		a.router = mux.NewRouter()
		a.router.Handle("/register", http.HandlerFunc(a.Local.HandleRegister)).Methods(http.MethodPost)
		a.router.Handle("/login", a.Local).Methods(http.MethodPost)
		a.router.Handle("/totp/enroll", http.HandlerFunc(a.Local.HandleEnrollSecondFactor)).Methods(http.MethodPost)
		a.router.HandleFunc("/logout", a.onLogout).Methods(http.MethodPost, http.MethodGet)
		a.router.Handle("/me", a.Middleware.EnsureUser(http.HandlerFunc(a.handleMe))).Methods(http.MethodGet)
	}
	return a.router
}

// AddProvider mounts an external provider's handshake handler under
// the given prefix, e.g. AddProvider("/github", provider) serving
// /github/ and /github/callback/.
func (a *AuthGate) AddProvider(prefix string, handler http.Handler) *AuthGate {
	a.EnsureDefaults()
	r := a.setupRoutes()
	prefix = strings.TrimSuffix(prefix, "/")
	r.PathPrefix(prefix + "/").Handler(http.StripPrefix(prefix, handler))
	return a
}

// HandleProviderUser is the callback external providers invoke after a
// successful handshake. It bridges the provider identity to a local
// account, records the audit event under the provider's name,
// terminates any pre-authentication session state and issues the
// session cookie.
func (a *AuthGate) HandleProviderUser(authtype, provider string, token *oauth2.Token, userInfo map[string]any, w http.ResponseWriter, r *http.Request) {
	a.EnsureDefaults()
	ident := identityFromUserInfo(provider, userInfo)

	account, err := a.Bridge.Resolve(r.Context(), ident)
	if err != nil {
		slog.Error("external identity bridge failed", "provider", provider, "error", err)
		writeAuthError(w, NewAuthError(CodeExternalAuthFailed, "External authentication failed", ""))
		return
	}

	event := &LoginEvent{
		AccountID:  account.ID,
		SourceAddr: getClientIP(r),
		Method:     provider,
		CreatedAt:  time.Now(),
	}
	if err := a.Bridge.Stores.RecordLogin(r.Context(), event); err != nil {
		slog.Warn("failed to record external login event", "account", account.ID, "error", err)
	}

	// The OAuth round trip ran under a pre-authentication session;
	// destroy it so no leftover mixed-mode cookie shadows the token.
	a.destroyPreAuthSession(r)

	a.setTokenCookie(w, account, false)
	http.Redirect(w, r, a.PostLoginURL, http.StatusFound)
}

// IssueSessionAndRespond is the default HandleAccountFunc: it issues a
// token with the TTL selected by the remember flag, sets the cookie
// and writes a JSON response carrying the token for API callers.
func (a *AuthGate) IssueSessionAndRespond(account *Account, remember bool, w http.ResponseWriter, r *http.Request) {
	tokenString := a.setTokenCookie(w, account, remember)
	if tokenString == "" {
		writeAuthError(w, NewAuthError(CodeInternal, "An internal error occurred", ""))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"token": %q, "username": %q}`+"\n", tokenString, account.Username)
}

// onLogout terminates the pre-authentication session and clears the
// token cookie. Tokens already held by clients stay valid until their
// natural expiry; that is a property of the stateless design, not a
// defect.
func (a *AuthGate) onLogout(w http.ResponseWriter, r *http.Request) {
	a.EnsureDefaults()
	a.destroyPreAuthSession(r)
	a.clearTokenCookie(w)

	toURL := r.URL.Query().Get("to")
	if !isLocalRedirect(toURL) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"success": true}`)
		return
	}
	http.Redirect(w, r, toURL, http.StatusFound)
}

// handleMe echoes the authenticated caller's identity.
func (a *AuthGate) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id": %q, "username": %q, "method": %q}`+"\n",
		claims.Subject, claims.Username, claims.Method)
}

func (a *AuthGate) destroyPreAuthSession(r *http.Request) {
	if a.Session == nil {
		return
	}
	if err := a.Session.Destroy(r.Context()); err != nil {
		slog.Warn("error destroying pre-auth session", "error", err)
	}
}

// setTokenCookie issues a session token and sets it on every
// configured cookie domain. Returns the token string, or "" on
// signing failure.
func (a *AuthGate) setTokenCookie(w http.ResponseWriter, account *Account, remember bool) string {
	ttl := TTLForRemember(remember)
	tokenString, err := a.Tokens.Issue(account, ttl)
	if err != nil {
		slog.Error("error signing session token", "error", err)
		return ""
	}

	for _, domain := range a.cookieDomains() {
		http.SetCookie(w, &http.Cookie{
			Name:     a.TokenCookieName,
			Value:    tokenString,
			Domain:   domain,
			Path:     "/",
			Expires:  time.Now().Add(ttl),
			MaxAge:   int(ttl / time.Second),
			HttpOnly: true,
			Secure:   a.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return tokenString
}

func (a *AuthGate) clearTokenCookie(w http.ResponseWriter) {
	for _, domain := range a.cookieDomains() {
		http.SetCookie(w, &http.Cookie{
			Name:     a.TokenCookieName,
			Domain:   domain,
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Now(),
			HttpOnly: true,
		})
	}
}

func (a *AuthGate) cookieDomains() []string {
	if len(a.CookieDomains) == 0 {
		return []string{""}
	}
	return a.CookieDomains
}

// isLocalRedirect reports whether target is a same-origin relative
// path safe to redirect to. Anything carrying a scheme or host, or a
// protocol-relative prefix, is rejected.
func isLocalRedirect(target string) bool {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// identityFromUserInfo maps a provider's userinfo payload to an
// ExternalIdentity. Providers differ in field names and id types, so
// the common variants are tried in order.
func identityFromUserInfo(provider string, userInfo map[string]any) *ExternalIdentity {
	ident := &ExternalIdentity{Provider: provider}

	switch id := userInfo["id"].(type) {
	case string:
		ident.ProviderID = id
	case float64:
		ident.ProviderID = fmt.Sprintf("%.0f", id)
	}
	if ident.ProviderID == "" {
		if sub, ok := userInfo["sub"].(string); ok {
			ident.ProviderID = sub
		}
	}

	for _, key := range []string{"login", "name"} {
		if v, ok := userInfo[key].(string); ok && v != "" {
			ident.DisplayName = v
			break
		}
	}
	if email, ok := userInfo["email"].(string); ok {
		ident.Email = email
	}
	return ident
}
