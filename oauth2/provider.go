// Package oauth2 implements the client half of the external identity
// handshake: redirecting to a provider, verifying the state cookie on
// the way back, exchanging the code and fetching the provider's
// userinfo payload. What happens to that payload is up to the
// HandleUserFunc supplied by the caller.
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// HandleUserFunc receives the provider identity after a successful
// handshake.
type HandleUserFunc func(authtype string, provider string, token *oauth2.Token, userInfo map[string]any, w http.ResponseWriter, r *http.Request)

// Provider runs the OAuth code flow for one external identity
// provider. It serves two routes relative to where it is mounted:
// "/" starts the handshake and "/callback/" completes it.
type Provider struct {
	// Name tags the provider in audit records ("github", "google")
	Name string

	// AuthFailureURL is where failed handshakes redirect
	AuthFailureURL string

	// UserInfoURL is the endpoint queried with the access token.
	// Overridable for tests.
	UserInfoURL string

	// HandleUser is called with the userinfo payload on success
	HandleUser HandleUserFunc

	// HTTPClient overrides the client used for userinfo fetches.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client

	config oauth2.Config
	mux    *http.ServeMux
}

func newProvider(name string, config oauth2.Config, userInfoURL string, handleUser HandleUserFunc) *Provider {
	p := &Provider{
		Name:           name,
		AuthFailureURL: "/auth/login?error=external_auth_failed",
		UserInfoURL:    userInfoURL,
		HandleUser:     handleUser,
		config:         config,
		mux:            http.NewServeMux(),
	}
	p.mux.HandleFunc("/", OauthRedirector(&p.config))
	p.mux.HandleFunc("/callback/", p.handleCallback)
	return p
}

// NewGithub creates a GitHub provider. Empty credentials fall back to
// the OAUTH2_GITHUB_* environment variables.
func NewGithub(clientID, clientSecret, callbackURL string, handleUser HandleUserFunc) *Provider {
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_SECRET"))
	}
	if callbackURL == "" {
		callbackURL = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CALLBACK_URL"))
	}
	return newProvider("github", oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  callbackURL,
		Scopes:       []string{"read:user", "user:email"},
		Endpoint:     github.Endpoint,
	}, "https://api.github.com/user", handleUser)
}

// NewGoogle creates a Google provider. Empty credentials fall back to
// the OAUTH2_GOOGLE_* environment variables.
func NewGoogle(clientID, clientSecret, callbackURL string, handleUser HandleUserFunc) *Provider {
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET"))
	}
	if callbackURL == "" {
		callbackURL = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CALLBACK_URL"))
	}
	return newProvider("google", oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  callbackURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}, "https://www.googleapis.com/oauth2/v2/userinfo", handleUser)
}

// Config exposes the underlying oauth2 config, mainly so tests can
// point the token endpoint at a mock server.
func (p *Provider) Config() *oauth2.Config { return &p.config }

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

func (p *Provider) handleCallback(w http.ResponseWriter, r *http.Request) {
	oauthState, _ := r.Cookie(StateCookieName)
	if oauthState == nil {
		http.Error(w, "missing oauth state cookie", http.StatusBadRequest)
		return
	}
	if r.FormValue("state") != oauthState.Value {
		clearStateCookie(w)
		http.Error(w, "oauth state mismatch", http.StatusBadRequest)
		return
	}

	token, err := p.config.Exchange(p.exchangeContext(), r.FormValue("code"))
	if err != nil {
		slog.Warn("oauth code exchange failed", "provider", p.Name, "error", err)
		http.Redirect(w, r, p.AuthFailureURL, http.StatusTemporaryRedirect)
		return
	}

	userInfo, err := p.fetchUserInfo(token)
	if err != nil {
		slog.Warn("userinfo fetch failed", "provider", p.Name, "error", err)
		http.Redirect(w, r, p.AuthFailureURL, http.StatusTemporaryRedirect)
		return
	}

	p.HandleUser("oauth", p.Name, token, userInfo, w, r)
}

func (p *Provider) fetchUserInfo(token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequest(http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	response, err := p.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info from %s: %w", p.Name, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned %d", response.StatusCode)
	}

	contents, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading userinfo response: %w", err)
	}

	var userInfo map[string]any
	if err := json.Unmarshal(contents, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	return userInfo, nil
}

func (p *Provider) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

// exchangeContext carries the HTTP client override into the oauth2
// library's token exchange.
func (p *Provider) exchangeContext() context.Context {
	ctx := context.Background()
	if p.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
	}
	return ctx
}
