// Package client is a Go client for the authgate HTTP API. It wraps
// the register, login, enrollment and identity routes and carries the
// issued session token on subsequent requests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	authgate "github.com/shopworks/authgate"
)

// AuthClient talks to a mounted authgate handler. The zero value is
// not usable; construct with NewAuthClient.
type AuthClient struct {
	mu         sync.Mutex
	serverURL  string
	token      string
	httpClient *http.Client
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithHTTPClient sets a custom HTTP client (for timeouts, TLS config, etc.)
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *AuthClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithToken seeds the client with a previously issued session token.
func WithToken(token string) ClientOption {
	return func(c *AuthClient) {
		c.token = token
	}
}

// NewAuthClient creates a client for the authgate routes mounted at
// serverURL, e.g. "https://app.example.com/auth".
func NewAuthClient(serverURL string, opts ...ClientOption) *AuthClient {
	if u, err := url.Parse(serverURL); err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Path)
	}

	c := &AuthClient{
		serverURL:  serverURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// Token returns the session token currently held, or "".
func (c *AuthClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// HTTPClient returns an HTTP client whose requests carry the session
// token, for calling application routes behind the session gate.
func (c *AuthClient) HTTPClient() *http.Client {
	wrapped := *c.httpClient
	wrapped.Transport = &AuthTransport{
		Base:     c.httpClient.Transport,
		GetToken: c.Token,
	}
	return &wrapped
}

// sessionResponse is the body returned by register and login.
type sessionResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Identity describes the authenticated caller as reported by the
// server.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Method   string `json:"method"`
}

// Register creates a local account and retains the issued token.
func (c *AuthClient) Register(ctx context.Context, username, email, password string) (string, error) {
	return c.obtainSession(ctx, "/register", map[string]any{
		"username": username,
		"email":    email,
		"password": password,
	})
}

// Login authenticates with a username or email plus password. The
// code is the TOTP second factor, empty when not enrolled. The issued
// token is retained for later calls.
func (c *AuthClient) Login(ctx context.Context, identifier, password, code string, remember bool) (string, error) {
	return c.obtainSession(ctx, "/login", map[string]any{
		"username": identifier,
		"password": password,
		"code":     code,
		"remember": remember,
	})
}

// EnrollSecondFactor requests TOTP enrollment for the account and
// returns the provisioning URI to present as a QR code.
func (c *AuthClient) EnrollSecondFactor(ctx context.Context, username string) (string, error) {
	resp, err := c.postJSON(ctx, "/totp/enroll", map[string]any{"username": username})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAuthError(resp)
	}
	var payload struct {
		ProvisioningURI string `json:"provisioning_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding enrollment response: %w", err)
	}
	return payload.ProvisioningURI, nil
}

// Me returns the identity behind the held session token.
func (c *AuthClient) Me(ctx context.Context) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/me", nil)
	if err != nil {
		return nil, err
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAuthError(resp)
	}
	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("decoding identity response: %w", err)
	}
	return &identity, nil
}

// Logout drops the held token and tells the server to clear its
// cookie. The token itself stays valid server-side until expiry.
func (c *AuthClient) Logout(ctx context.Context) error {
	resp, err := c.postJSON(ctx, "/logout", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	if resp.StatusCode != http.StatusOK {
		return decodeAuthError(resp)
	}
	return nil
}

func (c *AuthClient) obtainSession(ctx context.Context, path string, body map[string]any) (string, error) {
	resp, err := c.postJSON(ctx, path, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAuthError(resp)
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("decoding session response: %w", err)
	}
	if session.Token == "" {
		return "", fmt.Errorf("server returned no token")
	}

	c.mu.Lock()
	c.token = session.Token
	c.mu.Unlock()
	return session.Token, nil
}

func (c *AuthClient) postJSON(ctx context.Context, path string, body map[string]any) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

// decodeAuthError turns a non-200 response into an *authgate.AuthError
// when the body carries one, otherwise a generic error.
func decodeAuthError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var authErr authgate.AuthError
	if err := json.Unmarshal(body, &authErr); err == nil && authErr.Code != "" {
		return &authErr
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
}
