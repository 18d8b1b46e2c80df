// Package authgate provides username/password and OAuth based authentication
// with stateless signed session tokens for Go web applications.
//
// AuthGate splits authentication into a small set of cooperating pieces: a
// local credential flow (registration, login, optional TOTP second factor), an
// external identity bridge that maps OAuth provider identities onto local
// accounts, a token issuer that mints and verifies signed session tokens, and
// request gates that enforce authentication on HTTP routes and gRPC methods.
//
// # Architecture
//
// Account: a unique principal in your system, created either by local
// registration or on first external login. Accounts carry a username, an
// email, and for local accounts a password hash and an optional TOTP secret.
//
// Session token: a signed, self-contained token holding the account ID,
// username, and authentication method. Verification needs only the signing
// key, so no server-side session lookup happens on authenticated requests.
//
// Login event: an append-only record of each successful authentication with
// the source address and method used.
//
// # Basic Usage
//
// Create an AuthGate with a store implementation and mount its handler:
//
//	import (
//	    "github.com/shopworks/authgate"
//	    "github.com/shopworks/authgate/stores"
//	)
//
//	auth := authgate.New("myapp", []byte(secretKey), stores.NewMemoryStore())
//	auth.PostLoginURL = "/home"
//	auth.EnsureDefaults()
//
//	mux := http.NewServeMux()
//	mux.Handle("/auth/", http.StripPrefix("/auth", auth.Handler()))
//
// Add OAuth providers under their own prefixes:
//
//	github := oauth2.NewGithub(clientID, clientSecret, callbackURL, auth.HandleProviderUser)
//	auth.AddProvider("/github/", github)
//
// Protect application routes with the middleware:
//
//	protected := auth.Middleware.EnsureUser(appHandler)
//
// # Store Implementations
//
// The stores package ships an in-memory store suitable for tests and small
// tools, and stores/gorm provides a database-backed store that works with any
// GORM dialector. Both enforce uniqueness of usernames, emails, and external
// identifiers at the storage layer.
//
// # Security
//
// Passwords are hashed with bcrypt. Login failures from an unknown
// identifier, a wrong password, or a non-local account all return the same
// error, so responses do not reveal whether an account exists. TOTP codes are
// checked against a 30 second period with one step of clock skew, and
// malformed codes are rejected before any cryptographic comparison.
//
// # Testing
//
// Handlers can be exercised without a running server using httptest.NewRequest
// and httptest.ResponseRecorder against a MemoryStore, so tests need no
// external services.
package authgate
