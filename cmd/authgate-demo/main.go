// Command authgate-demo runs a small host application showing how the
// pieces fit together: local registration and login, TOTP enrollment,
// GitHub and Google external login, and a protected page behind the
// session gate.
//
// Configuration comes from flags and the environment:
//
//	AUTHGATE_JWT_SECRET_KEY       session token signing secret
//	OAUTH2_GITHUB_CLIENT_ID      + _CLIENT_SECRET, _CALLBACK_URL
//	OAUTH2_GOOGLE_CLIENT_ID      + _CLIENT_SECRET, _CALLBACK_URL
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/alexedwards/scs/v2"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	authgate "github.com/shopworks/authgate"
	"github.com/shopworks/authgate/oauth2"
	"github.com/shopworks/authgate/stores"
	gormstore "github.com/shopworks/authgate/stores/gorm"
)

var (
	addr   = flag.String("addr", ":8080", "Address to listen on")
	dbPath = flag.String("db", "", "SQLite database path; empty runs an in-memory store")
)

func main() {
	flag.Parse()

	store, err := openStore(*dbPath)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	auth := authgate.New("AuthGateDemo", nil, store)
	auth.Session = scs.New()
	auth.PostLoginURL = "/home"
	auth.Middleware.GetRedirURL = func(r *http.Request) string { return "/" }
	auth.Middleware.AuthenticatedURL = "/home"
	auth.EnsureDefaults()

	if os.Getenv("OAUTH2_GITHUB_CLIENT_ID") != "" {
		auth.AddProvider("/github/", oauth2.NewGithub("", "", "", auth.HandleProviderUser))
	}
	if os.Getenv("OAUTH2_GOOGLE_CLIENT_ID") != "" {
		auth.AddProvider("/google/", oauth2.NewGoogle("", "", "", auth.HandleProviderUser))
	}

	root := http.NewServeMux()
	root.Handle("/auth/", http.StripPrefix("/auth", auth.Handler()))
	root.Handle("/home", auth.Middleware.EnsureUser(http.HandlerFunc(homePage)))
	root.Handle("/", auth.Middleware.RequireAnonymous(http.HandlerFunc(loginPage)))

	slog.Info("starting authgate demo", "addr", *addr, "db", *dbPath)
	if err := http.ListenAndServe(*addr, root); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func openStore(path string) (authgate.Stores, error) {
	if path == "" {
		slog.Info("no database configured, using the in-memory store")
		return stores.NewMemoryStore(), nil
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrating: %w", err)
	}
	return gormstore.NewStore(db), nil
}

func homePage(w http.ResponseWriter, r *http.Request) {
	claims := authgate.ClaimsFromContext(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<h1>Welcome, %s</h1>
<p>Account %s authenticated via %s.</p>
<p><a href="/auth/logout?to=/">Log out</a></p>
`, claims.Username, claims.Subject, claims.Method)
}

func loginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<h1>AuthGate Demo</h1>
<form method="post" action="/auth/login">
  <input name="username" placeholder="username or email">
  <input name="password" type="password" placeholder="password">
  <input name="code" placeholder="TOTP code (if enrolled)">
  <label><input name="remember" type="checkbox" value="true"> remember me</label>
  <button type="submit">Log in</button>
</form>
<form method="post" action="/auth/register">
  <input name="username" placeholder="username">
  <input name="email" placeholder="email">
  <input name="password" type="password" placeholder="password">
  <button type="submit">Register</button>
</form>
<p><a href="/auth/github/">Log in with GitHub</a> | <a href="/auth/google/">Log in with Google</a></p>
`)
}
