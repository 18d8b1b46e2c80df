package oauth2

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Cookie names used across the handshake.
const (
	StateCookieName    = "oauthstate"
	CallbackCookieName = "oauthCallbackURL"
)

// OauthRedirector returns a handler that starts the code flow: it
// plants the anti-forgery state cookie, remembers the caller's
// post-login destination, and redirects to the provider's consent
// page.
func OauthRedirector(config *oauth2.Config) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if callbackURL := r.URL.Query().Get("callbackURL"); callbackURL != "" {
			http.SetCookie(w, &http.Cookie{
				Name:    CallbackCookieName,
				Value:   callbackURL,
				Path:    "/",
				Expires: time.Now().Add(24 * time.Hour),
				MaxAge:  120, // the round trip should be quick
			})
		}
		state := setStateCookie(w)
		http.Redirect(w, r, config.AuthCodeURL(state), http.StatusFound)
	}
}

// setStateCookie generates the random state value, sets it as a cookie
// and returns it for inclusion in the auth URL.
func setStateCookie(w http.ResponseWriter) string {
	b := make([]byte, 16)
	rand.Read(b)
	state := base64.URLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:    StateCookieName,
		Value:   state,
		Path:    "/",
		Expires: time.Now().Add(30 * time.Minute),
	})
	return state
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   StateCookieName,
		Path:   "/",
		MaxAge: -1,
	})
}
