package authgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// HandleAccountFunc is called after a successful register or login.
// Implementations issue the session token and write the response.
type HandleAccountFunc func(account *Account, remember bool, w http.ResponseWriter, r *http.Request)

// AuthErrorHandler lets applications intercept auth failures, e.g. to
// redirect back to a form with a flash message. Returning false falls
// through to the default JSON error response.
type AuthErrorHandler func(err *AuthError, w http.ResponseWriter, r *http.Request) bool

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// LocalAuth implements username/password authentication with an
// optional TOTP second factor. Login is atomic: password and, when
// enrolled, the TOTP code are checked within the one call; a failure
// at either step leaves no partial state behind.
type LocalAuth struct {
	// Account and login-event persistence
	Stores Stores

	// Password hashing; zero value uses the bcrypt default cost
	Hasher Hasher

	// Issuer label embedded in TOTP provisioning URIs
	TOTPIssuer string

	// Form field names
	UsernameField string
	PasswordField string
	EmailField    string
	CodeField     string
	RememberField string

	// Handler called after successful authentication
	HandleAccount HandleAccountFunc

	// OnLoginError is called when login fails. If nil, returns JSON error.
	OnLoginError AuthErrorHandler

	// OnRegisterError is called when registration fails. If nil, returns JSON error.
	OnRegisterError AuthErrorHandler
}

// Register validates the password policy, creates a local account with
// a hashed password, records the audit event and returns the account.
// The store's uniqueness constraint is the authority for duplicate
// detection: the pre-checks here only produce friendlier errors, and a
// constraint violation at insert time still reports
// DUPLICATE_IDENTIFIER.
func (a *LocalAuth) Register(ctx context.Context, username, email, password, sourceAddr string) (*Account, *AuthError) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if username == "" {
		return nil, NewAuthError(CodeValidationFailed, "Username is required", "username")
	}
	if email != "" && !emailRegex.MatchString(email) {
		return nil, NewAuthError(CodeValidationFailed, "Invalid email", "email")
	}
	if authErr := ValidatePasswordPolicy(password); authErr != nil {
		return nil, authErr
	}

	// Pre-check username first, then email.
	if _, err := a.Stores.GetByUsername(ctx, username); err == nil {
		return nil, NewAuthError(CodeDuplicateIdentifier, "Username already exists", "username")
	}
	if email != "" {
		if _, err := a.Stores.GetByEmail(ctx, email); err == nil {
			return nil, NewAuthError(CodeDuplicateIdentifier, "Email already exists", "email")
		}
	}

	hash, err := a.Hasher.Hash(password)
	if err != nil {
		return nil, a.internalError("hashing password", err)
	}

	account := &Account{
		ID:           NewAccountID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Method:       MethodLocal,
	}
	if err := a.Stores.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateIdentifier) {
			// Lost the race after the pre-check passed.
			return nil, NewAuthError(CodeDuplicateIdentifier, "Username or email already exists", "username")
		}
		return nil, a.internalError("creating account", err)
	}

	a.recordLogin(ctx, account, sourceAddr)
	return account, nil
}

// EnrollSecondFactor generates and persists a TOTP secret for an
// existing account and returns the provisioning URI. Calling it again
// overwrites the prior secret; any existing authenticator device must
// be re-enrolled.
func (a *LocalAuth) EnrollSecondFactor(ctx context.Context, username string) (string, *AuthError) {
	account, err := a.Stores.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", NewAuthError(CodeValidationFailed, "Unknown account", "username")
		}
		return "", a.internalError("loading account", err)
	}

	secret, err := GenerateTOTPSecret()
	if err != nil {
		return "", a.internalError("generating totp secret", err)
	}

	account.TOTPSecret = secret
	if err := a.Stores.UpdateAccount(ctx, account); err != nil {
		return "", a.internalError("saving totp secret", err)
	}

	return ProvisioningURI(account.Username, secret, a.TOTPIssuer), nil
}

// Login verifies the identifier/password pair and, when the account is
// enrolled, the TOTP code, all within this one call. The
// INVALID_CREDENTIALS message is identical whether the identifier is
// unknown, the account is not a local account, or the password is
// wrong.
func (a *LocalAuth) Login(ctx context.Context, identifier, password, code, sourceAddr string) (*Account, *AuthError) {
	account, err := a.lookupByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			slog.Warn("account lookup failed during login", "error", err)
		}
		return nil, ErrInvalidCredentials()
	}
	if !account.IsLocal() || !a.Hasher.Verify(password, account.PasswordHash) {
		return nil, ErrInvalidCredentials()
	}

	if account.SecondFactorEnrolled() {
		if !VerifyTOTP(account.TOTPSecret, code, time.Now()) {
			return nil, NewAuthError(CodeInvalidSecondFactor, "Invalid or missing verification code", "code")
		}
	}

	a.recordLogin(ctx, account, sourceAddr)
	return account, nil
}

func (a *LocalAuth) lookupByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return a.Stores.GetByEmail(ctx, identifier)
	}
	return a.Stores.GetByUsername(ctx, identifier)
}

// recordLogin appends the audit event. Failures are logged, not
// surfaced: the login itself already succeeded.
func (a *LocalAuth) recordLogin(ctx context.Context, account *Account, sourceAddr string) {
	event := &LoginEvent{
		AccountID:  account.ID,
		SourceAddr: sourceAddr,
		Method:     string(account.Method),
		CreatedAt:  time.Now(),
	}
	if err := a.Stores.RecordLogin(ctx, event); err != nil {
		slog.Warn("failed to record login event", "account", account.ID, "error", err)
	}
}

func (a *LocalAuth) internalError(op string, err error) *AuthError {
	slog.Error("internal auth failure", "op", op, "error", err)
	return NewAuthError(CodeInternal, "An internal error occurred", "")
}

// ServeHTTP handles login requests.
func (a *LocalAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	form, err := a.parseAuthForm(r)
	if err != nil {
		a.handleLoginError(NewAuthError(CodeValidationFailed, err.Error(), "username"), w, r)
		return
	}
	if form.identifier == "" || form.password == "" {
		a.handleLoginError(NewAuthError(CodeValidationFailed, "username and password required", "username"), w, r)
		return
	}

	account, authErr := a.Login(r.Context(), form.identifier, form.password, form.code, getClientIP(r))
	if authErr != nil {
		a.handleLoginError(authErr, w, r)
		return
	}

	a.HandleAccount(account, form.remember, w, r)
}

// HandleRegister processes account registration.
func (a *LocalAuth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	form, err := a.parseAuthForm(r)
	if err != nil {
		a.handleRegisterError(NewAuthError(CodeValidationFailed, err.Error(), ""), w, r)
		return
	}

	account, authErr := a.Register(r.Context(), form.identifier, form.email, form.password, getClientIP(r))
	if authErr != nil {
		a.handleRegisterError(authErr, w, r)
		return
	}

	a.HandleAccount(account, false, w, r)
}

// HandleEnrollSecondFactor generates a TOTP secret for the named
// account and returns the provisioning URI for QR-code enrollment.
func (a *LocalAuth) HandleEnrollSecondFactor(w http.ResponseWriter, r *http.Request) {
	form, err := a.parseAuthForm(r)
	if err != nil || form.identifier == "" {
		a.handleRegisterError(NewAuthError(CodeValidationFailed, "username required", "username"), w, r)
		return
	}

	uri, authErr := a.EnrollSecondFactor(r.Context(), form.identifier)
	if authErr != nil {
		a.handleRegisterError(authErr, w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"provisioning_uri": uri,
	})
}

type authForm struct {
	identifier string
	email      string
	password   string
	code       string
	remember   bool
}

// parseAuthForm accepts either urlencoded form data or a JSON body,
// matching whichever the client sent.
func (a *LocalAuth) parseAuthForm(r *http.Request) (*authForm, error) {
	usernameField := a.fieldName(a.UsernameField, "username")
	passwordField := a.fieldName(a.PasswordField, "password")
	emailField := a.fieldName(a.EmailField, "email")
	codeField := a.fieldName(a.CodeField, "code")
	rememberField := a.fieldName(a.RememberField, "remember")

	out := &authForm{}
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("error parsing form")
		}
		out.identifier = r.FormValue(usernameField)
		out.email = r.FormValue(emailField)
		out.password = r.FormValue(passwordField)
		out.code = r.FormValue(codeField)
		out.remember = parseRemember(r.FormValue(rememberField))
	} else {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
			return nil, fmt.Errorf("invalid post body")
		}
		if v, ok := data[usernameField].(string); ok {
			out.identifier = v
		}
		if v, ok := data[emailField].(string); ok {
			out.email = v
		}
		if v, ok := data[passwordField].(string); ok {
			out.password = v
		}
		if v, ok := data[codeField].(string); ok {
			out.code = v
		}
		switch v := data[rememberField].(type) {
		case bool:
			out.remember = v
		case string:
			out.remember = parseRemember(v)
		}
	}
	return out, nil
}

func parseRemember(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func (a *LocalAuth) fieldName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// handleLoginError handles login errors using the configured handler or default JSON.
func (a *LocalAuth) handleLoginError(err *AuthError, w http.ResponseWriter, r *http.Request) {
	if a.OnLoginError != nil && a.OnLoginError(err, w, r) {
		return
	}
	writeAuthError(w, err)
}

// handleRegisterError handles registration errors using the configured handler or default JSON.
func (a *LocalAuth) handleRegisterError(err *AuthError, w http.ResponseWriter, r *http.Request) {
	if a.OnRegisterError != nil && a.OnRegisterError(err, w, r) {
		return
	}
	writeAuthError(w, err)
}

// writeAuthError writes the default JSON error response with a status
// code derived from the error code.
func writeAuthError(w http.ResponseWriter, err *AuthError) {
	status := http.StatusBadRequest
	switch err.Code {
	case CodeInvalidCredentials, CodeInvalidSecondFactor, CodeUnauthenticated:
		status = http.StatusUnauthorized
	case CodeDuplicateIdentifier:
		status = http.StatusConflict
	case CodeInternal, CodeExternalAuthFailed:
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(err)
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if colonIdx := strings.LastIndex(ip, ":"); colonIdx != -1 {
		ip = ip[:colonIdx]
	}
	return ip
}
