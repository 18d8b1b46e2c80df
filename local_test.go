package authgate_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	authgate "github.com/shopworks/authgate"
	"github.com/shopworks/authgate/stores"
)

// newTestLocalAuth builds a LocalAuth over a fresh in-memory store
// with a fast hash cost and a JSON success handler.
func newTestLocalAuth() *authgate.LocalAuth {
	return &authgate.LocalAuth{
		Stores:     stores.NewMemoryStore(),
		Hasher:     authgate.Hasher{Cost: bcrypt.MinCost},
		TOTPIssuer: "TestApp",
		HandleAccount: func(account *authgate.Account, remember bool, w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"success": true, "username": account.Username, "remember": remember})
		},
	}
}

func postForm(handler http.HandlerFunc, path string, fields map[string]string) *httptest.ResponseRecorder {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

// TestRegisterFlow tests account registration over HTTP
func TestRegisterFlow(t *testing.T) {
	localAuth := newTestLocalAuth()

	tests := []struct {
		name           string
		formData       map[string]string
		expectedStatus int
		checkError     string
	}{
		{
			name: "successful registration",
			formData: map[string]string{
				"username": "testuser",
				"email":    "test@example.com",
				"password": "Valid123!",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "duplicate username",
			formData: map[string]string{
				"username": "testuser",
				"email":    "other@example.com",
				"password": "Valid123!",
			},
			expectedStatus: http.StatusConflict,
			checkError:     "Username already exists",
		},
		{
			name: "duplicate email",
			formData: map[string]string{
				"username": "testuser2",
				"email":    "test@example.com",
				"password": "Valid123!",
			},
			expectedStatus: http.StatusConflict,
			checkError:     "Email already exists",
		},
		{
			name: "weak password",
			formData: map[string]string{
				"username": "testuser3",
				"email":    "test3@example.com",
				"password": "weak",
			},
			expectedStatus: http.StatusBadRequest,
			checkError:     "at least 8 characters",
		},
		{
			name: "invalid email",
			formData: map[string]string{
				"username": "testuser4",
				"email":    "not-an-email",
				"password": "Valid123!",
			},
			expectedStatus: http.StatusBadRequest,
			checkError:     "Invalid email",
		},
		{
			name: "missing username",
			formData: map[string]string{
				"email":    "test5@example.com",
				"password": "Valid123!",
			},
			expectedStatus: http.StatusBadRequest,
			checkError:     "Username is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postForm(localAuth.HandleRegister, "/register", tt.formData)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.checkError != "" && !strings.Contains(rr.Body.String(), tt.checkError) {
				t.Errorf("Expected error containing %q, got: %s", tt.checkError, rr.Body.String())
			}
		})
	}
}

// TestRegisterJSONBody verifies registration accepts a JSON body
func TestRegisterJSONBody(t *testing.T) {
	localAuth := newTestLocalAuth()

	body := `{"username": "jsonuser", "email": "json@example.com", "password": "Valid123!"}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	localAuth.HandleRegister(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "jsonuser") {
		t.Errorf("Expected username in response, got: %s", rr.Body.String())
	}
}

// TestLoginFlow tests authentication over HTTP
func TestLoginFlow(t *testing.T) {
	localAuth := newTestLocalAuth()

	_, authErr := localAuth.Register(context.Background(), "loginuser", "login@example.com", "Valid123!", "127.0.0.1")
	if authErr != nil {
		t.Fatalf("Failed to create test account: %v", authErr)
	}

	tests := []struct {
		name           string
		identifier     string
		password       string
		expectedStatus int
	}{
		{
			name:           "login by username",
			identifier:     "loginuser",
			password:       "Valid123!",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "login by email",
			identifier:     "login@example.com",
			password:       "Valid123!",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "wrong password",
			identifier:     "loginuser",
			password:       "Wrong123!",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "unknown username",
			identifier:     "nobody",
			password:       "Valid123!",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "unknown email",
			identifier:     "nobody@example.com",
			password:       "Valid123!",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postForm(localAuth.ServeHTTP, "/login", map[string]string{
				"username": tt.identifier,
				"password": tt.password,
			})

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

// TestLoginFailureIndistinguishable verifies an unknown identifier and
// a wrong password produce the exact same response body.
func TestLoginFailureIndistinguishable(t *testing.T) {
	localAuth := newTestLocalAuth()

	_, authErr := localAuth.Register(context.Background(), "someone", "someone@example.com", "Valid123!", "127.0.0.1")
	if authErr != nil {
		t.Fatalf("Failed to create test account: %v", authErr)
	}

	wrongPassword := postForm(localAuth.ServeHTTP, "/login", map[string]string{
		"username": "someone",
		"password": "Wrong123!",
	})
	unknownUser := postForm(localAuth.ServeHTTP, "/login", map[string]string{
		"username": "ghost",
		"password": "Valid123!",
	})

	if wrongPassword.Code != unknownUser.Code {
		t.Errorf("Status codes differ: %d vs %d", wrongPassword.Code, unknownUser.Code)
	}
	if wrongPassword.Body.String() != unknownUser.Body.String() {
		t.Errorf("Response bodies differ:\n%s\n%s", wrongPassword.Body.String(), unknownUser.Body.String())
	}
}

// TestSecondFactorFlow tests TOTP enrollment and login with a code
func TestSecondFactorFlow(t *testing.T) {
	localAuth := newTestLocalAuth()
	ctx := context.Background()

	_, authErr := localAuth.Register(ctx, "totpuser", "totp@example.com", "Valid123!", "127.0.0.1")
	if authErr != nil {
		t.Fatalf("Failed to create test account: %v", authErr)
	}

	uri, authErr := localAuth.EnrollSecondFactor(ctx, "totpuser")
	if authErr != nil {
		t.Fatalf("EnrollSecondFactor failed: %v", authErr)
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("Failed to parse provisioning URI: %v", err)
	}
	secret := parsed.Query().Get("secret")
	if secret == "" {
		t.Fatal("Expected secret in provisioning URI")
	}

	t.Run("login without code rejected", func(t *testing.T) {
		_, authErr := localAuth.Login(ctx, "totpuser", "Valid123!", "", "127.0.0.1")
		if authErr == nil {
			t.Fatal("Expected login without code to fail")
		}
		if authErr.Code != authgate.CodeInvalidSecondFactor {
			t.Errorf("Expected code %s, got %s", authgate.CodeInvalidSecondFactor, authErr.Code)
		}
	})

	t.Run("login with bad code rejected", func(t *testing.T) {
		_, authErr := localAuth.Login(ctx, "totpuser", "Valid123!", "000000", "127.0.0.1")
		if authErr == nil || authErr.Code != authgate.CodeInvalidSecondFactor {
			t.Errorf("Expected INVALID_SECOND_FACTOR, got: %v", authErr)
		}
	})

	t.Run("login with current code succeeds", func(t *testing.T) {
		code, err := authgate.CurrentTOTPCode(secret, time.Now())
		if err != nil {
			t.Fatalf("CurrentTOTPCode failed: %v", err)
		}
		account, authErr := localAuth.Login(ctx, "totpuser", "Valid123!", code, "127.0.0.1")
		if authErr != nil {
			t.Fatalf("Expected login to succeed, got: %v", authErr)
		}
		if !account.SecondFactorEnrolled() {
			t.Error("Expected account to be enrolled")
		}
	})

	t.Run("wrong password checked before code", func(t *testing.T) {
		code, _ := authgate.CurrentTOTPCode(secret, time.Now())
		_, authErr := localAuth.Login(ctx, "totpuser", "Wrong123!", code, "127.0.0.1")
		if authErr == nil || authErr.Code != authgate.CodeInvalidCredentials {
			t.Errorf("Expected INVALID_CREDENTIALS, got: %v", authErr)
		}
	})
}

// TestReEnrollmentReplacesSecret verifies a second enrollment
// invalidates codes from the first secret.
func TestReEnrollmentReplacesSecret(t *testing.T) {
	localAuth := newTestLocalAuth()
	ctx := context.Background()

	_, authErr := localAuth.Register(ctx, "renroll", "renroll@example.com", "Valid123!", "127.0.0.1")
	if authErr != nil {
		t.Fatalf("Failed to create test account: %v", authErr)
	}

	firstURI, authErr := localAuth.EnrollSecondFactor(ctx, "renroll")
	if authErr != nil {
		t.Fatalf("First enrollment failed: %v", authErr)
	}
	secondURI, authErr := localAuth.EnrollSecondFactor(ctx, "renroll")
	if authErr != nil {
		t.Fatalf("Second enrollment failed: %v", authErr)
	}

	firstSecret := queryParam(t, firstURI, "secret")
	secondSecret := queryParam(t, secondURI, "secret")
	if firstSecret == secondSecret {
		t.Fatal("Expected re-enrollment to replace the secret")
	}

	staleCode, _ := authgate.CurrentTOTPCode(firstSecret, time.Now())
	if _, authErr := localAuth.Login(ctx, "renroll", "Valid123!", staleCode, "127.0.0.1"); authErr == nil {
		t.Error("Expected code from the replaced secret to be rejected")
	}

	freshCode, _ := authgate.CurrentTOTPCode(secondSecret, time.Now())
	if _, authErr := localAuth.Login(ctx, "renroll", "Valid123!", freshCode, "127.0.0.1"); authErr != nil {
		t.Errorf("Expected code from the current secret to work, got: %v", authErr)
	}
}

func queryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("Failed to parse URL %q: %v", rawURL, err)
	}
	return parsed.Query().Get(key)
}

// TestRegisterRecordsLoginEvent checks the audit trail after signup
func TestRegisterRecordsLoginEvent(t *testing.T) {
	store := stores.NewMemoryStore()
	localAuth := newTestLocalAuth()
	localAuth.Stores = store
	ctx := context.Background()

	account, authErr := localAuth.Register(ctx, "audited", "audited@example.com", "Valid123!", "203.0.113.9")
	if authErr != nil {
		t.Fatalf("Register failed: %v", authErr)
	}
	if _, authErr := localAuth.Login(ctx, "audited", "Valid123!", "", "203.0.113.10"); authErr != nil {
		t.Fatalf("Login failed: %v", authErr)
	}

	events, err := store.ListEventsByAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("ListEventsByAccount failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 login events, got %d", len(events))
	}
	if events[0].SourceAddr != "203.0.113.9" {
		t.Errorf("Expected registration source 203.0.113.9, got %s", events[0].SourceAddr)
	}
	if events[1].SourceAddr != "203.0.113.10" {
		t.Errorf("Expected login source 203.0.113.10, got %s", events[1].SourceAddr)
	}
	for _, e := range events {
		if e.Method != string(authgate.MethodLocal) {
			t.Errorf("Expected method 'local', got %q", e.Method)
		}
	}
}

// racingStore simulates losing the uniqueness race: pre-checks see no
// account but the insert reports a constraint violation.
type racingStore struct {
	*stores.MemoryStore
}

func (s *racingStore) GetByUsername(ctx context.Context, username string) (*authgate.Account, error) {
	return nil, authgate.ErrAccountNotFound
}

func (s *racingStore) GetByEmail(ctx context.Context, email string) (*authgate.Account, error) {
	return nil, authgate.ErrAccountNotFound
}

func (s *racingStore) CreateAccount(ctx context.Context, account *authgate.Account) error {
	return authgate.ErrDuplicateIdentifier
}

// TestRegisterDuplicateRace verifies a constraint violation discovered
// at insert time still reports a duplicate, not an internal error.
func TestRegisterDuplicateRace(t *testing.T) {
	localAuth := newTestLocalAuth()
	localAuth.Stores = &racingStore{stores.NewMemoryStore()}

	_, authErr := localAuth.Register(context.Background(), "racer", "racer@example.com", "Valid123!", "127.0.0.1")
	if authErr == nil {
		t.Fatal("Expected registration to fail")
	}
	if authErr.Code != authgate.CodeDuplicateIdentifier {
		t.Errorf("Expected code %s, got %s", authgate.CodeDuplicateIdentifier, authErr.Code)
	}
}

// failingEventStore accepts everything except login events.
type failingEventStore struct {
	*stores.MemoryStore
}

func (s *failingEventStore) RecordLogin(ctx context.Context, event *authgate.LoginEvent) error {
	return errors.New("audit store offline")
}

// TestLoginSurvivesAuditFailure verifies a failed audit write does not
// fail the login itself.
func TestLoginSurvivesAuditFailure(t *testing.T) {
	localAuth := newTestLocalAuth()
	localAuth.Stores = &failingEventStore{stores.NewMemoryStore()}
	ctx := context.Background()

	if _, authErr := localAuth.Register(ctx, "stoic", "stoic@example.com", "Valid123!", "127.0.0.1"); authErr != nil {
		t.Fatalf("Register failed: %v", authErr)
	}
	if _, authErr := localAuth.Login(ctx, "stoic", "Valid123!", "", "127.0.0.1"); authErr != nil {
		t.Errorf("Expected login to succeed despite audit failure, got: %v", authErr)
	}
}
