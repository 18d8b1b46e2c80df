package stores_test

import (
	"context"
	"errors"
	"testing"

	authgate "github.com/shopworks/authgate"
	"github.com/shopworks/authgate/stores"
)

func newAccount(username, email string) *authgate.Account {
	return &authgate.Account{
		ID:           authgate.NewAccountID(),
		Username:     username,
		Email:        email,
		PasswordHash: "hash",
		Method:       authgate.MethodLocal,
	}
}

// TestMemoryStoreCreateAndGet tests the lookup paths
func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := stores.NewMemoryStore()
	ctx := context.Background()

	account := newAccount("alice", "alice@example.com")
	account.ExternalID = "ext-1"
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if account.CreatedAt.IsZero() || account.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set on create")
	}

	tests := []struct {
		name   string
		lookup func() (*authgate.Account, error)
	}{
		{"by username", func() (*authgate.Account, error) { return store.GetByUsername(ctx, "alice") }},
		{"by email", func() (*authgate.Account, error) { return store.GetByEmail(ctx, "alice@example.com") }},
		{"by external id", func() (*authgate.Account, error) { return store.GetByExternalID(ctx, "ext-1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.lookup()
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if got.ID != account.ID {
				t.Errorf("Expected account %s, got %s", account.ID, got.ID)
			}
		})
	}
}

// TestMemoryStoreNotFound tests the miss paths
func TestMemoryStoreNotFound(t *testing.T) {
	store := stores.NewMemoryStore()
	ctx := context.Background()

	tests := []struct {
		name   string
		lookup func() (*authgate.Account, error)
	}{
		{"unknown username", func() (*authgate.Account, error) { return store.GetByUsername(ctx, "nobody") }},
		{"unknown email", func() (*authgate.Account, error) { return store.GetByEmail(ctx, "nobody@example.com") }},
		{"unknown external id", func() (*authgate.Account, error) { return store.GetByExternalID(ctx, "ext-none") }},
		{"empty email", func() (*authgate.Account, error) { return store.GetByEmail(ctx, "") }},
		{"empty external id", func() (*authgate.Account, error) { return store.GetByExternalID(ctx, "") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.lookup(); !errors.Is(err, authgate.ErrAccountNotFound) {
				t.Errorf("Expected ErrAccountNotFound, got: %v", err)
			}
		})
	}
}

// TestMemoryStoreUniqueness tests the uniqueness constraints
func TestMemoryStoreUniqueness(t *testing.T) {
	store := stores.NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateAccount(ctx, newAccount("taken", "taken@example.com")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	t.Run("duplicate username", func(t *testing.T) {
		err := store.CreateAccount(ctx, newAccount("taken", "other@example.com"))
		if !errors.Is(err, authgate.ErrDuplicateIdentifier) {
			t.Errorf("Expected ErrDuplicateIdentifier, got: %v", err)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		err := store.CreateAccount(ctx, newAccount("other", "taken@example.com"))
		if !errors.Is(err, authgate.ErrDuplicateIdentifier) {
			t.Errorf("Expected ErrDuplicateIdentifier, got: %v", err)
		}
	})

	t.Run("accounts without email never collide", func(t *testing.T) {
		if err := store.CreateAccount(ctx, newAccount("noemail1", "")); err != nil {
			t.Errorf("CreateAccount failed: %v", err)
		}
		if err := store.CreateAccount(ctx, newAccount("noemail2", "")); err != nil {
			t.Errorf("CreateAccount failed: %v", err)
		}
	})
}

// TestMemoryStoreUpdate tests which fields the update writes back
func TestMemoryStoreUpdate(t *testing.T) {
	store := stores.NewMemoryStore()
	ctx := context.Background()

	account := newAccount("mutable", "mutable@example.com")
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	account.PasswordHash = "new-hash"
	account.TOTPSecret = "new-secret"
	account.Username = "renamed"
	if err := store.UpdateAccount(ctx, account); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}

	got, err := store.GetByUsername(ctx, "mutable")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.PasswordHash != "new-hash" {
		t.Errorf("Expected updated hash, got %q", got.PasswordHash)
	}
	if got.TOTPSecret != "new-secret" {
		t.Errorf("Expected updated secret, got %q", got.TOTPSecret)
	}
	if got.Username != "mutable" {
		t.Errorf("Username must be immutable, got %q", got.Username)
	}

	t.Run("unknown account", func(t *testing.T) {
		err := store.UpdateAccount(ctx, newAccount("ghost", ""))
		if !errors.Is(err, authgate.ErrAccountNotFound) {
			t.Errorf("Expected ErrAccountNotFound, got: %v", err)
		}
	})
}

// TestMemoryStoreIsolation verifies mutations on returned accounts do
// not leak into the store.
func TestMemoryStoreIsolation(t *testing.T) {
	store := stores.NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateAccount(ctx, newAccount("sealed", "sealed@example.com")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	got, _ := store.GetByUsername(ctx, "sealed")
	got.PasswordHash = "tampered"

	again, _ := store.GetByUsername(ctx, "sealed")
	if again.PasswordHash != "hash" {
		t.Errorf("Expected stored hash to be untouched, got %q", again.PasswordHash)
	}
}

// TestMemoryStoreLoginEvents tests the audit trail
func TestMemoryStoreLoginEvents(t *testing.T) {
	store := stores.NewMemoryStore()
	ctx := context.Background()

	for _, accountID := range []string{"a", "b", "a"} {
		err := store.RecordLogin(ctx, &authgate.LoginEvent{
			AccountID:  accountID,
			SourceAddr: "127.0.0.1",
			Method:     "local",
		})
		if err != nil {
			t.Fatalf("RecordLogin failed: %v", err)
		}
	}

	events, err := store.ListEventsByAccount(ctx, "a")
	if err != nil {
		t.Fatalf("ListEventsByAccount failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events for account a, got %d", len(events))
	}
	for _, e := range events {
		if e.ID == "" {
			t.Error("Expected an id to be assigned")
		}
		if e.CreatedAt.IsZero() {
			t.Error("Expected a timestamp to be assigned")
		}
	}

	none, err := store.ListEventsByAccount(ctx, "c")
	if err != nil {
		t.Fatalf("ListEventsByAccount failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no events for account c, got %d", len(none))
	}
}
