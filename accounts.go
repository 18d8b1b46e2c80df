package authgate

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuthMethod tags how an account authenticates. An account has exactly
// one method: local accounts carry a password hash, external accounts
// carry the provider-assigned identity id.
type AuthMethod string

const (
	MethodLocal    AuthMethod = "local"
	MethodExternal AuthMethod = "external"
)

// Account is the unified account record.
type Account struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	ExternalID   string     `json:"external_id,omitempty"`
	TOTPSecret   string     `json:"-"`
	Method       AuthMethod `json:"method"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsLocal reports whether the account authenticates with a password.
func (a *Account) IsLocal() bool { return a.Method == MethodLocal }

// SecondFactorEnrolled reports whether a TOTP secret is on file.
func (a *Account) SecondFactorEnrolled() bool { return a.TOTPSecret != "" }

// LoginEvent is an append-only audit record. This package only ever
// creates events; there is no update or delete interface.
type LoginEvent struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	SourceAddr string    `json:"source_addr"`
	Method     string    `json:"method"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewAccountID generates an account identifier.
func NewAccountID() string { return uuid.NewString() }

// AccountStore abstracts account persistence. Implementations must
// enforce username and email uniqueness atomically on create: the
// orchestrator pre-checks for friendlier errors, but the store's
// constraint is the authority under concurrent registration, and a
// violation must surface as ErrDuplicateIdentifier.
type AccountStore interface {
	// CreateAccount inserts a new account. Returns
	// ErrDuplicateIdentifier if the username, or the email when
	// non-empty, is already taken.
	CreateAccount(ctx context.Context, account *Account) error

	// GetByUsername returns the account with the given username, or
	// ErrAccountNotFound.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// GetByEmail returns the account with the given email, or
	// ErrAccountNotFound.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByExternalID returns the account bridged from the given
	// provider identity id, or ErrAccountNotFound.
	GetByExternalID(ctx context.Context, externalID string) (*Account, error)

	// UpdateAccount persists changes to an existing account.
	UpdateAccount(ctx context.Context, account *Account) error
}

// LoginEventStore records the append-only login audit trail.
type LoginEventStore interface {
	RecordLogin(ctx context.Context, event *LoginEvent) error
	ListEventsByAccount(ctx context.Context, accountID string) ([]*LoginEvent, error)
}

// Stores bundles the adapters the orchestrator needs.
type Stores interface {
	AccountStore
	LoginEventStore
}
