package authgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ExternalIdentity is a verified identity returned by an OAuth
// provider handshake. ProviderID is the provider's opaque id for the
// user; DisplayName and Email may be empty.
type ExternalIdentity struct {
	Provider    string
	ProviderID  string
	DisplayName string
	Email       string
}

// usernameSanitizer strips characters we never allow in a synthesized
// username.
var usernameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// maxSuffixAttempts bounds the collision loop when deriving a unique
// username from a provider display name.
const maxSuffixAttempts = 100

// Bridge maps external provider identities to local accounts,
// creating one on first login.
type Bridge struct {
	Stores Stores
}

// Resolve finds or creates the local account for an external identity.
//
// An existing account for the provider id is returned as-is, with a
// missing method tag repaired idempotently (existing values are never
// overwritten). Otherwise a new external account is created with a
// username derived from the display name, suffixed with an
// incrementing number on collision, and the provider email or a
// placeholder unique to the provider id. Any persistence failure
// aborts the login; no partially created account is left visible.
func (b *Bridge) Resolve(ctx context.Context, ident *ExternalIdentity) (*Account, error) {
	if ident.ProviderID == "" {
		return nil, fmt.Errorf("external identity has no provider id")
	}

	account, err := b.Stores.GetByExternalID(ctx, ident.ProviderID)
	if err == nil {
		return b.repair(ctx, account)
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("looking up external identity: %w", err)
	}

	email := ident.Email
	if email == "" {
		// Placeholder unique per provider id so the email uniqueness
		// constraint never collides across bridged accounts.
		email = fmt.Sprintf("%s@%s.local", ident.ProviderID, ident.Provider)
	}

	// The synthesized username can lose a race between the availability
	// check and the insert, so a duplicate that is not explained by a
	// concurrent login with the same provider id re-derives the
	// username and retries.
	var createErr error
	for attempt := 0; attempt < maxSuffixAttempts; attempt++ {
		username, err := b.deriveUsername(ctx, ident)
		if err != nil {
			return nil, err
		}

		account = &Account{
			ID:         NewAccountID(),
			Username:   username,
			Email:      email,
			ExternalID: ident.ProviderID,
			Method:     MethodExternal,
		}
		createErr = b.Stores.CreateAccount(ctx, account)
		if createErr == nil {
			return account, nil
		}
		if !errors.Is(createErr, ErrDuplicateIdentifier) {
			return nil, fmt.Errorf("creating bridged account: %w", createErr)
		}
		// A concurrent first login with the same provider id may have
		// won; re-reading resolves that case.
		if existing, lookupErr := b.Stores.GetByExternalID(ctx, ident.ProviderID); lookupErr == nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("creating bridged account: %w", createErr)
}

// repair backfills a missing method tag on an account found by
// provider id. It never overwrites an existing value; the username
// stays whatever it was created as, since the store adapters treat it
// as immutable.
func (b *Bridge) repair(ctx context.Context, account *Account) (*Account, error) {
	if account.Method != "" {
		return account, nil
	}
	account.Method = MethodExternal
	if err := b.Stores.UpdateAccount(ctx, account); err != nil {
		// The account itself is intact; the repair can happen on a
		// later login.
		slog.Warn("failed to repair bridged account", "account", account.ID, "error", err)
	}
	return account, nil
}

// deriveUsername synthesizes a unique username from the provider
// display name, appending _1, _2, ... until no collision remains.
func (b *Bridge) deriveUsername(ctx context.Context, ident *ExternalIdentity) (string, error) {
	base := usernameSanitizer.ReplaceAllString(strings.TrimSpace(ident.DisplayName), "")
	if base == "" {
		base = fallbackUsername(ident)
	}

	candidate := base
	for i := 1; i <= maxSuffixAttempts; i++ {
		_, err := b.Stores.GetByUsername(ctx, candidate)
		if errors.Is(err, ErrAccountNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking username availability: %w", err)
		}
		candidate = fmt.Sprintf("%s_%d", base, i)
	}
	return "", fmt.Errorf("could not derive a unique username from %q", base)
}

func fallbackUsername(ident *ExternalIdentity) string {
	return fmt.Sprintf("%s_user_%s", ident.Provider, ident.ProviderID)
}
