// Package stores provides credential store adapters. The in-memory
// store here serves tests and development; stores/gorm carries the
// persistent adapter.
package stores

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	authgate "github.com/shopworks/authgate"
)

// MemoryStore is an in-process implementation of authgate.Stores.
// Uniqueness of username and email is enforced under one mutex, which
// gives it the same atomic compare-and-insert semantics the
// persistent adapters get from their unique indexes.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*authgate.Account
	byUsername map[string]string
	byEmail    map[string]string
	byExternal map[string]string
	events     []*authgate.LoginEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*authgate.Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		byExternal: make(map[string]string),
	}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account *authgate.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[account.Username]; taken {
		return authgate.ErrDuplicateIdentifier
	}
	if account.Email != "" {
		if _, taken := s.byEmail[account.Email]; taken {
			return authgate.ErrDuplicateIdentifier
		}
	}

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	stored := cloneAccount(account)
	s.byID[stored.ID] = stored
	s.byUsername[stored.Username] = stored.ID
	if stored.Email != "" {
		s.byEmail[stored.Email] = stored.ID
	}
	if stored.ExternalID != "" {
		s.byExternal[stored.ExternalID] = stored.ID
	}
	return nil
}

func (s *MemoryStore) GetByUsername(ctx context.Context, username string) (*authgate.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byUsername[username])
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*authgate.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if email == "" {
		return nil, authgate.ErrAccountNotFound
	}
	return s.lookup(s.byEmail[email])
}

func (s *MemoryStore) GetByExternalID(ctx context.Context, externalID string) (*authgate.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if externalID == "" {
		return nil, authgate.ErrAccountNotFound
	}
	return s.lookup(s.byExternal[externalID])
}

func (s *MemoryStore) UpdateAccount(ctx context.Context, account *authgate.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[account.ID]
	if !ok {
		return authgate.ErrAccountNotFound
	}

	// Username and email are immutable through this adapter; only the
	// mutable fields are written back.
	existing.PasswordHash = account.PasswordHash
	existing.TOTPSecret = account.TOTPSecret
	existing.Method = account.Method
	existing.UpdatedAt = time.Now()
	account.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *MemoryStore) RecordLogin(ctx context.Context, event *authgate.LoginEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	stored := *event
	s.events = append(s.events, &stored)
	return nil
}

func (s *MemoryStore) ListEventsByAccount(ctx context.Context, accountID string) ([]*authgate.LoginEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*authgate.LoginEvent
	for _, e := range s.events {
		if e.AccountID == accountID {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) lookup(id string) (*authgate.Account, error) {
	if id == "" {
		return nil, authgate.ErrAccountNotFound
	}
	account, ok := s.byID[id]
	if !ok {
		return nil, authgate.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func cloneAccount(a *authgate.Account) *authgate.Account {
	copied := *a
	return &copied
}
