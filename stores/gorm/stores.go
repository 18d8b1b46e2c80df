// Package gorm provides the persistent credential store adapter. The
// unique indexes on accounts are what serialize racing registrations;
// constraint violations surface as authgate.ErrDuplicateIdentifier so
// the orchestrator reports them as DUPLICATE_IDENTIFIER rather than a
// generic failure.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	authgate "github.com/shopworks/authgate"
)

// AutoMigrate runs database migrations for all authgate tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&LoginEventModel{},
	)
}

// Store implements authgate.Stores backed by a GORM database.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateAccount(ctx context.Context, account *authgate.Account) error {
	model := AccountToModel(account)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return authgate.ErrDuplicateIdentifier
		}
		return fmt.Errorf("creating account: %w", err)
	}
	account.CreatedAt = model.CreatedAt
	account.UpdatedAt = model.UpdatedAt
	return nil
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*authgate.Account, error) {
	return s.getBy(ctx, "username = ?", username)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*authgate.Account, error) {
	if email == "" {
		return nil, authgate.ErrAccountNotFound
	}
	return s.getBy(ctx, "email = ?", email)
}

func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*authgate.Account, error) {
	if externalID == "" {
		return nil, authgate.ErrAccountNotFound
	}
	return s.getBy(ctx, "external_id = ?", externalID)
}

func (s *Store) getBy(ctx context.Context, query string, arg any) (*authgate.Account, error) {
	var model AccountModel
	err := s.db.WithContext(ctx).First(&model, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, authgate.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	return model.ToAccount(), nil
}

func (s *Store) UpdateAccount(ctx context.Context, account *authgate.Account) error {
	result := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"password_hash": account.PasswordHash,
			"totp_secret":   account.TOTPSecret,
			"method":        string(account.Method),
		})
	if result.Error != nil {
		return fmt.Errorf("updating account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return authgate.ErrAccountNotFound
	}
	return nil
}

func (s *Store) RecordLogin(ctx context.Context, event *authgate.LoginEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	model := &LoginEventModel{
		ID:         event.ID,
		AccountID:  event.AccountID,
		SourceAddr: event.SourceAddr,
		Method:     event.Method,
		CreatedAt:  event.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("recording login event: %w", err)
	}
	event.CreatedAt = model.CreatedAt
	return nil
}

func (s *Store) ListEventsByAccount(ctx context.Context, accountID string) ([]*authgate.LoginEvent, error) {
	var models []LoginEventModel
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing login events: %w", err)
	}

	events := make([]*authgate.LoginEvent, 0, len(models))
	for i := range models {
		events = append(events, models[i].ToLoginEvent())
	}
	return events, nil
}

// isUniqueViolation detects a uniqueness-constraint failure across the
// drivers we care about. GORM translates some but not all of these to
// ErrDuplicatedKey, so the driver messages are checked as a fallback.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
