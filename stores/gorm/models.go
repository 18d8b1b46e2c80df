package gorm

import (
	"time"

	authgate "github.com/shopworks/authgate"
)

// AccountModel is the GORM model for accounts. Username, email and
// external id carry unique indexes; the database is the authority for
// duplicate detection under concurrent registration. Email and
// external id are pointers so that absent values stay NULL instead of
// colliding on the empty string.
type AccountModel struct {
	ID           string  `gorm:"primaryKey;size:64"`
	Username     string  `gorm:"uniqueIndex;size:255;not null"`
	Email        *string `gorm:"uniqueIndex;size:255"`
	PasswordHash string  `gorm:"size:255"`
	ExternalID   *string `gorm:"uniqueIndex;size:255"`
	TOTPSecret   string  `gorm:"size:64"`
	Method       string  `gorm:"size:16;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *authgate.Account {
	return &authgate.Account{
		ID:           m.ID,
		Username:     m.Username,
		Email:        deref(m.Email),
		PasswordHash: m.PasswordHash,
		ExternalID:   deref(m.ExternalID),
		TOTPSecret:   m.TOTPSecret,
		Method:       authgate.AuthMethod(m.Method),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func AccountToModel(a *authgate.Account) *AccountModel {
	return &AccountModel{
		ID:           a.ID,
		Username:     a.Username,
		Email:        optional(a.Email),
		PasswordHash: a.PasswordHash,
		ExternalID:   optional(a.ExternalID),
		TOTPSecret:   a.TOTPSecret,
		Method:       string(a.Method),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

// LoginEventModel is the GORM model for the append-only audit trail.
// No update or delete path exists for it in this package.
type LoginEventModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	AccountID  string    `gorm:"size:64;index;not null"`
	SourceAddr string    `gorm:"size:64"`
	Method     string    `gorm:"size:32"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (LoginEventModel) TableName() string {
	return "login_events"
}

func (m *LoginEventModel) ToLoginEvent() *authgate.LoginEvent {
	return &authgate.LoginEvent{
		ID:         m.ID,
		AccountID:  m.AccountID,
		SourceAddr: m.SourceAddr,
		Method:     m.Method,
		CreatedAt:  m.CreatedAt,
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
