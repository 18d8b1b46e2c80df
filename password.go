package authgate

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the policy floor for local-account passwords.
const MinPasswordLength = 8

// passwordSymbols is the accepted symbol class.
const passwordSymbols = "!@#$%^&*()-_=+[]{};:,.<>?/\\|~`'\""

// Hasher wraps bcrypt with an immutable work factor. Cost is fixed at
// construction; zero value falls back to bcrypt.DefaultCost so a
// misconfigured cost can never drop below the library floor.
type Hasher struct {
	Cost int
}

func (h Hasher) cost() int {
	if h.Cost < bcrypt.MinCost {
		return bcrypt.DefaultCost
	}
	return h.Cost
}

// Hash returns the bcrypt digest of plaintext. The plaintext is never
// retained or logged.
func (h Hasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost())
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. bcrypt's comparison
// is constant time with respect to the digest contents.
func (h Hasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// ValidatePasswordPolicy checks the registration password policy:
// minimum length plus at least one upper-case letter, lower-case
// letter, digit, and symbol. Returns a VALIDATION_FAILED AuthError
// naming the password field, or nil.
func ValidatePasswordPolicy(password string) *AuthError {
	if len(password) < MinPasswordLength {
		return NewAuthError(CodeValidationFailed,
			fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength), "password")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		}
	}

	switch {
	case !hasUpper:
		return NewAuthError(CodeValidationFailed, "Password must contain at least one uppercase letter", "password")
	case !hasLower:
		return NewAuthError(CodeValidationFailed, "Password must contain at least one lowercase letter", "password")
	case !hasDigit:
		return NewAuthError(CodeValidationFailed, "Password must contain at least one number", "password")
	case !hasSymbol:
		return NewAuthError(CodeValidationFailed, "Password must contain at least one special character", "password")
	}
	return nil
}
