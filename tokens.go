package authgate

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session token TTLs. The short TTL is the default; the long TTL is
// used when the caller asks for a persistent session ("remember me").
const (
	TokenTTLDefault  = 24 * time.Hour
	TokenTTLRemember = 7 * 24 * time.Hour
)

// TTLForRemember maps the remember flag to a token TTL.
func TTLForRemember(remember bool) time.Duration {
	if remember {
		return TokenTTLRemember
	}
	return TokenTTLDefault
}

// SessionClaims are the claims carried by a session token. Tokens are
// self-contained: verification needs no server-side lookup, trading
// instant revocation for statelessness.
type SessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"uname"`
	Method   string `json:"amr"`
}

// TokenIssuer signs and verifies session tokens with a symmetric
// secret held only by the server process. The secret and issuer name
// are fixed at construction and never mutated.
type TokenIssuer struct {
	SecretKey []byte
	Issuer    string
}

// Issue creates a signed token for the account with the given TTL.
func (ti *TokenIssuer) Issue(account *Account, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    ti.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: account.Username,
		Method:   string(account.Method),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.SecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string. Failures are reported as
// one of ErrTokenExpired, ErrTokenMalformed, or ErrTokenSignature;
// callers present all three identically as UNAUTHENTICATED.
func (ti *TokenIssuer) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.SecretKey, nil
	})

	switch {
	case err == nil && token.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrTokenMalformed
	default:
		return nil, ErrTokenSignature
	}
}
