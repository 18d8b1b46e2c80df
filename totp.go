package authgate

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// totpSecretBytes is the entropy of a generated shared secret.
	totpSecretBytes = 20

	// totpDigits is the code length presented by authenticator apps.
	totpDigits = 6

	// totpPeriod is the RFC 6238 time step.
	totpPeriod = 30 * time.Second

	// totpSkew is how many adjacent steps are accepted to tolerate
	// clock drift. One step each way; codes two windows out fail.
	totpSkew = 1
)

// GenerateTOTPSecret returns a new base32 shared secret with 20 bytes
// of entropy. Generated once at enrollment; re-enrolling replaces it.
func GenerateTOTPSecret() (string, error) {
	buf := make([]byte, totpSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// ProvisioningURI builds the otpauth URI that enrollment QR codes
// encode, in the form
// otpauth://totp/<issuer>:<label>?secret=<secret>&issuer=<issuer>.
func ProvisioningURI(label, secret, issuer string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + label,
		RawQuery: v.Encode(),
	}
	return u.String()
}

// VerifyTOTP checks a submitted code against the shared secret at the
// given time. Malformed codes (wrong length, non-numeric) are rejected
// before any cryptographic work. Candidate comparison inside the otp
// library is constant time.
func VerifyTOTP(secret, code string, at time.Time) bool {
	if len(code) != totpDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}

	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    uint(totpPeriod / time.Second),
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// CurrentTOTPCode computes the code for the step containing at. Used
// by tests and development tooling; production verification goes
// through VerifyTOTP.
func CurrentTOTPCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCode(secret, at)
}
