package mfa

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	Issuer        = "Surf Admin"
	Period        = 30
	DefaultSkew   = 1
	codeDigits    = otp.DigitsSix
	codeAlgorithm = otp.AlgorithmSHA1
)

// ErrNoSecret is returned by a SecretSource for subjects without MFA enrolled.
var ErrNoSecret = errors.New("no mfa secret enrolled")

// SecretSource returns the base32 TOTP seed for a subject.
type SecretSource interface {
	MFASecret(ctx context.Context, subjectID string) (string, error)
}

// TOTPVerifier checks RFC 6238 codes. Each time step is accepted at most once
// per subject, so a code observed in transit cannot be replayed.
type TOTPVerifier struct {
	secrets SecretSource
	skew    uint
	now     func() time.Time

	mu          sync.Mutex
	lastCounter map[string]uint64
}

func NewTOTPVerifier(secrets SecretSource, skew uint, now func() time.Time) *TOTPVerifier {
	if now == nil {
		now = time.Now
	}
	return &TOTPVerifier{
		secrets:     secrets,
		skew:        skew,
		now:         now,
		lastCounter: make(map[string]uint64),
	}
}

func (v *TOTPVerifier) Verify(ctx context.Context, subjectID, code string) (bool, error) {
	if len(code) != codeDigits.Length() {
		return false, nil
	}
	secret, err := v.secrets.MFASecret(ctx, subjectID)
	if errors.Is(err, ErrNoSecret) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load mfa secret: %w", err)
	}

	current := uint64(v.now().Unix()) / Period
	for offset := -int64(v.skew); offset <= int64(v.skew); offset++ {
		counter := uint64(int64(current) + offset)
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(int64(counter*Period), 0).UTC(), validateOpts())
		if err != nil {
			return false, fmt.Errorf("failed to generate totp code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return v.accept(subjectID, counter), nil
		}
	}
	return false, nil
}

func (v *TOTPVerifier) accept(subjectID string, counter uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if last, ok := v.lastCounter[subjectID]; ok && counter <= last {
		return false
	}
	v.lastCounter[subjectID] = counter
	return true
}

// GenerateSecret creates a new seed for account and the otpauth:// URL to
// show as a QR code during enrolment.
func GenerateSecret(account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: account,
		Period:      Period,
		Digits:      codeDigits,
		Algorithm:   codeAlgorithm,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// CodeAt returns the code for secret at t.
func CodeAt(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, validateOpts())
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    Period,
		Skew:      0,
		Digits:    codeDigits,
		Algorithm: codeAlgorithm,
	}
}
