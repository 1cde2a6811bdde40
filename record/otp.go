package record

import (
	"fmt"
	"time"

	"github.com/creachadair/otp"
	"github.com/creachadair/otp/otpauth"
)

// KindOTP is the entry kind for a one-time-passcode credential. It is not
// part of the core schema (spec.md only requires "login" and says other
// kinds "are permitted and passed through opaquely"); this package adds
// first-class support for generating a code from one, supplementing the
// TOTP feature the original keyfish tool offered that spec.md's
// distillation otherwise dropped into an opaque record kind.
const KindOTP = "otp"

// otpURLKey is the Extra field an "otp" entry stores its otpauth URL under.
const otpURLKey = "url"

// NewOTPEntry builds an Entry of kind "otp" wrapping an otpauth URL.
func NewOTPEntry(url *otpauth.URL) Entry {
	return Entry{
		Kind:  KindOTP,
		Extra: map[string]any{otpURLKey: url.String()},
	}
}

// GenerateCode returns the current one-time code for an "otp"-kind entry.
// offset shifts the time step (0 for "now"), matching the teacher's
// kflib.GenerateOTP.
func GenerateCode(e Entry, offset int, now time.Time) (string, error) {
	if e.Kind != KindOTP {
		return "", fmt.Errorf("record: entry kind %q is not %q", e.Kind, KindOTP)
	}
	raw, ok := e.Extra[otpURLKey].(string)
	if !ok || raw == "" {
		return "", fmt.Errorf("record: otp entry has no url")
	}
	url, err := otpauth.ParseURL(raw)
	if err != nil {
		return "", fmt.Errorf("record: parse otpauth url: %w", err)
	}
	step := (now.Unix() / int64(url.Period)) + int64(offset)
	cfg := otp.Config{Digits: url.Digits}
	if err := cfg.ParseKey(url.RawSecret); err != nil {
		return "", fmt.Errorf("record: parse otp key: %w", err)
	}
	return cfg.HOTP(uint64(step)), nil
}
