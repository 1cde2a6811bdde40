package record_test

import (
	"testing"
	"time"

	"github.com/creachadair/lockbox/record"
	"github.com/creachadair/otp/otpauth"
)

func TestGenerateCode(t *testing.T) {
	url := &otpauth.URL{
		Type:      "totp",
		Issuer:    "example",
		Account:   "alice",
		Digits:    6,
		Period:    30,
		RawSecret: "JBSWY3DPEHPK3PXP",
	}
	e := record.NewOTPEntry(url)
	if e.Kind != record.KindOTP {
		t.Fatalf("NewOTPEntry: kind = %q, want %q", e.Kind, record.KindOTP)
	}

	now := time.Unix(1700000000, 0).UTC()
	code1, err := record.GenerateCode(e, 0, now)
	if err != nil {
		t.Fatalf("GenerateCode: unexpected error: %v", err)
	}
	if len(code1) != 6 {
		t.Errorf("GenerateCode: got %q, want 6 digits", code1)
	}

	code2, err := record.GenerateCode(e, 0, now)
	if err != nil {
		t.Fatalf("GenerateCode: unexpected error: %v", err)
	}
	if code1 != code2 {
		t.Error("GenerateCode is not deterministic for the same time step")
	}

	code3, err := record.GenerateCode(e, 1, now)
	if err != nil {
		t.Fatalf("GenerateCode: unexpected error: %v", err)
	}
	if code1 == code3 {
		t.Error("GenerateCode with a different offset produced the same code")
	}
}

func TestGenerateCodeWrongKind(t *testing.T) {
	e := record.Entry{Kind: "login"}
	if _, err := record.GenerateCode(e, 0, time.Now()); err == nil {
		t.Error("GenerateCode on a non-otp entry: got nil error, want failure")
	}
}
