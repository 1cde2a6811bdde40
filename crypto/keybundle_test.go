package crypto_test

import (
	"testing"

	"github.com/creachadair/lockbox/crypto"
	gocmp "github.com/google/go-cmp/cmp"
)

func TestBundleWrapUnwrapRoundTrip(t *testing.T) {
	b, err := crypto.NewBundle()
	if err != nil {
		t.Fatalf("NewBundle: unexpected error: %v", err)
	}
	appKey := make([]byte, crypto.KeySize)
	appKey[1] = 9

	blob, err := crypto.Wrap(appKey, b)
	if err != nil {
		t.Fatalf("Wrap: unexpected error: %v", err)
	}

	got, err := crypto.Unwrap(appKey, blob)
	if err != nil {
		t.Fatalf("Unwrap: unexpected error: %v", err)
	}
	if diff := gocmp.Diff(b, got); diff != "" {
		t.Errorf("Unwrap (-want, +got):\n%s", diff)
	}
}

func TestUnwrapWrongAppKeyFails(t *testing.T) {
	b, err := crypto.NewBundle()
	if err != nil {
		t.Fatalf("NewBundle: unexpected error: %v", err)
	}
	appKey := make([]byte, crypto.KeySize)
	blob, err := crypto.Wrap(appKey, b)
	if err != nil {
		t.Fatalf("Wrap: unexpected error: %v", err)
	}

	wrongKey := make([]byte, crypto.KeySize)
	wrongKey[0] = 1
	if _, err := crypto.Unwrap(wrongKey, blob); err == nil {
		t.Error("Unwrap with wrong app key: got nil error, want failure")
	}
}

func TestRebasePreservesBundle(t *testing.T) {
	b, err := crypto.NewBundle()
	if err != nil {
		t.Fatalf("NewBundle: unexpected error: %v", err)
	}
	oldKey := make([]byte, crypto.KeySize)
	oldKey[0] = 1
	newKey := make([]byte, crypto.KeySize)
	newKey[0] = 2

	_, err = crypto.Wrap(oldKey, b)
	if err != nil {
		t.Fatalf("Wrap: unexpected error: %v", err)
	}
	blob2, err := crypto.Rebase(newKey, b)
	if err != nil {
		t.Fatalf("Rebase: unexpected error: %v", err)
	}

	got, err := crypto.Unwrap(newKey, blob2)
	if err != nil {
		t.Fatalf("Unwrap after rebase: unexpected error: %v", err)
	}
	if diff := gocmp.Diff(b, got); diff != "" {
		t.Errorf("Rebase changed the key bundle (-want, +got):\n%s", diff)
	}
}
