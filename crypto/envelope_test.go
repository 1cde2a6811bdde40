package crypto_test

import (
	"strings"
	"testing"

	"github.com/creachadair/lockbox/crypto"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	const plaintext = "the quick brown fox"
	aad := []byte("context")

	env, err := crypto.Seal(key, []byte(plaintext), aad)
	if err != nil {
		t.Fatalf("Seal: unexpected error: %v", err)
	}
	if n := strings.Count(env, "."); n != 4 {
		t.Errorf("envelope has %d dots, want 4: %s", n, env)
	}

	got, err := crypto.Open(key, env, aad)
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	if string(got) != plaintext {
		t.Errorf("Open: got %q, want %q", got, plaintext)
	}
}

func TestOpenRejectsTamper(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	env, err := crypto.Seal(key, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("Seal: unexpected error: %v", err)
	}

	t.Run("WrongKey", func(t *testing.T) {
		wrongKey := make([]byte, crypto.KeySize)
		wrongKey[0] = 1
		if _, err := crypto.Open(wrongKey, env, nil); err == nil {
			t.Error("Open with wrong key: got nil error, want failure")
		}
	})

	t.Run("WrongAAD", func(t *testing.T) {
		if _, err := crypto.Open(key, env, []byte("other")); err == nil {
			t.Error("Open with wrong aad: got nil error, want failure")
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		parts := strings.Split(env, ".")
		short := strings.Join(parts[:4], ".")
		if _, err := crypto.Open(key, short, nil); err == nil {
			t.Error("Open with malformed envelope: got nil error, want failure")
		}
	})
}

func TestSealRejectsBadKeySize(t *testing.T) {
	if _, err := crypto.Seal([]byte("too short"), []byte("x"), nil); err == nil {
		t.Error("Seal with short key: got nil error, want failure")
	}
}
