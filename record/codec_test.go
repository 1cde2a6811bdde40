package record_test

import (
	"testing"
	"time"

	"github.com/creachadair/lockbox/crypto"
	"github.com/creachadair/lockbox/record"
	gocmp "github.com/google/go-cmp/cmp"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	key[3] = 7
	r := record.Record{
		ID:      "rec-1",
		Title:   "Example",
		Entry:   record.Entry{Kind: "login", Username: "alice", Password: "hunter2"},
		Origins: []string{"example.com"},
		Created: time.Unix(1000, 0).UTC(),
	}
	r.Modified = r.Created

	blob, err := record.Encrypt(key, r)
	if err != nil {
		t.Fatalf("Encrypt: unexpected error: %v", err)
	}
	got, err := record.Decrypt(key, r.ID, blob)
	if err != nil {
		t.Fatalf("Decrypt: unexpected error: %v", err)
	}
	if diff := gocmp.Diff(r, got); diff != "" {
		t.Errorf("Decrypt (-want, +got):\n%s", diff)
	}
}

func TestDecryptRejectsIDMismatch(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	r := record.Record{ID: "rec-1", Entry: record.Entry{Kind: "login"}}
	blob, err := record.Encrypt(key, r)
	if err != nil {
		t.Fatalf("Encrypt: unexpected error: %v", err)
	}
	if _, err := record.Decrypt(key, "rec-2", blob); err == nil {
		t.Error("Decrypt with mismatched id: got nil error, want failure")
	}
}
