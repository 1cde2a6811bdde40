package record

import (
	"encoding/json"
	"fmt"

	"github.com/creachadair/lockbox/crypto"
)

// recordBlobAAD binds the record's own id into its ciphertext's
// authentication tag, so an Encrypted Record Blob can never be relabeled
// under a different id by copying it to another backing-store key.
func recordBlobAAD(id string) []byte {
	return []byte("lockbox:record:" + id)
}

// Encrypt serializes r to its canonical form and seals it under key (the
// database's record-encryption key), producing the Encrypted Record Blob
// persisted at the backing store's "items/<id>" entry.
func Encrypt(key []byte, r Record) (string, error) {
	plain, err := Canonical(r)
	if err != nil {
		return "", fmt.Errorf("record: canonicalize: %w", err)
	}
	blob, err := crypto.Seal(key, plain, recordBlobAAD(r.ID))
	if err != nil {
		return "", fmt.Errorf("record: encrypt: %w", err)
	}
	return blob, nil
}

// Decrypt decrypts and parses an Encrypted Record Blob previously produced
// by Encrypt. id is the backing-store key's record id, which must match
// the id bound into the ciphertext at encryption time.
func Decrypt(key []byte, id, blob string) (Record, error) {
	plain, err := crypto.Open(key, blob, recordBlobAAD(id))
	if err != nil {
		return Record{}, fmt.Errorf("record: decrypt: %w", err)
	}
	var r Record
	if err := json.Unmarshal(plain, &r); err != nil {
		return Record{}, fmt.Errorf("%w: decode record: %v", crypto.ErrTamper, err)
	}
	if r.ID != id {
		return Record{}, fmt.Errorf("%w: record id mismatch", crypto.ErrTamper)
	}
	return r, nil
}
