package crypto

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/creachadair/mds/mbits"
)

// keyBlobAAD is bound into the key blob's envelope so a record blob
// ciphertext can never be swapped in for the key blob (or vice versa) even
// though both are sealed under keys of the same size.
var keyBlobAAD = []byte("lockbox:keys:v1")

// Bundle is the Key Bundle (KB) from spec.md §3: the symmetric keys the
// vault uses internally. It is generated once at initialization and
// preserved across rebases.
type Bundle struct {
	// RecordKey encrypts and decrypts every Encrypted Record Blob.
	RecordKey []byte
	// KeyEncryptionKey is unused for direct encryption by this package, but
	// is part of the bundle so that a future suite revision has a key
	// already provisioned for wrapping other material without requiring a
	// database migration. Today it is generated and persisted like
	// RecordKey and otherwise dormant.
	KeyEncryptionKey []byte
}

type bundleJSON struct {
	RecordKey        []byte `json:"recordKey"`
	KeyEncryptionKey []byte `json:"keyEncryptionKey"`
}

// NewBundle generates a fresh Key Bundle from a cryptographically secure
// random source.
func NewBundle() (*Bundle, error) {
	b := &Bundle{
		RecordKey:        make([]byte, KeySize),
		KeyEncryptionKey: make([]byte, KeySize),
	}
	if _, err := rand.Read(b.RecordKey); err != nil {
		return nil, fmt.Errorf("crypto: generate record key: %w", err)
	}
	if _, err := rand.Read(b.KeyEncryptionKey); err != nil {
		return nil, fmt.Errorf("crypto: generate key-encryption key: %w", err)
	}
	return b, nil
}

// Zero overwrites the bundle's key material in place. Callers drop their
// last reference immediately after, e.g. on lock().
func (b *Bundle) Zero() {
	if b == nil {
		return
	}
	mbits.Zero(b.RecordKey)
	mbits.Zero(b.KeyEncryptionKey)
}

// Wrap serializes and seals b under appKey, producing the Encrypted Key
// Blob persisted at the backing store's "keys" entry.
func Wrap(appKey []byte, b *Bundle) (string, error) {
	plain, err := json.Marshal(bundleJSON{
		RecordKey:        b.RecordKey,
		KeyEncryptionKey: b.KeyEncryptionKey,
	})
	if err != nil {
		return "", fmt.Errorf("crypto: encode key bundle: %w", err)
	}
	defer mbits.Zero(plain)

	blob, err := Seal(appKey, plain, keyBlobAAD)
	if err != nil {
		return "", fmt.Errorf("crypto: wrap key bundle: %w", err)
	}
	return blob, nil
}

// Unwrap decrypts and parses an Encrypted Key Blob under appKey. A MAC
// failure surfaces as an error wrapping ErrTamper.
func Unwrap(appKey []byte, blob string) (*Bundle, error) {
	plain, err := Open(appKey, blob, keyBlobAAD)
	if err != nil {
		return nil, fmt.Errorf("crypto: unwrap key bundle: %w", err)
	}
	defer mbits.Zero(plain)

	var bj bundleJSON
	if err := json.Unmarshal(plain, &bj); err != nil {
		return nil, fmt.Errorf("%w: decode key bundle: %v", ErrTamper, err)
	}
	return &Bundle{RecordKey: bj.RecordKey, KeyEncryptionKey: bj.KeyEncryptionKey}, nil
}

// Rebase re-wraps an existing Key Bundle under a new Application Key
// without regenerating the bundle itself, per spec.md §4.1's Rebase
// algorithm: record ciphertexts are untouched because RecordKey does not
// change.
func Rebase(newAppKey []byte, b *Bundle) (string, error) {
	return Wrap(newAppKey, b)
}
