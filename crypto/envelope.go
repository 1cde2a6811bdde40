// Package crypto implements the lockbox cryptographic core: the compact
// authenticated-encryption envelope shared by the key blob and every record
// blob, application-key resolution, and key bundle generation.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Alg identifies the single supported algorithm suite. It is recorded in the
// envelope's protected header so a future suite change can be detected, but
// this package understands only this one value.
const Alg = "XC20P"

// KeySize is the required length in bytes of every symmetric key this
// package accepts, the key size of XChaCha20-Poly1305.
const KeySize = chacha20poly1305.KeySize

var b64 = base64.RawURLEncoding

// header is the envelope's protected header. It carries no secret material;
// its only job is to pin the algorithm so a corrupted or foreign envelope is
// rejected before decryption is attempted.
type header struct {
	Alg string `json:"alg"`
}

// Seal encrypts plaintext under key, binding aad (additional authenticated
// data, may be nil) into the tag, and returns the compact envelope:
//
//	base64url(header) . "" . base64url(iv) . base64url(ciphertext) . base64url(tag)
//
// The empty second field is a fixed placeholder for a wrapped content key;
// this system only ever uses direct symmetric encryption, so it is always
// empty. The four dots separating the five fields give the envelope its
// "compact" format.
func Seal(key, plaintext, aad []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("crypto: key is %d bytes, want %d", len(key), KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("crypto: init cipher: %w", err)
	}
	hdr, err := json.Marshal(header{Alg: Alg})
	if err != nil {
		return "", fmt.Errorf("crypto: encode header: %w", err)
	}
	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("crypto: generate iv: %w", err)
	}

	// aad binds the protected header (and any caller-supplied context) into
	// the tag, mirroring JWE's "Additional Authenticated Data" accounting.
	sealed := aead.Seal(nil, iv, plaintext, authData(hdr, aad))
	ctext, tag := sealed[:len(sealed)-aead.Overhead()], sealed[len(sealed)-aead.Overhead():]

	return strings.Join([]string{
		b64.EncodeToString(hdr),
		"",
		b64.EncodeToString(iv),
		b64.EncodeToString(ctext),
		b64.EncodeToString(tag),
	}, "."), nil
}

// Open decrypts and authenticates an envelope produced by Seal, checking
// that aad matches what was bound at sealing time. A MAC failure or a
// malformed envelope is reported as ErrTamper; callers that need the
// vault's CRYPTO reason code wrap this sentinel themselves.
func Open(key []byte, envelope string, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key is %d bytes, want %d", len(key), KeySize)
	}
	parts := strings.Split(envelope, ".")
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: malformed envelope (%d fields)", ErrTamper, len(parts))
	}
	hdr, err := b64.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: decode header: %v", ErrTamper, err)
	}
	if parts[1] != "" {
		return nil, fmt.Errorf("%w: unsupported wrapped key field", ErrTamper)
	}
	var h header
	if err := json.Unmarshal(hdr, &h); err != nil {
		return nil, fmt.Errorf("%w: decode header: %v", ErrTamper, err)
	}
	if h.Alg != Alg {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrTamper, h.Alg)
	}
	iv, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: decode iv: %v", ErrTamper, err)
	}
	ctext, err := b64.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", ErrTamper, err)
	}
	tag, err := b64.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("%w: decode tag: %v", ErrTamper, err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: init cipher: %w", err)
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad iv length", ErrTamper)
	}
	sealed := append(append([]byte{}, ctext...), tag...)
	plaintext, err := aead.Open(nil, iv, sealed, authData(hdr, aad))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTamper, err)
	}
	return plaintext, nil
}

// authData combines the raw protected-header bytes with caller-supplied
// additional authenticated data, the same way JWE concatenates its
// Additional Authenticated Data from the protected header and an optional
// AAD value.
func authData(hdr, aad []byte) []byte {
	if len(aad) == 0 {
		return hdr
	}
	out := make([]byte, 0, len(hdr)+1+len(aad))
	out = append(out, hdr...)
	out = append(out, '.')
	out = append(out, aad...)
	return out
}

// ErrTamper is wrapped into every error Open returns for a MAC failure or a
// structurally invalid envelope. Callers compare with errors.Is.
var ErrTamper = errors.New("crypto: authentication failed")
