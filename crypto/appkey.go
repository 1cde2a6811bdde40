package crypto

import (
	"context"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the length in bytes of a freshly-generated database salt.
const SaltSize = 16

// Argon2 parameters for passphrase-derived application keys. These are
// fixed for the suite; unlike the record and key-encryption keys, which are
// generated fresh per database, a passphrase-derived key must use the same
// parameters every time it is derived or the database becomes unopenable.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB, i.e. 64 MiB
	argonThreads = 4
)

// DefaultAppKey is used when the caller supplies neither an explicit key, a
// passphrase, nor a prompt callback. It offers no protection at rest and
// exists only so an unconfigured host has somewhere to start; hosts that
// care about confidentiality must supply a real key or passphrase.
//
// This is derived once, not hardcoded as raw bytes, so that it is visibly
// distinct from (and never accidentally collides with) a key derived from
// the empty passphrase (see DESIGN.md's resolution of spec.md's Open
// Question on this point).
var DefaultAppKey = deriveDefaultAppKey()

func deriveDefaultAppKey() []byte {
	return argon2.IDKey([]byte("lockbox-default-app-key"), []byte("lockbox-default-salt-v1"), argonTime, argonMemory, argonThreads, KeySize)
}

// PromptFunc resolves a passphrase on demand, e.g. by asking a human at a
// terminal. It is the Go-side counterpart of spec.md's host `prompt()`
// callback.
type PromptFunc func(ctx context.Context) (string, error)

// DeriveAppKey stretches passphrase and salt into an Application Key using
// Argon2id, a memory-hard password-based KDF, per spec.md §4.3 ("a
// memory-hard password-based KDF with suite-standard parameters").
func DeriveAppKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize)
}

// NewSalt generates a fresh per-database salt for passphrase derivation.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// AppKeyOptions selects how to resolve the Application Key, in the
// resolution order defined by spec.md §4.3:
//
//  1. Explicit, if Explicit is non-nil.
//  2. Passphrase + salt, if Passphrase != "".
//  3. Prompt, if non-nil; the result is combined with salt exactly like an
//     explicit passphrase.
//  4. DefaultAppKey, if nothing else yields a key and Resolve was given
//     AllowDefault; otherwise Resolve reports ErrNoAppKey.
type AppKeyOptions struct {
	Explicit   []byte
	Passphrase string
	Prompt     PromptFunc
}

// resolveConfig holds Resolve's fallback behavior, set via ResolveOption.
type resolveConfig struct {
	AllowDefault bool
}

// ResolveOption configures Resolve's fallback behavior.
type ResolveOption func(*resolveConfig)

// AllowDefault permits Resolve to fall back to DefaultAppKey when no other
// source yields a key. The vault's Initialize, Unlock and rebase all pass
// it, so a vault initialized under the default key can be unlocked the same
// way; without it, Resolve reports ErrNoAppKey.
func AllowDefault() ResolveOption {
	return func(c *resolveConfig) { c.AllowDefault = true }
}

// Resolve implements the Application Key resolution order from spec.md
// §4.3. salt is the database's persisted salt (used only for the
// passphrase/prompt paths); it may be nil if neither is in play.
func Resolve(ctx context.Context, opts AppKeyOptions, salt []byte, ropts ...ResolveOption) ([]byte, error) {
	var cfg resolveConfig
	for _, o := range ropts {
		o(&cfg)
	}

	if len(opts.Explicit) > 0 {
		if len(opts.Explicit) != KeySize {
			return nil, fmt.Errorf("crypto: explicit app key is %d bytes, want %d", len(opts.Explicit), KeySize)
		}
		return opts.Explicit, nil
	}
	if opts.Passphrase != "" {
		return DeriveAppKey(opts.Passphrase, salt), nil
	}
	if opts.Prompt != nil {
		pass, err := opts.Prompt(ctx)
		if err != nil {
			return nil, fmt.Errorf("crypto: prompt for app key: %w", err)
		}
		if pass != "" {
			return DeriveAppKey(pass, salt), nil
		}
	}
	if cfg.AllowDefault {
		return DefaultAppKey, nil
	}
	return nil, errNoAppKey
}

var errNoAppKey = fmt.Errorf("crypto: no application key available")

// ErrNoAppKey is returned by Resolve when every resolution step is
// exhausted without producing a key, i.e. when Prompt is nil (or returns an
// empty passphrase), neither Explicit nor Passphrase is set, and the caller
// did not pass AllowDefault. A Prompt that fails is reported with the
// prompt's own error instead. Callers compare with errors.Is; the vault maps
// every Resolve failure to reason MISSING_APP_KEY.
var ErrNoAppKey = errNoAppKey
