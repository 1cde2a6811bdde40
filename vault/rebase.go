package vault

import (
	"context"
	"fmt"

	"github.com/creachadair/lockbox/crypto"
)

// rebaseLocked implements InitializeOptions.Rebase. Callers hold v.mu.
// Per spec.md §4.1, rebase requires Unlocked (the cached Key Bundle is the
// source of truth being re-wrapped; rebasing a blob nobody has decrypted
// yet would silently discard whatever is on disk). The bundle, and
// therefore every record's RecordKey, is unchanged; only the Encrypted Key
// Blob is replaced. The rebase algorithm ends in Initialized-Locked, the
// same as a first-time Initialize, so the caller must Unlock again with the
// new Application Key.
func (v *Vault) rebaseLocked(ctx context.Context, opts InitializeOptions) error {
	if v.state != Unlocked {
		return errLocked()
	}

	salt := opts.Salt
	if len(salt) == 0 {
		salt = v.salt
	}

	akOpts := opts.AppKey
	if akOpts.Prompt == nil {
		akOpts.Prompt = v.prompt
	}
	newAppKey, err := crypto.Resolve(ctx, akOpts, salt, crypto.AllowDefault())
	if err != nil {
		return errMissingAppKey(err)
	}

	blob, err := crypto.Rebase(newAppKey, v.bundle)
	if err != nil {
		return errCrypto(err)
	}
	if err := v.kv.Put(ctx, saltKey, salt); err != nil {
		return fmt.Errorf("vault: persist salt: %w", err)
	}
	if err := v.kv.Put(ctx, keysKey, []byte(blob)); err != nil {
		return fmt.Errorf("vault: persist key blob: %w", err)
	}

	v.salt = salt
	v.lockLocked()
	return nil
}

// Rebase re-wraps the vault's Key Bundle under a new Application Key,
// leaving every record untouched. It is sugar over
// Initialize(ctx, InitializeOptions{AppKey: newAppKey, Rebase: true})
// (spec.md §4.1).
func (v *Vault) Rebase(ctx context.Context, newAppKey crypto.AppKeyOptions) error {
	return v.Initialize(ctx, InitializeOptions{AppKey: newAppKey, Rebase: true})
}
