// Package vault implements the lockbox datastore state machine: the
// lifecycle (uninitialized → initialized+locked ↔ unlocked), the CRUD
// protocol over encrypted records, and the telemetry hook contract.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/creachadair/lockbox/crypto"
	"github.com/creachadair/lockbox/store"
)

// State is one of the three lifecycle states from spec.md §3, §4.1.
type State int

const (
	// Uninitialized is the vault's state before the first Initialize.
	Uninitialized State = iota
	// Locked means a Key Bundle exists on disk but is not held in memory.
	Locked
	// Unlocked means the Key Bundle is decrypted and cached in memory.
	Unlocked
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// backing-store key layout, spec.md §4.4.
const (
	keysKey   = "keys"
	saltKey   = "salt"
	itemsPfx  = "items/"
)

func itemKey(id string) string { return itemsPfx + id }

// MetricFunc is the host-supplied telemetry hook, invoked after every
// successful mutating operation (spec.md §6). fields is empty when the
// operation is not Update, or when Update's diff was empty.
type MetricFunc func(method, id, fields string)

// Config configures Open (spec.md §6 "Factory surface").
type Config struct {
	// Store is the backing key-value store. Required.
	Store store.KV

	// Salt, if supplied, overrides the persisted salt (useful for restoring
	// a backup where the salt is known out of band). Normally left nil so
	// Open uses whatever is already on disk; Initialize generates a fresh
	// salt when none is given to it.
	Salt []byte

	// Keys, if supplied, pre-seeds the backing store with an existing
	// Encrypted Key Blob before prepare() runs, e.g. when restoring a
	// backup into a fresh store. Normally left nil.
	Keys []byte

	// RecordMetric is the optional telemetry callback.
	RecordMetric MetricFunc

	// Prompt is the optional host-supplied passphrase prompt, used when
	// Initialize/Unlock are called with neither an explicit key nor a
	// passphrase.
	Prompt crypto.PromptFunc
}

// Vault is the central datastore object: it owns the current lifecycle
// state, the decrypted Key Bundle while Unlocked, the backing-store handle,
// the optional telemetry callback, and serializes every public operation
// behind a single mutex (see DESIGN.md for why a mutex, not an explicit
// actor goroutine, is the chosen realization of spec.md §5's serial-queue
// requirement).
type Vault struct {
	mu sync.Mutex

	kv           store.KV
	recordMetric MetricFunc
	prompt       crypto.PromptFunc

	state  State
	salt   []byte
	bundle *crypto.Bundle // non-nil only while Unlocked
}

// Open constructs a Vault bound to cfg.Store and runs prepare() (spec.md §6
// Factory surface, §4.1 prepare()).
func Open(ctx context.Context, cfg Config) (*Vault, error) {
	if cfg.Store == nil {
		return nil, errors.New("vault: Config.Store is required")
	}
	v := &Vault{
		kv:           cfg.Store,
		recordMetric: cfg.RecordMetric,
		prompt:       cfg.Prompt,
	}
	if err := v.kv.Open(ctx); err != nil {
		return nil, fmt.Errorf("vault: open backing store: %w", err)
	}
	if len(cfg.Keys) > 0 {
		if err := v.kv.Put(ctx, keysKey, cfg.Keys); err != nil {
			return nil, fmt.Errorf("vault: seed key blob: %w", err)
		}
	}
	if len(cfg.Salt) > 0 {
		if err := v.kv.Put(ctx, saltKey, cfg.Salt); err != nil {
			return nil, fmt.Errorf("vault: seed salt: %w", err)
		}
	}
	if err := v.prepare(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// prepare detects the initial state from the backing store, which Open has
// already opened. It is idempotent: calling it again re-derives the same
// state from what is currently on disk.
func (v *Vault) prepare(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.prepareLocked(ctx)
}

func (v *Vault) prepareLocked(ctx context.Context) error {
	if salt, err := v.kv.Get(ctx, saltKey); err == nil {
		v.salt = salt
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("vault: read salt: %w", err)
	}

	_, err := v.kv.Get(ctx, keysKey)
	switch {
	case err == nil:
		v.state = Locked
	case errors.Is(err, store.ErrNotFound):
		v.state = Uninitialized
	default:
		return fmt.Errorf("vault: read key blob: %w", err)
	}
	return nil
}

// State reports the vault's current lifecycle state.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// InitializeOptions configures Initialize (spec.md §4.1).
type InitializeOptions struct {
	// AppKey options resolve the Application Key the Key Bundle is wrapped
	// under. A nil Prompt is replaced by Config.Prompt; if no key results,
	// Resolve falls back to crypto.DefaultAppKey.
	AppKey crypto.AppKeyOptions

	// Salt, if non-nil, overrides any previously persisted salt. Normally
	// left nil so a fresh random salt is generated on first initialize, and
	// the existing one is reused on rebase.
	Salt []byte

	// Rebase, if true, re-wraps the existing Key Bundle under a new
	// Application Key instead of generating a new one. Requires Unlocked.
	Rebase bool
}

// Initialize creates the Key Bundle (first time) or re-wraps the existing
// one under a new Application Key (Rebase: true), persists the Encrypted
// Key Blob, and transitions to Locked (spec.md §4.1).
func (v *Vault) Initialize(ctx context.Context, opts InitializeOptions) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if opts.Rebase {
		return v.rebaseLocked(ctx, opts)
	}
	if v.state != Uninitialized {
		return errInitialized()
	}

	salt := opts.Salt
	if len(salt) == 0 {
		s, err := crypto.NewSalt()
		if err != nil {
			return fmt.Errorf("vault: generate salt: %w", err)
		}
		salt = s
	}

	akOpts := opts.AppKey
	if akOpts.Prompt == nil {
		akOpts.Prompt = v.prompt
	}
	appKey, err := crypto.Resolve(ctx, akOpts, salt, crypto.AllowDefault())
	if err != nil {
		return errMissingAppKey(err)
	}

	bundle, err := crypto.NewBundle()
	if err != nil {
		return errCrypto(err)
	}
	blob, err := crypto.Wrap(appKey, bundle)
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
	v.state = Locked
	return nil
}

// Unlock unwraps the Encrypted Key Blob under the resolved Application Key,
// caches the Key Bundle, and transitions to Unlocked (spec.md §4.1).
func (v *Vault) Unlock(ctx context.Context, opts crypto.AppKeyOptions) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Locked {
		return errLocked()
	}

	if opts.Prompt == nil {
		opts.Prompt = v.prompt
	}
	appKey, err := crypto.Resolve(ctx, opts, v.salt, crypto.AllowDefault())
	if err != nil {
		return errMissingAppKey(err)
	}

	blobBytes, err := v.kv.Get(ctx, keysKey)
	if err != nil {
		return fmt.Errorf("vault: read key blob: %w", err)
	}
	bundle, err := crypto.Unwrap(appKey, string(blobBytes))
	if err != nil {
		return errCrypto(err)
	}

	v.bundle = bundle
	v.state = Unlocked
	return nil
}

// Lock drops the cached Key Bundle and transitions to Locked. It is
// idempotent and never fails (spec.md §4.1).
func (v *Vault) Lock(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockLocked()
	return nil
}

func (v *Vault) lockLocked() {
	v.bundle.Zero()
	v.bundle = nil
	if v.state == Unlocked {
		v.state = Locked
	}
}

// Reset deletes the Encrypted Key Blob and every record blob, returning the
// vault to Uninitialized (spec.md §3 Lifecycle).
func (v *Vault) Reset(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.lockLocked()
	if err := v.kv.Clear(ctx); err != nil {
		return fmt.Errorf("vault: reset: %w", err)
	}
	v.state = Uninitialized
	v.salt = nil
	return nil
}

// requireUnlocked must be called with v.mu held.
func (v *Vault) requireUnlocked() error {
	if v.state != Unlocked {
		return errLocked()
	}
	return nil
}
