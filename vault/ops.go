package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creachadair/lockbox/record"
	"github.com/creachadair/lockbox/store"
	"github.com/google/uuid"
)

// List returns the ids of every record currently stored, in no particular
// order (spec.md §4.3).
func (v *Vault) List(ctx context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireUnlocked(); err != nil {
		return nil, err
	}

	var ids []string
	for key := range v.kv.Iterate(ctx, itemsPfx) {
		ids = append(ids, key[len(itemsPfx):])
	}
	return ids, nil
}

// Get decrypts and returns the record with the given id (spec.md §4.3).
func (v *Vault) Get(ctx context.Context, id string) (record.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireUnlocked(); err != nil {
		return record.Record{}, err
	}
	return v.getLocked(ctx, id)
}

func (v *Vault) getLocked(ctx context.Context, id string) (record.Record, error) {
	blob, err := v.kv.Get(ctx, itemKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return record.Record{}, errMissing(id)
		}
		return record.Record{}, fmt.Errorf("vault: read record %q: %w", id, err)
	}
	r, err := record.Decrypt(v.bundle.RecordKey, id, string(blob))
	if err != nil {
		return record.Record{}, errCrypto(err)
	}
	return r, nil
}

// Add assigns a fresh id and timestamps to r, encrypts it, and stores it
// (spec.md §4.3). The returned record reflects the assigned id and
// timestamps.
func (v *Vault) Add(ctx context.Context, r record.Record) (record.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireUnlocked(); err != nil {
		return record.Record{}, err
	}

	r.ID = uuid.NewString()
	now := time.Now().UTC()
	r.Created = now
	r.Modified = now
	r.History = nil

	if err := r.Validate(); err != nil {
		return record.Record{}, errInvalid(err.Error())
	}

	if err := v.putLocked(ctx, r); err != nil {
		return record.Record{}, err
	}
	v.emit(ctx, "added", r.ID, "")
	return r, nil
}

// Update applies patch to the stored record with the given id, appends a
// history entry capturing the reverse patch, bumps Modified, and
// re-encrypts (spec.md §4.2, §4.3). If patch.Entry.Kind is non-empty,
// patch.Entry replaces the stored Entry whole, so it must carry every entry
// field the caller wants to keep; a non-empty Title and non-nil
// Origins/Tags likewise replace those fields wholesale.
func (v *Vault) Update(ctx context.Context, id string, patch record.Record) (record.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireUnlocked(); err != nil {
		return record.Record{}, err
	}

	cur, err := v.getLocked(ctx, id)
	if err != nil {
		return record.Record{}, err
	}

	next := cur
	if patch.Title != "" {
		next.Title = patch.Title
	}
	if patch.Origins != nil {
		next.Origins = patch.Origins
	}
	if patch.Tags != nil {
		next.Tags = patch.Tags
	}
	if patch.Entry.Kind != "" {
		next.Entry = patch.Entry
	}

	entryPatch, err := record.DiffEntry(cur.Entry, next.Entry)
	if err != nil {
		return record.Record{}, fmt.Errorf("vault: diff record %q: %w", id, err)
	}
	// Modified is bookkeeping, not content, and is excluded from the
	// telemetry comparison so a no-op Update never reports a spurious
	// "modified" field.
	fields, err := record.FieldList(cur, next)
	if err != nil {
		return record.Record{}, fmt.Errorf("vault: field list %q: %w", id, err)
	}
	now := time.Now().UTC()
	next.Modified = now
	if entryPatch != nil {
		next.History = append(append([]record.HistoryEntry{}, cur.History...), record.HistoryEntry{
			Created: now,
			Patch:   entryPatch,
		})
	}

	if err := next.Validate(); err != nil {
		return record.Record{}, errInvalid(err.Error())
	}
	if err := v.putLocked(ctx, next); err != nil {
		return record.Record{}, err
	}
	v.emit(ctx, "updated", id, fields)
	return next, nil
}

// Remove deletes the record with the given id (spec.md §4.3). Removing an
// id that does not exist is a MISSING error, matching Update.
func (v *Vault) Remove(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireUnlocked(); err != nil {
		return err
	}

	if _, err := v.kv.Get(ctx, itemKey(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errMissing(id)
		}
		return fmt.Errorf("vault: read record %q: %w", id, err)
	}
	if err := v.kv.Delete(ctx, itemKey(id)); err != nil {
		return fmt.Errorf("vault: delete record %q: %w", id, err)
	}
	v.emit(ctx, "deleted", id, "")
	return nil
}

func (v *Vault) putLocked(ctx context.Context, r record.Record) error {
	blob, err := record.Encrypt(v.bundle.RecordKey, r)
	if err != nil {
		return errCrypto(err)
	}
	if err := v.kv.Put(ctx, itemKey(r.ID), []byte(blob)); err != nil {
		return fmt.Errorf("vault: write record %q: %w", r.ID, err)
	}
	return nil
}

// emit invokes the host telemetry callback, if configured. Telemetry is
// best-effort: it runs after the mutation has already been durably written,
// so it never affects the operation's outcome.
func (v *Vault) emit(ctx context.Context, method, id, fields string) {
	if v.recordMetric != nil {
		v.recordMetric(method, id, fields)
	}
}
