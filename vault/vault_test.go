package vault_test

import (
	"context"
	"errors"
	"testing"

	"github.com/creachadair/lockbox/crypto"
	"github.com/creachadair/lockbox/record"
	"github.com/creachadair/lockbox/store"
	"github.com/creachadair/lockbox/vault"
)

func newVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.Open(context.Background(), vault.Config{Store: store.NewMemory()})
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	return v
}

func initAndUnlock(t *testing.T, v *vault.Vault, appKey []byte) {
	t.Helper()
	ctx := context.Background()
	opts := crypto.AppKeyOptions{Explicit: appKey}
	if err := v.Initialize(ctx, vault.InitializeOptions{AppKey: opts}); err != nil {
		t.Fatalf("Initialize: unexpected error: %v", err)
	}
	if err := v.Unlock(ctx, opts); err != nil {
		t.Fatalf("Unlock: unexpected error: %v", err)
	}
}

func TestOpenUninitialized(t *testing.T) {
	v := newVault(t)
	if v.State() != vault.Uninitialized {
		t.Errorf("State() = %v, want Uninitialized", v.State())
	}
}

func TestInitializeUnlockRoundTrip(t *testing.T) {
	v := newVault(t)
	appKey := make([]byte, crypto.KeySize)
	appKey[0] = 9
	initAndUnlock(t, v, appKey)
	if v.State() != vault.Unlocked {
		t.Fatalf("State() = %v, want Unlocked", v.State())
	}
}

func TestDoubleInitializeRefused(t *testing.T) {
	v := newVault(t)
	appKey := make([]byte, crypto.KeySize)
	ctx := context.Background()
	if err := v.Initialize(ctx, vault.InitializeOptions{AppKey: crypto.AppKeyOptions{Explicit: appKey}}); err != nil {
		t.Fatalf("Initialize: unexpected error: %v", err)
	}
	err := v.Initialize(ctx, vault.InitializeOptions{AppKey: crypto.AppKeyOptions{Explicit: appKey}})
	if !errors.Is(err, vault.ErrInitialized) {
		t.Fatalf("second Initialize: err = %v, want ErrInitialized", err)
	}
	if err.Error() != "already initialized" {
		t.Errorf("second Initialize: message = %q, want %q", err.Error(), "already initialized")
	}
}

func TestCRUDAndFieldListTelemetry(t *testing.T) {
	appKey := make([]byte, crypto.KeySize)
	ctx := context.Background()
	type call struct{ method, fields string }
	var calls []call
	v := mustVaultWithMetric(t, appKey, func(method, id, fields string) {
		calls = append(calls, call{method, fields})
	})

	added, err := v.Add(ctx, record.Record{
		Title: "Example",
		Entry: record.Entry{Kind: "login", Username: "alice", Password: "hunter2"},
	})
	if err != nil {
		t.Fatalf("Add: unexpected error: %v", err)
	}
	if got, want := calls[len(calls)-1], (call{"added", ""}); got != want {
		t.Errorf("telemetry after Add = %+v, want %+v", got, want)
	}

	_, err = v.Update(ctx, added.ID, record.Record{Entry: record.Entry{Kind: "login", Username: "alice", Password: "newpass"}})
	if err != nil {
		t.Fatalf("Update: unexpected error: %v", err)
	}
	if got, want := calls[len(calls)-1], (call{"updated", "entry.password"}); got != want {
		t.Errorf("telemetry after password-only change = %+v, want %+v", got, want)
	}

	_, err = v.Update(ctx, added.ID, record.Record{
		Title: "Renamed",
		Entry: record.Entry{Kind: "login", Username: "bob", Password: "newerpass"},
	})
	if err != nil {
		t.Fatalf("Update: unexpected error: %v", err)
	}
	if got, want := calls[len(calls)-1], (call{"updated", "title,entry.username,entry.password"}); got != want {
		t.Errorf("telemetry after title+username+password change = %+v, want %+v", got, want)
	}

	if err := v.Remove(ctx, added.ID); err != nil {
		t.Fatalf("Remove: unexpected error: %v", err)
	}
	if got, want := calls[len(calls)-1], (call{"deleted", ""}); got != want {
		t.Errorf("telemetry after Remove = %+v, want %+v", got, want)
	}
	if _, err := v.Get(ctx, added.ID); !errors.Is(err, vault.ErrMissing) {
		t.Errorf("Get after Remove: err = %v, want ErrMissing", err)
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	v := newVault(t)
	appKey := make([]byte, crypto.KeySize)
	initAndUnlock(t, v, appKey)

	_, err := v.Update(context.Background(), "no-such-id", record.Record{})
	if !errors.Is(err, vault.ErrMissing) {
		t.Errorf("Update missing id: err = %v, want ErrMissing", err)
	}
}

func TestLockedOperationsFail(t *testing.T) {
	v := newVault(t)
	appKey := make([]byte, crypto.KeySize)
	ctx := context.Background()
	if err := v.Initialize(ctx, vault.InitializeOptions{AppKey: crypto.AppKeyOptions{Explicit: appKey}}); err != nil {
		t.Fatalf("Initialize: unexpected error: %v", err)
	}

	if _, err := v.List(ctx); !errors.Is(err, vault.ErrLocked) {
		t.Errorf("List while locked: err = %v, want ErrLocked", err)
	}
	if _, err := v.Get(ctx, "x"); !errors.Is(err, vault.ErrLocked) {
		t.Errorf("Get while locked: err = %v, want ErrLocked", err)
	}
	if _, err := v.Add(ctx, record.Record{Entry: record.Entry{Kind: "login"}}); !errors.Is(err, vault.ErrLocked) {
		t.Errorf("Add while locked: err = %v, want ErrLocked", err)
	}
	if _, err := v.Update(ctx, "x", record.Record{}); !errors.Is(err, vault.ErrLocked) {
		t.Errorf("Update while locked: err = %v, want ErrLocked", err)
	}
	if err := v.Remove(ctx, "x"); !errors.Is(err, vault.ErrLocked) {
		t.Errorf("Remove while locked: err = %v, want ErrLocked", err)
	}
}

func TestRebasePreservesRecords(t *testing.T) {
	v := newVault(t)
	appKey1 := make([]byte, crypto.KeySize)
	appKey1[0] = 1
	initAndUnlock(t, v, appKey1)

	ctx := context.Background()
	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		r, err := v.Add(ctx, record.Record{Entry: record.Entry{Kind: "login", Username: "u"}})
		if err != nil {
			t.Fatalf("Add: unexpected error: %v", err)
		}
		ids = append(ids, r.ID)
	}

	appKey2 := make([]byte, crypto.KeySize)
	appKey2[0] = 2
	if err := v.Rebase(ctx, crypto.AppKeyOptions{Explicit: appKey2}); err != nil {
		t.Fatalf("Rebase: unexpected error: %v", err)
	}
	if v.State() != vault.Locked {
		t.Fatalf("State() after rebase = %v, want Locked", v.State())
	}

	if err := v.Unlock(ctx, crypto.AppKeyOptions{Explicit: appKey1}); err == nil {
		t.Error("Unlock with the pre-rebase app key: got nil error, want failure")
	}
	if err := v.Unlock(ctx, crypto.AppKeyOptions{Explicit: appKey2}); err != nil {
		t.Fatalf("Unlock with the post-rebase app key: unexpected error: %v", err)
	}
	for _, id := range ids {
		if _, err := v.Get(ctx, id); err != nil {
			t.Errorf("Get(%q) after rebase: unexpected error: %v", id, err)
		}
	}
	list, err := v.List(ctx)
	if err != nil {
		t.Fatalf("List: unexpected error: %v", err)
	}
	if len(list) != 4 {
		t.Errorf("List after rebase: got %d records, want 4", len(list))
	}
}

func TestPersistenceAcrossInstances(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()
	appKey := make([]byte, crypto.KeySize)

	v1, err := vault.Open(ctx, vault.Config{Store: kv})
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	opts := crypto.AppKeyOptions{Explicit: appKey}
	if err := v1.Initialize(ctx, vault.InitializeOptions{AppKey: opts}); err != nil {
		t.Fatalf("Initialize: unexpected error: %v", err)
	}
	if err := v1.Unlock(ctx, opts); err != nil {
		t.Fatalf("Unlock: unexpected error: %v", err)
	}
	added, err := v1.Add(ctx, record.Record{Entry: record.Entry{Kind: "login", Username: "alice"}})
	if err != nil {
		t.Fatalf("Add: unexpected error: %v", err)
	}

	v2, err := vault.Open(ctx, vault.Config{Store: kv})
	if err != nil {
		t.Fatalf("reopen: unexpected error: %v", err)
	}
	if v2.State() != vault.Locked {
		t.Fatalf("reopened State() = %v, want Locked", v2.State())
	}
	if err := v2.Unlock(ctx, opts); err != nil {
		t.Fatalf("reopened Unlock: unexpected error: %v", err)
	}
	got, err := v2.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("reopened Get: unexpected error: %v", err)
	}
	if got.Entry.Username != "alice" {
		t.Errorf("reopened Get: username = %q, want %q", got.Entry.Username, "alice")
	}
}

func mustVaultWithMetric(t *testing.T, appKey []byte, metric vault.MetricFunc) *vault.Vault {
	t.Helper()
	ctx := context.Background()
	v, err := vault.Open(ctx, vault.Config{Store: store.NewMemory(), RecordMetric: metric})
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	opts := crypto.AppKeyOptions{Explicit: appKey}
	if err := v.Initialize(ctx, vault.InitializeOptions{AppKey: opts}); err != nil {
		t.Fatalf("Initialize: unexpected error: %v", err)
	}
	if err := v.Unlock(ctx, opts); err != nil {
		t.Fatalf("Unlock: unexpected error: %v", err)
	}
	return v
}

