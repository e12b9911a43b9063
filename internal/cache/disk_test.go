package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func newTestDiskProvider(t *testing.T) *DiskProvider {
	t.Helper()
	p, err := NewDiskProvider(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskProvider: %v", err)
	}
	return p
}

func TestDiskProviderRoundTrip(t *testing.T) {
	p := newTestDiskProvider(t)
	ctx := context.Background()

	if err := p.Set(ctx, "batch:abc123", []byte(`{"anomalies":[]}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := p.Get(ctx, "batch:abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"anomalies":[]}` {
		t.Fatalf("unexpected value: %s", got)
	}
}

func TestDiskProviderMiss(t *testing.T) {
	p := newTestDiskProvider(t)
	if _, err := p.Get(context.Background(), "absent"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestDiskProviderExpiry(t *testing.T) {
	p := newTestDiskProvider(t)
	ctx := context.Background()

	now := time.Now()
	p.now = func() time.Time { return now }
	if err := p.Set(ctx, "key", []byte(`1`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	p.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := p.Get(ctx, "key"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
	// The expired file is removed, not just ignored.
	if _, err := os.Stat(p.keyPath("key")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected expired file deleted, got %v", err)
	}
}

func TestDiskProviderCorruptEntryMisses(t *testing.T) {
	p := newTestDiskProvider(t)
	ctx := context.Background()
	if err := os.WriteFile(p.keyPath("key"), []byte("not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if _, err := p.Get(ctx, "key"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected corrupt entry to miss, got %v", err)
	}
}

func TestDiskProviderSetNX(t *testing.T) {
	p := newTestDiskProvider(t)
	ctx := context.Background()

	ok, err := p.SetNX(ctx, "key", []byte(`1`), time.Hour)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to store, got ok=%v err=%v", ok, err)
	}
	ok, err = p.SetNX(ctx, "key", []byte(`2`), time.Hour)
	if err != nil || ok {
		t.Fatalf("expected second SetNX rejected, got ok=%v err=%v", ok, err)
	}
	got, err := p.Get(ctx, "key")
	if err != nil || string(got) != `1` {
		t.Fatalf("expected original value kept, got %s (%v)", got, err)
	}
}

func TestDiskProviderDel(t *testing.T) {
	p := newTestDiskProvider(t)
	ctx := context.Background()

	if err := p.Set(ctx, "key", []byte(`1`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := p.Del(ctx, "key"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := p.Get(ctx, "key"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
	if err := p.Del(ctx, "key"); err != nil {
		t.Fatalf("expected deleting absent key to be a no-op, got %v", err)
	}
}
