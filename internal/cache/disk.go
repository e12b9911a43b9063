package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// diskEntry is the on-disk wrapper around a cached value. Expires is a unix
// timestamp; zero means no expiry.
type diskEntry struct {
	Expires int64           `json:"expires"`
	Value   json.RawMessage `json:"value"`
}

// DiskProvider is a file-per-key cache for analysis results. It survives
// restarts, which matters for re-running an analysis against an unchanged
// batch without paying for another model call.
type DiskProvider struct {
	dir string
	now func() time.Time
}

// NewDiskProvider creates the cache directory if needed.
func NewDiskProvider(dir string) (*DiskProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskProvider{dir: dir, now: time.Now}, nil
}

func (p *DiskProvider) keyPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(p.dir, hex.EncodeToString(sum[:])+".json")
}

// Get returns the cached value or ErrCacheMiss. Expired and corrupt entries
// are removed and reported as misses.
func (p *DiskProvider) Get(_ context.Context, key string) ([]byte, error) {
	path := p.keyPath(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var entry diskEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = os.Remove(path)
		return nil, ErrCacheMiss
	}
	if entry.Expires > 0 && p.now().Unix() >= entry.Expires {
		_ = os.Remove(path)
		return nil, ErrCacheMiss
	}
	return entry.Value, nil
}

// Set stores the value with the given TTL; ttl<=0 stores without expiry.
func (p *DiskProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := diskEntry{Value: json.RawMessage(value)}
	if ttl > 0 {
		entry.Expires = p.now().Add(ttl).Unix()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	tmp := p.keyPath(key) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.keyPath(key))
}

// SetNX stores the value only when the key is absent or expired.
func (p *DiskProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if _, err := p.Get(ctx, key); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		return false, err
	}
	f, err := os.OpenFile(p.keyPath(key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	f.Close()
	if err := p.Set(ctx, key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Del removes the key; deleting an absent key is not an error.
func (p *DiskProvider) Del(_ context.Context, key string) error {
	err := os.Remove(p.keyPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Close is a no-op for the disk cache.
func (p *DiskProvider) Close() error { return nil }
