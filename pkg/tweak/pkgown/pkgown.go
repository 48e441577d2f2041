// Package pkgown provides a Badger DB-backed cache in front of the package
// manager's ownership lookup. dpkg -S and rpm -qf are subprocess calls slow
// enough to drag down a status refresh over dozens of knobs; ownership
// changes only when packages are installed or removed, so entries carry a
// TTL and expire on their own.
package pkgown

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tweakctl/tweakctl/pkg/tweak/system"
)

// DefaultTTL is how long an ownership answer stays cached.
const DefaultTTL = 24 * time.Hour

// entry is the cached answer for one path.
type entry struct {
	Package string `json:"package,omitempty"`
	Owned   bool   `json:"owned"`
}

// Cache memoizes package-ownership lookups.
type Cache struct {
	db  *badger.DB
	pm  system.PackageManager
	ttl time.Duration
}

// Open opens or creates a cache at the given directory, fronting the given
// package manager.
func Open(path string, pm system.PackageManager, ttl time.Duration) (*Cache, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{db: db, pm: pm, ttl: ttl}, nil
}

// Close closes the cache.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Owner answers the ownership query from cache, falling through to the
// package manager on a miss and storing the answer with the cache TTL.
func (c *Cache) Owner(ctx context.Context, path string) (string, bool, error) {
	var cached entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cached)
		})
	})
	if err == nil {
		return cached.Package, cached.Owned, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, err
	}

	pkg, owned, err := c.pm.Owner(ctx, path)
	if err != nil {
		return "", false, err
	}

	data, err := json.Marshal(entry{Package: pkg, Owned: owned})
	if err != nil {
		return pkg, owned, nil
	}
	_ = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(path), data).WithTTL(c.ttl)
		return txn.SetEntry(e)
	})
	return pkg, owned, nil
}

// Restore passes through to the package manager; restores are rare and
// never cached.
func (c *Cache) Restore(ctx context.Context, pkg, path string) (system.PackageRestoreResult, error) {
	return c.pm.Restore(ctx, pkg, path)
}

// Invalidate drops the cached answer for a path, for callers that know a
// package operation just changed it.
func (c *Cache) Invalidate(path string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
