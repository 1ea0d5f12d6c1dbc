/*
	Package storage resolves storage locations of OME-Zarr images into key-value
	stores backed by gocloud blob buckets.  Local directories, in-memory buckets,
	Google Cloud Storage and S3 are supported.

	Locations can be given directly as URLs or filesystem paths, or through aliases
	mounted on a Manager, e.g., from the [store.<alias>] sections of a TOML
	configuration.  Values are simply []byte at this level; zarr chunk and metadata
	encoding happens above.
*/
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/coocood/freecache"
	"gocloud.dev/blob"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// Manager maps storage locations to Stores, keeping one open bucket per bucket
// URL and an optional read cache shared by all its stores.
type Manager struct {
	mu      sync.Mutex
	buckets map[string]*blob.Bucket
	mounts  map[string]*Store
	cache   *freecache.Cache

	// If true, Open only resolves locations under mounted aliases.
	mountedOnly bool
}

// NewManager returns a Manager.  If cacheMB is positive, reads are cached in
// an in-memory cache of roughly that size.
func NewManager(cacheMB int) *Manager {
	m := &Manager{
		buckets: make(map[string]*blob.Bucket),
		mounts:  make(map[string]*Store),
	}
	if cacheMB > 0 {
		m.cache = freecache.NewCache(cacheMB * zroi.Mega)
		zroi.Infof("Created freecache of ~ %d MB for storage reads.\n", cacheMB)
	}
	return m
}

// Mount makes locations starting with alias resolve within the given store.
// The store is given the manager's cache.
func (m *Manager) Mount(alias string, s *Store) {
	alias = strings.TrimRight(alias, "/")
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.cache == nil {
		s.cache = m.cache
	}
	m.mounts[alias] = s
}

// MountRef opens the bucket reference and mounts it at the alias.
func (m *Manager) MountRef(ctx context.Context, alias, ref string) error {
	s, err := m.open(ctx, ref)
	if err != nil {
		return fmt.Errorf("mounting %q at %q: %v", ref, alias, err)
	}
	m.Mount(alias, s)
	zroi.Infof("Mounted store %q -> %s\n", alias, ref)
	return nil
}

// RestrictToMounts makes Open fail with zroi.ErrUnmountedLocation for any
// location not under a mounted alias.  No buckets are opened for such
// locations.
func (m *Manager) RestrictToMounts() {
	m.mu.Lock()
	m.mountedOnly = true
	m.mu.Unlock()
}

// Aliases returns the mounted aliases in sorted order.
func (m *Manager) Aliases() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	aliases := make([]string, 0, len(m.mounts))
	for alias := range m.mounts {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Open returns the store for a location.  Mounted aliases are tried first,
// longest match winning; an alias only matches whole path components.
func (m *Manager) Open(ctx context.Context, location string) (*Store, error) {
	if location == "" {
		return nil, fmt.Errorf("no storage location given")
	}
	s, rest, found, restricted := m.mounted(location)
	if found && restricted && escapes(rest) {
		return nil, fmt.Errorf("%w: %q leaves its store", zroi.ErrUnmountedLocation, location)
	}
	if found {
		return s.Sub(rest), nil
	}
	if restricted {
		return nil, fmt.Errorf("%w: %q", zroi.ErrUnmountedLocation, location)
	}
	return m.open(ctx, location)
}

func (m *Manager) mounted(location string) (s *Store, rest string, found, restricted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	restricted = m.mountedOnly
	best := ""
	for alias := range m.mounts {
		if len(alias) <= len(best) {
			continue
		}
		if location == alias || strings.HasPrefix(location, alias+"/") {
			best = alias
		}
	}
	if best == "" {
		return nil, "", false, restricted
	}
	return m.mounts[best], strings.TrimPrefix(location[len(best):], "/"), true, restricted
}

// escapes returns true if the relative path has a ".." component.
func escapes(rel string) bool {
	for _, elem := range strings.Split(rel, "/") {
		if elem == ".." {
			return true
		}
	}
	return false
}

func (m *Manager) open(ctx context.Context, location string) (*Store, error) {
	ref, err := parseRef(location)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, found := m.buckets[ref.bucketURL]
	if !found {
		if bucket, err = openBucket(ctx, ref.bucketURL); err != nil {
			return nil, err
		}
		m.buckets[ref.bucketURL] = bucket
		zroi.Debugf("Opened bucket %s\n", ref.bucketURL)
	}
	return &Store{
		bucket: bucket,
		id:     ref.bucketURL,
		prefix: ref.prefix,
		cache:  m.cache,
	}, nil
}

// Close closes all buckets opened by the manager.  Buckets of mounted stores
// created with NewStore are left to their owners.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for url, bucket := range m.buckets {
		if err := bucket.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing bucket %s: %v", url, err)
		}
		delete(m.buckets, url)
	}
	return firstErr
}
