package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/coocood/freecache"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// Store is a key-value view of a bucket under a key prefix.  Keys are
// slash-separated and relative to the prefix.
type Store struct {
	bucket *blob.Bucket
	id     string
	prefix string
	cache  *freecache.Cache
}

// NewStore returns a store over the given bucket.  The id distinguishes
// the bucket's entries in a shared read cache.
func NewStore(bucket *blob.Bucket, id, prefix string) *Store {
	return &Store{
		bucket: bucket,
		id:     id,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *Store) String() string {
	return s.id + "/" + s.prefix
}

// Prefix returns the key prefix of the store within its bucket.
func (s *Store) Prefix() string {
	return s.prefix
}

// Sub returns a store rooted at the given relative path.
func (s *Store) Sub(rel string) *Store {
	return &Store{
		bucket: s.bucket,
		id:     s.id,
		prefix: s.key(rel),
		cache:  s.cache,
	}
}

func (s *Store) key(rel string) string {
	rel = strings.Trim(rel, "/")
	switch {
	case s.prefix == "":
		return rel
	case rel == "":
		return s.prefix
	}
	return path.Join(s.prefix, rel)
}

func (s *Store) cacheKey(key string) []byte {
	return []byte(s.id + "\x00" + key)
}

// Get returns the value stored at key, or an error wrapping zroi.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	full := s.key(key)
	if s.cache != nil {
		if data, err := s.cache.Get(s.cacheKey(full)); err == nil {
			return data, nil
		}
	}
	data, err := s.bucket.ReadAll(ctx, full)
	if err != nil {
		return nil, s.mapError(full, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(s.cacheKey(full), data, 0); err != nil && err != freecache.ErrLargeEntry {
			zroi.Debugf("could not cache %s: %v\n", full, err)
		}
	}
	return data, nil
}

// Put stores the value at key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	full := s.key(key)
	if s.cache != nil {
		s.cache.Del(s.cacheKey(full))
	}
	if err := s.bucket.WriteAll(ctx, full, data, nil); err != nil {
		return s.mapError(full, err)
	}
	return nil
}

// Exists returns true if a value is stored at key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	full := s.key(key)
	if s.cache != nil {
		if _, err := s.cache.Get(s.cacheKey(full)); err == nil {
			return true, nil
		}
	}
	return s.bucket.Exists(ctx, full)
}

// List returns the names of the direct children (keys and sub-directories) of
// dir, in sorted order.  Directory names end without a slash.
func (s *Store) List(ctx context.Context, dir string) ([]string, error) {
	prefix := s.key(dir)
	if prefix != "" {
		prefix += "/"
	}
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	var names []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, s.mapError(prefix, err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Copy copies the value at srcKey to dstKey in the destination store, which
// may be backed by a different bucket.
func (s *Store) Copy(ctx context.Context, srcKey string, dst *Store, dstKey string) error {
	if dst.bucket == s.bucket {
		full := dst.key(dstKey)
		if dst.cache != nil {
			dst.cache.Del(dst.cacheKey(full))
		}
		if err := s.bucket.Copy(ctx, full, s.key(srcKey), nil); err != nil {
			return s.mapError(s.key(srcKey), err)
		}
		return nil
	}
	data, err := s.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	return dst.Put(ctx, dstKey, data)
}

func (s *Store) mapError(key string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %s/%s", zroi.ErrNotFound, s.id, key)
	}
	return fmt.Errorf("storage %s key %q: %v", s.id, key, err)
}
