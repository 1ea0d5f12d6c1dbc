package zarr

import (
	"context"
	"encoding/json"
)

// CreateGroup writes a ".zgroup" document at path.
func CreateGroup(ctx context.Context, store Store, path string) error {
	data, err := json.Marshal(Group{ZarrFormat: 2})
	if err != nil {
		return err
	}
	return store.Put(ctx, join(path, KeyGroup), data)
}

// ReadAttrs returns the raw ".zattrs" document at path.
func ReadAttrs(ctx context.Context, store Store, path string) ([]byte, error) {
	return store.Get(ctx, join(path, KeyAttributes))
}

// WriteAttrs stores the ".zattrs" document at path.
func WriteAttrs(ctx context.Context, store Store, path string, attrs []byte) error {
	return store.Put(ctx, join(path, KeyAttributes), attrs)
}
