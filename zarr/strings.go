package zarr

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

const vlenUTF8 = "vlen-utf8"

// ReadStrings reads a 1-d array of strings.  Object arrays with the vlen-utf8
// filter and fixed-width "S" and "U" arrays are supported.
func (a *Array) ReadStrings(ctx context.Context) ([]string, error) {
	if len(a.meta.Shape) != 1 {
		return nil, fmt.Errorf("%w: string array %q has %d dimensions", zroi.ErrInvalidMetadata, a.path, len(a.meta.Shape))
	}
	n := a.meta.Shape[0]
	chunkLen := a.meta.Chunks[0]
	out := make([]string, 0, n)
	for c := 0; c < a.meta.NumChunks()[0]; c++ {
		items, err := a.readStringChunk(ctx, c)
		if err != nil {
			return nil, err
		}
		want := min(chunkLen, n-c*chunkLen)
		for len(items) < want {
			items = append(items, "")
		}
		out = append(out, items[:want]...)
	}
	return out, nil
}

func (a *Array) readStringChunk(ctx context.Context, c int) ([]string, error) {
	key := join(a.path, a.meta.ChunkKey([]int{c}))
	raw, err := a.store.Get(ctx, key)
	if errors.Is(err, zroi.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := decompress(a.meta.Compressor, raw)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", key, err)
	}
	switch a.meta.Dtype.BasicType {
	case BTObject:
		if len(a.meta.Filters) != 1 || a.meta.Filters[0].ID != vlenUTF8 {
			return nil, fmt.Errorf("%w: object array %q without %s filter", zroi.ErrUnsupportedCodec, a.path, vlenUTF8)
		}
		return decodeVlenUTF8(data)
	case BTString:
		return decodeFixed(data, a.meta.Dtype.ByteSize, func(b []byte) string {
			return strings.TrimRight(string(b), "\x00")
		}), nil
	case BTUnicode:
		order := a.meta.Dtype.Order()
		return decodeFixed(data, a.meta.Dtype.ItemSize(), func(b []byte) string {
			var sb strings.Builder
			for i := 0; i+4 <= len(b); i += 4 {
				r := rune(order.Uint32(b[i:]))
				if r == 0 {
					break
				}
				sb.WriteRune(r)
			}
			return sb.String()
		}), nil
	}
	return nil, fmt.Errorf("%w: dtype %s is not a string type", zroi.ErrUnsupportedCodec, a.meta.Dtype)
}

func decodeFixed(data []byte, size int, conv func([]byte) string) []string {
	items := make([]string, 0, len(data)/size)
	for i := 0; i+size <= len(data); i += size {
		items = append(items, conv(data[i:i+size]))
	}
	return items
}

// decodeVlenUTF8 reads the numcodecs VLenUTF8 encoding: a little-endian uint32
// item count, then for each item its uint32 byte length and UTF-8 bytes.
func decodeVlenUTF8(data []byte) ([]string, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vlen-utf8 chunk of %d bytes is too short", len(data))
	}
	n := int(binary.LittleEndian.Uint32(data))
	pos := 4
	items := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("vlen-utf8 chunk truncated at item %d", i)
		}
		l := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if pos+l > len(data) {
			return nil, fmt.Errorf("vlen-utf8 chunk truncated at item %d", i)
		}
		s := data[pos : pos+l]
		if !utf8.Valid(s) {
			return nil, fmt.Errorf("vlen-utf8 item %d is not valid UTF-8", i)
		}
		items = append(items, string(s))
		pos += l
	}
	return items, nil
}

func encodeVlenUTF8(items []string) []byte {
	size := 4
	for _, s := range items {
		size += 4 + len(s)
	}
	data := make([]byte, 4, size)
	binary.LittleEndian.PutUint32(data, uint32(len(items)))
	var l [4]byte
	for _, s := range items {
		binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
		data = append(data, l[:]...)
		data = append(data, s...)
	}
	return data
}

// WriteStrings creates a 1-d vlen-utf8 object array holding the values in a
// single chunk.
func WriteStrings(ctx context.Context, store Store, path string, values []string) (*Array, error) {
	comp := DefaultCompressor
	meta := ArrayMeta{
		Shape:      []int{len(values)},
		Chunks:     []int{max(len(values), 1)},
		Dtype:      Object,
		Compressor: &comp,
		Filters:    []Filter{{ID: vlenUTF8}},
	}
	arr, err := Create(ctx, store, path, meta)
	if err != nil {
		return nil, err
	}
	items := append([]string(nil), values...)
	for len(items) < meta.Chunks[0] {
		items = append(items, "")
	}
	data, err := compress(meta.Compressor, encodeVlenUTF8(items))
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, join(path, meta.ChunkKey([]int{0})), data); err != nil {
		return nil, err
	}
	return arr, nil
}
