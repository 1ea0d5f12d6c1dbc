/*
	Package zarr reads and writes zarr v2 arrays and groups held in a key-value
	store.  Only the parts of the format used by OME-Zarr images and AnnData
	tables are supported: simple numeric and string dtypes, C order, and the
	blosc, zstd, gzip, zlib and lz4 compressors.
*/
package zarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// MaxConcurrentChunks bounds the number of chunks fetched or stored at once by a
// single region read or write.
var MaxConcurrentChunks = 16

// Store is a key-value store holding zarr documents and chunks.  Get must return
// an error wrapping zroi.ErrNotFound for missing keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Array is an opened zarr array.
type Array struct {
	store Store
	path  string
	meta  *ArrayMeta
}

// Open reads the metadata of the array at path.
func Open(ctx context.Context, store Store, path string) (*Array, error) {
	data, err := store.Get(ctx, join(path, KeyArray))
	if err != nil {
		return nil, err
	}
	meta, err := ParseArrayMeta(data)
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", path, err)
	}
	return &Array{store: store, path: path, meta: meta}, nil
}

// Create writes the metadata of a new array at path, replacing any existing
// array metadata.  Existing chunks are not removed.
func Create(ctx context.Context, store Store, path string, meta ArrayMeta) (*Array, error) {
	if meta.ZarrFormat == 0 {
		meta.ZarrFormat = 2
	}
	if meta.Order == "" {
		meta.Order = "C"
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(&meta, "", "    ")
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, join(path, KeyArray), data); err != nil {
		return nil, err
	}
	return &Array{store: store, path: path, meta: &meta}, nil
}

// Meta returns a copy of the array metadata.
func (a *Array) Meta() ArrayMeta {
	return *a.meta
}

// Shape returns the array shape.
func (a *Array) Shape() []int {
	return append([]int(nil), a.meta.Shape...)
}

// Path returns the array path within its store.
func (a *Array) Path() string {
	return a.path
}

func (a *Array) String() string {
	return fmt.Sprintf("zarr array %q %s shape %v chunks %v", a.path, a.meta.Dtype, a.meta.Shape, a.meta.Chunks)
}

// ReadAll reads the whole array.
func (a *Array) ReadAll(ctx context.Context) (*NdArray, error) {
	return a.ReadRegion(ctx, make([]int, len(a.meta.Shape)), a.meta.Shape)
}

// ReadRegion returns the half-open box [lo, hi) of the array.  Bounds beyond the
// array shape are clipped, so the result may be smaller than requested.  Chunks
// absent from the store read as the fill value.
func (a *Array) ReadRegion(ctx context.Context, lo, hi []int) (*NdArray, error) {
	lo, hi, err := a.clip(lo, hi)
	if err != nil {
		return nil, err
	}
	if !a.meta.Dtype.IsNumeric() {
		return nil, fmt.Errorf("%w: region reads of dtype %s", zroi.ErrUnsupportedCodec, a.meta.Dtype)
	}
	shape := make([]int, len(lo))
	for i := range lo {
		shape[i] = hi[i] - lo[i]
	}
	out := NewNdArray(a.meta.Dtype, shape)
	if out.Len() == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentChunks)
	forEachChunk(a.meta.Chunks, lo, hi, func(cidx []int) {
		g.Go(func() error {
			chunk, err := a.readChunk(gctx, cidx)
			if err != nil {
				return err
			}
			copyBox(a.chunkBox(cidx), chunk, box{lo, hi}, out.Data, a.meta.Dtype.ItemSize())
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteRegion stores the array with its first element at origin.  Chunks only
// partially covered are read, updated and rewritten.
func (a *Array) WriteRegion(ctx context.Context, origin []int, arr *NdArray) error {
	if len(origin) != len(a.meta.Shape) || len(arr.Shape) != len(a.meta.Shape) {
		return fmt.Errorf("%w: writing %d-d data at %v into %d-d array", zroi.ErrDimensionMismatch,
			len(arr.Shape), origin, len(a.meta.Shape))
	}
	if arr.Dtype.Native() != a.meta.Dtype.Native() {
		return fmt.Errorf("can't write %s data into %s array %q", arr.Dtype, a.meta.Dtype, a.path)
	}
	hi := make([]int, len(origin))
	for i := range origin {
		hi[i] = origin[i] + arr.Shape[i]
		if origin[i] < 0 || hi[i] > a.meta.Shape[i] {
			return fmt.Errorf("region at %v of shape %v exceeds array shape %v", origin, arr.Shape, a.meta.Shape)
		}
	}
	if arr.Len() == 0 {
		return nil
	}
	src := box{origin, hi}
	itemSize := a.meta.Dtype.ItemSize()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentChunks)
	forEachChunk(a.meta.Chunks, origin, hi, func(cidx []int) {
		g.Go(func() error {
			cb := a.chunkBox(cidx)
			var chunk []byte
			if src.covers(cb) {
				chunk = make([]byte, a.meta.ChunkLen()*itemSize)
			} else {
				var err error
				if chunk, err = a.readChunk(gctx, cidx); err != nil {
					return err
				}
			}
			copyBox(src, arr.Data, cb, chunk, itemSize)
			return a.writeChunk(gctx, cidx, chunk)
		})
	})
	return g.Wait()
}

func (a *Array) clip(lo, hi []int) ([]int, []int, error) {
	n := len(a.meta.Shape)
	if len(lo) != n || len(hi) != n {
		return nil, nil, fmt.Errorf("%w: region [%v, %v) for %d-d array", zroi.ErrDimensionMismatch, lo, hi, n)
	}
	clo := make([]int, n)
	chi := make([]int, n)
	for i := 0; i < n; i++ {
		if lo[i] < 0 || hi[i] < lo[i] {
			return nil, nil, fmt.Errorf("bad region [%v, %v)", lo, hi)
		}
		clo[i] = min(lo[i], a.meta.Shape[i])
		chi[i] = min(hi[i], a.meta.Shape[i])
	}
	return clo, chi, nil
}

func (a *Array) chunkBox(cidx []int) box {
	b := box{lo: make([]int, len(cidx)), hi: make([]int, len(cidx))}
	for i, c := range cidx {
		b.lo[i] = c * a.meta.Chunks[i]
		b.hi[i] = b.lo[i] + a.meta.Chunks[i]
	}
	return b
}

// readChunk returns the decoded chunk in native byte order, or a chunk of fill
// values if it is not stored.
func (a *Array) readChunk(ctx context.Context, cidx []int) ([]byte, error) {
	key := join(a.path, a.meta.ChunkKey(cidx))
	raw, err := a.store.Get(ctx, key)
	if errors.Is(err, zroi.ErrNotFound) {
		return a.fillChunk()
	}
	if err != nil {
		return nil, err
	}
	data, err := decompress(a.meta.Compressor, raw)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", key, err)
	}
	if len(a.meta.Filters) != 0 {
		return nil, fmt.Errorf("%w: filters on numeric array %q", zroi.ErrUnsupportedCodec, a.path)
	}
	if want := a.meta.ChunkLen() * a.meta.Dtype.ItemSize(); len(data) != want {
		return nil, fmt.Errorf("chunk %s has %d bytes, expected %d", key, len(data), want)
	}
	if a.meta.Dtype.ByteOrder == BOBigEndian {
		if &data[0] == &raw[0] {
			data = append([]byte(nil), data...)
		}
		swapBytes(data, a.meta.Dtype.ItemSize())
	}
	return data, nil
}

func (a *Array) writeChunk(ctx context.Context, cidx []int, chunk []byte) error {
	if a.meta.Dtype.ByteOrder == BOBigEndian {
		chunk = append([]byte(nil), chunk...)
		swapBytes(chunk, a.meta.Dtype.ItemSize())
	}
	data, err := compress(a.meta.Compressor, chunk)
	if err != nil {
		return err
	}
	return a.store.Put(ctx, join(a.path, a.meta.ChunkKey(cidx)), data)
}

func (a *Array) fillChunk() ([]byte, error) {
	v, err := a.meta.fillFloat()
	if err != nil {
		return nil, err
	}
	size := a.meta.Dtype.ItemSize()
	chunk := make([]byte, a.meta.ChunkLen()*size)
	if v == 0 {
		return chunk, nil
	}
	putFloat(a.meta.Dtype.Native(), chunk[:size], v)
	for i := size; i < len(chunk); i *= 2 {
		copy(chunk[i:], chunk[:i])
	}
	return chunk, nil
}
