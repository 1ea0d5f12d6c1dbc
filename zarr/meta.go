package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// Keys of zarr v2 metadata documents.
const (
	// KeyAttributes stores userland metadata of an array or group.
	KeyAttributes = ".zattrs"
	// KeyArray stores the metadata of an array.
	KeyArray = ".zarray"
	// KeyGroup marks a group.
	KeyGroup = ".zgroup"
)

// ArrayMeta is the configuration of an array, stored as JSON under the ".zarray"
// key of the array.
type ArrayMeta struct {
	// Version of the storage specification; always 2.
	ZarrFormat int `json:"zarr_format"`
	// Length of each dimension of the array.
	Shape []int `json:"shape"`
	// Length of each dimension of a chunk.  All chunks have the same shape.
	Chunks []int `json:"chunks"`
	// Data type of the array elements.
	Dtype Dtype `json:"dtype"`
	// Primary compression codec, or nil for uncompressed chunks.
	Compressor *Compressor `json:"compressor"`
	// Value for uninitialized portions of the array, or nil.  Numbers may be
	// encoded as the strings "NaN", "Infinity" and "-Infinity".
	FillValue interface{} `json:"fill_value"`
	// Either "C" (row-major) or "F" (column-major) layout within chunks.
	Order string `json:"order"`
	// Codec configurations applied before the compressor, or nil.
	Filters []Filter `json:"filters"`
	// Separator between chunk indices in chunk keys: "." (default) or "/".
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

// Compressor is the configuration of a numcodecs compressor.
type Compressor struct {
	ID        string `json:"id"`
	Cname     string `json:"cname,omitempty"`
	Clevel    int    `json:"clevel,omitempty"`
	Shuffle   int    `json:"shuffle,omitempty"`
	Blocksize int    `json:"blocksize,omitempty"`
	Level     int    `json:"level,omitempty"`
}

// Filter is the configuration of a numcodecs filter.
type Filter struct {
	ID    string `json:"id"`
	Dtype string `json:"dtype,omitempty"`
}

// DefaultCompressor is used for arrays written by zroi.
var DefaultCompressor = Compressor{ID: "zstd", Level: 3}

// ParseArrayMeta decodes and checks a .zarray document.
func ParseArrayMeta(data []byte) (*ArrayMeta, error) {
	meta := new(ArrayMeta)
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("%w: %v", zroi.ErrInvalidMetadata, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

// Validate checks the metadata for consistency.
func (m *ArrayMeta) Validate() error {
	if m.ZarrFormat != 2 {
		return fmt.Errorf("%w: unsupported zarr format %d", zroi.ErrInvalidMetadata, m.ZarrFormat)
	}
	if len(m.Shape) != len(m.Chunks) {
		return fmt.Errorf("%w: shape %v and chunks %v differ in dimensions", zroi.ErrInvalidMetadata, m.Shape, m.Chunks)
	}
	for i := range m.Shape {
		if m.Shape[i] < 0 || m.Chunks[i] <= 0 {
			return fmt.Errorf("%w: bad shape %v or chunks %v", zroi.ErrInvalidMetadata, m.Shape, m.Chunks)
		}
	}
	switch m.Order {
	case "", "C":
	case "F":
		return fmt.Errorf("%w: column-major chunk order", zroi.ErrUnsupportedCodec)
	default:
		return fmt.Errorf("%w: unknown order %q", zroi.ErrInvalidMetadata, m.Order)
	}
	switch m.DimensionSeparator {
	case "", ".", "/":
	default:
		return fmt.Errorf("%w: dimension separator %q", zroi.ErrInvalidMetadata, m.DimensionSeparator)
	}
	return nil
}

// NumChunks returns the number of chunks along each dimension.
func (m *ArrayMeta) NumChunks() []int {
	n := make([]int, len(m.Shape))
	for i := range m.Shape {
		n[i] = (m.Shape[i] + m.Chunks[i] - 1) / m.Chunks[i]
	}
	return n
}

// ChunkLen returns the number of elements in one chunk.
func (m *ArrayMeta) ChunkLen() int {
	n := 1
	for _, c := range m.Chunks {
		n *= c
	}
	return n
}

// ChunkKey returns the key of the chunk with the given indices, relative to
// the array.
func (m *ArrayMeta) ChunkKey(idx []int) string {
	if len(idx) == 0 {
		return "0"
	}
	sep := m.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	parts := make([]string, len(idx))
	for i, n := range idx {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, sep)
}

// fillFloat returns the numeric fill value.
func (m *ArrayMeta) fillFloat() (float64, error) {
	switch v := m.FillValue.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		switch v {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	return 0, fmt.Errorf("%w: fill value %v for dtype %s", zroi.ErrInvalidMetadata, m.FillValue, m.Dtype)
}

// Group is the content of a ".zgroup" document.
type Group struct {
	ZarrFormat int `json:"zarr_format"`
}

func join(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}
