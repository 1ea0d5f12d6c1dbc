package zarr

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// NdArray is an n-dimensional array held as a C-order byte buffer.  Multi-byte
// elements are little-endian.
type NdArray struct {
	Dtype Dtype
	Shape []int
	Data  []byte
}

// NewNdArray returns a zeroed array.
func NewNdArray(dt Dtype, shape []int) *NdArray {
	dt = dt.Native()
	return &NdArray{
		Dtype: dt,
		Shape: append([]int(nil), shape...),
		Data:  make([]byte, numElements(shape)*dt.ItemSize()),
	}
}

func numElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Len returns the number of elements.
func (a *NdArray) Len() int {
	return numElements(a.Shape)
}

func (a *NdArray) String() string {
	return fmt.Sprintf("%s array of shape [%s]", a.Dtype, zroi.FormatInts(a.Shape))
}

func (a *NdArray) offset(idx []int) int {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("index %v for array of %d dimensions", idx, len(a.Shape)))
	}
	off := 0
	for i, n := range idx {
		if n < 0 || n >= a.Shape[i] {
			panic(fmt.Sprintf("index %v out of bounds for shape %v", idx, a.Shape))
		}
		off = off*a.Shape[i] + n
	}
	return off * a.Dtype.ItemSize()
}

// Float64At returns the element at the given index converted to float64.
func (a *NdArray) Float64At(idx ...int) float64 {
	off := a.offset(idx)
	return getFloat(a.Dtype, a.Data[off:off+a.Dtype.ItemSize()])
}

// SetFloat64 sets the element at the given index, converting from float64.
func (a *NdArray) SetFloat64(v float64, idx ...int) {
	off := a.offset(idx)
	putFloat(a.Dtype, a.Data[off:off+a.Dtype.ItemSize()], v)
}

// Float64s returns all elements in C order as float64.
func (a *NdArray) Float64s() ([]float64, error) {
	if !a.Dtype.IsNumeric() {
		return nil, fmt.Errorf("%w: dtype %s is not numeric", zroi.ErrUnsupportedCodec, a.Dtype)
	}
	size := a.Dtype.ItemSize()
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = getFloat(a.Dtype, a.Data[i*size:(i+1)*size])
	}
	return out, nil
}

// FromFloat64s returns an array of the given type and shape holding the values.
func FromFloat64s(dt Dtype, shape []int, values []float64) (*NdArray, error) {
	a := NewNdArray(dt, shape)
	if !a.Dtype.IsNumeric() {
		return nil, fmt.Errorf("%w: dtype %s is not numeric", zroi.ErrUnsupportedCodec, dt)
	}
	if len(values) != a.Len() {
		return nil, fmt.Errorf("%d values given for shape %v", len(values), shape)
	}
	size := a.Dtype.ItemSize()
	for i, v := range values {
		putFloat(a.Dtype, a.Data[i*size:(i+1)*size], v)
	}
	return a, nil
}

// Reshape returns an array sharing the data with a new shape of equal size.
func (a *NdArray) Reshape(shape ...int) (*NdArray, error) {
	if numElements(shape) != a.Len() {
		return nil, fmt.Errorf("can't reshape %v into %v", a.Shape, shape)
	}
	return &NdArray{Dtype: a.Dtype, Shape: append([]int(nil), shape...), Data: a.Data}, nil
}

// Squeeze returns an array sharing the data without its leading size-1 axes,
// keeping at least keep dimensions.
func (a *NdArray) Squeeze(keep int) *NdArray {
	shape := a.Shape
	for len(shape) > keep && shape[0] == 1 {
		shape = shape[1:]
	}
	return &NdArray{Dtype: a.Dtype, Shape: append([]int(nil), shape...), Data: a.Data}
}

// Repeat returns a new array with an added leading axis of size n along which
// the array is replicated.
func (a *NdArray) Repeat(n int) *NdArray {
	out := &NdArray{
		Dtype: a.Dtype,
		Shape: append([]int{n}, a.Shape...),
		Data:  make([]byte, 0, n*len(a.Data)),
	}
	for i := 0; i < n; i++ {
		out.Data = append(out.Data, a.Data...)
	}
	return out
}

func getFloat(dt Dtype, b []byte) float64 {
	switch dt.BasicType {
	case BTBoolean:
		if b[0] != 0 {
			return 1
		}
		return 0
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(binary.LittleEndian.Uint16(b)))
		case 4:
			return float64(int32(binary.LittleEndian.Uint32(b)))
		case 8:
			return float64(int64(binary.LittleEndian.Uint64(b)))
		}
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			return float64(b[0])
		case 2:
			return float64(binary.LittleEndian.Uint16(b))
		case 4:
			return float64(binary.LittleEndian.Uint32(b))
		case 8:
			return float64(binary.LittleEndian.Uint64(b))
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case 8:
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
	}
	panic(fmt.Sprintf("dtype %s can't be read as float64", dt))
}

func putFloat(dt Dtype, b []byte, v float64) {
	switch dt.BasicType {
	case BTBoolean:
		if v != 0 {
			b[0] = 1
		} else {
			b[0] = 0
		}
		return
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			b[0] = byte(int8(v))
			return
		case 2:
			binary.LittleEndian.PutUint16(b, uint16(int16(v)))
			return
		case 4:
			binary.LittleEndian.PutUint32(b, uint32(int32(v)))
			return
		case 8:
			binary.LittleEndian.PutUint64(b, uint64(int64(v)))
			return
		}
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			b[0] = byte(v)
			return
		case 2:
			binary.LittleEndian.PutUint16(b, uint16(v))
			return
		case 4:
			binary.LittleEndian.PutUint32(b, uint32(v))
			return
		case 8:
			binary.LittleEndian.PutUint64(b, uint64(v))
			return
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
			return
		case 8:
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
			return
		}
	}
	panic(fmt.Sprintf("dtype %s can't be set from float64", dt))
}

// swapBytes reverses the byte order of every element in place.
func swapBytes(data []byte, size int) {
	if size <= 1 {
		return
	}
	for i := 0; i+size <= len(data); i += size {
		e := data[i : i+size]
		for l, r := 0, size-1; l < r; l, r = l+1, r-1 {
			e[l], e[r] = e[r], e[l]
		}
	}
}
