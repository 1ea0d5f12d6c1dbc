package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dtype is a zarr v2 simple data type, written as a NumPy array protocol type
// string of three parts:
//   - one character for the byte order: "<" little-endian, ">" big-endian,
//     "|" not relevant
//   - one character for the basic type (see BasicType)
//   - the number of bytes per item, omitted for the "O" object type
//
// Structured types are not supported.
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// Commonly used data types.
var (
	Uint8   = Dtype{BONotRelevant, BTUnsigned, 1}
	Uint16  = Dtype{BOLittleEndian, BTUnsigned, 2}
	Uint32  = Dtype{BOLittleEndian, BTUnsigned, 4}
	Int32   = Dtype{BOLittleEndian, BTInteger, 4}
	Int64   = Dtype{BOLittleEndian, BTInteger, 8}
	Float32 = Dtype{BOLittleEndian, BTFloatingPoint, 4}
	Float64 = Dtype{BOLittleEndian, BTFloatingPoint, 8}
	Object  = Dtype{BONotRelevant, BTObject, 0}
)

// ParseDtype parses a type string like "<u2" or "|O".
func ParseDtype(s string) (dt Dtype, err error) {
	// bug in python implementation uses HTML escape sequences when serializing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 2 {
		return dt, fmt.Errorf("invalid dtype string: %q is too short", s)
	}
	if dt.ByteOrder, err = ParseByteOrder(rune(s[0])); err != nil {
		return dt, err
	}
	if dt.BasicType, err = ParseBasicType(rune(s[1])); err != nil {
		return dt, err
	}
	sizeStr := s[2:]
	if dt.BasicType == BTObject {
		if sizeStr != "" && sizeStr != "8" {
			return dt, fmt.Errorf("invalid object dtype %q", s)
		}
		return dt, nil
	}
	if i := strings.IndexByte(sizeStr, '['); i >= 0 {
		return dt, fmt.Errorf("dtype %q with units is not supported", s)
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size <= 0 {
		return dt, fmt.Errorf("invalid item size in dtype %q", s)
	}
	dt.ByteSize = size
	return dt, nil
}

func (dt Dtype) String() string {
	if dt.BasicType == BTObject {
		return string(dt.ByteOrder) + string(dt.BasicType)
	}
	return fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return fmt.Errorf("structured dtypes are not supported: %s", string(d))
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}
	*dt = t
	return nil
}

// ItemSize returns the number of bytes per element.  Unicode strings use four
// bytes per character.
func (dt Dtype) ItemSize() int {
	if dt.BasicType == BTUnicode {
		return 4 * dt.ByteSize
	}
	return dt.ByteSize
}

// IsNumeric returns true for types that can be read as float64.
func (dt Dtype) IsNumeric() bool {
	switch dt.BasicType {
	case BTBoolean:
		return dt.ByteSize == 1
	case BTInteger, BTUnsigned:
		switch dt.ByteSize {
		case 1, 2, 4, 8:
			return true
		}
	case BTFloatingPoint:
		return dt.ByteSize == 4 || dt.ByteSize == 8
	}
	return false
}

// Native returns the data type with little-endian byte order, which is how
// NdArray holds multi-byte values.
func (dt Dtype) Native() Dtype {
	if dt.ByteOrder == BOBigEndian {
		dt.ByteOrder = BOLittleEndian
	}
	return dt
}

// Order returns the binary byte order of the type.
func (dt Dtype) Order() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTString        BasicType = 'S'
	BTUnicode       BasicType = 'U'
	BTObject        BasicType = 'O'
)

var supportedBasicTypes = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTString:        "string",
	BTUnicode:       "unicode",
	BTObject:        "object",
}
