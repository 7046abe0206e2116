// Package column implements fixed-width binary column files. A column file
// is a flat little-endian array with no header: its row count is the
// committed length divided by the element width and is tracked by the
// table metadata, not by the file.
package column

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

// Type represents the data type of a column
type Type int

const (
	TypeByte Type = iota + 1
	TypeShort
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeTimestamp
)

// Width returns the element width in bytes.
func (t Type) Width() int {
	switch t {
	case TypeByte:
		return 1
	case TypeShort:
		return 2
	case TypeInt, TypeFloat:
		return 4
	case TypeLong, TypeDouble, TypeTimestamp:
		return 8
	default:
		return 0
	}
}

// Integral reports whether values of this type fold into an int64 sum.
func (t Type) Integral() bool {
	switch t {
	case TypeByte, TypeShort, TypeInt, TypeLong, TypeTimestamp:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	switch t {
	case TypeByte:
		return "byte"
	case TypeShort:
		return "short"
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// MarshalText lets column types appear by name in table metadata.
func (t Type) MarshalText() ([]byte, error) {
	if t.Width() == 0 {
		return nil, strataerrors.Newf(strataerrors.ErrorTypeValidation, "unknown column type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText parses a column type name.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType parses a column type name such as "int" or "long".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "byte":
		return TypeByte, nil
	case "short":
		return TypeShort, nil
	case "int":
		return TypeInt, nil
	case "long":
		return TypeLong, nil
	case "float":
		return TypeFloat, nil
	case "double":
		return TypeDouble, nil
	case "timestamp":
		return TypeTimestamp, nil
	default:
		return 0, strataerrors.Newf(strataerrors.ErrorTypeValidation, "unknown column type %q", s)
	}
}

// encode writes v into dst using the type's width. Integral values are
// truncated to the width; for float types v holds the raw IEEE bits.
func (t Type) encode(dst []byte, v int64) {
	switch t {
	case TypeByte:
		dst[0] = byte(v)
	case TypeShort:
		binary.LittleEndian.PutUint16(dst, uint16(v)) //nolint:gosec // G115: truncation to column width
	case TypeInt, TypeFloat:
		binary.LittleEndian.PutUint32(dst, uint32(v)) //nolint:gosec // G115: truncation to column width
	default:
		binary.LittleEndian.PutUint64(dst, uint64(v)) //nolint:gosec // G115: bit reinterpretation
	}
}

// Decode reads an integral value of this type from b, sign-extended to
// int64. Float types return their raw bits.
func (t Type) Decode(b []byte) int64 {
	switch t {
	case TypeByte:
		return int64(int8(b[0])) //nolint:gosec // G115: sign extension
	case TypeShort:
		return int64(int16(binary.LittleEndian.Uint16(b))) //nolint:gosec // G115: sign extension
	case TypeInt, TypeFloat:
		return int64(int32(binary.LittleEndian.Uint32(b))) //nolint:gosec // G115: sign extension
	default:
		return int64(binary.LittleEndian.Uint64(b)) //nolint:gosec // G115: bit reinterpretation
	}
}

// Encode returns a freshly allocated element holding v.
func (t Type) Encode(v int64) []byte {
	b := make([]byte, t.Width())
	t.encode(b, v)
	return b
}

// Float32Bytes encodes a float column element.
func Float32Bytes(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

// Float64Bytes encodes a double column element.
func Float64Bytes(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return b
}
