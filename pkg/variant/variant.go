// ABOUTME: Tagged scalar values carried by metadata fields
// ABOUTME: Each kind has a canonical text form used by the document mapper

package variant

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Type tags for variant values
type Type uint8

const (
	TypeEmpty Type = iota
	TypeInteger
	TypeReal
	TypeString
	TypeBoolean
	TypeDate
	TypeBinary
	TypeIntegerVector
	TypeRealVector
)

var typeNames = map[Type]string{
	TypeEmpty:         "empty",
	TypeInteger:       "integer",
	TypeReal:          "real",
	TypeString:        "string",
	TypeBoolean:       "bool",
	TypeDate:          "date",
	TypeBinary:        "rawbuffer",
	TypeIntegerVector: "integer[]",
	TypeRealVector:    "real[]",
}

// ErrBadValue is returned when text cannot be converted to the requested type
var ErrBadValue = errors.New("variant: bad value")

// ErrUnknownType is returned for type names that are not registered
var ErrUnknownType = errors.New("variant: unknown type")

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType converts a persisted type name back to its tag
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeEmpty, errors.Wrapf(ErrUnknownType, "%q", name)
}

// Variant is an immutable tagged scalar
type Variant struct {
	typ  Type
	i64  int64
	f64  float64
	str  string
	b    bool
	t    time.Time
	raw  []byte
	ivec []int64
	fvec []float64
}

func Integer(v int64) Variant { return Variant{typ: TypeInteger, i64: v} }
func Real(v float64) Variant { return Variant{typ: TypeReal, f64: v} }
func String(v string) Variant { return Variant{typ: TypeString, str: v} }
func Boolean(v bool) Variant { return Variant{typ: TypeBoolean, b: v} }
func Date(v time.Time) Variant { return Variant{typ: TypeDate, t: v.UTC()} }
func Binary(v []byte) Variant { return Variant{typ: TypeBinary, raw: append([]byte(nil), v...)} }
func IntegerVector(v ...int64) Variant {
	return Variant{typ: TypeIntegerVector, ivec: append([]int64(nil), v...)}
}
func RealVector(v ...float64) Variant {
	return Variant{typ: TypeRealVector, fvec: append([]float64(nil), v...)}
}

// Type returns the tag of the value
func (v Variant) Type() Type { return v.typ }

// IsEmpty reports whether the value was never set
func (v Variant) IsEmpty() bool { return v.typ == TypeEmpty }

func (v Variant) AsInteger() (int64, bool) { return v.i64, v.typ == TypeInteger }
func (v Variant) AsReal() (float64, bool) { return v.f64, v.typ == TypeReal }
func (v Variant) AsString() (string, bool) { return v.str, v.typ == TypeString }
func (v Variant) AsBoolean() (bool, bool) { return v.b, v.typ == TypeBoolean }
func (v Variant) AsDate() (time.Time, bool) { return v.t, v.typ == TypeDate }

func (v Variant) AsBinary() ([]byte, bool) {
	return append([]byte(nil), v.raw...), v.typ == TypeBinary
}

func (v Variant) AsIntegerVector() ([]int64, bool) {
	return append([]int64(nil), v.ivec...), v.typ == TypeIntegerVector
}

func (v Variant) AsRealVector() ([]float64, bool) {
	return append([]float64(nil), v.fvec...), v.typ == TypeRealVector
}

// Interface returns the value as a plain Go value, used by expression filters
func (v Variant) Interface() any {
	switch v.typ {
	case TypeInteger:
		return v.i64
	case TypeReal:
		return v.f64
	case TypeString:
		return v.str
	case TypeBoolean:
		return v.b
	case TypeDate:
		return v.t
	case TypeBinary:
		return append([]byte(nil), v.raw...)
	case TypeIntegerVector:
		return append([]int64(nil), v.ivec...)
	case TypeRealVector:
		return append([]float64(nil), v.fvec...)
	}
	return nil
}

// String renders the canonical text form of the value
func (v Variant) String() string {
	switch v.typ {
	case TypeInteger:
		return strconv.FormatInt(v.i64, 10)
	case TypeReal:
		return formatReal(v.f64)
	case TypeString:
		return v.str
	case TypeBoolean:
		return strconv.FormatBool(v.b)
	case TypeDate:
		return v.t.Format(time.RFC3339Nano)
	case TypeBinary:
		return base64.StdEncoding.EncodeToString(v.raw)
	case TypeIntegerVector:
		parts := make([]string, len(v.ivec))
		for i, x := range v.ivec {
			parts[i] = strconv.FormatInt(x, 10)
		}
		return strings.Join(parts, " ")
	case TypeRealVector:
		parts := make([]string, len(v.fvec))
		for i, x := range v.fvec {
			parts[i] = formatReal(x)
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func formatReal(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// FromString parses the canonical text form of a value of type t
func FromString(t Type, s string) (Variant, error) {
	switch t {
	case TypeEmpty:
		if s != "" {
			return Variant{}, errors.Wrapf(ErrBadValue, "empty type with text %q", s)
		}
		return Variant{}, nil
	case TypeInteger:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Variant{}, errors.Wrapf(ErrBadValue, "integer %q", s)
		}
		return Integer(i), nil
	case TypeReal:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Variant{}, errors.Wrapf(ErrBadValue, "real %q", s)
		}
		return Real(f), nil
	case TypeString:
		return String(s), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return Variant{}, errors.Wrapf(ErrBadValue, "bool %q", s)
		}
		return Boolean(b), nil
	case TypeDate:
		tm, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
		if err != nil {
			return Variant{}, errors.Wrapf(ErrBadValue, "date %q", s)
		}
		return Date(tm), nil
	case TypeBinary:
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return Variant{}, errors.Wrapf(ErrBadValue, "rawbuffer %q", s)
		}
		return Variant{typ: TypeBinary, raw: raw}, nil
	case TypeIntegerVector:
		fields := strings.Fields(s)
		out := make([]int64, len(fields))
		for i, f := range fields {
			x, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return Variant{}, errors.Wrapf(ErrBadValue, "integer[] element %q", f)
			}
			out[i] = x
		}
		return Variant{typ: TypeIntegerVector, ivec: out}, nil
	case TypeRealVector:
		fields := strings.Fields(s)
		out := make([]float64, len(fields))
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return Variant{}, errors.Wrapf(ErrBadValue, "real[] element %q", f)
			}
			out[i] = x
		}
		return Variant{typ: TypeRealVector, fvec: out}, nil
	}
	return Variant{}, errors.Wrapf(ErrUnknownType, "%d", uint8(t))
}

// Convert returns v converted to type t through its text form
func (v Variant) Convert(t Type) (Variant, error) {
	if v.typ == t {
		return v, nil
	}
	if v.typ == TypeInteger && t == TypeReal {
		return Real(float64(v.i64)), nil
	}
	if v.typ == TypeReal && t == TypeInteger {
		if v.f64 != math.Trunc(v.f64) {
			return Variant{}, errors.Wrapf(ErrBadValue, "real %v is not integral", v.f64)
		}
		return Integer(int64(v.f64)), nil
	}
	return FromString(t, v.String())
}

// Equal compares type and value
func (v Variant) Equal(o Variant) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeEmpty:
		return true
	case TypeInteger:
		return v.i64 == o.i64
	case TypeReal:
		return v.f64 == o.f64 || (math.IsNaN(v.f64) && math.IsNaN(o.f64))
	case TypeString:
		return v.str == o.str
	case TypeBoolean:
		return v.b == o.b
	case TypeDate:
		return v.t.Equal(o.t)
	case TypeBinary:
		return bytes.Equal(v.raw, o.raw)
	case TypeIntegerVector:
		if len(v.ivec) != len(o.ivec) {
			return false
		}
		for i := range v.ivec {
			if v.ivec[i] != o.ivec[i] {
				return false
			}
		}
		return true
	case TypeRealVector:
		if len(v.fvec) != len(o.fvec) {
			return false
		}
		for i := range v.fvec {
			if v.fvec[i] != o.fvec[i] {
				return false
			}
		}
		return true
	}
	return false
}
