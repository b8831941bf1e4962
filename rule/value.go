package rule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindAbsent marks a missing value, e.g. an unresolved field path.
	KindAbsent Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "invalid"
	}
}

// TimestampLayout is the canonical rendering of time values.
const TimestampLayout = time.RFC3339Nano

// Value is a small tagged union used for field values and rule operands.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	t    time.Time
}

// Absent returns the missing value.
func Absent() Value { return Value{} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int returns a numeric Value from an integer.
func Int(n int64) Value { return Value{kind: KindNumber, n: float64(n)} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time returns a timestamp Value.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// FromAny converts a decoded scalar into a Value. Unknown types are
// stringified so they still take part in text comparisons.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Absent()
	case Value:
		return x
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint:
		return Number(float64(x))
	case uint8:
		return Number(float64(x))
	case uint16:
		return Number(float64(x))
	case uint32:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case float32:
		return Number(float64(x))
	case float64:
		return Number(x)
	case time.Time:
		return Time(x)
	case *time.Time:
		if x == nil {
			return Absent()
		}
		return Time(*x)
	default:
		return String(fmt.Sprint(x))
	}
}

// Kind reports the type tag.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v holds no value.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsString returns the string if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsNumber returns the number if Kind is KindNumber.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.n, true
}

// AsBool returns the boolean if Kind is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsTime returns the timestamp if Kind is KindTime.
func (v Value) AsTime() (time.Time, bool) {
	if v.kind != KindTime {
		return time.Time{}, false
	}
	return v.t, true
}

// Equal compares two values structurally. Times compare by instant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindAbsent:
		return true
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n || (math.IsNaN(v.n) && math.IsNaN(o.n))
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	}
	return false
}

// Text renders the value for text operators.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.UTC().Format(TimestampLayout)
	default:
		return ""
	}
}

// Key returns a stable kind-prefixed representation for use in maps.
func (v Value) Key() string {
	switch v.kind {
	case KindString:
		return "s:" + v.s
	case KindNumber:
		n := v.n
		if n == 0 {
			n = 0 // fold -0
		}
		return "n:" + strconv.FormatFloat(n, 'g', -1, 64)
	case KindBool:
		if v.b {
			return "b:1"
		}
		return "b:0"
	case KindTime:
		return "t:" + v.t.UTC().Format(TimestampLayout)
	default:
		return "absent"
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindAbsent:
		return "<absent>"
	case KindString:
		return strconv.Quote(v.s)
	default:
		return v.Text()
	}
}

// Normalize maps a value onto its index form: strings are lower-cased and
// trimmed, times become their canonical timestamp string, everything else
// passes through.
func Normalize(v Value) Value {
	switch v.kind {
	case KindString:
		return String(strings.ToLower(strings.TrimSpace(v.s)))
	case KindTime:
		return String(v.t.UTC().Format(TimestampLayout))
	default:
		return v
	}
}
