package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Value is an indicator reading that may be undefined. The zero Value is
// undefined, so a missing window never reads as zero.
type Value struct {
	v  float64
	ok bool
}

// Defined wraps a known number.
func Defined(v float64) Value {
	return Value{v: v, ok: true}
}

// Undefined returns the value used when there is not enough history.
func Undefined() Value {
	return Value{}
}

// Float returns the number and whether it is defined.
func (v Value) Float() (float64, bool) {
	return v.v, v.ok
}

// IsDefined reports whether the value holds a number.
func (v Value) IsDefined() bool {
	return v.ok
}

// OrZero returns the number, or 0 when undefined. Only for display.
func (v Value) OrZero() float64 {
	if !v.ok {
		return 0
	}
	return v.v
}

// Ptr returns a pointer copy of the number, nil when undefined.
func (v Value) Ptr() *float64 {
	if !v.ok {
		return nil
	}
	f := v.v
	return &f
}

// ValueFromPtr is the inverse of Ptr.
func ValueFromPtr(p *float64) Value {
	if p == nil {
		return Value{}
	}
	return Defined(*p)
}

func (v Value) String() string {
	if !v.ok {
		return "undefined"
	}
	return strconv.FormatFloat(v.v, 'g', -1, 64)
}

// MarshalJSON encodes an undefined value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Defined(f)
	return nil
}
