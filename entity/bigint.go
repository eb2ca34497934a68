package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
)

// BigInt is an arbitrary precision amount stored as NUMERIC and encoded as a decimal string in JSON.
type BigInt struct {
	big.Int
}

func NewBigInt(v *big.Int) *BigInt {
	res := new(BigInt)
	if v != nil {
		res.Set(v)
	}
	return res
}

// Big returns a copy that is safe to mutate.
func (b *BigInt) Big() *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(&b.Int)
}

func (b BigInt) Value() (driver.Value, error) {
	return b.String(), nil
}

func (b *BigInt) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		b.SetInt64(v)
		return nil
	default:
		return fmt.Errorf("can't scan %T into BigInt", src)
	}
	if _, ok := b.SetString(s, 10); !ok {
		return fmt.Errorf("can't parse %q as integer", s)
	}
	return nil
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := string(data)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	if _, ok := b.SetString(s, 10); !ok {
		return fmt.Errorf("invalid integer %s: %w", string(data), ErrValidation)
	}
	return nil
}

func (b *BigInt) Clone() *BigInt {
	if b == nil {
		return nil
	}
	return NewBigInt(&b.Int)
}
