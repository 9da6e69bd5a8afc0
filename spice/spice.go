package spice

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxAmountPerSupplementaryCurrency is the number of supplementary units in one currency unit.
const MaxAmountPerSupplementaryCurrency = 1000000000000000000

const supplementaryExp = 18

var (
	ErrValueOverflow  = errors.New("value overflow")
	ErrNegativeValue  = errors.New("negative value")
	ErrPrecisionLoss  = errors.New("value has more than 18 fractional digits")
	ErrMalformedValue = errors.New("malformed value")
)

var maxCurrency = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// Melange is an exact, non negative monetary amount.
// Currency holds the whole units and SupplementaryCurrency the fraction in 1e-18 units.
type Melange struct {
	Currency              uint64 `yaml:"currency"               msgpack:"currency"               bson:"currency"`
	SupplementaryCurrency uint64 `yaml:"supplementary_currency" msgpack:"supplementary_currency" bson:"supplementary_currency"`
}

// New creates a new spice Melange from given currency and supplementary currency values.
func New(currency, supplementaryCurrency uint64) Melange {
	currency += supplementaryCurrency / MaxAmountPerSupplementaryCurrency
	supplementaryCurrency %= MaxAmountPerSupplementaryCurrency
	return Melange{
		Currency:              currency,
		SupplementaryCurrency: supplementaryCurrency,
	}
}

// FromDecimal converts decimal in to Melange without rounding.
func FromDecimal(d decimal.Decimal) (Melange, error) {
	if d.IsNegative() {
		return Melange{}, ErrNegativeValue
	}
	whole := d.Truncate(0)
	if whole.GreaterThan(maxCurrency) {
		return Melange{}, ErrValueOverflow
	}
	fraction := d.Sub(whole).Shift(supplementaryExp)
	if !fraction.Equal(fraction.Truncate(0)) {
		return Melange{}, ErrPrecisionLoss
	}
	return Melange{
		Currency:              whole.BigInt().Uint64(),
		SupplementaryCurrency: uint64(fraction.IntPart()),
	}, nil
}

// Parse parses decimal text like "8.50" in to Melange.
func Parse(s string) (Melange, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Melange{}, errors.Join(ErrMalformedValue, err)
	}
	return FromDecimal(d)
}

// Decimal returns exact decimal representation.
func (m Melange) Decimal() decimal.Decimal {
	whole := decimal.NewFromBigInt(new(big.Int).SetUint64(m.Currency), 0)
	return whole.Add(decimal.New(int64(m.SupplementaryCurrency), -supplementaryExp))
}

// Multiply returns m multiplied by n.
func (m Melange) Multiply(n int64) (Melange, error) {
	if n < 0 {
		return Melange{}, ErrNegativeValue
	}
	return FromDecimal(m.Decimal().Mul(decimal.NewFromInt(n)))
}

// Add returns sum of m and o.
func (m Melange) Add(o Melange) (Melange, error) {
	return FromDecimal(m.Decimal().Add(o.Decimal()))
}

// Equal compares two amounts.
func (m Melange) Equal(o Melange) bool {
	return m.Currency == o.Currency && m.SupplementaryCurrency == o.SupplementaryCurrency
}

// Empty verifies if is spice empty.
func (m Melange) Empty() bool {
	return m.Currency == 0 && m.SupplementaryCurrency == 0
}

// String returns string representation of spice Melange.
func (m Melange) String() string {
	return m.Decimal().String()
}

// MarshalJSON encodes Melange as a decimal string.
func (m Melange) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes Melange from a decimal string.
func (m *Melange) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Join(ErrMalformedValue, err)
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
