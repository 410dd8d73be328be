package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a monetary amount in integer minor units (euro cents).
// Stored as bigint so sums stay exact in SQL as well as in Go.
type Cents int64

var hundred = decimal.NewFromInt(100)

// FromDecimal converts a major-unit decimal to cents, rounding half away from zero.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Mul(hundred).Round(0).IntPart())
}

// Parse reads a major-unit string such as "12.30".
func Parse(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Cents {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Decimal returns the amount in major units.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String formats the amount with two decimal places.
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// MulPercent returns c × pct / 100 rounded to the cent.
func (c Cents) MulPercent(pct decimal.Decimal) Cents {
	return FromDecimal(c.Decimal().Mul(pct).Div(hundred))
}

// InclusivePart extracts the tax share of a tax-inclusive amount: c × pct / (100 + pct),
// rounded to the cent.
func (c Cents) InclusivePart(pct decimal.Decimal) Cents {
	if pct.IsZero() {
		return 0
	}
	return FromDecimal(c.Decimal().Mul(pct).Div(hundred.Add(pct)))
}

// Sum adds amounts.
func Sum(amounts ...Cents) Cents {
	var total Cents
	for _, a := range amounts {
		total += a
	}
	return total
}
