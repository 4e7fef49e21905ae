package money

import (
	"errors"
	"fmt"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Money is a fixed-point decimal amount tagged with an ISO 4217
// currency code. The zero value is 0 of no currency, which combines
// with any currency in Add/Sub.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// ErrCurrencyMismatch indicates arithmetic across different currencies.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// New builds a Money from a decimal amount in major units.
func New(amount decimal.Decimal, currency string) Money {
	return Money{amount: amount, currency: currency}
}

// Zero returns 0 in the given currency.
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// FromString parses a decimal string into Money.
func FromString(amount, currency string) (Money, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse amount %q: %w", amount, err)
	}
	return Money{amount: dec, currency: currency}, nil
}

// Amount returns the decimal amount in major units.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the currency code.
func (m Money) Currency() string { return m.currency }

func (m Money) IsZero() bool     { return m.amount.IsZero() }
func (m Money) IsNegative() bool { return m.amount.IsNegative() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// Equal reports exact amount and currency equality.
func (m Money) Equal(n Money) bool {
	return m.currency == n.currency && m.amount.Equal(n.amount)
}

// Negate returns the amount with the opposite sign.
func (m Money) Negate() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

// Add returns m + n. The empty currency is weak and adopts the other side.
func (m Money) Add(n Money) (Money, error) {
	cur, err := mergeCurrency(m.currency, n.currency)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(n.amount), currency: cur}, nil
}

// Sub returns m - n.
func (m Money) Sub(n Money) (Money, error) {
	cur, err := mergeCurrency(m.currency, n.currency)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(n.amount), currency: cur}, nil
}

// MulInt scales the amount by an integer quantity.
func (m Money) MulInt(qty int64) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(qty)), currency: m.currency}
}

// MulDec scales the amount by a decimal factor, e.g. an exchange rate.
func (m Money) MulDec(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor), currency: m.currency}
}

// DivInt divides the amount by an integer quantity at full internal
// precision. The caller rounds when presenting.
func (m Money) DivInt(qty int64) Money {
	return Money{amount: m.amount.Div(decimal.NewFromInt(qty)), currency: m.currency}
}

// RoundToMinorUnit rounds half-to-even at the currency's minor-unit
// precision (2 for USD, 0 for JPY, ...).
func (m Money) RoundToMinorUnit() Money {
	return Money{amount: m.amount.RoundBank(int32(MinorUnits(m.currency))), currency: m.currency}
}

// String renders the amount at minor-unit precision with the code,
// e.g. "104.50 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixedBank(int32(MinorUnits(m.currency))), m.currency)
}

// MinorUnits returns the number of minor-unit digits for a currency
// code, defaulting to 2 when the code is unknown to the registry.
func MinorUnits(code string) int {
	if cur := gomoney.GetCurrency(code); cur != nil {
		return cur.Fraction
	}
	return 2
}

func mergeCurrency(a, b string) (string, error) {
	switch {
	case a == "":
		return b, nil
	case b == "", a == b:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a, b)
	}
}
