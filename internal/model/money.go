package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 code accepted by the ledger.
type Currency string

const (
	USD Currency = "USD"
	GBP Currency = "GBP"
	EUR Currency = "EUR"
)

// moneyScale is the number of fractional digits kept in canonical storage.
const moneyScale = 2

// moneyLimit bounds amounts to what NUMERIC(15,2) columns hold.
var moneyLimit = decimal.New(1, 13)

// ParseCurrency normalizes s to upper case and checks it is supported.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case USD, GBP, EUR:
		return c, nil
	}
	return "", Validation("currency", fmt.Sprintf("unsupported currency %q", s))
}

// Money is an exact decimal amount tagged with a currency.
// Values are immutable; every arithmetic method returns a new Money.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney validates the currency and rejects amounts carrying more than
// two fractional digits or more than thirteen integer digits.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	cur, err := ParseCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	if !amount.Truncate(moneyScale).Equal(amount) {
		return Money{}, Validation("amount", fmt.Sprintf("amount %s has more than %d decimal places", amount, moneyScale))
	}
	if amount.Abs().GreaterThanOrEqual(moneyLimit) {
		return Money{}, Validation("amount", fmt.Sprintf("amount %s exceeds 13 integer digits", amount))
	}
	return Money{amount: amount, currency: cur}, nil
}

// ParseMoney parses a decimal string amount.
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, Validation("amount", fmt.Sprintf("invalid decimal amount %q", amount))
	}
	return NewMoney(d, currency)
}

// MustMoney is ParseMoney for literals known to be valid. It panics on error.
func MustMoney(amount string, currency Currency) Money {
	m, err := ParseMoney(amount, string(currency))
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in currency c.
func Zero(c Currency) Money {
	return Money{amount: decimal.Zero, currency: c}
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() Currency      { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsNegative() bool        { return m.amount.IsNegative() }
func (m Money) IsPositive() bool        { return m.amount.IsPositive() }

// Neg returns the amount with its sign flipped.
func (m Money) Neg() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

// Add returns m + o. Both values must share a currency.
func (m Money) Add(o Money) (Money, error) {
	if m.currency != o.currency {
		return Money{}, CurrencyMismatch(m.currency, o.currency)
	}
	return Money{amount: m.amount.Add(o.amount), currency: m.currency}, nil
}

// Sub returns m - o. Both values must share a currency.
func (m Money) Sub(o Money) (Money, error) {
	return m.Add(o.Neg())
}

// MulRound multiplies by factor and rounds half-up to two decimal places.
func (m Money) MulRound(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor).Round(moneyScale), currency: m.currency}
}

// Equal reports whether both amount and currency match. Trailing zeros
// are insignificant: 100 USD equals 100.00 USD.
func (m Money) Equal(o Money) bool {
	return m.currency == o.currency && m.amount.Equal(o.amount)
}

// StringFixed renders the amount with exactly two decimal places.
func (m Money) StringFixed() string {
	return m.amount.StringFixed(moneyScale)
}

func (m Money) String() string {
	return m.StringFixed() + " " + string(m.currency)
}

// snapshotValue is the JSON-native shape used in audit snapshots.
func (m Money) snapshotValue() map[string]any {
	return map[string]any{"amount": m.StringFixed(), "currency": string(m.currency)}
}

type moneyJSON struct {
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency"`
}

// MarshalJSON encodes as {"amount":"100.00","currency":"USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}{m.StringFixed(), string(m.currency)})
}

// UnmarshalJSON accepts the amount as a decimal string or a JSON number.
// Floats are never used on the way in.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Validation("amount", "money must be an object with amount and currency")
	}
	raw.Amount = bytes.TrimSpace(raw.Amount)
	if len(raw.Amount) == 0 || bytes.Equal(raw.Amount, []byte("null")) {
		return Validation("amount", "amount is required")
	}
	text := string(raw.Amount)
	if raw.Amount[0] == '"' {
		if err := json.Unmarshal(raw.Amount, &text); err != nil {
			return Validation("amount", "invalid amount")
		}
	}
	parsed, err := ParseMoney(text, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
