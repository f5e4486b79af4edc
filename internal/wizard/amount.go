package wizard

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// maxAmountDecimals bounds the precision users may type.
	maxAmountDecimals = 6
	// maxAmountLen bounds the raw input. Longer text is never a real amount.
	maxAmountLen = 40
	// maxAmountExponent bounds the decimal exponent so scaling stays cheap.
	maxAmountExponent = 30
)

var (
	errAmountFormat    = errors.New("amount must be a number")
	errAmountPositive  = errors.New("amount must be greater than zero")
	errAmountPrecision = fmt.Errorf("amount may have at most %d decimals", maxAmountDecimals)
	errAmountTooLarge  = errors.New("amount is too large")
)

// ParseAmount converts a decimal string into token base units. The exponent
// is checked before any rounding or scaling: "1e20000000" would otherwise
// expand to a number with millions of digits.
func ParseAmount(text string, tokenDecimals uint8) (*big.Int, error) {
	text = strings.TrimSpace(text)
	if len(text) > maxAmountLen {
		return nil, errAmountTooLarge
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, errAmountFormat
	}
	if !d.IsPositive() {
		return nil, errAmountPositive
	}
	switch exp := d.Exponent(); {
	case exp > maxAmountExponent:
		return nil, errAmountTooLarge
	case exp < -maxAmountLen:
		return nil, errAmountPrecision
	}
	if !d.Round(maxAmountDecimals).Equal(d) {
		return nil, errAmountPrecision
	}
	units := d.Shift(int32(tokenDecimals))
	if !units.IsInteger() {
		return nil, errAmountPrecision
	}
	return units.BigInt(), nil
}

// FormatAmount renders base units as a decimal string.
func FormatAmount(v *big.Int, tokenDecimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(tokenDecimals)).String()
}
