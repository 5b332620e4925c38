package pricing

import (
	"errors"
	"math"
)

// TaxRatePercent is the flat consultation tax.
const TaxRatePercent = 18

// MaxFee is the largest fee whose tax and total fit in an int64.
const MaxFee = (math.MaxInt64 - 50) / (100 + TaxRatePercent)

var (
	ErrInvalidFee  = errors.New("fee must not be negative")
	ErrFeeTooLarge = errors.New("fee exceeds the supported maximum")
)

// Quote is a priced consultation in minor currency units.
type Quote struct {
	Fee   int64
	Tax   int64
	Total int64
}

// QuoteFee applies the tax to fee, rounding half up. Only the tax is rounded;
// the fee is carried as given. A zero fee quotes to zero.
func QuoteFee(fee int64) (Quote, error) {
	switch {
	case fee < 0:
		return Quote{}, ErrInvalidFee
	case fee > MaxFee:
		return Quote{}, ErrFeeTooLarge
	}
	tax := (fee*TaxRatePercent + 50) / 100
	return Quote{Fee: fee, Tax: tax, Total: fee + tax}, nil
}
