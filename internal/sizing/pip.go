package sizing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PipSize returns the minimal conventional price increment for an
// instrument: 0.01 for JPY pairs and metals, 0.0001 otherwise.
func PipSize(instrument string) decimal.Decimal {
	upper := strings.ToUpper(instrument)
	if strings.Contains(upper, "JPY") || strings.HasPrefix(upper, "XAU") || strings.HasPrefix(upper, "XAG") {
		return decimal.New(1, -2)
	}
	return decimal.New(1, -4)
}

// PipValue returns the cash value of one pip for one unit of the
// instrument at the given price. For the instruments this engine targets
// the per-unit pip value is the pip size itself expressed in quote-currency
// terms, which holds for USD-quoted FX pairs and USD-quoted metals.
func PipValue(instrument string, price decimal.Decimal) decimal.Decimal {
	return PipSize(instrument)
}

// IsBullion reports whether the instrument is a metal quoted in dollars
// (e.g. XAU_USD) rather than in pips.
func IsBullion(instrument string) bool {
	upper := strings.ToUpper(instrument)
	return strings.HasPrefix(upper, "XAU") || strings.HasPrefix(upper, "XAG")
}
