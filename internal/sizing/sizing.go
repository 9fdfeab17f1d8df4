// Package sizing implements the Risk Sizer and Stop-Target Engine: position
// sizing from equity and stop distance, plus per-strategy-family stop/target
// derivation.
package sizing

import (
	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/shopspring/decimal"
)

// Result carries either a sized position or a veto reason.
type Result struct {
	Units    decimal.Decimal
	VetoedOn string
}

// Size computes position units from equity, risk percent, entry, and stop,
// rounding toward zero to the broker-supported granularity (whole units for
// most instruments, two decimals for metals). Returns VetoedOn set when the
// stop is too tight or the resulting size rounds below the minimum
// tradable unit.
func Size(instrument string, equity, riskPercent, entry, stop decimal.Decimal) Result {
	pip := PipSize(instrument)
	stopPips := entry.Sub(stop).Abs().Div(pip)
	if stopPips.IsZero() {
		return Result{VetoedOn: "stop too tight"}
	}

	riskCash := equity.Mul(riskPercent).Div(decimal.NewFromInt(100))
	pipVal := PipValue(instrument, entry)
	raw := riskCash.Div(stopPips.Mul(pipVal))

	units := roundUnits(instrument, raw)
	if units.LessThan(decimal.NewFromInt(1)) {
		return Result{VetoedOn: "size below minimum"}
	}
	return Result{Units: units}
}

func roundUnits(instrument string, raw decimal.Decimal) decimal.Decimal {
	if IsBullion(instrument) {
		return raw.Truncate(2)
	}
	return raw.Truncate(0)
}

// ZoneAnchoredStopTarget derives the S/R rejection strategy's stop/target
// pair. atr is ATR(14) on daily candles; targetRR is the stream's configured
// minimum R:R; nearestZone is the nearest zone in the profit direction
// excluding the triggering zone (nil if none).
func ZoneAnchoredStopTarget(dir types.Direction, entry, atr, targetRR decimal.Decimal, nearestZone *types.Zone) (stop, target decimal.Decimal, vetoedOn string) {
	var tp decimal.Decimal
	if nearestZone != nil {
		tp = nearestZone.Level
	} else {
		offset := atr.Mul(decimal.NewFromInt(2)).Mul(targetRR)
		if dir == types.Buy {
			tp = entry.Add(offset)
		} else {
			tp = entry.Sub(offset)
		}
	}

	tpDistance := tp.Sub(entry).Abs()
	if tpDistance.LessThan(atr) {
		return decimal.Zero, decimal.Zero, "target too close to entry"
	}

	slDistance := tpDistance.Div(targetRR)
	minSL := atr.Mul(decimal.NewFromFloat(0.5))
	maxSL := atr.Mul(decimal.NewFromInt(2))
	if slDistance.LessThan(minSL) {
		slDistance = minSL
	} else if slDistance.GreaterThan(maxSL) {
		slDistance = maxSL
	}
	if slDistance.GreaterThan(tpDistance) {
		return decimal.Zero, decimal.Zero, "stop wider than target after clamp"
	}

	if dir == types.Buy {
		stop = entry.Sub(slDistance)
	} else {
		stop = entry.Add(slDistance)
	}
	return stop, tp, ""
}

// ScalpStopTarget derives the momentum scalp strategy's stop/target pair.
// swingLevel is the recent M5 swing low (buy) or high (sell) within the
// ±2-bar window; instrument selects the pip-vs-dollar offset/clamp units.
func ScalpStopTarget(dir types.Direction, instrument string, entry, swingLevel decimal.Decimal) (stop, target decimal.Decimal) {
	pip := PipSize(instrument)
	offset := pip.Mul(decimal.NewFromInt(30))

	var stopDistance decimal.Decimal
	if dir == types.Buy {
		stopDistance = entry.Sub(swingLevel.Sub(offset))
	} else {
		stopDistance = swingLevel.Add(offset).Sub(entry)
	}
	stopDistance = stopDistance.Abs()

	minClamp := pip.Mul(decimal.NewFromInt(200))
	maxClamp := pip.Mul(decimal.NewFromInt(800))
	if stopDistance.LessThan(minClamp) {
		stopDistance = minClamp
	} else if stopDistance.GreaterThan(maxClamp) {
		stopDistance = maxClamp
	}

	targetDistance := stopDistance.Mul(decimal.NewFromFloat(1.5))

	if dir == types.Buy {
		stop = entry.Sub(stopDistance)
		target = entry.Add(targetDistance)
	} else {
		stop = entry.Add(stopDistance)
		target = entry.Sub(targetDistance)
	}
	return stop, target
}

// TrailScalpStop advances a scalp position's stop monotonically: to
// breakeven once unrealised R reaches 1.0, then trailing at 0.5R behind the
// current price once R reaches 1.5. currentR is (price-entry)/(entry-stop)
// expressed in the trade's favour; the returned stop never moves against
// the trade relative to currentStop.
func TrailScalpStop(dir types.Direction, entry, currentStop, currentPrice, currentR decimal.Decimal) decimal.Decimal {
	half := decimal.NewFromFloat(0.5)
	candidate := currentStop

	if currentR.GreaterThanOrEqual(decimal.NewFromFloat(1.5)) {
		riskDistance := entry.Sub(currentStop).Abs()
		trailDistance := riskDistance.Mul(half)
		if dir == types.Buy {
			candidate = currentPrice.Sub(trailDistance)
		} else {
			candidate = currentPrice.Add(trailDistance)
		}
	} else if currentR.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		candidate = entry
	}

	if dir == types.Buy && candidate.GreaterThan(currentStop) {
		return candidate
	}
	if dir == types.Sell && candidate.LessThan(currentStop) {
		return candidate
	}
	return currentStop
}

// MeanReversionStopTarget derives the mean-reversion strategy's stop/target
// pair. zone is the nearby structural support/resistance; atr is H1 ATR(14)
// used as the boundary buffer; bollingerMiddle is the Bollinger(20,2)
// middle band, used as the target.
func MeanReversionStopTarget(dir types.Direction, instrument string, entry decimal.Decimal, zone types.Zone, atr, bollingerMiddle decimal.Decimal) (stop, target decimal.Decimal) {
	pip := PipSize(instrument)
	var stopDistance decimal.Decimal
	if dir == types.Buy {
		stopDistance = entry.Sub(zone.Level.Sub(atr))
	} else {
		stopDistance = zone.Level.Add(atr).Sub(entry)
	}
	stopDistance = stopDistance.Abs()

	minClamp := pip.Mul(decimal.NewFromInt(10))
	maxClamp := pip.Mul(decimal.NewFromInt(50))
	if stopDistance.LessThan(minClamp) {
		stopDistance = minClamp
	} else if stopDistance.GreaterThan(maxClamp) {
		stopDistance = maxClamp
	}

	if dir == types.Buy {
		stop = entry.Sub(stopDistance)
	} else {
		stop = entry.Add(stopDistance)
	}
	return stop, bollingerMiddle
}
