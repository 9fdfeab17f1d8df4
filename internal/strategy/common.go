package strategy

import (
	"fmt"

	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/benedict-anokye/forgetrade/internal/indicators"
	"github.com/shopspring/decimal"
)

// trend is the H4 trend-filter verdict shared by S/R rejection and
// mean reversion.
type trend string

const (
	trendBullish trend = "bullish"
	trendBearish trend = "bearish"
	trendFlat    trend = "flat"
)

// dataSufficient checks that every required granularity has at least the
// requested candle count, returning a diagnostic detail string either way.
func dataSufficient(candles map[types.Granularity][]types.Candle, reqs map[types.Granularity]int) (bool, string) {
	for g, min := range reqs {
		series, ok := candles[g]
		if !ok || len(series) < min {
			return false, fmt.Sprintf("missing or insufficient %s candles (need %d)", g, min)
		}
	}
	return true, "all required granularities present"
}

// trendFilterH4 derives bullish/bearish/flat from EMA(21)/EMA(50) crossover
// plus the latest close's position relative to the EMAs.
func trendFilterH4(h4 []types.Candle) (trend, bool) {
	ema21, ok1 := indicators.EMA(h4, 21)
	ema50, ok2 := indicators.EMA(h4, 50)
	if !ok1 || !ok2 {
		return trendFlat, false
	}
	close := h4[len(h4)-1].Close

	if ema21.GreaterThan(ema50) && close.GreaterThan(ema21) {
		return trendBullish, true
	}
	if ema21.LessThan(ema50) && close.LessThan(ema21) {
		return trendBearish, true
	}
	return trendFlat, true
}

// rejectionWick reports whether the candle's shadow opposite dir is at
// least 1.0x its body; a doji (near-zero body) counts as pure wick.
func rejectionWick(c types.Candle, dir types.Direction) bool {
	body := c.Body()
	var oppositeShadow decimal.Decimal
	if dir == types.Buy {
		oppositeShadow = c.LowerShadow()
	} else {
		oppositeShadow = c.UpperShadow()
	}
	if body.IsZero() {
		return oppositeShadow.GreaterThan(decimal.Zero)
	}
	return oppositeShadow.GreaterThanOrEqual(body)
}

// strongBody reports whether |close-open| is at least 0.6x the candle's
// high-low range.
func strongBody(c types.Candle) bool {
	rng := c.Range()
	if rng.IsZero() {
		return false
	}
	return c.Body().GreaterThanOrEqual(rng.Mul(decimal.NewFromFloat(0.6)))
}

// engulfing reports whether the latest candle's body fully engulfs the
// prior candle's body in the bias direction.
func engulfing(prev, cur types.Candle, bias types.Direction) bool {
	if bias == types.Buy {
		return cur.Bullish() && !prev.Bullish() && cur.Open.LessThanOrEqual(prev.Close) && cur.Close.GreaterThanOrEqual(prev.Open)
	}
	return !cur.Bullish() && prev.Bullish() && cur.Open.GreaterThanOrEqual(prev.Close) && cur.Close.LessThanOrEqual(prev.Open)
}

// hammerOrShootingStar reports whether cur is a hammer (buy bias) or
// shooting star (sell bias): a small body with a long shadow opposite the
// bias direction of at least 2x the body.
func hammerOrShootingStar(cur types.Candle, bias types.Direction) bool {
	body := cur.Body()
	if body.IsZero() {
		return false
	}
	if bias == types.Buy {
		return cur.LowerShadow().GreaterThanOrEqual(body.Mul(decimal.NewFromInt(2))) && cur.UpperShadow().LessThan(body)
	}
	return cur.UpperShadow().GreaterThanOrEqual(body.Mul(decimal.NewFromInt(2))) && cur.LowerShadow().LessThan(body)
}

// pinBar reports a rejection-wick candle (see rejectionWick) with a small
// body relative to its range, in the bias direction.
func pinBar(cur types.Candle, bias types.Direction) bool {
	rng := cur.Range()
	if rng.IsZero() {
		return false
	}
	smallBody := cur.Body().LessThanOrEqual(rng.Mul(decimal.NewFromFloat(0.3)))
	return smallBody && rejectionWick(cur, bias)
}

// twoConsecutiveSameDirection reports whether the last two candles both
// closed in the bias direction.
func twoConsecutiveSameDirection(series []types.Candle, bias types.Direction) bool {
	if len(series) < 2 {
		return false
	}
	a, b := series[len(series)-2], series[len(series)-1]
	if bias == types.Buy {
		return a.Bullish() && b.Bullish()
	}
	return !a.Bullish() && !b.Bullish()
}

// confirmationPattern reports whether the latest candle(s) in series
// confirm bias via engulfing, hammer/shooting star, pin bar, two
// consecutive same-direction closes, or a strong body candle.
func confirmationPattern(series []types.Candle, bias types.Direction) (bool, string) {
	n := len(series)
	if n < 2 {
		return false, "insufficient candles for pattern check"
	}
	cur := series[n-1]
	prev := series[n-2]

	switch {
	case engulfing(prev, cur, bias):
		return true, "engulfing"
	case hammerOrShootingStar(cur, bias):
		return true, "hammer_or_shooting_star"
	case pinBar(cur, bias):
		return true, "pin_bar"
	case twoConsecutiveSameDirection(series, bias):
		return true, "two_consecutive"
	case strongBody(cur) && ((bias == types.Buy) == cur.Bullish()):
		return true, "strong_body"
	default:
		return false, "no confirmation pattern"
	}
}

func gate(name string, passed bool, detail string) types.GateResult {
	return types.GateResult{Name: name, Passed: passed, Detail: detail}
}
