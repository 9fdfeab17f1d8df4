package strategy

import (
	"fmt"

	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/benedict-anokye/forgetrade/internal/indicators"
	"github.com/benedict-anokye/forgetrade/internal/session"
	"github.com/benedict-anokye/forgetrade/internal/sizing"
	"github.com/benedict-anokye/forgetrade/internal/zones"
	"github.com/shopspring/decimal"
)

// meanReversionZoneProximityPips is the §4.4.3 gate-6 tolerance.
const meanReversionZoneProximityPips = 15

// adxRangeThreshold is the §4.4.3 gate-3 range/trend cutoff.
var adxRangeThreshold = decimal.NewFromInt(25)

// rsiOversold / rsiOverbought are the §4.4.3 gate-5 oscillator thresholds.
var rsiOversold = decimal.NewFromInt(30)
var rsiOverbought = decimal.NewFromInt(70)

type meanReversion struct{}

// NewMeanReversion constructs the mean reversion strategy.
func NewMeanReversion() Strategy { return meanReversion{} }

func (meanReversion) ID() string { return "mean_reversion" }

func (meanReversion) GateNames() []string {
	return []string{
		"data_sufficiency", "session", "range_detection", "band_extreme",
		"oscillator_agreement", "zone_proximity", "trend_filter", "stop_target",
	}
}

func (s meanReversion) Evaluate(ctx Context) types.StrategyResult {
	var gates []types.GateResult

	ok, detail := dataSufficient(ctx.Candles, map[types.Granularity]int{
		types.H1:  29,
		types.M15: 21,
		types.H4:  51,
	})
	gates = append(gates, gate("data_sufficiency", ok, detail))
	if !ok {
		return types.VetoResult("insufficient data", gates...)
	}

	h1 := ctx.Candles[types.H1]
	m15 := ctx.Candles[types.M15]
	h4 := ctx.Candles[types.H4]

	admitted := session.Admit(ctx.Now, ctx.Stream.SessionStartHour, ctx.Stream.SessionEndHour)
	gates = append(gates, gate("session", admitted, fmt.Sprintf("hour=%d window=[%d,%d)", ctx.Now.UTC().Hour(), ctx.Stream.SessionStartHour, ctx.Stream.SessionEndHour)))
	if !admitted {
		return types.VetoResult("outside session window", gates...)
	}

	adx, adxOK := indicators.ADX(h1, 14)
	ranging := adxOK && adx.LessThan(adxRangeThreshold)
	gates = append(gates, gate("range_detection", ranging, fmt.Sprintf("adx=%s threshold=%s", adx.String(), adxRangeThreshold.String())))
	if !ranging {
		return types.VetoResult("market is trending", gates...)
	}

	lower, middle, upper, bbOK := indicators.Bollinger(m15, 20, decimal.NewFromInt(2))
	latest := m15[len(m15)-1]
	var dir types.Direction
	bandOK := false
	if bbOK {
		if latest.Close.LessThanOrEqual(lower) {
			dir, bandOK = types.Buy, true
		} else if latest.Close.GreaterThanOrEqual(upper) {
			dir, bandOK = types.Sell, true
		}
	}
	gates = append(gates, gate("band_extreme", bandOK, fmt.Sprintf("close=%s lower=%s upper=%s", latest.Close.String(), lower.String(), upper.String())))
	if !bandOK {
		return types.VetoResult("no band extreme", gates...)
	}

	rsi, rsiOK := indicators.RSI(m15, 14)
	oscillatorOK := rsiOK && ((dir == types.Buy && rsi.LessThan(rsiOversold)) || (dir == types.Sell && rsi.GreaterThan(rsiOverbought)))
	gates = append(gates, gate("oscillator_agreement", oscillatorOK, fmt.Sprintf("rsi=%s dir=%s", rsi.String(), dir)))
	if !oscillatorOK {
		return types.VetoResult("oscillator disagrees with band extreme", gates...)
	}

	pip := sizing.PipSize(ctx.Stream.Instrument)
	tolerance := pip.Mul(decimal.NewFromInt(meanReversionZoneProximityPips))
	h1Tolerance := pip.Mul(decimal.NewFromInt(zones.DefaultTolerancePips))
	h1Zones := zones.Detect(h1, h1Tolerance, zones.DefaultMinStrength, ctx.Now)
	requiredRole := types.Support
	if dir == types.Sell {
		requiredRole = types.Resistance
	}
	var nearZone *types.Zone
	for i := range h1Zones {
		if h1Zones[i].Role != requiredRole {
			continue
		}
		if latest.Close.Sub(h1Zones[i].Level).Abs().LessThanOrEqual(tolerance) {
			z := h1Zones[i]
			nearZone = &z
			break
		}
	}
	gates = append(gates, gate("zone_proximity", nearZone != nil, fmt.Sprintf("role=%s tolerance=%s", requiredRole, tolerance.String())))
	if nearZone == nil {
		return types.VetoResult("no structural zone in proximity", gates...)
	}

	tr, trOK := trendFilterH4(h4)
	counterTrend := (tr == trendBullish && dir == types.Sell) || (tr == trendBearish && dir == types.Buy)
	trendOK := trOK && !counterTrend
	gates = append(gates, gate("trend_filter", trendOK, fmt.Sprintf("trend=%s dir=%s", tr, dir)))
	if !trendOK {
		return types.VetoResult("counter-trend", gates...)
	}

	atr, atrOK := indicators.ATR(h1, 14)
	if !atrOK {
		gates = append(gates, gate("stop_target", false, "ATR(14) unavailable"))
		return types.VetoResult("ATR unavailable", gates...)
	}
	stop, target := sizing.MeanReversionStopTarget(dir, ctx.Stream.Instrument, latest.Close, *nearZone, atr, middle)
	gates = append(gates, gate("stop_target", true, fmt.Sprintf("stop=%s target=%s", stop.String(), target.String())))

	sig := types.EntrySignal{
		Direction:   dir,
		Entry:       latest.Close,
		Stop:        stop,
		Target:      target,
		Zone:        nearZone,
		Reason:      fmt.Sprintf("mean reversion dir=%s adx=%s rsi=%s", dir, adx.String(), rsi.String()),
		Stream:      ctx.Stream.Name,
		EvaluatedAt: ctx.Now,
	}
	if err := sig.Validate(); err != nil {
		gates = append(gates, gate("stop_target", false, err.Error()))
		return types.VetoResult("invalid signal triple", gates...)
	}
	return types.SignalResult(sig)
}
