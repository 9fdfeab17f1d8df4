package strategy

import (
	"fmt"

	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/benedict-anokye/forgetrade/internal/indicators"
	"github.com/benedict-anokye/forgetrade/internal/session"
	"github.com/benedict-anokye/forgetrade/internal/sizing"
	"github.com/shopspring/decimal"
)

// momentumBiasWindow is the number of M5 candles examined for bias.
const momentumBiasWindow = 15

// swingSearchWindow is how many trailing M5 candles are scanned for the
// most recent swing low/high used as the scalp stop basis.
const swingSearchWindow = 10

// swingLookbackBars is the ±k bar window for swing detection in the scalp
// stop basis, per §4.5's "±2-bar window".
const swingLookbackBars = 2

type momentumScalp struct{}

// NewMomentumScalp constructs the momentum scalp strategy.
func NewMomentumScalp() Strategy { return momentumScalp{} }

func (momentumScalp) ID() string { return "momentum_scalp" }

func (momentumScalp) GateNames() []string {
	return []string{
		"data_sufficiency", "session", "momentum_bias", "volatility",
		"spread", "pullback", "confirmation", "stop_target",
	}
}

func volatilityFloor(instrument string) decimal.Decimal {
	pip := sizing.PipSize(instrument)
	if sizing.IsBullion(instrument) {
		return pip.Mul(decimal.NewFromInt(80))
	}
	return pip.Mul(decimal.NewFromInt(5))
}

func spreadCeiling(instrument string) decimal.Decimal {
	pip := sizing.PipSize(instrument)
	if sizing.IsBullion(instrument) {
		return pip.Mul(decimal.NewFromInt(10))
	}
	return pip.Mul(decimal.NewFromInt(2))
}

func pullbackTolerance(instrument string) decimal.Decimal {
	pip := sizing.PipSize(instrument)
	if sizing.IsBullion(instrument) {
		return pip.Mul(decimal.NewFromInt(50))
	}
	return pip.Mul(decimal.NewFromInt(10))
}

func (s momentumScalp) Evaluate(ctx Context) types.StrategyResult {
	var gates []types.GateResult

	ok, detail := dataSufficient(ctx.Candles, map[types.Granularity]int{
		types.M5: momentumBiasWindow + 10,
		types.M1: 21,
	})
	gates = append(gates, gate("data_sufficiency", ok, detail))
	if !ok {
		return types.VetoResult("insufficient data", gates...)
	}

	m5 := ctx.Candles[types.M5]
	m1 := ctx.Candles[types.M1]

	admitted := session.AdmitWithEndBuffer(ctx.Now, ctx.Stream.SessionStartHour, ctx.Stream.SessionEndHour, session.ScalpEndBufferMinutes)
	gates = append(gates, gate("session", admitted, fmt.Sprintf("hour=%d window=[%d,%d) buffer=%dm", ctx.Now.UTC().Hour(), ctx.Stream.SessionStartHour, ctx.Stream.SessionEndHour, session.ScalpEndBufferMinutes)))
	if !admitted {
		return types.VetoResult("outside session window", gates...)
	}

	window := m5[len(m5)-momentumBiasWindow:]
	bullishCount := 0
	for _, c := range window {
		if c.Bullish() {
			bullishCount++
		}
	}
	bearishCount := momentumBiasWindow - bullishCount
	pip := sizing.PipSize(ctx.Stream.Instrument)
	netMove := window[len(window)-1].Close.Sub(window[0].Close)
	threshold := decimal.NewFromFloat(0.6 * momentumBiasWindow)

	var dir types.Direction
	biasOK := false
	if decimal.NewFromInt(int64(bullishCount)).GreaterThanOrEqual(threshold) && netMove.GreaterThanOrEqual(pip) {
		dir, biasOK = types.Buy, true
	} else if decimal.NewFromInt(int64(bearishCount)).GreaterThanOrEqual(threshold) && netMove.Neg().GreaterThanOrEqual(pip) {
		dir, biasOK = types.Sell, true
	}
	gates = append(gates, gate("momentum_bias", biasOK, fmt.Sprintf("bullish=%d bearish=%d net=%s", bullishCount, bearishCount, netMove.String())))
	if !biasOK {
		return types.VetoResult("no momentum bias", gates...)
	}

	atr, atrOK := indicators.ATR(m5, 14)
	floor := volatilityFloor(ctx.Stream.Instrument)
	volOK := atrOK && atr.GreaterThanOrEqual(floor)
	gates = append(gates, gate("volatility", volOK, fmt.Sprintf("atr=%s floor=%s", atr.String(), floor.String())))
	if !volOK {
		return types.VetoResult("volatility below floor", gates...)
	}

	spreadWindow := m1[len(m1)-20:]
	minRange := spreadWindow[0].Range()
	for _, c := range spreadWindow[1:] {
		if c.Range().LessThan(minRange) {
			minRange = c.Range()
		}
	}
	ceiling := spreadCeiling(ctx.Stream.Instrument)
	spreadOK := minRange.LessThanOrEqual(ceiling)
	gates = append(gates, gate("spread", spreadOK, fmt.Sprintf("min_range=%s ceiling=%s", minRange.String(), ceiling.String())))
	if !spreadOK {
		return types.VetoResult("spread above ceiling", gates...)
	}

	ema9, emaOK := indicators.EMA(m5, 9)
	latest := m5[len(m5)-1]
	tolerance := pullbackTolerance(ctx.Stream.Instrument)
	pullbackOK := emaOK && latest.Close.Sub(ema9).Abs().LessThanOrEqual(tolerance)
	gates = append(gates, gate("pullback", pullbackOK, fmt.Sprintf("close=%s ema9=%s tolerance=%s", latest.Close.String(), ema9.String(), tolerance.String())))
	if !pullbackOK {
		return types.VetoResult("no pullback to EMA9", gates...)
	}

	confirmed, pattern := confirmationPattern(m5, dir)
	gates = append(gates, gate("confirmation", confirmed, pattern))
	if !confirmed {
		return types.VetoResult("no confirmation pattern", gates...)
	}

	swingLevel, swingOK := recentSwingLevel(m5, dir)
	if !swingOK {
		gates = append(gates, gate("stop_target", false, "no recent swing level"))
		return types.VetoResult("no swing level for stop basis", gates...)
	}

	stop, target := sizing.ScalpStopTarget(dir, ctx.Stream.Instrument, latest.Close, swingLevel)
	gates = append(gates, gate("stop_target", true, fmt.Sprintf("stop=%s target=%s", stop.String(), target.String())))

	sig := types.EntrySignal{
		Direction:   dir,
		Entry:       latest.Close,
		Stop:        stop,
		Target:      target,
		Reason:      fmt.Sprintf("momentum scalp bias=%s pattern=%s", dir, pattern),
		Stream:      ctx.Stream.Name,
		EvaluatedAt: ctx.Now,
	}
	if err := sig.Validate(); err != nil {
		gates = append(gates, gate("stop_target", false, err.Error()))
		return types.VetoResult("invalid signal triple", gates...)
	}
	return types.SignalResult(sig)
}

// recentSwingLevel finds the most recent swing low (buy) or high (sell)
// within the trailing swingSearchWindow M5 candles.
func recentSwingLevel(m5 []types.Candle, dir types.Direction) (decimal.Decimal, bool) {
	start := len(m5) - swingSearchWindow - swingLookbackBars
	if start < swingLookbackBars {
		start = swingLookbackBars
	}
	for i := len(m5) - 1 - swingLookbackBars; i >= start; i-- {
		if dir == types.Buy && indicators.SwingLow(m5, i, swingLookbackBars) {
			return m5[i].Low, true
		}
		if dir == types.Sell && indicators.SwingHigh(m5, i, swingLookbackBars) {
			return m5[i].High, true
		}
	}
	return decimal.Zero, false
}
