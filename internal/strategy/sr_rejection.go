package strategy

import (
	"fmt"

	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/benedict-anokye/forgetrade/internal/indicators"
	"github.com/benedict-anokye/forgetrade/internal/sizing"
	"github.com/benedict-anokye/forgetrade/internal/zones"
	"github.com/benedict-anokye/forgetrade/internal/session"
	"github.com/shopspring/decimal"
)

// srRejection implements the S/R Rejection (swing) strategy: §4.4.1.
//
// Gate 4 (trend filter) and gate 5 (zone proximity) are interdependent —
// the trend filter is a property of the whole H4 series, but the traded
// direction is only known once a touched zone resolves its acting role at
// gate 6. The trend is therefore computed unconditionally at gate 4 (it
// never vetoes on its own: bullish/bearish/flat are all valid outcomes),
// and the counter-trend rejection named in §4.4.1 gate 4 is applied once
// proximity (gate 5) resolves a candidate direction, recorded under the
// "proximity" diagnostic to keep the reported sequence matching gate
// order.
type srRejection struct{}

// NewSRRejection constructs the S/R rejection strategy.
func NewSRRejection() Strategy { return srRejection{} }

func (srRejection) ID() string { return "sr_rejection" }

func (srRejection) GateNames() []string {
	return []string{
		"data_sufficiency", "session", "zone_availability",
		"trend_filter", "proximity", "rejection_wick", "stop_target",
	}
}

func (s srRejection) Evaluate(ctx Context) types.StrategyResult {
	var gates []types.GateResult

	ok, detail := dataSufficient(ctx.Candles, map[types.Granularity]int{
		types.D1: 51,
		types.H4: 51,
	})
	gates = append(gates, gate("data_sufficiency", ok, detail))
	if !ok {
		return types.VetoResult("insufficient data", gates...)
	}

	daily := ctx.Candles[types.D1]
	h4 := ctx.Candles[types.H4]
	latestH4 := h4[len(h4)-1]

	admitted := session.Admit(ctx.Now, ctx.Stream.SessionStartHour, ctx.Stream.SessionEndHour)
	gates = append(gates, gate("session", admitted, fmt.Sprintf("hour=%d window=[%d,%d)", ctx.Now.UTC().Hour(), ctx.Stream.SessionStartHour, ctx.Stream.SessionEndHour)))
	if !admitted {
		return types.VetoResult("outside session window", gates...)
	}

	pip := sizing.PipSize(ctx.Stream.Instrument)
	tolerance := pip.Mul(decimal.NewFromInt(zones.DefaultTolerancePips))
	detectedZones := zones.Detect(daily, tolerance, zones.DefaultMinStrength, ctx.Now)
	gates = append(gates, gate("zone_availability", len(detectedZones) > 0, fmt.Sprintf("%d zones detected", len(detectedZones))))
	if len(detectedZones) == 0 {
		return types.VetoResult("no zones available", gates...)
	}

	tr, trOK := trendFilterH4(h4)
	gates = append(gates, gate("trend_filter", trOK, fmt.Sprintf("trend=%s", tr)))
	if !trOK {
		return types.VetoResult("trend undetermined", gates...)
	}

	touched := zones.Nearest(detectedZones, latestH4.Close)
	proximityOK := touched != nil && zones.Touching(latestH4, *touched)
	var dir types.Direction
	var flipped bool
	if proximityOK {
		actingRole, f := touched.ActingRole(latestH4.Close)
		flipped = f
		if actingRole == types.Support {
			dir = types.Buy
		} else {
			dir = types.Sell
		}
		if tr == trendBullish && dir == types.Sell {
			proximityOK = false
		}
		if tr == trendBearish && dir == types.Buy {
			proximityOK = false
		}
	}
	gates = append(gates, gate("proximity", proximityOK, fmt.Sprintf("touched=%v flipped=%v trend=%s", touched != nil, flipped, tr)))
	if !proximityOK {
		return types.VetoResult("no zone touch aligned with trend", gates...)
	}

	wick := rejectionWick(latestH4, dir)
	gates = append(gates, gate("rejection_wick", wick, fmt.Sprintf("body=%s dir=%s", latestH4.Body().String(), dir)))
	if !wick {
		return types.VetoResult("no rejection wick", gates...)
	}

	atr, atrOK := indicators.ATR(daily, 14)
	if !atrOK {
		gates = append(gates, gate("stop_target", false, "ATR(14) unavailable"))
		return types.VetoResult("ATR unavailable", gates...)
	}

	nearestAway := zones.NearestInDirection(detectedZones, latestH4.Close, dir, touched.Level)
	stop, target, vetoReason := sizing.ZoneAnchoredStopTarget(dir, latestH4.Close, atr, ctx.Stream.TargetRR, nearestAway)
	if vetoReason != "" {
		gates = append(gates, gate("stop_target", false, vetoReason))
		return types.VetoResult(vetoReason, gates...)
	}
	gates = append(gates, gate("stop_target", true, fmt.Sprintf("stop=%s target=%s", stop.String(), target.String())))

	roleNote := "original"
	if flipped {
		roleNote = "flipped"
	}
	sig := types.EntrySignal{
		Direction:   dir,
		Entry:       latestH4.Close,
		Stop:        stop,
		Target:      target,
		Zone:        touched,
		Reason:      fmt.Sprintf("rejection at %s zone (%s role), trend=%s", touched.Level.String(), roleNote, tr),
		Stream:      ctx.Stream.Name,
		EvaluatedAt: ctx.Now,
	}
	if err := sig.Validate(); err != nil {
		gates = append(gates, gate("stop_target", false, err.Error()))
		return types.VetoResult("invalid signal triple", gates...)
	}
	return types.SignalResult(sig)
}
