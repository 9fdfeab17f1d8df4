// Package indicators implements pure numeric primitives over ordered candle
// series: ATR, EMA, RSI, ADX and Bollinger Bands, all via Wilder smoothing
// where the source system specifies it, plus swing-high/low detection. Every
// function is stateless — no indicator carries memory between calls — and
// each requires a minimum priming window of candles; below that window a
// function returns its zero value and false, which callers must treat as an
// absent value (and therefore a veto).
package indicators

import (
	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// trueRange returns the true range of candle i given the prior close.
func trueRange(c types.Candle, prevClose decimal.Decimal) decimal.Decimal {
	hl := c.High.Sub(c.Low)
	hc := c.High.Sub(prevClose).Abs()
	lc := c.Low.Sub(prevClose).Abs()
	return decimal.Max(hl, decimal.Max(hc, lc))
}

// ATR computes the Average True Range over n periods via Wilder smoothing.
// Candles must be ordered oldest-first. Requires at least n+1 candles (n
// true-range samples); the seed ATR is the simple average of the first n
// true ranges, then each subsequent candle advances the Wilder recurrence
// atr = (prevATR*(n-1) + TR) / n. Returns the latest (most recent) value.
func ATR(candles []types.Candle, n int) (decimal.Decimal, bool) {
	if n <= 0 || len(candles) < n+1 {
		return decimal.Zero, false
	}
	nd := decimal.NewFromInt(int64(n))

	sum := decimal.Zero
	for i := 1; i <= n; i++ {
		sum = sum.Add(trueRange(candles[i], candles[i-1].Close))
	}
	atr := sum.Div(nd)

	for i := n + 1; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1].Close)
		atr = atr.Mul(nd.Sub(decimal.NewFromInt(1))).Add(tr).Div(nd)
	}
	return atr, true
}

// EMA computes the Exponential Moving Average over n periods. Requires at
// least n+1 closes: the seed is the simple average of the first n closes,
// then the standard EMA recurrence advances through the remaining closes
// with multiplier 2/(n+1).
func EMA(candles []types.Candle, n int) (decimal.Decimal, bool) {
	if n <= 0 || len(candles) < n+1 {
		return decimal.Zero, false
	}
	nd := decimal.NewFromInt(int64(n))
	mult := two.Div(nd.Add(decimal.NewFromInt(1)))

	sum := decimal.Zero
	for i := 0; i < n; i++ {
		sum = sum.Add(candles[i].Close)
	}
	ema := sum.Div(nd)

	for i := n; i < len(candles); i++ {
		ema = candles[i].Close.Sub(ema).Mul(mult).Add(ema)
	}
	return ema, true
}

// RSI computes the Relative Strength Index over n periods via average
// gain/loss Wilder smoothing. Requires at least n+1 closes (n price
// changes); the seed average gain/loss is the simple average of the first n
// changes, then the Wilder recurrence advances through any further closes.
func RSI(candles []types.Candle, n int) (decimal.Decimal, bool) {
	if n <= 0 || len(candles) < n+1 {
		return decimal.Zero, false
	}
	nd := decimal.NewFromInt(int64(n))

	gainSum, lossSum := decimal.Zero, decimal.Zero
	for i := 1; i <= n; i++ {
		delta := candles[i].Close.Sub(candles[i-1].Close)
		if delta.GreaterThan(decimal.Zero) {
			gainSum = gainSum.Add(delta)
		} else {
			lossSum = lossSum.Add(delta.Abs())
		}
	}
	avgGain := gainSum.Div(nd)
	avgLoss := lossSum.Div(nd)

	for i := n + 1; i < len(candles); i++ {
		delta := candles[i].Close.Sub(candles[i-1].Close)
		gain, loss := decimal.Zero, decimal.Zero
		if delta.GreaterThan(decimal.Zero) {
			gain = delta
		} else {
			loss = delta.Abs()
		}
		avgGain = avgGain.Mul(nd.Sub(decimal.NewFromInt(1))).Add(gain).Div(nd)
		avgLoss = avgLoss.Mul(nd.Sub(decimal.NewFromInt(1))).Add(loss).Div(nd)
	}

	if avgLoss.IsZero() {
		return decimal.NewFromInt(100), true
	}
	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	rsi := hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
	return rsi, true
}

// ADX computes the Average Directional Index over n periods via the
// (+DI, -DI, DX) Wilder chain. Producing a smoothed ADX (rather than a bare
// DX reading) needs enough bars to both prime the directional-movement
// smoothing and then prime a second-stage average of DX itself, so ADX's
// priming window is 2n candles (wider than the n+1 floor shared by the
// other indicators) — below that, only a raw DX value would be available
// and is not reported here to avoid a misleadingly noisy single-sample ADX.
func ADX(candles []types.Candle, n int) (decimal.Decimal, bool) {
	if n <= 0 || len(candles) < 2*n {
		return decimal.Zero, false
	}
	nd := decimal.NewFromInt(int64(n))
	nMinus1 := nd.Sub(decimal.NewFromInt(1))

	plusDM := make([]decimal.Decimal, 0, len(candles)-1)
	minusDM := make([]decimal.Decimal, 0, len(candles)-1)
	tr := make([]decimal.Decimal, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		upMove := candles[i].High.Sub(candles[i-1].High)
		downMove := candles[i-1].Low.Sub(candles[i].Low)
		pDM, mDM := decimal.Zero, decimal.Zero
		if upMove.GreaterThan(decimal.Zero) && upMove.GreaterThan(downMove) {
			pDM = upMove
		}
		if downMove.GreaterThan(decimal.Zero) && downMove.GreaterThan(upMove) {
			mDM = downMove
		}
		plusDM = append(plusDM, pDM)
		minusDM = append(minusDM, mDM)
		tr = append(tr, trueRange(candles[i], candles[i-1].Close))
	}

	sumPDM, sumMDM, sumTR := decimal.Zero, decimal.Zero, decimal.Zero
	for i := 0; i < n; i++ {
		sumPDM = sumPDM.Add(plusDM[i])
		sumMDM = sumMDM.Add(minusDM[i])
		sumTR = sumTR.Add(tr[i])
	}

	dx := func(sp, sm, st decimal.Decimal) decimal.Decimal {
		if st.IsZero() {
			return decimal.Zero
		}
		plusDI := sp.Div(st).Mul(decimal.NewFromInt(100))
		minusDI := sm.Div(st).Mul(decimal.NewFromInt(100))
		denom := plusDI.Add(minusDI)
		if denom.IsZero() {
			return decimal.Zero
		}
		return plusDI.Sub(minusDI).Abs().Div(denom).Mul(decimal.NewFromInt(100))
	}

	dxValues := []decimal.Decimal{dx(sumPDM, sumMDM, sumTR)}
	for i := n; i < len(plusDM); i++ {
		sumPDM = sumPDM.Sub(sumPDM.Div(nd)).Add(plusDM[i])
		sumMDM = sumMDM.Sub(sumMDM.Div(nd)).Add(minusDM[i])
		sumTR = sumTR.Sub(sumTR.Div(nd)).Add(tr[i])
		dxValues = append(dxValues, dx(sumPDM, sumMDM, sumTR))
	}

	if len(dxValues) < n {
		return decimal.Zero, false
	}

	adxSum := decimal.Zero
	for i := 0; i < n; i++ {
		adxSum = adxSum.Add(dxValues[i])
	}
	adx := adxSum.Div(nd)
	for i := n; i < len(dxValues); i++ {
		adx = adx.Mul(nMinus1).Add(dxValues[i]).Div(nd)
	}
	return adx, true
}

// Bollinger returns the (lower, middle, upper) bands over n periods at sigma
// standard deviations. Requires at least n+1 closes; the most recent n are
// used for the simple moving average and population standard deviation.
func Bollinger(candles []types.Candle, n int, sigma decimal.Decimal) (lower, middle, upper decimal.Decimal, ok bool) {
	if n <= 0 || len(candles) < n+1 {
		return decimal.Zero, decimal.Zero, decimal.Zero, false
	}
	window := candles[len(candles)-n:]
	nd := decimal.NewFromInt(int64(n))

	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c.Close)
	}
	mean := sum.Div(nd)

	variance := decimal.Zero
	for _, c := range window {
		d := c.Close.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(nd)
	stddev := sqrtDecimal(variance)

	band := stddev.Mul(sigma)
	return mean.Sub(band), mean, mean.Add(band), true
}

// sqrtDecimal approximates a square root via Newton-Raphson, since
// decimal.Decimal has no native sqrt.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	x := d
	half := decimal.NewFromFloat(0.5)
	for i := 0; i < 50; i++ {
		next := x.Add(d.Div(x)).Mul(half)
		if next.Sub(x).Abs().LessThan(decimal.New(1, -12)) {
			x = next
			break
		}
		x = next
	}
	return x
}

// SwingHigh reports whether candles[i] is a swing high: its high exceeds
// both the k candles before and the k candles after it.
func SwingHigh(candles []types.Candle, i, k int) bool {
	if i-k < 0 || i+k >= len(candles) {
		return false
	}
	h := candles[i].High
	for j := i - k; j <= i+k; j++ {
		if j == i {
			continue
		}
		if candles[j].High.GreaterThanOrEqual(h) {
			return false
		}
	}
	return true
}

// SwingLow reports whether candles[i] is a swing low: its low is below both
// the k candles before and the k candles after it.
func SwingLow(candles []types.Candle, i, k int) bool {
	if i-k < 0 || i+k >= len(candles) {
		return false
	}
	l := candles[i].Low
	for j := i - k; j <= i+k; j++ {
		if j == i {
			continue
		}
		if candles[j].Low.LessThanOrEqual(l) {
			return false
		}
	}
	return true
}

// DefaultSwingWindow is the default k used for swing detection.
const DefaultSwingWindow = 3
