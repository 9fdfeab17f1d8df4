package indicators

import (
	"testing"
	"time"

	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candle(o, h, l, c float64) types.Candle {
	return types.Candle{
		Instrument: "EUR_USD", Granularity: types.H1, Timestamp: time.Now(),
		Open: decimal.NewFromFloat(o), High: decimal.NewFromFloat(h),
		Low: decimal.NewFromFloat(l), Close: decimal.NewFromFloat(c),
	}
}

func TestATR_InsufficientDataReturnsFalse(t *testing.T) {
	candles := []types.Candle{candle(1, 1.1, 0.9, 1.05)}
	_, ok := ATR(candles, 14)
	assert.False(t, ok)
}

func TestATR_SeedIsSimpleAverageOfTrueRanges(t *testing.T) {
	candles := []types.Candle{
		candle(1.1000, 1.1050, 1.0950, 1.1000),
		candle(1.1000, 1.1060, 1.0990, 1.1020),
		candle(1.1020, 1.1040, 1.0980, 1.1000),
	}
	atr, ok := ATR(candles, 2)
	require.True(t, ok)
	// TR1 uses candles[1] against candles[0].Close; TR2 uses candles[2]
	// against candles[1].Close. Seed ATR is their simple average.
	tr1 := decimal.NewFromFloat(0.0070)
	tr2 := decimal.NewFromFloat(0.0060)
	expected := tr1.Add(tr2).Div(decimal.NewFromInt(2))
	assert.True(t, atr.Equal(expected), "expected %s got %s", expected, atr)
}

func TestEMA_InsufficientDataReturnsFalse(t *testing.T) {
	candles := []types.Candle{candle(1, 1.1, 0.9, 1.05)}
	_, ok := EMA(candles, 5)
	assert.False(t, ok)
}

func TestEMA_SeedThenRecurrence(t *testing.T) {
	candles := make([]types.Candle, 0, 4)
	closes := []float64{10, 11, 12, 13}
	for _, c := range closes {
		candles = append(candles, candle(c, c, c, c))
	}
	ema, ok := EMA(candles, 3)
	require.True(t, ok)
	// seed = avg(10,11,12) = 11; mult = 2/4 = 0.5
	// ema = (13-11)*0.5+11 = 12
	assert.True(t, ema.Equal(decimal.NewFromInt(12)), "got %s", ema)
}

func TestSwingHigh_DetectsLocalMaximum(t *testing.T) {
	candles := []types.Candle{
		candle(1, 1.10, 1.00, 1.05),
		candle(1, 1.15, 1.05, 1.10),
		candle(1, 1.30, 1.10, 1.20),
		candle(1, 1.15, 1.05, 1.10),
		candle(1, 1.10, 1.00, 1.05),
	}
	assert.True(t, SwingHigh(candles, 2, 2))
	assert.False(t, SwingHigh(candles, 1, 2))
}

func TestSwingLow_DetectsLocalMinimum(t *testing.T) {
	candles := []types.Candle{
		candle(1, 1.10, 1.05, 1.08),
		candle(1, 1.08, 1.00, 1.02),
		candle(1, 1.02, 0.90, 0.95),
		candle(1, 1.08, 1.00, 1.02),
		candle(1, 1.10, 1.05, 1.08),
	}
	assert.True(t, SwingLow(candles, 2, 2))
	assert.False(t, SwingLow(candles, 1, 2))
}
