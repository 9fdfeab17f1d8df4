package sizing

import (
	"testing"

	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSize_EURUSD(t *testing.T) {
	res := Size("EUR_USD",
		decimal.NewFromInt(10000),
		decimal.NewFromInt(1),
		decimal.NewFromFloat(1.20000),
		decimal.NewFromFloat(1.19800),
	)
	require.Empty(t, res.VetoedOn)
	assert.True(t, decimal.NewFromInt(50000).Equal(res.Units), "got %s", res.Units)
}

func TestSize_StopTooTight(t *testing.T) {
	res := Size("EUR_USD",
		decimal.NewFromInt(10000),
		decimal.NewFromInt(1),
		decimal.NewFromFloat(1.20000),
		decimal.NewFromFloat(1.20000),
	)
	assert.Equal(t, "stop too tight", res.VetoedOn)
}

func TestSize_BelowMinimumUnit(t *testing.T) {
	res := Size("EUR_USD",
		decimal.NewFromFloat(1),
		decimal.NewFromFloat(0.01),
		decimal.NewFromFloat(1.20000),
		decimal.NewFromFloat(1.00000),
	)
	assert.Equal(t, "size below minimum", res.VetoedOn)
}

func TestSize_BullionRoundsToTwoDecimals(t *testing.T) {
	res := Size("XAU_USD",
		decimal.NewFromInt(10000),
		decimal.NewFromInt(1),
		decimal.NewFromFloat(2300.00),
		decimal.NewFromFloat(2298.00),
	)
	require.Empty(t, res.VetoedOn)
	assert.Equal(t, res.Units, res.Units.Truncate(2))
}

func TestZoneAnchoredStopTarget_UsesNearestZoneAsTarget(t *testing.T) {
	zone := types.Zone{Level: decimal.NewFromFloat(1.21000)}
	stop, target, veto := ZoneAnchoredStopTarget(
		types.Buy,
		decimal.NewFromFloat(1.20000),
		decimal.NewFromFloat(0.00500),
		decimal.NewFromInt(2),
		&zone,
	)
	require.Empty(t, veto)
	assert.True(t, target.Equal(zone.Level))
	assert.True(t, stop.LessThan(decimal.NewFromFloat(1.20000)))
}

func TestZoneAnchoredStopTarget_VetoesWhenTargetTooClose(t *testing.T) {
	zone := types.Zone{Level: decimal.NewFromFloat(1.20010)}
	_, _, veto := ZoneAnchoredStopTarget(
		types.Buy,
		decimal.NewFromFloat(1.20000),
		decimal.NewFromFloat(0.00500),
		decimal.NewFromInt(2),
		&zone,
	)
	assert.Equal(t, "target too close to entry", veto)
}

func TestTrailScalpStop_MovesToBreakevenAtOneR(t *testing.T) {
	entry := decimal.NewFromFloat(1.10000)
	stop := decimal.NewFromFloat(1.09800)
	price := decimal.NewFromFloat(1.10200)
	next := TrailScalpStop(types.Buy, entry, stop, price, decimal.NewFromInt(1))
	assert.True(t, next.Equal(entry))
}

func TestTrailScalpStop_NeverMovesAgainstTheTrade(t *testing.T) {
	entry := decimal.NewFromFloat(1.10000)
	stop := decimal.NewFromFloat(1.09950)
	price := decimal.NewFromFloat(1.09990)
	next := TrailScalpStop(types.Buy, entry, stop, price, decimal.Zero)
	assert.True(t, next.Equal(stop))
}
