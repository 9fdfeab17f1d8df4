// Package zones implements the Zone Detector: clustering swing extremes
// from a candle series into support/resistance levels, regenerated fresh
// every evaluation cycle (zones are never a long-lived mutable graph).
package zones

import (
	"sort"
	"time"

	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/benedict-anokye/forgetrade/internal/indicators"
	"github.com/shopspring/decimal"
)

// DefaultTolerancePips is the default clustering tolerance.
const DefaultTolerancePips = 20

// DefaultMinStrength is the default minimum touch count to keep a zone.
const DefaultMinStrength = 2

type point struct {
	price decimal.Decimal
	role  types.ZoneRole
}

// Detect clusters swing highs/lows from candles (oldest first) into zones.
// tolerancePrice is in absolute price units (pips * pip size). Zones with fewer than minStrength members are dropped. The
// returned zones are ordered by price level ascending.
func Detect(candles []types.Candle, tolerancePrice decimal.Decimal, minStrength int, now time.Time) []types.Zone {
	var pts []point
	for i := range candles {
		if indicators.SwingHigh(candles, i, indicators.DefaultSwingWindow) {
			pts = append(pts, point{price: candles[i].High, role: types.Resistance})
		}
		if indicators.SwingLow(candles, i, indicators.DefaultSwingWindow) {
			pts = append(pts, point{price: candles[i].Low, role: types.Support})
		}
	}
	if len(pts) == 0 {
		return nil
	}

	sort.Slice(pts, func(i, j int) bool { return pts[i].price.LessThan(pts[j].price) })

	var clusters [][]point
	current := []point{pts[0]}
	for _, p := range pts[1:] {
		last := current[len(current)-1]
		if p.price.Sub(last.price).Abs().LessThanOrEqual(tolerancePrice) {
			current = append(current, p)
		} else {
			clusters = append(clusters, current)
			current = []point{p}
		}
	}
	clusters = append(clusters, current)

	var zones []types.Zone
	for _, cluster := range clusters {
		if len(cluster) < minStrength {
			continue
		}
		sum := decimal.Zero
		supportVotes, resistanceVotes := 0, 0
		for _, p := range cluster {
			sum = sum.Add(p.price)
			if p.role == types.Support {
				supportVotes++
			} else {
				resistanceVotes++
			}
		}
		level := sum.Div(decimal.NewFromInt(int64(len(cluster))))
		role := types.Resistance
		if supportVotes > resistanceVotes {
			role = types.Support
		}
		zones = append(zones, types.Zone{
			Level:      level,
			Role:       role,
			TouchCount: len(cluster),
			DetectedAt: now,
		})
	}

	sort.Slice(zones, func(i, j int) bool { return zones[i].Level.LessThan(zones[j].Level) })
	return zones
}

// Nearest returns the zone whose level is closest to price, or nil if zones
// is empty.
func Nearest(zones []types.Zone, price decimal.Decimal) *types.Zone {
	if len(zones) == 0 {
		return nil
	}
	best := zones[0]
	bestDist := price.Sub(best.Level).Abs()
	for _, z := range zones[1:] {
		d := price.Sub(z.Level).Abs()
		if d.LessThan(bestDist) {
			best, bestDist = z, d
		}
	}
	return &best
}

// Touching reports whether the candle's high-low range intersects the
// zone's level.
func Touching(c types.Candle, z types.Zone) bool {
	return z.Level.GreaterThanOrEqual(c.Low) && z.Level.LessThanOrEqual(c.High)
}

// NearestInDirection returns the nearest zone whose level lies strictly in
// the profit direction from price (above for buy, below for sell),
// excluding the zone at excludeLevel (the triggering zone). Returns nil if
// none qualifies.
func NearestInDirection(zones []types.Zone, price decimal.Decimal, dir types.Direction, excludeLevel decimal.Decimal) *types.Zone {
	var best *types.Zone
	var bestDist decimal.Decimal
	for i := range zones {
		z := zones[i]
		if z.Level.Equal(excludeLevel) {
			continue
		}
		if dir == types.Buy && !z.Level.GreaterThan(price) {
			continue
		}
		if dir == types.Sell && !z.Level.LessThan(price) {
			continue
		}
		d := z.Level.Sub(price).Abs()
		if best == nil || d.LessThan(bestDist) {
			zc := z
			best = &zc
			bestDist = d
		}
	}
	return best
}

// WithinDistance reports whether price lies within tolerance of any zone
// having the given role (acting or original, caller's choice of which zones
// slice to pass).
func WithinDistance(zones []types.Zone, price, tolerance decimal.Decimal, role types.ZoneRole) bool {
	for _, z := range zones {
		if z.Role != role {
			continue
		}
		if price.Sub(z.Level).Abs().LessThanOrEqual(tolerance) {
			return true
		}
	}
	return false
}
