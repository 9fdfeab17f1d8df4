// Package mock implements an in-memory broker.Broker fake. cmd/server uses
// it as the broker for paper and live runs; the backtest runner does its
// own synthetic fills and does not use it.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benedict-anokye/forgetrade/internal/broker"
	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Broker is a deterministic in-memory broker.Broker. Candle series are
// seeded per (instrument, granularity); orders are tracked in memory and
// never auto-close unless a driver closes them via CloseOrder or
// CloseAtPrice.
type Broker struct {
	mu sync.Mutex

	candles   map[string][]types.Candle
	account   broker.Account
	positions map[string]broker.Position

	nextOrderID int
}

// New constructs an empty mock broker with the given starting account
// state.
func New(account broker.Account) *Broker {
	return &Broker{
		candles:   make(map[string][]types.Candle),
		account:   account,
		positions: make(map[string]broker.Position),
	}
}

func key(instrument string, g types.Granularity) string {
	return instrument + "|" + string(g)
}

// SeedCandles installs a candle series (oldest first) for an
// instrument/granularity pair.
func (b *Broker) SeedCandles(instrument string, g types.Granularity, candles []types.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.candles[key(instrument, g)] = candles
}

// FetchCandles returns the most recent count candles for the series.
func (b *Broker) FetchCandles(ctx context.Context, instrument string, g types.Granularity, count int) ([]types.Candle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	series := b.candles[key(instrument, g)]
	if len(series) == 0 {
		return nil, fmt.Errorf("no candles seeded for %s %s", instrument, g)
	}
	if count >= len(series) {
		out := make([]types.Candle, len(series))
		copy(out, series)
		return out, nil
	}
	out := make([]types.Candle, count)
	copy(out, series[len(series)-count:])
	return out, nil
}

// GetAccount returns the current simulated account state.
func (b *Broker) GetAccount(ctx context.Context) (broker.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account, nil
}

// SetAccount overwrites the simulated account state (test/backtest driver
// hook).
func (b *Broker) SetAccount(a broker.Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.account = a
}

// GetPositions returns every currently open simulated position.
func (b *Broker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out, nil
}

// PlaceOrder opens a simulated position, filling immediately at the
// instrument's latest seeded close with no slippage and attaching the
// supplied stop and target.
func (b *Broker) PlaceOrder(ctx context.Context, instrument string, unitsSigned, stopPrice, targetPrice decimal.Decimal) (broker.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextOrderID++
	orderID := uuid.NewString()
	dir := types.Buy
	if unitsSigned.LessThan(decimal.Zero) {
		dir = types.Sell
	}

	fillPrice := b.latestCloseLocked(instrument)
	b.positions[orderID] = broker.Position{
		Instrument: instrument,
		Direction:  dir,
		Units:      unitsSigned,
		AvgPrice:   fillPrice,
		Stop:       stopPrice,
		Target:     targetPrice,
		OpenTime:   time.Now(),
	}
	return broker.OrderAck{OrderID: orderID, FillPrice: fillPrice, OpenTime: time.Now()}, nil
}

// latestCloseLocked returns the latest known close for the instrument
// across any seeded granularity, or zero if none is seeded.
func (b *Broker) latestCloseLocked(instrument string) decimal.Decimal {
	for k, series := range b.candles {
		if len(series) == 0 {
			continue
		}
		if strings.HasPrefix(k, instrument+"|") {
			return series[len(series)-1].Close
		}
	}
	return decimal.Zero
}

// CloseOrder closes a simulated position at its current fill/avg price.
func (b *Broker) CloseOrder(ctx context.Context, orderID string) (broker.CloseResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[orderID]
	if !ok {
		return broker.CloseResult{}, fmt.Errorf("unknown order %s", orderID)
	}
	delete(b.positions, orderID)
	return broker.CloseResult{ExitPrice: pos.AvgPrice, CloseTime: time.Now()}, nil
}

// ModifyOrder updates the stop of a simulated open position.
func (b *Broker) ModifyOrder(ctx context.Context, orderID string, newStop decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	pos.Stop = newStop
	b.positions[orderID] = pos
	return nil
}

// CloseAtPrice force-closes a position at an explicit price, a driver hook
// for simulating a stop/target hit.
func (b *Broker) CloseAtPrice(orderID string, price decimal.Decimal, at time.Time) (broker.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[orderID]
	if !ok {
		return broker.Position{}, false
	}
	delete(b.positions, orderID)
	pos.AvgPrice = price
	return pos, true
}
