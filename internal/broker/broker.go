// Package broker defines the abstract brokerage contract the core depends
// on. No concrete HTTP implementation lives here — the broker client is an
// out-of-scope external collaborator — but the interface and its error
// classification are part of the core's contract surface.
package broker

import (
	"context"
	"time"

	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/shopspring/decimal"
)

// Position is a currently open position as reported by the broker.
type Position struct {
	Instrument    string
	Direction     types.Direction
	Units         decimal.Decimal
	AvgPrice      decimal.Decimal
	Stop          decimal.Decimal
	Target        decimal.Decimal
	OpenTime      time.Time
	UnrealizedPnL decimal.Decimal
}

// Account is the broker's view of account-level state.
type Account struct {
	Equity            decimal.Decimal
	Balance           decimal.Decimal
	UnrealizedPnL     decimal.Decimal
	OpenPositionCount int
}

// OrderAck is returned by PlaceOrder.
type OrderAck struct {
	OrderID   string
	FillPrice decimal.Decimal
	OpenTime  time.Time
}

// CloseResult is returned by CloseOrder.
type CloseResult struct {
	ExitPrice decimal.Decimal
	CloseTime time.Time
}

// Broker is the contract the core consumes; units sign indicates
// direction (positive buy, negative sell).
type Broker interface {
	FetchCandles(ctx context.Context, instrument string, granularity types.Granularity, count int) ([]types.Candle, error)
	GetAccount(ctx context.Context) (Account, error)
	GetPositions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, instrument string, unitsSigned, stopPrice, targetPrice decimal.Decimal) (OrderAck, error)
	CloseOrder(ctx context.Context, orderID string) (CloseResult, error)
	ModifyOrder(ctx context.Context, orderID string, newStop decimal.Decimal) error
}
