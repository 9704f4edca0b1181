// Package exchange is the only exchange-aware boundary in the system.
// Every other package talks to FuturesMarketDataClient, FuturesOrderExecutor
// and OrderUpdateListener; selecting a venue is a config switch in
// cmd/signalbot/main.go, never a type switch scattered through business
// logic.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/types"
)

// Kline is one OHLCV candle, used by the (currently unconsumed by SignalBot,
// reserved for ComplexBot) getKlines capability.
type Kline struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// FuturesMarketDataClient is the read-only market-data surface.
type FuturesMarketDataClient interface {
	GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}

// FuturesOrderExecutor is the order-placement surface.
type FuturesOrderExecutor interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, marginType types.MarginType) error
	PlaceMarketOrder(ctx context.Context, symbol string, side types.Direction, qty decimal.Decimal) (types.ExecutionResult, error)
	PlaceStopLoss(ctx context.Context, symbol string, side types.Direction, stopPrice, qty decimal.Decimal) (types.ExecutionResult, error)
	PlaceTakeProfit(ctx context.Context, symbol string, side types.Direction, price, qty decimal.Decimal) (types.ExecutionResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// OrderUpdateListener streams exchange-reported order lifecycle events.
type OrderUpdateListener interface {
	Start(ctx context.Context) (<-chan types.OrderUpdate, error)
	Stop()
}

// Facade bundles the three capability surfaces for one venue, exactly the
// grouping §6 names.
type Facade struct {
	Name     types.Exchange
	Market   FuturesMarketDataClient
	Executor FuturesOrderExecutor
	Updates  OrderUpdateListener
}
