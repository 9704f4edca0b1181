package reconcile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/driftline/signalbot/internal/exchange"
	"github.com/driftline/signalbot/internal/types"
)

type fakeRepo struct {
	items []*types.SignalPosition
}

func (r *fakeRepo) GetBy(pred func(*types.SignalPosition) bool) ([]*types.SignalPosition, error) {
	var out []*types.SignalPosition
	for _, p := range r.items {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) AddOrUpdate(p *types.SignalPosition) error { return nil }

type fakeMarket struct {
	mark    decimal.Decimal
	balance decimal.Decimal
}

func (m *fakeMarket) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return m.mark, nil
}
func (m *fakeMarket) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return m.balance, nil
}
func (m *fakeMarket) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	return nil, nil
}

func TestReconciler_ConfirmsHealthyPosition(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{{
		ID: "p1", Symbol: "BTCUSDT", Exchange: types.Binance, Direction: types.Long,
		Status: types.StatusOpen, CurrentStopLoss: decimal.NewFromInt(90), StopLossOrderID: "sl-1",
	}}}
	r := New(repo)
	facade := exchange.Facade{Market: &fakeMarket{mark: decimal.NewFromInt(100)}}
	result, err := r.Run(context.Background(), types.Binance, facade)
	require.NoError(t, err)
	require.Equal(t, 1, result.CountByOutcome(Confirmed))
}

func TestReconciler_FlagsMissingStopLossOrder(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{{
		ID: "p1", Symbol: "BTCUSDT", Exchange: types.Binance, Direction: types.Long,
		Status: types.StatusOpen, CurrentStopLoss: decimal.NewFromInt(90),
	}}}
	r := New(repo)
	facade := exchange.Facade{Market: &fakeMarket{mark: decimal.NewFromInt(100)}}
	result, err := r.Run(context.Background(), types.Binance, facade)
	require.NoError(t, err)
	require.Equal(t, 1, result.CountByOutcome(MissingOrders))
}

func TestReconciler_FlagsMarkThroughStopAsMismatched(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{{
		ID: "p1", Symbol: "BTCUSDT", Exchange: types.Binance, Direction: types.Long,
		Status: types.StatusOpen, CurrentStopLoss: decimal.NewFromInt(90), StopLossOrderID: "sl-1",
	}}}
	r := New(repo)
	facade := exchange.Facade{Market: &fakeMarket{mark: decimal.NewFromInt(85)}}
	result, err := r.Run(context.Background(), types.Binance, facade)
	require.NoError(t, err)
	require.Equal(t, 1, result.CountByOutcome(Mismatched))
}

// TestReconciler_BalanceWithinTolerance_Confirmed matches spec §8 scenario
// 8's first half: remainingQuantity=0.1 BTC, exchange free balance 0.0995
// BTC (0.5% off) confirms within the 1% tolerance.
func TestReconciler_BalanceWithinTolerance_Confirmed(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{{
		ID: "p1", Symbol: "BTCUSDT", Exchange: types.Binance, Direction: types.Long,
		Status: types.StatusOpen, CurrentStopLoss: decimal.NewFromInt(90), StopLossOrderID: "sl-1",
		RemainingQuantity: decimal.NewFromFloat(0.1),
	}}}
	r := New(repo)
	facade := exchange.Facade{Market: &fakeMarket{mark: decimal.NewFromInt(100), balance: decimal.NewFromFloat(0.0995)}}
	result, err := r.Run(context.Background(), types.Binance, facade)
	require.NoError(t, err)
	require.Equal(t, 1, result.CountByOutcome(Confirmed))
}

// TestReconciler_BalanceBeyondTolerance_Mismatched matches spec §8 scenario
// 8's second half: a free balance of 0.05 BTC against a recorded 0.1 BTC is
// far outside the 1% tolerance and must be surfaced, never auto-corrected.
func TestReconciler_BalanceBeyondTolerance_Mismatched(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{{
		ID: "p1", Symbol: "BTCUSDT", Exchange: types.Binance, Direction: types.Long,
		Status: types.StatusOpen, CurrentStopLoss: decimal.NewFromInt(90), StopLossOrderID: "sl-1",
		RemainingQuantity: decimal.NewFromFloat(0.1),
	}}}
	r := New(repo)
	facade := exchange.Facade{Market: &fakeMarket{mark: decimal.NewFromInt(100), balance: decimal.NewFromFloat(0.05)}}
	result, err := r.Run(context.Background(), types.Binance, facade)
	require.NoError(t, err)
	require.Equal(t, 1, result.CountByOutcome(Mismatched))
	require.Equal(t, types.StatusOpen, result.Items[0].Position.Status, "reconciliation never auto-corrects")
}

func TestReconciler_SkipsOtherExchanges(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{{
		ID: "p1", Symbol: "BTCUSDT", Exchange: types.Bybit, Status: types.StatusOpen,
	}}}
	r := New(repo)
	result, err := r.Run(context.Background(), types.Binance, exchange.Facade{Market: &fakeMarket{}})
	require.NoError(t, err)
	require.Empty(t, result.Items)
}
