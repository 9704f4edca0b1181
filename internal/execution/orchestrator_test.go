package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/driftline/signalbot/internal/cooldown"
	"github.com/driftline/signalbot/internal/exchange"
	"github.com/driftline/signalbot/internal/mode"
	"github.com/driftline/signalbot/internal/signal"
	"github.com/driftline/signalbot/internal/types"
)

// fakeRepo is an in-memory PositionRepo double.
type fakeRepo struct {
	items []*types.SignalPosition
}

func (r *fakeRepo) GetAll() ([]*types.SignalPosition, error) { return r.items, nil }

func (r *fakeRepo) GetBy(pred func(*types.SignalPosition) bool) ([]*types.SignalPosition, error) {
	var out []*types.SignalPosition
	for _, p := range r.items {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) AddOrUpdate(p *types.SignalPosition) error {
	for i, existing := range r.items {
		if existing.ID == p.ID {
			r.items[i] = p
			return nil
		}
	}
	r.items = append(r.items, p)
	return nil
}

// fakeNotifier records calls without sending anything.
type fakeNotifier struct {
	opened      int
	cancelled   int
	incomplete  int
}

func (n *fakeNotifier) NotifyPositionOpened(*types.SignalPosition)               { n.opened++ }
func (n *fakeNotifier) NotifyPositionCancelled(*types.SignalPosition, string)    { n.cancelled++ }
func (n *fakeNotifier) NotifyProtectionIncomplete(*types.SignalPosition, string) { n.incomplete++ }

// fakeMarket is a FuturesMarketDataClient double with a fixed mark price.
type fakeMarket struct {
	mark decimal.Decimal
}

func (m *fakeMarket) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return m.mark, nil
}
func (m *fakeMarket) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return decimal.NewFromInt(10000), nil
}
func (m *fakeMarket) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	return nil, nil
}

// fakeExecutor is a FuturesOrderExecutor double that always succeeds unless
// rejectEntry is set.
type fakeExecutor struct {
	rejectEntry bool
	placedSL    int
	placedTP    int
	orderSeq    int
}

func (e *fakeExecutor) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (e *fakeExecutor) SetMarginType(ctx context.Context, symbol string, marginType types.MarginType) error {
	return nil
}
func (e *fakeExecutor) PlaceMarketOrder(ctx context.Context, symbol string, side types.Direction, qty decimal.Decimal) (types.ExecutionResult, error) {
	e.orderSeq++
	if e.rejectEntry {
		return types.ExecutionResult{Success: false, RejectReason: "insufficient margin"}, nil
	}
	return types.ExecutionResult{Success: true, OrderID: "entry-1", AveragePrice: decimal.NewFromInt(100)}, nil
}
func (e *fakeExecutor) PlaceStopLoss(ctx context.Context, symbol string, side types.Direction, stopPrice, qty decimal.Decimal) (types.ExecutionResult, error) {
	e.placedSL++
	return types.ExecutionResult{Success: true, OrderID: "sl-1"}, nil
}
func (e *fakeExecutor) PlaceTakeProfit(ctx context.Context, symbol string, side types.Direction, price, qty decimal.Decimal) (types.ExecutionResult, error) {
	e.placedTP++
	return types.ExecutionResult{Success: true, OrderID: "tp-n"}, nil
}
func (e *fakeExecutor) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func baseSignal() *signal.TradingSignal {
	return &signal.TradingSignal{
		ID:               "sig-1",
		Symbol:           "BTCUSDT",
		Direction:        types.Long,
		EntryPrice:       decimal.NewFromInt(100),
		StopLoss:         decimal.NewFromInt(90),
		AdjustedStopLoss: decimal.NewFromInt(90),
		Targets:          []decimal.Decimal{decimal.NewFromInt(110), decimal.NewFromInt(120)},
		Leverage:         10,
		AdjustedLeverage: 10,
		Valid:            true,
		CreatedAt:        time.Now(),
	}
}

func basePolicy() Policy {
	return Policy{
		DuplicateSameDirection:     types.DuplicateIgnore,
		DuplicateOppositeDirection: types.DuplicateClose,
		MaxPriceDeviationPercent:   decimal.NewFromInt(2),
		DeviationAction:            types.DeviationSkip,
		SizingMode:                 types.SizingFixedAmount,
		FixedAmountUsdt:            decimal.NewFromInt(1000),
		MaxPositionUsdt:            decimal.NewFromInt(5000),
		MaxPositionPercent:         decimal.NewFromInt(50),
		MinPositionUsdt:            decimal.NewFromInt(10),
		MoveStopToBreakeven:        true,
		MarginType:                 types.Isolated,
	}
}

func facadeWith(mark decimal.Decimal, exec *fakeExecutor) exchange.Facade {
	return exchange.Facade{
		Name:     types.Binance,
		Market:   &fakeMarket{mark: mark},
		Executor: exec,
	}
}

func TestOrchestrator_EntersWithinDeviationAndPlacesProtectiveOrders(t *testing.T) {
	o := New(basePolicy(), mode.New(), cooldown.New(cooldown.Policy{}), &fakeRepo{}, &fakeNotifier{})
	exec := &fakeExecutor{}
	pos, err := o.Execute(context.Background(), baseSignal(), decimal.NewFromInt(10000), facadeWith(decimal.NewFromInt(100), exec))
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, types.StatusOpen, pos.Status)
	require.False(t, pos.ProtectionIncomplete)
	require.Equal(t, 1, exec.placedSL)
	require.Equal(t, 2, exec.placedTP)
}

func TestOrchestrator_ModeGateDropsSignalSilently(t *testing.T) {
	m := mode.New()
	m.Set(types.ModePaused)
	o := New(basePolicy(), m, cooldown.New(cooldown.Policy{}), &fakeRepo{}, &fakeNotifier{})
	pos, err := o.Execute(context.Background(), baseSignal(), decimal.NewFromInt(10000), facadeWith(decimal.NewFromInt(100), &fakeExecutor{}))
	require.NoError(t, err)
	require.Nil(t, pos)
}

func TestOrchestrator_CooldownGateDropsSignalSilently(t *testing.T) {
	c := cooldown.New(cooldown.Policy{CooldownAfterStopLoss: time.Hour})
	c.OnPositionClosed(types.CloseStopLoss)
	o := New(basePolicy(), mode.New(), c, &fakeRepo{}, &fakeNotifier{})
	pos, err := o.Execute(context.Background(), baseSignal(), decimal.NewFromInt(10000), facadeWith(decimal.NewFromInt(100), &fakeExecutor{}))
	require.NoError(t, err)
	require.Nil(t, pos)
}

func TestOrchestrator_DeviationSkipCancelsPosition(t *testing.T) {
	notifier := &fakeNotifier{}
	o := New(basePolicy(), mode.New(), cooldown.New(cooldown.Policy{}), &fakeRepo{}, notifier)
	// Mark price 10% above entry — well past the 2% deviation cap.
	pos, err := o.Execute(context.Background(), baseSignal(), decimal.NewFromInt(10000), facadeWith(decimal.NewFromInt(110), &fakeExecutor{}))
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, types.StatusCancelled, pos.Status)
	require.Equal(t, 1, notifier.cancelled)
}

func TestOrchestrator_DeviationAdjustTargetsShiftsAllTargets(t *testing.T) {
	policy := basePolicy()
	policy.DeviationAction = types.DeviationEnterAdjustTargets
	o := New(policy, mode.New(), cooldown.New(cooldown.Policy{}), &fakeRepo{}, &fakeNotifier{})
	exec := &fakeExecutor{}
	sig := baseSignal()
	pos, err := o.Execute(context.Background(), sig, decimal.NewFromInt(10000), facadeWith(decimal.NewFromInt(110), exec))
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, types.StatusOpen, pos.Status)
	shift := decimal.NewFromInt(110).Sub(sig.EntryPrice)
	require.True(t, pos.Targets[0].Price.Equal(sig.Targets[0].Add(shift)))
}

func TestOrchestrator_SizingBelowMinimumCancels(t *testing.T) {
	policy := basePolicy()
	policy.FixedAmountUsdt = decimal.NewFromInt(1)
	policy.MinPositionUsdt = decimal.NewFromInt(10)
	o := New(policy, mode.New(), cooldown.New(cooldown.Policy{}), &fakeRepo{}, &fakeNotifier{})
	pos, err := o.Execute(context.Background(), baseSignal(), decimal.NewFromInt(10000), facadeWith(decimal.NewFromInt(100), &fakeExecutor{}))
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, types.StatusCancelled, pos.Status)
}

func TestOrchestrator_FixedMarginSizingUsesLeverage(t *testing.T) {
	policy := basePolicy()
	policy.SizingMode = types.SizingFixedMargin
	policy.FixedMarginUsdt = decimal.NewFromInt(100)
	o := New(policy, mode.New(), cooldown.New(cooldown.Policy{}), &fakeRepo{}, &fakeNotifier{})
	exec := &fakeExecutor{}
	pos, err := o.Execute(context.Background(), baseSignal(), decimal.NewFromInt(10000), facadeWith(decimal.NewFromInt(100), exec))
	require.NoError(t, err)
	require.NotNil(t, pos)
	// 100 usdt margin * 10x leverage / 100 entry price = 10 qty.
	require.True(t, pos.InitialQuantity.Equal(decimal.NewFromInt(10)))
}

func TestOrchestrator_EntryRejectionCancelsPosition(t *testing.T) {
	notifier := &fakeNotifier{}
	o := New(basePolicy(), mode.New(), cooldown.New(cooldown.Policy{}), &fakeRepo{}, notifier)
	exec := &fakeExecutor{rejectEntry: true}
	pos, err := o.Execute(context.Background(), baseSignal(), decimal.NewFromInt(10000), facadeWith(decimal.NewFromInt(100), exec))
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, types.StatusCancelled, pos.Status)
	require.Equal(t, 1, notifier.cancelled)
}

func TestOrchestrator_DuplicateIgnorePolicyDropsNewSignal(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{{
		ID: "existing", Symbol: "BTCUSDT", Direction: types.Long,
		Status: types.StatusOpen, CreatedAt: time.Now().Add(-time.Hour),
	}}}
	o := New(basePolicy(), mode.New(), cooldown.New(cooldown.Policy{}), repo, &fakeNotifier{})
	pos, err := o.Execute(context.Background(), baseSignal(), decimal.NewFromInt(10000), facadeWith(decimal.NewFromInt(100), &fakeExecutor{}))
	require.NoError(t, err)
	require.Nil(t, pos)
	require.Len(t, repo.items, 1)
}

func TestOrchestrator_DuplicateClosePolicyClosesExistingOppositeThenEntersNew(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{{
		ID: "existing", Symbol: "BTCUSDT", Direction: types.Short,
		Status: types.StatusOpen, RemainingQuantity: decimal.NewFromInt(5),
		CreatedAt: time.Now().Add(-time.Hour),
	}}}
	o := New(basePolicy(), mode.New(), cooldown.New(cooldown.Policy{}), repo, &fakeNotifier{})
	exec := &fakeExecutor{}
	pos, err := o.Execute(context.Background(), baseSignal(), decimal.NewFromInt(10000), facadeWith(decimal.NewFromInt(100), exec))
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, types.StatusOpen, pos.Status)

	var existing *types.SignalPosition
	for _, p := range repo.items {
		if p.ID == "existing" {
			existing = p
		}
	}
	require.NotNil(t, existing)
	require.Equal(t, types.StatusClosed, existing.Status)
	require.Equal(t, types.CloseManual, existing.CloseReason)
}

func TestOrchestrator_CooldownSizeMultiplierShrinksQuantity(t *testing.T) {
	c := cooldown.New(cooldown.Policy{ReduceSizeAfterLosses: true})
	c.OnPositionClosed(types.CloseStopLoss) // 1 consecutive loss -> 0.75x by default ladder
	o := New(basePolicy(), mode.New(), c, &fakeRepo{}, &fakeNotifier{})
	exec := &fakeExecutor{}
	pos, err := o.Execute(context.Background(), baseSignal(), decimal.NewFromInt(10000), facadeWith(decimal.NewFromInt(100), exec))
	require.NoError(t, err)
	require.NotNil(t, pos)
	// 1000 usdt / 100 price * 0.75 multiplier = 7.5 qty.
	require.True(t, pos.InitialQuantity.Equal(decimal.NewFromFloat(7.5)))
}
