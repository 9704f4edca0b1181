package position

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/driftline/signalbot/internal/cooldown"
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

type fakeSLMover struct {
	calls int
	fail  bool
}

func (m *fakeSLMover) MoveStopLoss(ctx context.Context, pos *types.SignalPosition, newStop decimal.Decimal) (types.ExecutionResult, error) {
	m.calls++
	if m.fail {
		return types.ExecutionResult{Success: false, RejectReason: "no liquidity"}, nil
	}
	return types.ExecutionResult{Success: true, OrderID: "sl-moved"}, nil
}

type fakeCanceller struct {
	cancelled []string
}

func (c *fakeCanceller) CancelOrder(ctx context.Context, symbol, orderID string) error {
	c.cancelled = append(c.cancelled, orderID)
	return nil
}

type fakeNotifier struct {
	targetHits            int
	closed                int
	slMoves               int
	protectionIncompletes int
}

func (n *fakeNotifier) NotifyTargetHit(*types.SignalPosition, int)                 { n.targetHits++ }
func (n *fakeNotifier) NotifyPositionClosed(*types.SignalPosition)                 { n.closed++ }
func (n *fakeNotifier) NotifyStopLossMoved(*types.SignalPosition, decimal.Decimal) { n.slMoves++ }
func (n *fakeNotifier) NotifyProtectionIncomplete(*types.SignalPosition, string)   { n.protectionIncompletes++ }

func twoTargetPosition() *types.SignalPosition {
	breakeven := decimal.NewFromInt(100)
	return &types.SignalPosition{
		ID:                "pos-1",
		Symbol:            "BTCUSDT",
		Exchange:          types.Binance,
		Direction:         types.Long,
		Status:            types.StatusOpen,
		ActualEntryPrice:  decimal.NewFromInt(100),
		CurrentStopLoss:   decimal.NewFromInt(90),
		InitialQuantity:   decimal.NewFromInt(10),
		RemainingQuantity: decimal.NewFromInt(10),
		EntryOrderID:      "entry-1",
		StopLossOrderID:   "sl-1",
		TakeProfitOrderIDs: []string{"tp-1", "tp-2"},
		Targets: []types.TargetLevel{
			{Price: decimal.NewFromInt(110), PercentToClose: decimal.NewFromInt(50), MoveStopLossTo: &breakeven},
			{Price: decimal.NewFromInt(120), PercentToClose: decimal.NewFromInt(50)},
		},
		CreatedAt: time.Now(),
	}
}

func TestManager_FirstTargetFillMovesStopToBreakevenAndStaysPartialClosed(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{twoTargetPosition()}}
	slMover := &fakeSLMover{}
	canceller := &fakeCanceller{}
	notifier := &fakeNotifier{}
	mgr := New(repo, cooldown.New(cooldown.Policy{}), slMover, canceller, notifier)

	err := mgr.Apply(types.OrderUpdate{
		Exchange: types.Binance, Symbol: "BTCUSDT", OrderID: "tp-1", FillID: "fill-1",
		Status: types.OrderFilled, FilledQty: decimal.NewFromInt(5), AveragePrice: decimal.NewFromInt(110),
	})
	require.NoError(t, err)

	updated := repo.items[0]
	require.Equal(t, types.StatusPartialClosed, updated.Status)
	require.True(t, updated.Targets[0].Hit)
	require.True(t, updated.RemainingQuantity.Equal(decimal.NewFromInt(5)))
	require.Equal(t, 1, notifier.targetHits)
	require.Equal(t, 1, slMover.calls)
	require.Equal(t, 1, notifier.slMoves)
	require.Equal(t, 0, notifier.closed)
	require.Empty(t, canceller.cancelled, "position stays open, nothing should be cancelled yet")
}

func TestManager_BreakevenMoveFailureRaisesProtectionIncomplete(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{twoTargetPosition()}}
	slMover := &fakeSLMover{fail: true}
	notifier := &fakeNotifier{}
	mgr := New(repo, cooldown.New(cooldown.Policy{}), slMover, &fakeCanceller{}, notifier)

	err := mgr.Apply(types.OrderUpdate{
		Exchange: types.Binance, Symbol: "BTCUSDT", OrderID: "tp-1", FillID: "fill-1",
		Status: types.OrderFilled, FilledQty: decimal.NewFromInt(5), AveragePrice: decimal.NewFromInt(110),
	})
	require.NoError(t, err)

	require.Equal(t, 1, slMover.calls)
	require.Equal(t, 0, notifier.slMoves)
	require.Equal(t, 1, notifier.protectionIncompletes)
	// The position's own stop-loss order id is left untouched on a failed move.
	require.Equal(t, "sl-1", repo.items[0].StopLossOrderID)
}

func TestManager_SecondTargetFillClosesPositionAndResetsCooldownOnWin(t *testing.T) {
	pos := twoTargetPosition()
	pos.Status = types.StatusPartialClosed
	pos.RemainingQuantity = decimal.NewFromInt(5)
	pos.Targets[0].Hit = true
	repo := &fakeRepo{items: []*types.SignalPosition{pos}}
	notifier := &fakeNotifier{}
	canceller := &fakeCanceller{}
	cd := cooldown.New(cooldown.Policy{WinsToResetLossCounter: 1})
	cd.OnPositionClosed(types.CloseStopLoss)
	mgr := New(repo, cd, &fakeSLMover{}, canceller, notifier)

	err := mgr.Apply(types.OrderUpdate{
		Exchange: types.Binance, Symbol: "BTCUSDT", OrderID: "tp-2", FillID: "fill-2",
		Status: types.OrderFilled, FilledQty: decimal.NewFromInt(5), AveragePrice: decimal.NewFromInt(120),
	})
	require.NoError(t, err)

	updated := repo.items[0]
	require.Equal(t, types.StatusClosed, updated.Status)
	require.Equal(t, types.CloseTargetsHit, updated.CloseReason)
	require.True(t, updated.RemainingQuantity.IsZero())
	require.Equal(t, 1, notifier.closed)
	require.Equal(t, []string{"sl-1"}, canceller.cancelled, "the live stop-loss must be cancelled once every target is hit")
	require.Equal(t, 0, cd.Snapshot().ConsecutiveLosses)
}

func TestManager_StopLossFillClosesPositionAndTripsCooldown(t *testing.T) {
	pos := twoTargetPosition()
	repo := &fakeRepo{items: []*types.SignalPosition{pos}}
	notifier := &fakeNotifier{}
	canceller := &fakeCanceller{}
	cd := cooldown.New(cooldown.Policy{CooldownAfterStopLoss: time.Hour})
	mgr := New(repo, cd, &fakeSLMover{}, canceller, notifier)

	err := mgr.Apply(types.OrderUpdate{
		Exchange: types.Binance, Symbol: "BTCUSDT", OrderID: "sl-1", FillID: "fill-3",
		Status: types.OrderFilled, FilledQty: decimal.NewFromInt(10), AveragePrice: decimal.NewFromInt(90),
	})
	require.NoError(t, err)

	updated := repo.items[0]
	require.Equal(t, types.StatusClosed, updated.Status)
	require.Equal(t, types.CloseStopLoss, updated.CloseReason)
	require.True(t, cd.IsActive())
	require.Equal(t, 1, notifier.closed)
	require.ElementsMatch(t, []string{"tp-1", "tp-2"}, canceller.cancelled, "outstanding take-profits must be cancelled on a stop-loss fill")
}

func TestManager_DuplicateOrderUpdateIsIdempotent(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{twoTargetPosition()}}
	notifier := &fakeNotifier{}
	mgr := New(repo, cooldown.New(cooldown.Policy{}), &fakeSLMover{}, &fakeCanceller{}, notifier)

	update := types.OrderUpdate{
		Exchange: types.Binance, Symbol: "BTCUSDT", OrderID: "tp-1", FillID: "fill-1",
		Status: types.OrderFilled, FilledQty: decimal.NewFromInt(5), AveragePrice: decimal.NewFromInt(110),
	}
	require.NoError(t, mgr.Apply(update))
	require.NoError(t, mgr.Apply(update))

	updated := repo.items[0]
	require.True(t, updated.RemainingQuantity.Equal(decimal.NewFromInt(5)))
	require.Equal(t, 1, notifier.targetHits)
}

func TestManager_ManualCloseZeroesRemainingQuantity(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{twoTargetPosition()}}
	notifier := &fakeNotifier{}
	mgr := New(repo, cooldown.New(cooldown.Policy{}), &fakeSLMover{}, &fakeCanceller{}, notifier)

	updated, err := mgr.ManualClose("pos-1", decimal.NewFromInt(105))
	require.NoError(t, err)
	require.Equal(t, types.StatusClosed, updated.Status)
	require.Equal(t, types.CloseManual, updated.CloseReason)
	require.True(t, updated.RemainingQuantity.IsZero())
}
