package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/driftline/signalbot/internal/types"
)

// fakeExecutor is a minimal FuturesOrderExecutor stub recording the
// CancelOrder/PlaceStopLoss calls PositionAdapter.MoveStopLoss makes.
type fakeExecutor struct {
	FuturesOrderExecutor
	cancelledOrderID string
	cancelErr        error
	placeErr         error
	placeResult      types.ExecutionResult
	placedSide       types.Direction
	placedStop       decimal.Decimal
	placedQty        decimal.Decimal
}

func (f *fakeExecutor) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.cancelledOrderID = orderID
	return f.cancelErr
}

func (f *fakeExecutor) PlaceStopLoss(ctx context.Context, symbol string, side types.Direction, stopPrice, qty decimal.Decimal) (types.ExecutionResult, error) {
	f.placedSide = side
	f.placedStop = stopPrice
	f.placedQty = qty
	if f.placeErr != nil {
		return types.ExecutionResult{}, f.placeErr
	}
	return f.placeResult, nil
}

func testPosition() *types.SignalPosition {
	return &types.SignalPosition{
		ID:                "pos-1",
		Symbol:            "BTCUSDT",
		Direction:         types.Long,
		StopLossOrderID:   "sl-old",
		RemainingQuantity: decimal.NewFromInt(5),
	}
}

func TestPositionAdapter_MoveStopLossCancelsThenPlacesOppositeSideStop(t *testing.T) {
	exec := &fakeExecutor{placeResult: types.ExecutionResult{Success: true, OrderID: "sl-new"}}
	adapter := NewPositionAdapter(exec)

	result, err := adapter.MoveStopLoss(context.Background(), testPosition(), decimal.NewFromInt(100))

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "sl-new", result.OrderID)
	require.Equal(t, "sl-old", exec.cancelledOrderID)
	require.Equal(t, types.Short, exec.placedSide, "a long position's stop-loss closes on the short side")
	require.True(t, exec.placedStop.Equal(decimal.NewFromInt(100)))
	require.True(t, exec.placedQty.Equal(decimal.NewFromInt(5)))
}

func TestPositionAdapter_MoveStopLossSkipsCancelWhenNoExistingStop(t *testing.T) {
	exec := &fakeExecutor{placeResult: types.ExecutionResult{Success: true, OrderID: "sl-new"}}
	adapter := NewPositionAdapter(exec)
	pos := testPosition()
	pos.StopLossOrderID = ""

	_, err := adapter.MoveStopLoss(context.Background(), pos, decimal.NewFromInt(100))

	require.NoError(t, err)
	require.Empty(t, exec.cancelledOrderID)
}

func TestPositionAdapter_MoveStopLossToleratesCancelFailureAndStillPlaces(t *testing.T) {
	exec := &fakeExecutor{
		cancelErr:   errors.New("order already filled"),
		placeResult: types.ExecutionResult{Success: true, OrderID: "sl-new"},
	}
	adapter := NewPositionAdapter(exec)

	result, err := adapter.MoveStopLoss(context.Background(), testPosition(), decimal.NewFromInt(100))

	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestPositionAdapter_MoveStopLossReturnsUnsuccessfulResultWhenPlaceFails(t *testing.T) {
	exec := &fakeExecutor{placeResult: types.ExecutionResult{Success: false, RejectReason: "no liquidity"}}
	adapter := NewPositionAdapter(exec)

	result, err := adapter.MoveStopLoss(context.Background(), testPosition(), decimal.NewFromInt(100))

	require.NoError(t, err)
	require.False(t, result.Success, "caller must be able to raise ProtectionIncomplete on a failed place")
}
