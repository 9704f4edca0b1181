package exchange

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/types"
)

// PositionAdapter implements internal/position.StopLossMover on top of one
// venue's FuturesOrderExecutor: spec §4.4 step 3's breakeven move is "cancel
// the existing stop-loss order, then place a new reduce-only stop-loss for
// the remaining quantity". There is no atomic replace-order call on any of
// the three venues' SDKs, so the two steps run back to back and tolerate the
// brief window between them where the position carries no live stop-loss.
type PositionAdapter struct {
	Executor FuturesOrderExecutor
}

func NewPositionAdapter(executor FuturesOrderExecutor) *PositionAdapter {
	return &PositionAdapter{Executor: executor}
}

// MoveStopLoss cancels pos's current stop-loss order (if any) and places a
// new one at newStop for the full remaining quantity. A failed cancel is
// logged and ignored — the old order may have already filled or expired —
// but a failed place is returned as !Success so the caller can raise
// ProtectionIncomplete rather than silently leaving the position unprotected.
func (a *PositionAdapter) MoveStopLoss(ctx context.Context, pos *types.SignalPosition, newStop decimal.Decimal) (types.ExecutionResult, error) {
	if pos.StopLossOrderID != "" {
		if err := a.Executor.CancelOrder(ctx, pos.Symbol, pos.StopLossOrderID); err != nil {
			log.Warn().Err(err).Str("position", pos.ID).Str("orderId", pos.StopLossOrderID).
				Msg("failed to cancel existing stop-loss before breakeven move")
		}
	}

	closeSide := pos.Direction.Opposite()
	return a.Executor.PlaceStopLoss(ctx, pos.Symbol, closeSide, newStop, pos.RemainingQuantity)
}
