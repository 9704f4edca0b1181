// Package execution implements the SignalTrader orchestrator (spec §4.3):
// eight short-circuit gates that turn a validated signal plus an equity
// snapshot into a live SignalPosition with all protective orders placed
// before the call returns.
//
// Grounded on the teacher's core/engine.go (processTick → executeSignal)
// and execution/executor.go (SubmitOrder, updatePosition), generalized from
// one fixed Polymarket market to the three-exchange facade and from a
// single implicit gate sequence into the spec's explicit, named gates.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/exchange"
	"github.com/driftline/signalbot/internal/signal"
	"github.com/driftline/signalbot/internal/types"
)

// PositionRepo is the narrow slice of internal/store's CollectionStore this
// package needs — satisfied structurally by
// *store.CollectionStore[*types.SignalPosition] without importing it.
type PositionRepo interface {
	GetAll() ([]*types.SignalPosition, error)
	GetBy(func(*types.SignalPosition) bool) ([]*types.SignalPosition, error)
	AddOrUpdate(*types.SignalPosition) error
}

// ModeGate is the slice of internal/mode.Controller the orchestrator needs.
type ModeGate interface {
	CanAcceptNewSignals() bool
}

// CooldownGate is the slice of internal/cooldown.Controller the orchestrator needs.
type CooldownGate interface {
	IsActive() bool
	SizeMultiplier() decimal.Decimal
}

// Notifier receives side-effect notifications; see internal/notify.
type Notifier interface {
	NotifyPositionOpened(*types.SignalPosition)
	NotifyPositionCancelled(*types.SignalPosition, string)
	NotifyProtectionIncomplete(*types.SignalPosition, string)
}

// Orchestrator is the SignalTrader.
type Orchestrator struct {
	policy   Policy
	mode     ModeGate
	cooldown CooldownGate
	repo     PositionRepo
	notifier Notifier
	retry    exchange.RetryPolicy
}

func New(policy Policy, mode ModeGate, cooldown CooldownGate, repo PositionRepo, notifier Notifier) *Orchestrator {
	return &Orchestrator{policy: policy, mode: mode, cooldown: cooldown, repo: repo, notifier: notifier, retry: exchange.DefaultRetryPolicy()}
}

// Execute runs all eight gates. A nil, nil return means the signal was
// silently dropped (mode gate, duplicate gate, cooldown gate) and produced no persisted
// record — every other outcome, including rejection, returns a
// *types.SignalPosition (Cancelled or Open/ProtectionIncomplete).
func (o *Orchestrator) Execute(ctx context.Context, sig *signal.TradingSignal, equity decimal.Decimal, facade exchange.Facade) (*types.SignalPosition, error) {
	// Gate 1: mode.
	if !o.mode.CanAcceptNewSignals() {
		log.Info().Str("symbol", sig.Symbol).Msg("signal dropped: mode is not Automatic")
		return nil, nil
	}

	// Gate 2: duplicate.
	existing, err := o.repo.GetBy(func(p *types.SignalPosition) bool {
		return p.Symbol == sig.Symbol && (p.Status == types.StatusOpen || p.Status == types.StatusPartialClosed)
	})
	if err != nil {
		return nil, fmt.Errorf("duplicate gate: %w", err)
	}
	if len(existing) > 0 {
		pos, drop, err := o.handleDuplicate(ctx, sig, existing[0], equity, facade)
		if err != nil {
			return nil, err
		}
		if drop {
			return nil, nil
		}
		if pos != nil {
			return pos, nil
		}
		// policy was Add: fall through to create a second independent position.
	}

	// Gate 3: cooldown.
	if o.cooldown.IsActive() {
		log.Info().Str("symbol", sig.Symbol).Msg("signal dropped: cooldown active")
		return nil, nil
	}

	pos := &types.SignalPosition{
		ID:                uuid.NewString(),
		SignalID:          sig.ID,
		Symbol:            sig.Symbol,
		Direction:         sig.Direction,
		Exchange:          facade.Name,
		Status:            types.StatusPending,
		PlannedEntryPrice: sig.EntryPrice,
		CurrentStopLoss:   sig.AdjustedStopLoss,
		Leverage:          sig.AdjustedLeverage,
		CreatedAt:         time.Now(),
	}
	pos.Targets = buildTargets(sig, o.policy)

	// Gate 4: deviation.
	mark, err := facade.Market.GetMarkPrice(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("deviation gate: fetch mark price: %w", err)
	}
	deviationPct := mark.Sub(sig.EntryPrice).Abs().Div(sig.EntryPrice).Mul(decimal.NewFromInt(100))
	actualEntry := sig.EntryPrice
	if deviationPct.GreaterThan(o.policy.MaxPriceDeviationPercent) {
		switch o.policy.DeviationAction {
		case types.DeviationSkip:
			pos.Status = types.StatusCancelled
			pos.CloseReason = types.CloseError
			now := time.Now()
			pos.ClosedAt = &now
			_ = o.repo.AddOrUpdate(pos)
			o.notifier.NotifyPositionCancelled(pos, "deviation exceeds maxPriceDeviationPercent")
			return pos, nil
		case types.DeviationEnterAdjustTargets:
			actualEntry = mark
			shift := actualEntry.Sub(sig.EntryPrice)
			for i := range pos.Targets {
				pos.Targets[i].Price = pos.Targets[i].Price.Add(shift)
			}
		case types.DeviationEnterAtMarket:
			actualEntry = mark
			// Open question (a): original targets are preserved even under
			// large deviation, matching source behavior.
		}
	}

	// Gate 5: sizing.
	qty, err := computeQuantity(o.policy, sig, equity, o.cooldown.SizeMultiplier())
	if err != nil {
		return nil, fmt.Errorf("sizing gate: %w", err)
	}
	notional := qty.Mul(actualEntry)
	if notional.LessThan(o.policy.MinPositionUsdt) {
		pos.Status = types.StatusCancelled
		pos.CloseReason = types.CloseError
		now := time.Now()
		pos.ClosedAt = &now
		_ = o.repo.AddOrUpdate(pos)
		o.notifier.NotifyPositionCancelled(pos, "sizing below minPositionUsdt")
		return pos, nil
	}
	pos.InitialQuantity = qty
	pos.RemainingQuantity = qty

	// Gate 6: account prep.
	if err := o.retry.Do(ctx, "setLeverage", func() error {
		return facade.Executor.SetLeverage(ctx, sig.Symbol, sig.AdjustedLeverage)
	}); err != nil {
		return nil, fmt.Errorf("account prep: set leverage: %w", err)
	}
	if err := o.retry.Do(ctx, "setMarginType", func() error {
		return facade.Executor.SetMarginType(ctx, sig.Symbol, o.policy.MarginType)
	}); err != nil {
		return nil, fmt.Errorf("account prep: set margin type: %w", err)
	}

	// Gate 7: entry.
	entryResult, err := facade.Executor.PlaceMarketOrder(ctx, sig.Symbol, sig.Direction, qty)
	if err != nil {
		return nil, fmt.Errorf("entry: %w", err)
	}
	if !entryResult.Success {
		pos.Status = types.StatusCancelled
		pos.CloseReason = types.CloseError
		now := time.Now()
		pos.ClosedAt = &now
		_ = o.repo.AddOrUpdate(pos)
		o.notifier.NotifyPositionCancelled(pos, "entry rejected: "+entryResult.RejectReason)
		return pos, nil
	}
	pos.EntryOrderID = entryResult.OrderID
	pos.ActualEntryPrice = entryResult.AveragePrice
	if pos.ActualEntryPrice.IsZero() {
		pos.ActualEntryPrice = actualEntry
	}
	pos.Status = types.StatusOpen
	now := time.Now()
	pos.OpenedAt = &now

	// Entry is always persisted before protective orders are placed (§5).
	if err := o.repo.AddOrUpdate(pos); err != nil {
		return nil, fmt.Errorf("persist entry: %w", err)
	}

	// Gate 8: protective orders.
	o.placeProtectiveOrders(ctx, pos, facade)

	if err := o.repo.AddOrUpdate(pos); err != nil {
		return nil, fmt.Errorf("persist protective orders: %w", err)
	}

	if pos.ProtectionIncomplete {
		o.notifier.NotifyProtectionIncomplete(pos, "one or more protective orders failed to place")
	} else {
		o.notifier.NotifyPositionOpened(pos)
	}
	return pos, nil
}

func (o *Orchestrator) placeProtectiveOrders(ctx context.Context, pos *types.SignalPosition, facade exchange.Facade) {
	closeSide := pos.Direction.Opposite()

	slResult, err := facade.Executor.PlaceStopLoss(ctx, pos.Symbol, closeSide, pos.CurrentStopLoss, pos.RemainingQuantity)
	if err != nil || !slResult.Success {
		pos.ProtectionIncomplete = true
		log.Error().Err(err).Str("position", pos.ID).Msg("failed to place stop-loss")
	} else {
		pos.StopLossOrderID = slResult.OrderID
	}

	for _, target := range pos.Targets {
		qty := pos.InitialQuantity.Mul(target.PercentToClose).Div(decimal.NewFromInt(100))
		tpResult, err := facade.Executor.PlaceTakeProfit(ctx, pos.Symbol, closeSide, target.Price, qty)
		if err != nil || !tpResult.Success {
			pos.ProtectionIncomplete = true
			log.Error().Err(err).Str("position", pos.ID).Msg("failed to place take-profit")
			continue
		}
		pos.TakeProfitOrderIDs = append(pos.TakeProfitOrderIDs, tpResult.OrderID)
	}
}

// handleDuplicate applies the configured same/opposite-direction duplicate
// policy. Returns (position, drop, err): drop=true means the new signal is
// silently dropped; a non-nil position means a Cancelled/terminal record
// was produced and should be returned as-is; (nil, false, nil) means the
// caller should fall through and open a brand-new, independent position
// (the Add policy).
func (o *Orchestrator) handleDuplicate(ctx context.Context, sig *signal.TradingSignal, existing *types.SignalPosition, equity decimal.Decimal, facade exchange.Facade) (*types.SignalPosition, bool, error) {
	policy := o.policy.DuplicateOppositeDirection
	if existing.Direction == sig.Direction {
		policy = o.policy.DuplicateSameDirection
	}

	if o.policy.MinTimeBetweenDuplicates > 0 && time.Since(existing.CreatedAt) < o.policy.MinTimeBetweenDuplicates {
		return nil, true, nil
	}

	switch policy {
	case types.DuplicateIgnore:
		return nil, true, nil
	case types.DuplicateAdd:
		return nil, false, nil
	case types.DuplicateIncrease:
		// The orchestrator is the one actor allowed to mutate an
		// already-open position outside the position manager, and only for
		// this one explicit, policy-driven case (duplicate-signal sizing),
		// never in response to an order-update event.
		extra, err := computeQuantity(o.policy, sig, equity, o.cooldown.SizeMultiplier())
		if err != nil {
			return nil, false, err
		}
		result, err := facade.Executor.PlaceMarketOrder(ctx, sig.Symbol, existing.Direction, extra)
		if err != nil || !result.Success {
			return nil, true, err
		}
		updated := existing.Clone()
		updated.InitialQuantity = updated.InitialQuantity.Add(extra)
		updated.RemainingQuantity = updated.RemainingQuantity.Add(extra)
		if err := o.repo.AddOrUpdate(updated); err != nil {
			return nil, false, err
		}
		return updated, false, nil
	case types.DuplicateClose:
		if err := o.closeExisting(ctx, existing, facade); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	case types.DuplicateFlip:
		// Design Notes (c): close existing, then re-enter as new signal;
		// both steps must succeed before acknowledgement.
		if err := o.closeExisting(ctx, existing, facade); err != nil {
			return nil, false, fmt.Errorf("flip: close leg failed: %w", err)
		}
		return nil, false, nil
	default:
		return nil, true, nil
	}
}

func (o *Orchestrator) closeExisting(ctx context.Context, pos *types.SignalPosition, facade exchange.Facade) error {
	closeSide := pos.Direction.Opposite()
	result, err := facade.Executor.PlaceMarketOrder(ctx, pos.Symbol, closeSide, pos.RemainingQuantity)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("close order rejected: %s", result.RejectReason)
	}
	updated := pos.Clone()
	updated.Status = types.StatusClosed
	updated.CloseReason = types.CloseManual
	updated.RemainingQuantity = decimal.Zero
	now := time.Now()
	updated.ClosedAt = &now
	return o.repo.AddOrUpdate(updated)
}

func buildTargets(sig *signal.TradingSignal, policy Policy) []types.TargetLevel {
	targets := make([]types.TargetLevel, len(sig.Targets))
	for i, price := range sig.Targets {
		targets[i] = types.TargetLevel{
			Price:          price,
			PercentToClose: policy.targetClosePercent(i, len(sig.Targets)),
		}
		if policy.MoveStopToBreakeven {
			targets[i].MoveStopLossTo = breakevenLevel(sig, i)
		}
	}
	return targets
}

// breakevenLevel implements the position-wide default: after target 1 hits,
// move SL to entry; after target N (N>1) hits, move SL to target N-1.
func breakevenLevel(sig *signal.TradingSignal, targetIndex int) *decimal.Decimal {
	if targetIndex == 0 {
		v := sig.EntryPrice
		return &v
	}
	v := sig.Targets[targetIndex-1]
	return &v
}

func computeQuantity(policy Policy, sig *signal.TradingSignal, equity decimal.Decimal, sizeMultiplier decimal.Decimal) (decimal.Decimal, error) {
	var qty decimal.Decimal
	switch policy.SizingMode {
	case types.SizingFixedAmount:
		qty = policy.FixedAmountUsdt.Div(sig.EntryPrice)
	case types.SizingRiskPercent:
		riskDistance := sig.EntryPrice.Sub(sig.AdjustedStopLoss).Abs()
		if riskDistance.IsZero() {
			return decimal.Zero, fmt.Errorf("zero risk distance")
		}
		riskAmount := equity.Mul(policy.RiskPercent).Div(decimal.NewFromInt(100))
		qty = riskAmount.Div(riskDistance)
	case types.SizingFixedMargin:
		qty = policy.FixedMarginUsdt.Mul(decimal.NewFromInt(int64(sig.AdjustedLeverage))).Div(sig.EntryPrice)
	default:
		return decimal.Zero, fmt.Errorf("unknown sizing mode %q", policy.SizingMode)
	}

	qty = qty.Mul(sizeMultiplier)

	notionalCap := decimal.Min(policy.MaxPositionUsdt, equity.Mul(policy.MaxPositionPercent).Div(decimal.NewFromInt(100)))
	maxQty := notionalCap.Div(sig.EntryPrice)
	if qty.GreaterThan(maxQty) {
		qty = maxQty
	}
	return qty, nil
}
