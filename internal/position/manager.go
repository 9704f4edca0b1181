// Package position owns the live SignalPosition state machine (spec §4.4):
// Pending → Open → PartialClosed → Closed, driven by exchange order-update
// events. It is the only component permitted to mutate a position once it
// has left Pending — the execution orchestrator only ever creates one or,
// for the single DuplicateIncrease/Close/Flip cases, replaces one wholesale.
//
// Grounded on the teacher's execution/executor.go order/fill state machine
// (Order, Fill, onFill/onReject callbacks) and storage's idempotent-update
// discipline, generalized from polymarket YES/NO fills to multi-target
// futures take-profit ladders.
package position

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/cooldown"
	"github.com/driftline/signalbot/internal/types"
)

// Repo is the narrow store.CollectionStore surface the manager needs.
type Repo interface {
	GetBy(func(*types.SignalPosition) bool) ([]*types.SignalPosition, error)
	AddOrUpdate(*types.SignalPosition) error
}

// StopLossMover cancels a position's live stop-loss order and places a new
// reduce-only one for the remaining quantity (spec §4.4 step 3); the manager
// calls it whenever a target's breakeven rule fires.
type StopLossMover interface {
	MoveStopLoss(ctx context.Context, position *types.SignalPosition, newStop decimal.Decimal) (types.ExecutionResult, error)
}

// OrderCanceller cancels one live order by id, used to tear down the
// protective orders a closed position no longer needs (spec §4.4 step 4:
// cancel outstanding take-profits on a stop-loss fill, symmetrically cancel
// the stop-loss once every target has been hit).
type OrderCanceller interface {
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// Notifier is the slice of internal/notify the manager drives.
type Notifier interface {
	NotifyTargetHit(pos *types.SignalPosition, targetIndex int)
	NotifyPositionClosed(pos *types.SignalPosition)
	NotifyStopLossMoved(pos *types.SignalPosition, newStop decimal.Decimal)
	NotifyProtectionIncomplete(pos *types.SignalPosition, reason string)
}

// seenUpdate is the idempotency key for one order-update event.
type seenUpdate struct {
	orderID string
	fillID  string
}

// Manager consumes types.OrderUpdate events from every venue's
// OrderUpdateListener and applies them to the matching SignalPosition.
// Updates for one position are serialized through a per-position mutex so
// two fills for the same position are never applied out of order; updates
// for different positions proceed concurrently.
type Manager struct {
	repo      Repo
	cooldown  *cooldown.Controller
	slMover   StopLossMover
	canceller OrderCanceller
	notifier  Notifier

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	seenMu sync.Mutex
	seen   map[string]map[seenUpdate]struct{} // positionID -> seen updates
}

func New(repo Repo, cd *cooldown.Controller, slMover StopLossMover, canceller OrderCanceller, notifier Notifier) *Manager {
	return &Manager{
		repo:      repo,
		cooldown:  cd,
		slMover:   slMover,
		canceller: canceller,
		notifier:  notifier,
		locks:     make(map[string]*sync.Mutex),
		seen:      make(map[string]map[seenUpdate]struct{}),
	}
}

func (m *Manager) lockFor(positionID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[positionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[positionID] = l
	}
	return l
}

func (m *Manager) alreadyApplied(positionID string, u types.OrderUpdate) bool {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	key := seenUpdate{orderID: u.OrderID, fillID: u.FillID}
	set, ok := m.seen[positionID]
	if !ok {
		set = make(map[seenUpdate]struct{})
		m.seen[positionID] = set
	}
	if _, seen := set[key]; seen {
		return true
	}
	set[key] = struct{}{}
	return false
}

// Apply handles one exchange order-update event. It is safe to call from
// multiple goroutines (one per venue listener).
func (m *Manager) Apply(update types.OrderUpdate) error {
	positions, err := m.repo.GetBy(func(p *types.SignalPosition) bool {
		return !p.IsTerminal() && matchesOrder(p, update)
	})
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		log.Debug().Str("orderId", update.OrderID).Str("symbol", update.Symbol).Msg("order update matched no live position")
		return nil
	}
	pos := positions[0]

	lock := m.lockFor(pos.ID)
	lock.Lock()
	defer lock.Unlock()

	if m.alreadyApplied(pos.ID, update) {
		return nil
	}

	switch {
	case update.Status != types.OrderFilled && update.Status != types.OrderPartiallyFilled:
		return nil
	case update.OrderID == pos.EntryOrderID:
		return m.applyEntryFill(pos, update)
	case update.OrderID == pos.StopLossOrderID:
		return m.applyStopLossFill(pos, update)
	default:
		return m.applyTargetFill(pos, update)
	}
}

func matchesOrder(p *types.SignalPosition, u types.OrderUpdate) bool {
	if p.Symbol != u.Symbol || p.Exchange != u.Exchange {
		return false
	}
	if u.OrderID == p.EntryOrderID || u.OrderID == p.StopLossOrderID {
		return true
	}
	for _, id := range p.TakeProfitOrderIDs {
		if id == u.OrderID {
			return true
		}
	}
	return false
}

func (m *Manager) applyEntryFill(pos *types.SignalPosition, update types.OrderUpdate) error {
	updated := pos.Clone()
	if update.Status == types.OrderFilled {
		updated.Status = types.StatusOpen
		if updated.OpenedAt == nil {
			now := time.Now()
			updated.OpenedAt = &now
		}
		updated.ActualEntryPrice = update.AveragePrice
	}
	return m.repo.AddOrUpdate(updated)
}

func (m *Manager) applyStopLossFill(pos *types.SignalPosition, update types.OrderUpdate) error {
	updated := pos.Clone()
	updated.Status = types.StatusClosed
	updated.CloseReason = types.CloseStopLoss
	updated.RemainingQuantity = updated.RemainingQuantity.Sub(update.FilledQty)
	if updated.RemainingQuantity.IsNegative() {
		updated.RemainingQuantity = decimal.Zero
	}
	updated.RealizedPnl = updated.RealizedPnl.Add(realizedPnl(updated, update))
	now := time.Now()
	updated.ClosedAt = &now

	if err := m.repo.AddOrUpdate(updated); err != nil {
		return err
	}
	m.cancelOrders(updated, updated.TakeProfitOrderIDs)
	m.cooldown.OnPositionClosed(types.CloseStopLoss)
	m.notifier.NotifyPositionClosed(updated)
	return nil
}

// cancelOrders tears down every given order id on a venue, logging (not
// failing) individual cancel errors — a take-profit that refuses to cancel
// after its position already closed is an operator-visible anomaly, not a
// reason to block persisting the close itself.
func (m *Manager) cancelOrders(pos *types.SignalPosition, orderIDs []string) {
	if m.canceller == nil {
		return
	}
	for _, id := range orderIDs {
		if id == "" {
			continue
		}
		if err := m.canceller.CancelOrder(context.Background(), pos.Symbol, id); err != nil {
			log.Warn().Err(err).Str("position", pos.ID).Str("orderId", id).Msg("failed to cancel protective order on position close")
		}
	}
}

// applyTargetFill handles a take-profit fill: marks the matching target hit,
// reduces remaining quantity, applies the breakeven stop-loss move, and
// closes the position once every target (or the full quantity) is done.
func (m *Manager) applyTargetFill(pos *types.SignalPosition, update types.OrderUpdate) error {
	updated := pos.Clone()
	targetIndex := -1
	for i, id := range pos.TakeProfitOrderIDs {
		if id == update.OrderID {
			targetIndex = i
			break
		}
	}
	if targetIndex < 0 || targetIndex >= len(updated.Targets) {
		return nil
	}

	target := &updated.Targets[targetIndex]
	if update.Status == types.OrderFilled {
		target.Hit = true
		now := time.Now()
		target.HitAt = &now
	}
	updated.RemainingQuantity = updated.RemainingQuantity.Sub(update.FilledQty)
	if updated.RemainingQuantity.IsNegative() {
		updated.RemainingQuantity = decimal.Zero
	}
	updated.RealizedPnl = updated.RealizedPnl.Add(realizedPnl(updated, update))

	allHit := updated.RemainingQuantity.IsZero()
	if !allHit {
		allHit = true
		for _, t := range updated.Targets {
			if !t.Hit {
				allHit = false
				break
			}
		}
	}
	if allHit {
		updated.Status = types.StatusClosed
		updated.CloseReason = types.CloseTargetsHit
		now := time.Now()
		updated.ClosedAt = &now
	} else {
		updated.Status = types.StatusPartialClosed
	}

	if err := m.repo.AddOrUpdate(updated); err != nil {
		return err
	}

	if target.Hit {
		if target.MoveStopLossTo != nil && !allHit {
			m.moveStopLoss(updated, *target.MoveStopLossTo)
		}
		m.notifier.NotifyTargetHit(updated, targetIndex)
	}

	if allHit {
		m.cancelOrders(updated, []string{updated.StopLossOrderID})
		m.cooldown.OnPositionClosed(types.CloseTargetsHit)
		m.notifier.NotifyPositionClosed(updated)
	}
	return nil
}

func (m *Manager) moveStopLoss(pos *types.SignalPosition, newStop decimal.Decimal) {
	result, err := m.slMover.MoveStopLoss(context.Background(), pos, newStop)
	if err != nil || !result.Success {
		log.Error().Err(err).Str("position", pos.ID).Msg("failed to move stop-loss to breakeven rule")
		m.notifier.NotifyProtectionIncomplete(pos, "breakeven stop-loss move failed, original stop-loss may no longer be live")
		return
	}
	updated := pos.Clone()
	updated.CurrentStopLoss = newStop
	updated.StopLossOrderID = result.OrderID
	if err := m.repo.AddOrUpdate(updated); err != nil {
		log.Error().Err(err).Str("position", pos.ID).Msg("failed to persist moved stop-loss")
		return
	}
	m.notifier.NotifyStopLossMoved(updated, newStop)
}

// realizedPnl is a same-direction mark-to-fill estimate; it is intentionally
// simple (no funding or fee accounting).
func realizedPnl(pos *types.SignalPosition, update types.OrderUpdate) decimal.Decimal {
	diff := update.AveragePrice.Sub(pos.ActualEntryPrice)
	if pos.Direction == types.Short {
		diff = diff.Neg()
	}
	return diff.Mul(update.FilledQty)
}

// ManualClose records a position as Closed(ManualClose) at exitPrice and books
// the remaining quantity's P&L. It places and cancels no orders itself; the
// /close and /closeall commands flatten the position on the exchange first.
func (m *Manager) ManualClose(positionID string, exitPrice decimal.Decimal) (*types.SignalPosition, error) {
	positions, err := m.repo.GetBy(func(p *types.SignalPosition) bool { return p.ID == positionID })
	if err != nil || len(positions) == 0 {
		return nil, err
	}
	pos := positions[0]

	lock := m.lockFor(pos.ID)
	lock.Lock()
	defer lock.Unlock()

	updated := pos.Clone()
	updated.Status = types.StatusClosed
	updated.CloseReason = types.CloseManual
	updated.RealizedPnl = updated.RealizedPnl.Add(realizedPnl(updated, types.OrderUpdate{
		AveragePrice: exitPrice,
		FilledQty:    updated.RemainingQuantity,
	}))
	updated.RemainingQuantity = decimal.Zero
	now := time.Now()
	updated.ClosedAt = &now

	if err := m.repo.AddOrUpdate(updated); err != nil {
		return nil, err
	}
	m.cooldown.OnPositionClosed(types.CloseManual)
	m.notifier.NotifyPositionClosed(updated)
	return updated, nil
}
