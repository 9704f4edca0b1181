package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalPosition is the aggregate root of the position lifecycle (spec §3).
// Lives in internal/types — not internal/position — so that internal/store
// and internal/execution can both reference it without an import cycle
// through internal/position, the same reason the teacher keeps Position in
// its own types package (types/types.go).
type SignalPosition struct {
	ID         string         `json:"id"`
	SignalID   string         `json:"signalId"`
	Symbol     string         `json:"symbol"`
	Direction  Direction      `json:"direction"`
	Exchange   Exchange       `json:"exchange"`
	Status     PositionStatus `json:"status"`

	PlannedEntryPrice decimal.Decimal `json:"plannedEntryPrice"`
	ActualEntryPrice  decimal.Decimal `json:"actualEntryPrice"`
	CurrentStopLoss   decimal.Decimal `json:"currentStopLoss"`
	Leverage          int             `json:"leverage"`

	InitialQuantity   decimal.Decimal `json:"initialQuantity"`
	RemainingQuantity decimal.Decimal `json:"remainingQuantity"`

	Targets []TargetLevel `json:"targets"`

	EntryOrderID      string   `json:"entryOrderId"`
	StopLossOrderID   string   `json:"stopLossOrderId"`
	TakeProfitOrderIDs []string `json:"takeProfitOrderIds"`

	RealizedPnl   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`

	ProtectionIncomplete bool `json:"protectionIncomplete"`

	CreatedAt time.Time  `json:"createdAt"`
	OpenedAt  *time.Time `json:"openedAt,omitempty"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`

	CloseReason CloseReason `json:"closeReason,omitempty"`
}

// IsTerminal reports whether the position has left the live lifecycle.
func (p *SignalPosition) IsTerminal() bool {
	return p.Status == StatusClosed || p.Status == StatusCancelled
}

// Clone returns a deep-enough copy for "with-style replacement" semantics —
// targets are copied so callers can mutate hit flags without aliasing the
// stored snapshot (spec §3: "mutated only via with-style replacement").
func (p *SignalPosition) Clone() *SignalPosition {
	clone := *p
	clone.Targets = make([]TargetLevel, len(p.Targets))
	copy(clone.Targets, p.Targets)
	clone.TakeProfitOrderIDs = append([]string(nil), p.TakeProfitOrderIDs...)
	return &clone
}
