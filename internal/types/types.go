// Package types holds the shared domain vocabulary for SignalBot: enums and
// small value objects referenced by every other internal package. Keeping
// them here avoids the import cycles that would otherwise appear between
// signal parsing, execution, and position management.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a signal or position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Exchange identifies which venue a symbol trades on.
type Exchange string

const (
	Binance Exchange = "BINANCE"
	Bybit   Exchange = "BYBIT"
	Bitget  Exchange = "BITGET"
)

// MarginType mirrors the futures margin modes common to all three venues.
type MarginType string

const (
	Isolated MarginType = "ISOLATED"
	Cross    MarginType = "CROSS"
)

// PositionStatus is the SignalPosition lifecycle state.
type PositionStatus string

const (
	StatusPending       PositionStatus = "PENDING"
	StatusOpen          PositionStatus = "OPEN"
	StatusPartialClosed PositionStatus = "PARTIAL_CLOSED"
	StatusClosed        PositionStatus = "CLOSED"
	StatusCancelled     PositionStatus = "CANCELLED"
)

// CloseReason records why a position left the Open/PartialClosed states.
type CloseReason string

const (
	CloseTargetsHit  CloseReason = "TARGETS_HIT"
	CloseStopLoss    CloseReason = "STOP_LOSS_HIT"
	CloseLiquidation CloseReason = "LIQUIDATION"
	CloseManual      CloseReason = "MANUAL_CLOSE"
	CloseError       CloseReason = "ERROR"
)

// OrderStatus mirrors the exchange-reported lifecycle of a single order.
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// SizingMode selects how the execution orchestrator computes position size.
type SizingMode string

const (
	SizingFixedAmount SizingMode = "FIXED_AMOUNT"
	SizingRiskPercent SizingMode = "RISK_PERCENT"
	SizingFixedMargin SizingMode = "FIXED_MARGIN"
)

// StopLossMode selects whether the validator trusts the signal's stop-loss
// or recomputes it from a configured percent distance.
type StopLossMode string

const (
	StopLossAsGiven  StopLossMode = "AS_GIVEN"
	StopLossCalc     StopLossMode = "CALCULATE"
)

// DeviationAction selects the execution orchestrator's behavior when the mark
// price has drifted away from the signal's planned entry.
type DeviationAction string

const (
	DeviationSkip                DeviationAction = "SKIP"
	DeviationEnterAtMarket       DeviationAction = "ENTER_AT_MARKET"
	DeviationEnterAdjustTargets  DeviationAction = "ENTER_AND_ADJUST_TARGETS"
)

// DuplicatePolicy selects what the duplicate gate does when a position
// already exists for a symbol and a new signal arrives for it.
type DuplicatePolicy string

const (
	DuplicateIgnore   DuplicatePolicy = "IGNORE"
	DuplicateAdd      DuplicatePolicy = "ADD"
	DuplicateIncrease DuplicatePolicy = "INCREASE"
	DuplicateClose    DuplicatePolicy = "CLOSE"
	DuplicateFlip     DuplicatePolicy = "FLIP"
)

// OperatingMode is the process-wide singleton mode.
type OperatingMode string

const (
	ModeAutomatic     OperatingMode = "AUTOMATIC"
	ModePaused        OperatingMode = "PAUSED"
	ModeMonitorOnly   OperatingMode = "MONITOR_ONLY"
	ModeEmergencyStop OperatingMode = "EMERGENCY_STOP"
)

// TargetLevel is one take-profit rung of a SignalPosition.
type TargetLevel struct {
	Price           decimal.Decimal `json:"price"`
	PercentToClose  decimal.Decimal `json:"percentToClose"`
	QuantityToClose decimal.Decimal `json:"quantityToClose"`
	MoveStopLossTo  *decimal.Decimal `json:"moveStopLossTo,omitempty"`
	Hit             bool            `json:"hit"`
	HitAt           *time.Time      `json:"hitAt,omitempty"`
}

// OrderUpdate is the exchange-agnostic shape emitted by an OrderUpdateListener.
type OrderUpdate struct {
	Exchange      Exchange
	Symbol        string
	OrderID       string
	FillID        string
	Status        OrderStatus
	FilledQty     decimal.Decimal
	AveragePrice  decimal.Decimal
	ReduceOnly    bool
	Timestamp     time.Time
}

// ExecutionResult is returned by every FuturesOrderExecutor call.
type ExecutionResult struct {
	Success      bool
	OrderID      string
	AveragePrice decimal.Decimal
	RejectReason string
}
