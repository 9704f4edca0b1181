package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/types"
)

// Policy is the resolved slice of Configuration the orchestrator's gates
// need (trading policy, risk overrides already applied by the validator,
// position-sizing policy, entry policy) per spec §3.
type Policy struct {
	DuplicateSameDirection     types.DuplicatePolicy
	DuplicateOppositeDirection types.DuplicatePolicy
	MinTimeBetweenDuplicates   time.Duration

	MaxPriceDeviationPercent decimal.Decimal
	DeviationAction          types.DeviationAction

	SizingMode      types.SizingMode
	FixedAmountUsdt decimal.Decimal
	RiskPercent     decimal.Decimal
	FixedMarginUsdt decimal.Decimal

	MaxPositionUsdt    decimal.Decimal
	MaxPositionPercent decimal.Decimal
	MinPositionUsdt    decimal.Decimal

	MoveStopToBreakeven bool
	TargetClosePercents []decimal.Decimal

	MarginType types.MarginType
}

// targetClosePercent returns the configured close fraction for target index
// i (0-based), repeating the last configured value if the signal has more
// targets than the policy names explicitly.
func (p Policy) targetClosePercent(i, total int) decimal.Decimal {
	if len(p.TargetClosePercents) == 0 {
		return decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(total)))
	}
	if i < len(p.TargetClosePercents) {
		return p.TargetClosePercents[i]
	}
	return p.TargetClosePercents[len(p.TargetClosePercents)-1]
}
