// Package validator takes a raw signal.TradingSignal and either freezes it
// into a tradeable signal or rejects it with a reason. It is pure: no I/O,
// deterministic on its inputs plus the resolved risk policy.
//
// Rule order and the liquidation-safety estimate are grounded on the
// teacher's risk/gate.go (CanEnter's ordered hard-block checks) and
// risk/sizing.go's Calculate, generalized from one fixed policy into the
// per-signal Policy value below.
package validator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/signal"
	"github.com/driftline/signalbot/internal/types"
)

// LiquidationEstimator supplies the maintenance-margin coefficient for a
// symbol's exchange, keeping this package free of an exchange-adapter
// import (see internal/exchange/liquidation.go for the implementation).
type LiquidationEstimator interface {
	MaintenanceMarginRate(exchange types.Exchange, symbol string) decimal.Decimal
}

// Policy is the resolved risk policy a signal is validated against.
type Policy struct {
	MaxLeverage              int
	StopLossMode             types.StopLossMode
	StopLossPercent          decimal.Decimal
	SafeDistanceFromLiqPct   decimal.Decimal
	Exchange                 types.Exchange
}

// Result is the typed outcome of Validate.
type Result struct {
	Signal *signal.TradingSignal
	BestRR decimal.Decimal
	Reason string
}

// Rejected reports whether the validator refused the signal.
func (r Result) Rejected() bool { return r.Reason != "" }

var hundred = decimal.NewFromInt(100)

// Validate applies the ordered rule set from the spec and returns either an
// adjusted, frozen signal or a reason for rejection.
func Validate(s *signal.TradingSignal, policy Policy, liq LiquidationEstimator) Result {
	// Rule 1: direction/price consistency.
	if reason := checkDirectionConsistency(s); reason != "" {
		return Result{Reason: reason}
	}

	// Rule 2: leverage cap.
	adjustedLeverage := s.Leverage
	if policy.MaxLeverage > 0 && adjustedLeverage > policy.MaxLeverage {
		adjustedLeverage = policy.MaxLeverage
	}
	if adjustedLeverage <= 0 {
		adjustedLeverage = 1
	}

	// Rule 3: stop-loss recomputation.
	adjustedStop := s.StopLoss
	if policy.StopLossMode == types.StopLossCalc {
		pct := policy.StopLossPercent.Div(hundred)
		if s.Direction == types.Long {
			adjustedStop = s.EntryPrice.Mul(decimal.NewFromInt(1).Sub(pct))
		} else {
			adjustedStop = s.EntryPrice.Mul(decimal.NewFromInt(1).Add(pct))
		}
	}

	// Rule 4: liquidation safety.
	mmr := decimal.Zero
	if liq != nil {
		mmr = liq.MaintenanceMarginRate(policy.Exchange, s.Symbol)
	}
	liqPrice := estimateLiquidationPrice(s.EntryPrice, adjustedLeverage, s.Direction, mmr)
	distancePct := adjustedStop.Sub(liqPrice).Abs().Div(s.EntryPrice).Mul(hundred)
	if distancePct.LessThan(policy.SafeDistanceFromLiqPct) {
		return Result{Reason: fmt.Sprintf(
			"stop-loss too close to estimated liquidation price: distance %s%% < required %s%%",
			distancePct.StringFixed(3), policy.SafeDistanceFromLiqPct.StringFixed(3))}
	}

	// Rule 5: risk/reward, informational only.
	r := s.EntryPrice.Sub(s.StopLoss).Abs()
	bestRR := decimal.Zero
	if !r.IsZero() {
		for _, target := range s.Targets {
			rr := target.Sub(s.EntryPrice).Abs().Div(r)
			if rr.GreaterThan(bestRR) {
				bestRR = rr
			}
		}
	}

	s.AdjustedLeverage = adjustedLeverage
	s.AdjustedStopLoss = adjustedStop
	s.Valid = true

	return Result{Signal: s, BestRR: bestRR}
}

func checkDirectionConsistency(s *signal.TradingSignal) string {
	if len(s.Targets) == 0 {
		return "signal has no targets"
	}
	switch s.Direction {
	case types.Long:
		if !(s.EntryPrice.GreaterThan(s.StopLoss)) {
			return "long signal requires entry > stopLoss"
		}
		for _, target := range s.Targets {
			if !target.GreaterThan(s.EntryPrice) {
				return "long signal requires every target > entry"
			}
		}
	case types.Short:
		if !(s.StopLoss.GreaterThan(s.EntryPrice)) {
			return "short signal requires stopLoss > entry"
		}
		for _, target := range s.Targets {
			if !s.EntryPrice.GreaterThan(target) {
				return "short signal requires entry > every target"
			}
		}
	default:
		return "unknown direction"
	}
	return ""
}

// estimateLiquidationPrice applies the spec §4.2 rule-4 formula:
// entry · (1 ∓ 1/leverage), adjusted by a maintenance-margin factor.
func estimateLiquidationPrice(entry decimal.Decimal, leverage int, dir types.Direction, mmr decimal.Decimal) decimal.Decimal {
	inv := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(leverage)))
	adj := inv.Sub(mmr)
	if adj.IsNegative() {
		adj = decimal.Zero
	}
	if dir == types.Long {
		return entry.Mul(decimal.NewFromInt(1).Sub(adj))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(adj))
}
