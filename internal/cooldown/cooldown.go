// Package cooldown implements the policy surface around consecutive-loss
// behavior (spec §4.5), grounded closely on the teacher's
// risk/circuit_breaker.go consecutive-loss/trip/cooldown state machine,
// retargeted from an equity-wide circuit breaker onto the spec's
// process-wide CooldownState singleton with a size-multiplier ladder
// instead of a binary trip.
package cooldown

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/types"
)

// Policy configures the controller's thresholds and durations.
type Policy struct {
	ConsecutiveLossesForLongCooldown int
	CooldownAfterStopLoss            time.Duration
	CooldownAfterLiquidation         time.Duration
	LongCooldownDuration             time.Duration
	WinsToResetLossCounter           int

	ReduceSizeAfterLosses      bool
	SizeMultiplierAfter1Loss   decimal.Decimal
	SizeMultiplierAfter2Losses decimal.Decimal
	SizeMultiplierAfter3Losses decimal.Decimal
}

// State is an immutable snapshot of the cooldown singleton, matching §3.
type State struct {
	ConsecutiveLosses int
	ConsecutiveWins   int
	CooldownUntil     *time.Time
	Reason            string
}

// Controller owns the CooldownState singleton with a mutex, per Design
// Notes §9's "named services owned by the runner with explicit lifecycles"
// guidance — never a package-level global.
type Controller struct {
	mu     sync.Mutex
	policy Policy
	state  State
}

func New(policy Policy) *Controller {
	return &Controller{policy: policy}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsActive reports whether the cooldown clock is future-dated right now.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CooldownUntil != nil && c.state.CooldownUntil.After(time.Now())
}

// SizeMultiplier is read by the execution orchestrator's sizing gate.
func (c *Controller) SizeMultiplier() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.policy.ReduceSizeAfterLosses {
		return decimal.NewFromInt(1)
	}
	switch {
	case c.state.ConsecutiveLosses >= 3:
		return nonZeroOr(c.policy.SizeMultiplierAfter3Losses, decimal.NewFromFloat(0.25))
	case c.state.ConsecutiveLosses == 2:
		return nonZeroOr(c.policy.SizeMultiplierAfter2Losses, decimal.NewFromFloat(0.5))
	case c.state.ConsecutiveLosses == 1:
		return nonZeroOr(c.policy.SizeMultiplierAfter1Loss, decimal.NewFromFloat(0.75))
	default:
		return decimal.NewFromInt(1)
	}
}

func nonZeroOr(v, fallback decimal.Decimal) decimal.Decimal {
	if v.IsZero() {
		return fallback
	}
	return v
}

// OnPositionClosed implements the §4.5 contract by close reason.
func (c *Controller) OnPositionClosed(reason types.CloseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch reason {
	case types.CloseStopLoss:
		c.recordLoss(c.policy.CooldownAfterStopLoss, "stop-loss hit")
	case types.CloseLiquidation:
		c.recordLoss(c.policy.CooldownAfterLiquidation, "liquidation")
	case types.CloseTargetsHit:
		c.state.ConsecutiveWins++
		if c.policy.WinsToResetLossCounter > 0 && c.state.ConsecutiveWins >= c.policy.WinsToResetLossCounter {
			c.state.ConsecutiveLosses = 0
			c.state.ConsecutiveWins = 0
		}
	default:
		// ManualClose and partial closes: no effect on counters.
	}
}

func (c *Controller) recordLoss(cooldown time.Duration, reason string) {
	c.state.ConsecutiveLosses++
	c.state.ConsecutiveWins = 0

	duration := cooldown
	if c.policy.ConsecutiveLossesForLongCooldown > 0 && c.state.ConsecutiveLosses >= c.policy.ConsecutiveLossesForLongCooldown {
		duration = c.policy.LongCooldownDuration
		reason = "long cooldown: " + reason
	}
	until := time.Now().Add(duration)
	c.state.CooldownUntil = &until
	c.state.Reason = reason
}

// ForceResetCooldown clears the clock without touching the counters.
func (c *Controller) ForceResetCooldown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.CooldownUntil = nil
	c.state.Reason = ""
}

// ForceResetLossCounter clears the counters without touching the clock.
func (c *Controller) ForceResetLossCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ConsecutiveLosses = 0
	c.state.ConsecutiveWins = 0
}

// Restore seeds the controller from a persisted snapshot on startup.
func (c *Controller) Restore(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}
