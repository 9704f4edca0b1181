package cooldown

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/driftline/signalbot/internal/types"
)

func testPolicy() Policy {
	return Policy{
		ConsecutiveLossesForLongCooldown: 3,
		CooldownAfterStopLoss:            15 * time.Minute,
		LongCooldownDuration:             2 * time.Hour,
		WinsToResetLossCounter:           2,
		ReduceSizeAfterLosses:            true,
	}
}

func TestCooldown_LadderTripsLongCooldownAtThreshold(t *testing.T) {
	c := New(testPolicy())
	c.OnPositionClosed(types.CloseStopLoss)
	c.OnPositionClosed(types.CloseStopLoss)
	c.OnPositionClosed(types.CloseStopLoss)

	snap := c.Snapshot()
	require.Equal(t, 3, snap.ConsecutiveLosses)
	require.True(t, c.SizeMultiplier().Equal(decimal.NewFromFloat(0.25)))
	require.NotNil(t, snap.CooldownUntil)
	require.GreaterOrEqual(t, time.Until(*snap.CooldownUntil), 119*time.Minute)
}

func TestCooldown_RecoveryResetsCounters(t *testing.T) {
	c := New(testPolicy())
	c.OnPositionClosed(types.CloseStopLoss)
	c.OnPositionClosed(types.CloseStopLoss)
	require.True(t, c.SizeMultiplier().Equal(decimal.NewFromFloat(0.5)))

	c.OnPositionClosed(types.CloseTargetsHit)
	c.OnPositionClosed(types.CloseTargetsHit)

	snap := c.Snapshot()
	require.Equal(t, 0, snap.ConsecutiveLosses)
	require.Equal(t, 0, snap.ConsecutiveWins)
	require.True(t, c.SizeMultiplier().Equal(decimal.NewFromFloat(1)))
}

func TestCooldown_ManualCloseDoesNotAffectCounters(t *testing.T) {
	c := New(testPolicy())
	c.OnPositionClosed(types.CloseStopLoss)
	c.OnPositionClosed(types.CloseManual)
	require.Equal(t, 1, c.Snapshot().ConsecutiveLosses)
}

func TestCooldown_ForceResetCooldownKeepsCounters(t *testing.T) {
	c := New(testPolicy())
	c.OnPositionClosed(types.CloseStopLoss)
	c.ForceResetCooldown()
	snap := c.Snapshot()
	require.Nil(t, snap.CooldownUntil)
	require.Equal(t, 1, snap.ConsecutiveLosses)
}
