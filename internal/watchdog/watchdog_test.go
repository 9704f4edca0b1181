package watchdog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/driftline/signalbot/internal/types"
)

type fakeMode struct {
	last types.OperatingMode
	sets int
}

func (m *fakeMode) Set(mode types.OperatingMode) {
	m.last = mode
	m.sets++
}

func basePolicy() Policy {
	return Policy{MaxDrawdownPercent: decimal.NewFromInt(20), MaxDailyLossPercent: decimal.NewFromInt(10)}
}

func TestWatchdog_TripsOnDrawdownBreach(t *testing.T) {
	m := &fakeMode{}
	w := New(basePolicy(), m)

	w.Observe(decimal.NewFromInt(1000), decimal.NewFromInt(100))
	w.Observe(decimal.NewFromInt(750), decimal.NewFromInt(-250))

	require.Equal(t, 1, m.sets)
	require.Equal(t, types.ModeEmergencyStop, m.last)
}

func TestWatchdog_DoesNotTripWithinThresholds(t *testing.T) {
	m := &fakeMode{}
	w := New(basePolicy(), m)

	w.Observe(decimal.NewFromInt(1000), decimal.NewFromInt(50))
	w.Observe(decimal.NewFromInt(950), decimal.NewFromInt(-50))

	require.Equal(t, 0, m.sets)
}

func TestWatchdog_TripsOnDailyLossBreachWithoutNewPeak(t *testing.T) {
	m := &fakeMode{}
	w := New(basePolicy(), m)

	w.Observe(decimal.NewFromInt(1000), decimal.Zero)
	w.Observe(decimal.NewFromInt(1000), decimal.NewFromInt(-150))

	require.Equal(t, 1, m.sets)
	require.Equal(t, types.ModeEmergencyStop, m.last)
}
