package stats

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/driftline/signalbot/internal/types"
)

type fakeRepo struct {
	items []*types.SignalPosition
}

func (r *fakeRepo) GetAll() ([]*types.SignalPosition, error) { return r.items, nil }

func closedAt(ago time.Duration, pnl float64, reason types.CloseReason) *types.SignalPosition {
	t := time.Now().Add(-ago)
	return &types.SignalPosition{
		ClosedAt:    &t,
		RealizedPnl: decimal.NewFromFloat(pnl),
		CloseReason: reason,
	}
}

func TestAggregator_SplitsTradesIntoCorrectWindows(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{
		closedAt(1*time.Hour, 10, types.CloseTargetsHit),
		closedAt(3*24*time.Hour, -5, types.CloseStopLoss),
		closedAt(20*24*time.Hour, 8, types.CloseTargetsHit),
		closedAt(40*24*time.Hour, 100, types.CloseTargetsHit), // outside every window
	}}
	agg := New(repo)
	snaps, err := agg.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	byWindow := map[Window]Snapshot{}
	for _, s := range snaps {
		byWindow[s.Window] = s
	}

	require.Equal(t, 1, byWindow[Window24h].Trades)
	require.Equal(t, 2, byWindow[Window7d].Trades)
	require.Equal(t, 3, byWindow[Window30d].Trades)
}

func TestAggregator_ComputesWinRate(t *testing.T) {
	repo := &fakeRepo{items: []*types.SignalPosition{
		closedAt(time.Hour, 10, types.CloseTargetsHit),
		closedAt(time.Hour, -5, types.CloseStopLoss),
	}}
	agg := New(repo)
	snaps, err := agg.Snapshots()
	require.NoError(t, err)
	for _, s := range snaps {
		require.Equal(t, 2, s.Trades)
		require.True(t, s.WinRatePct.Equal(decimal.NewFromInt(50)))
	}
}

func TestAggregator_EmptyStoreProducesZeroedSnapshots(t *testing.T) {
	agg := New(&fakeRepo{})
	snaps, err := agg.Snapshots()
	require.NoError(t, err)
	for _, s := range snaps {
		require.Equal(t, 0, s.Trades)
		require.True(t, s.WinRatePct.IsZero())
	}
}
