// Package stats computes rolling-window trade statistics (spec §4.9: 24h,
// 7d, 30d windows of trade count, win rate, and realized P&L) from the
// closed-position history in the position store.
//
// Grounded on the teacher's core/engine.go GetStats (totalTrades, winCount,
// lossCount, totalPnL) and bot/telegram.go's NotifyDailySummary win-rate
// math, generalized from one all-time counter set into Window-keyed rolling
// snapshots recomputed on demand rather than accumulated live.
package stats

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/types"
)

// Window names one rolling lookback the aggregator reports.
type Window string

const (
	Window24h Window = "24H"
	Window7d  Window = "7D"
	Window30d Window = "30D"
)

var windowDurations = map[Window]time.Duration{
	Window24h: 24 * time.Hour,
	Window7d:  7 * 24 * time.Hour,
	Window30d: 30 * 24 * time.Hour,
}

// Snapshot is one window's aggregate figures.
type Snapshot struct {
	Window      Window
	Trades      int
	Wins        int
	Losses      int
	WinRatePct  decimal.Decimal
	RealizedPnl decimal.Decimal
}

// Repo is the narrow store surface the aggregator needs.
type Repo interface {
	GetAll() ([]*types.SignalPosition, error)
}

// Aggregator computes Snapshots on demand from the position store; it holds
// no state of its own so every call reflects the store's current contents.
type Aggregator struct {
	repo Repo
}

func New(repo Repo) *Aggregator {
	return &Aggregator{repo: repo}
}

// Snapshots returns one Snapshot per window, computed as of now.
func (a *Aggregator) Snapshots() ([]Snapshot, error) {
	all, err := a.repo.GetAll()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]Snapshot, 0, len(windowDurations))
	for _, w := range []Window{Window24h, Window7d, Window30d} {
		out = append(out, snapshotFor(w, windowDurations[w], all, now))
	}
	return out, nil
}

func snapshotFor(w Window, lookback time.Duration, all []*types.SignalPosition, now time.Time) Snapshot {
	snap := Snapshot{Window: w}
	cutoff := now.Add(-lookback)

	for _, p := range all {
		if p.ClosedAt == nil || p.ClosedAt.Before(cutoff) {
			continue
		}
		snap.Trades++
		snap.RealizedPnl = snap.RealizedPnl.Add(p.RealizedPnl)
		if isWin(p) {
			snap.Wins++
		} else {
			snap.Losses++
		}
	}

	if snap.Trades > 0 {
		snap.WinRatePct = decimal.NewFromInt(int64(snap.Wins)).
			Div(decimal.NewFromInt(int64(snap.Trades))).
			Mul(decimal.NewFromInt(100))
	}
	return snap
}

func isWin(p *types.SignalPosition) bool {
	if p.CloseReason == types.CloseTargetsHit {
		return true
	}
	return p.RealizedPnl.IsPositive()
}
