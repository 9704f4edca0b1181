// Package complexbot names the contracts an external strategy engine would
// plug into, without implementing one. SignalBot's executor is signal-source
// agnostic: it consumes *signal.TradingSignal values from a channel, however
// they were produced — parsed chat messages today (internal/listener +
// internal/signal), an online strategy engine tomorrow. Nothing here is
// wired into cmd/signalbot; it exists to prove the seam, not to fill it.
package complexbot

import (
	"context"

	"github.com/driftline/signalbot/internal/signal"
)

// StrategyEngine is the contract a self-directed signal source would
// satisfy instead of internal/listener's chat-derived feed.
type StrategyEngine interface {
	// Signals streams trading instructions until ctx is cancelled or the
	// engine has nothing further to emit, at which point it closes the
	// channel.
	Signals(ctx context.Context) <-chan *signal.TradingSignal
}

// Indicator is a stateful online filter: each call absorbs one new sample
// and reports whether enough history has accumulated to trust the value,
// the "stateful online filter" reframing of a strategy's technical
// indicators (RSI, EMA, and the like) rather than the batch,
// whole-series-at-once shape a backtest engine would want.
type Indicator interface {
	// Update folds x into the indicator's internal state and returns the
	// current value plus whether the warm-up period has elapsed.
	Update(x float64) (value float64, ready bool)

	// Reset clears accumulated state, e.g. on a symbol change.
	Reset()
}
