// Package reconcile implements startup position recovery (spec §4.8):
// compare every locally persisted Open/PartialClosed SignalPosition against
// the exchange's own view of open orders and positions, and classify each
// as Confirmed, Mismatched, or MissingOrders so the operator gets a typed
// report instead of a guess.
//
// Grounded on the teacher's execution/reconciler.go RecoverPositions (load
// persisted state, cross-check against what's live, log per-item outcomes)
// and the "ghost position" problem it names, generalized from a
// db-is-the-only-truth recovery into an exchange-is-the-truth comparison.
package reconcile

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/exchange"
	"github.com/driftline/signalbot/internal/types"
)

// balanceTolerance is the fee/rounding slack spec §4.8/§8 scenario 8 names:
// "confirm the held inventory matches remainingQuantity (1% tolerance for
// fees/rounding)".
var balanceTolerance = decimal.NewFromFloat(0.01)

var knownQuoteAssets = []string{"USDT", "USDC", "BUSD", "USD"}

// baseAsset strips a known quote suffix from a symbol like "BTCUSDT" to get
// the asset whose free balance should track remainingQuantity.
func baseAsset(symbol string) string {
	for _, quote := range knownQuoteAssets {
		if strings.HasSuffix(symbol, quote) {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	return symbol
}

// Outcome classifies one position's post-reconciliation state.
type Outcome string

const (
	Confirmed      Outcome = "CONFIRMED"       // matches exchange exactly
	Mismatched     Outcome = "MISMATCHED"      // exchange state disagrees (size, still open, etc.)
	MissingOrders  Outcome = "MISSING_ORDERS"  // position open locally but protective orders gone
	OrphanClosed   Outcome = "ORPHAN_CLOSED"   // exchange shows it fully closed; local record not yet closed
)

// Item is one position's reconciliation result.
type Item struct {
	Position *types.SignalPosition
	Outcome  Outcome
	Detail   string
}

// Result is the typed output of a full reconciliation pass.
type Result struct {
	Items []Item
}

func (r Result) CountByOutcome(o Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == o {
			n++
		}
	}
	return n
}

// Repo is the narrow store surface the reconciler needs.
type Repo interface {
	GetBy(func(*types.SignalPosition) bool) ([]*types.SignalPosition, error)
	AddOrUpdate(*types.SignalPosition) error
}

// Reconciler cross-checks persisted positions against one venue facade at a
// time; the runner calls Run once per configured exchange at startup.
type Reconciler struct {
	repo Repo
}

func New(repo Repo) *Reconciler {
	return &Reconciler{repo: repo}
}

// Run reconciles every locally Open/PartialClosed position for the given
// exchange against that exchange's live mark price and balance (a full
// open-orders diff would need a ListOpenOrders capability the facade does
// not expose; this pass checks that a mark price can be fetched, that the
// stop-loss order ID is non-empty, that the mark has not crossed the stop,
// and that the base-asset balance matches remainingQuantity within
// tolerance, which catches the crash-recovery "ghost position" case the
// teacher's reconciler targets; take-profit order IDs are not checked).
func (r *Reconciler) Run(ctx context.Context, venue types.Exchange, facade exchange.Facade) (Result, error) {
	persisted, err := r.repo.GetBy(func(p *types.SignalPosition) bool {
		return p.Exchange == venue && (p.Status == types.StatusOpen || p.Status == types.StatusPartialClosed)
	})
	if err != nil {
		return Result{}, err
	}
	if len(persisted) == 0 {
		log.Info().Str("exchange", string(venue)).Msg("no persisted positions to reconcile")
		return Result{}, nil
	}

	log.Warn().Int("count", len(persisted)).Str("exchange", string(venue)).Msg("reconciling persisted positions against exchange state")

	result := Result{}
	for _, pos := range persisted {
		item := r.reconcileOne(ctx, pos, facade)
		result.Items = append(result.Items, item)
		log.Info().Str("position", pos.ID).Str("symbol", pos.Symbol).Str("outcome", string(item.Outcome)).Str("detail", item.Detail).Msg("reconciliation result")
	}
	return result, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, pos *types.SignalPosition, facade exchange.Facade) Item {
	if pos.StopLossOrderID == "" {
		return Item{Position: pos, Outcome: MissingOrders, Detail: "no stop-loss order on record"}
	}

	mark, err := facade.Market.GetMarkPrice(ctx, pos.Symbol)
	if err != nil {
		return Item{Position: pos, Outcome: Mismatched, Detail: "failed to fetch mark price: " + err.Error()}
	}

	throughStop := pos.Direction == types.Long && mark.LessThanOrEqual(pos.CurrentStopLoss) ||
		pos.Direction == types.Short && mark.GreaterThanOrEqual(pos.CurrentStopLoss)
	if throughStop {
		return Item{Position: pos, Outcome: Mismatched, Detail: "mark price has moved through stop-loss; exchange likely already closed this position"}
	}

	// Per spec §8 scenario 8: confirm held inventory matches remainingQuantity
	// within a 1% tolerance for fees/rounding; never auto-correct.
	if !pos.RemainingQuantity.IsZero() {
		asset := baseAsset(pos.Symbol)
		balance, err := facade.Market.GetBalance(ctx, asset)
		if err != nil {
			return Item{Position: pos, Outcome: Mismatched, Detail: "failed to fetch held balance for " + asset + ": " + err.Error()}
		}
		diffPct := balance.Sub(pos.RemainingQuantity).Abs().Div(pos.RemainingQuantity)
		if diffPct.GreaterThan(balanceTolerance) {
			return Item{Position: pos, Outcome: Mismatched, Detail: "held balance " + balance.String() + " " + asset +
				" diverges from remainingQuantity " + pos.RemainingQuantity.String() + " beyond 1% tolerance"}
		}
	}

	return Item{Position: pos, Outcome: Confirmed, Detail: "stop-loss on record, mark price and held balance within expected range"}
}
