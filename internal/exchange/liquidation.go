package exchange

import (
	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/types"
)

// maintenanceMarginRates holds one pluggable constant per venue, per
// spec §9 Design Notes (b): "the liquidation price formula varies per
// exchange and is not uniformly documented; treat the maintenance-margin
// coefficient as a pluggable constant and document each value per venue."
//
// These are conservative placeholders for the lowest notional tier of each
// venue's tiered-margin schedule, not a live feed of the real schedule.
var maintenanceMarginRates = map[types.Exchange]decimal.Decimal{
	types.Binance: decimal.NewFromFloat(0.004), // Binance USDM lowest-tier MMR
	types.Bybit:   decimal.NewFromFloat(0.005), // Bybit USDT-perp lowest-tier MMR
	types.Bitget:  decimal.NewFromFloat(0.005), // Bitget USDT-M lowest-tier MMR
}

// LiquidationEstimator implements validator.LiquidationEstimator. Symbol is
// accepted for a future per-symbol tier lookup but unused today — every
// symbol on a venue shares the venue's lowest-tier rate.
type LiquidationEstimator struct{}

func (LiquidationEstimator) MaintenanceMarginRate(ex types.Exchange, symbol string) decimal.Decimal {
	if rate, ok := maintenanceMarginRates[ex]; ok {
		return rate
	}
	return decimal.NewFromFloat(0.005)
}
