package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/khanbekov/go-bitget/futures"
	"github.com/khanbekov/go-bitget/futures/account"
	"github.com/khanbekov/go-bitget/futures/market"
	"github.com/khanbekov/go-bitget/futures/trading"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/types"
)

// BitgetAdapter implements the facade over github.com/khanbekov/go-bitget's
// futures services. Grounded directly on the retrieved basic_trading_bot
// example: the same NewClient/service/fluent-builder shape is reused almost
// verbatim, generalized from that example's fixed BTCUSDT/5x scalper into a
// symbol- and side-parametrized adapter.
type BitgetAdapter struct {
	client      *futures.Client
	productType string
	marginCoin  string
}

func NewBitgetAdapter(apiKey, apiSecret, passphrase string, testnet bool) *BitgetAdapter {
	client := futures.NewClient(apiKey, apiSecret, passphrase)
	return &BitgetAdapter{client: client, productType: "USDT-FUTURES", marginCoin: "USDT"}
}

func (a *BitgetAdapter) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ticker, err := market.NewTickerService(a.client).
		Symbol(symbol).
		ProductType(a.productType).
		Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(ticker.MarkPrice)
}

func (a *BitgetAdapter) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	info, err := account.NewAccountInfoService(a.client).
		Symbol(asset).
		ProductType(a.productType).
		MarginCoin(asset).
		Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(info.Available)
}

func (a *BitgetAdapter) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	candles, err := market.NewCandlestickService(a.client).
		Symbol(symbol).
		ProductType(a.productType).
		Granularity(interval).
		Limit(fmt.Sprintf("%d", limit)).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Kline, 0, len(candles))
	for _, c := range candles {
		open, _ := decimal.NewFromString(c.Open)
		high, _ := decimal.NewFromString(c.High)
		low, _ := decimal.NewFromString(c.Low)
		closeP, _ := decimal.NewFromString(c.Close)
		vol, _ := decimal.NewFromString(c.Volume)
		out = append(out, Kline{Open: open, High: high, Low: low, Close: closeP, Volume: vol})
	}
	return out, nil
}

func (a *BitgetAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := account.NewSetLeverageService(a.client).
		Symbol(symbol).
		ProductType(a.productType).
		MarginCoin(a.marginCoin).
		Leverage(fmt.Sprintf("%d", leverage)).
		Do(ctx)
	return err
}

func (a *BitgetAdapter) SetMarginType(ctx context.Context, symbol string, marginType types.MarginType) error {
	mode := "isolated"
	if marginType == types.Cross {
		mode = "crossed"
	}
	_, err := account.NewSetMarginModeService(a.client).
		Symbol(symbol).
		ProductType(a.productType).
		MarginCoin(a.marginCoin).
		MarginMode(mode).
		Do(ctx)
	return err
}

func (a *BitgetAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side types.Direction, qty decimal.Decimal) (types.ExecutionResult, error) {
	order, err := trading.NewCreateOrderService(a.client).
		Symbol(symbol).
		ProductType(a.productType).
		MarginMode("isolated").
		MarginCoin(a.marginCoin).
		SideType(bitgetSide(side, false)).
		OrderType("market").
		Size(qty.String()).
		Do(ctx)
	if err != nil {
		return types.ExecutionResult{Success: false, RejectReason: err.Error()}, nil
	}
	return types.ExecutionResult{Success: true, OrderID: order.OrderId}, nil
}

func (a *BitgetAdapter) PlaceStopLoss(ctx context.Context, symbol string, side types.Direction, stopPrice, qty decimal.Decimal) (types.ExecutionResult, error) {
	order, err := trading.NewCreatePlanOrderService(a.client).
		Symbol(symbol).
		ProductType(a.productType).
		MarginMode("isolated").
		MarginCoin(a.marginCoin).
		SideType(bitgetSide(side, true)).
		OrderType("market").
		TriggerPrice(stopPrice.String()).
		Size(qty.String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return types.ExecutionResult{Success: false, RejectReason: err.Error()}, nil
	}
	return types.ExecutionResult{Success: true, OrderID: order.OrderId}, nil
}

func (a *BitgetAdapter) PlaceTakeProfit(ctx context.Context, symbol string, side types.Direction, price, qty decimal.Decimal) (types.ExecutionResult, error) {
	order, err := trading.NewCreatePlanOrderService(a.client).
		Symbol(symbol).
		ProductType(a.productType).
		MarginMode("isolated").
		MarginCoin(a.marginCoin).
		SideType(bitgetSide(side, true)).
		OrderType("limit").
		TriggerPrice(price.String()).
		Price(price.String()).
		Size(qty.String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return types.ExecutionResult{Success: false, RejectReason: err.Error()}, nil
	}
	return types.ExecutionResult{Success: true, OrderID: order.OrderId}, nil
}

func (a *BitgetAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := trading.NewCancelOrderService(a.client).
		Symbol(symbol).
		ProductType(a.productType).
		OrderId(orderID).
		Do(ctx)
	return err
}

func bitgetSide(d types.Direction, closing bool) string {
	isBuy := d == types.Long
	if closing {
		isBuy = !isBuy
	}
	if isBuy {
		return "buy"
	}
	return "sell"
}

// BitgetOrderUpdateListener polls the private fills endpoint on a short
// interval in lieu of a documented Bitget private WS order-update stream in
// this SDK version; a periodic pull is acceptable under §5's "polling
// timer" allowance for sources that do not always deliver pushes.
type BitgetOrderUpdateListener struct {
	client      *futures.Client
	productType string
	lastFillID  string
	stopCh      chan struct{}
}

func NewBitgetOrderUpdateListener(a *BitgetAdapter) *BitgetOrderUpdateListener {
	return &BitgetOrderUpdateListener{client: a.client, productType: a.productType, stopCh: make(chan struct{})}
}

func (l *BitgetOrderUpdateListener) Start(ctx context.Context) (<-chan types.OrderUpdate, error) {
	out := make(chan types.OrderUpdate, 64)
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.poll(ctx, out)
			}
		}
	}()
	return out, nil
}

// poll fetches fills newer than lastFillID and forwards each as an
// OrderUpdate. Errors are logged, not surfaced — a skipped poll just means
// the next tick catches up.
func (l *BitgetOrderUpdateListener) poll(ctx context.Context, out chan<- types.OrderUpdate) {
	fills, err := trading.NewOrderFillsService(l.client).
		ProductType(l.productType).
		Limit("50").
		Do(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("bitget fills poll skipped")
		return
	}
	// fills is newest-first: everything before lastFillID is new, and is
	// forwarded oldest-first.
	start := len(fills)
	for i, f := range fills {
		if f.TradeId == l.lastFillID {
			start = i
			break
		}
	}
	for i := start - 1; i >= 0; i-- {
		f := fills[i]
		qty, _ := decimal.NewFromString(f.BaseVolume)
		price, _ := decimal.NewFromString(f.Price)
		out <- types.OrderUpdate{
			Exchange:     types.Bitget,
			Symbol:       f.Symbol,
			OrderID:      f.OrderId,
			FillID:       f.TradeId,
			Status:       types.OrderFilled,
			FilledQty:    qty,
			AveragePrice: price,
			ReduceOnly:   f.ReduceOnly,
		}
	}
	if len(fills) > 0 {
		l.lastFillID = fills[0].TradeId
	}
}

func (l *BitgetOrderUpdateListener) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
}
