package exchange

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/types"
)

// BinanceAdapter implements the three facade surfaces over
// github.com/adshao/go-binance/v2's USDM futures client. Grounded on the
// teacher's internal/binance/client.go, replacing its hand-rolled REST/WS
// calls with the real SDK per the "never hand-roll what a real library
// already covers" rule.
type BinanceAdapter struct {
	client *futures.Client
}

func NewBinanceAdapter(apiKey, apiSecret string, testnet bool) *BinanceAdapter {
	futures.UseTestnet = testnet
	return &BinanceAdapter{client: futures.NewClient(apiKey, apiSecret)}
}

func (a *BinanceAdapter) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := a.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("no mark price for %s", symbol)
	}
	return decimal.NewFromString(prices[0].MarkPrice)
}

func (a *BinanceAdapter) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := a.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return decimal.NewFromString(b.Balance)
		}
	}
	return decimal.Zero, fmt.Errorf("asset %s not found in balance response", asset)
}

func (a *BinanceAdapter) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	raw, err := a.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Kline, 0, len(raw))
	for _, k := range raw {
		open, _ := decimal.NewFromString(k.Open)
		high, _ := decimal.NewFromString(k.High)
		low, _ := decimal.NewFromString(k.Low)
		close, _ := decimal.NewFromString(k.Close)
		vol, _ := decimal.NewFromString(k.Volume)
		out = append(out, Kline{Open: open, High: high, Low: low, Close: close, Volume: vol})
	}
	return out, nil
}

func (a *BinanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := a.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return err
}

func (a *BinanceAdapter) SetMarginType(ctx context.Context, symbol string, marginType types.MarginType) error {
	mt := futures.MarginTypeIsolated
	if marginType == types.Cross {
		mt = futures.MarginTypeCrossed
	}
	err := a.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(mt).Do(ctx)
	return err
}

func (a *BinanceAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side types.Direction, qty decimal.Decimal) (types.ExecutionResult, error) {
	sideType := futures.SideTypeBuy
	if side == types.Short {
		sideType = futures.SideTypeSell
	}
	order, err := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(sideType).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		Do(ctx)
	if err != nil {
		return types.ExecutionResult{Success: false, RejectReason: err.Error()}, nil
	}
	avg, _ := decimal.NewFromString(order.AvgPrice)
	return types.ExecutionResult{Success: true, OrderID: fmt.Sprintf("%d", order.OrderID), AveragePrice: avg}, nil
}

func (a *BinanceAdapter) PlaceStopLoss(ctx context.Context, symbol string, side types.Direction, stopPrice, qty decimal.Decimal) (types.ExecutionResult, error) {
	closeSide := futures.SideTypeSell
	if side == types.Short {
		closeSide = futures.SideTypeBuy
	}
	order, err := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(closeSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(stopPrice.String()).
		ClosePosition(false).
		ReduceOnly(true).
		Quantity(qty.String()).
		Do(ctx)
	if err != nil {
		return types.ExecutionResult{Success: false, RejectReason: err.Error()}, nil
	}
	return types.ExecutionResult{Success: true, OrderID: fmt.Sprintf("%d", order.OrderID)}, nil
}

func (a *BinanceAdapter) PlaceTakeProfit(ctx context.Context, symbol string, side types.Direction, price, qty decimal.Decimal) (types.ExecutionResult, error) {
	closeSide := futures.SideTypeSell
	if side == types.Short {
		closeSide = futures.SideTypeBuy
	}
	order, err := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(closeSide).
		Type(futures.OrderTypeTakeProfitMarket).
		StopPrice(price.String()).
		ReduceOnly(true).
		Quantity(qty.String()).
		Do(ctx)
	if err != nil {
		return types.ExecutionResult{Success: false, RejectReason: err.Error()}, nil
	}
	return types.ExecutionResult{Success: true, OrderID: fmt.Sprintf("%d", order.OrderID)}, nil
}

func (a *BinanceAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid binance order id %q: %w", orderID, err)
	}
	_, err = a.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	return err
}

// BinanceOrderUpdateListener consumes the USDM futures user-data stream.
type BinanceOrderUpdateListener struct {
	client *futures.Client
	doneC  chan struct{}
	stopC  chan struct{}
}

func NewBinanceOrderUpdateListener(a *BinanceAdapter) *BinanceOrderUpdateListener {
	return &BinanceOrderUpdateListener{client: a.client}
}

func (l *BinanceOrderUpdateListener) Start(ctx context.Context) (<-chan types.OrderUpdate, error) {
	listenKey, err := l.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan types.OrderUpdate, 64)
	handler := func(event *futures.WsUserDataEvent) {
		if event.Event != futures.UserDataEventTypeOrderTradeUpdate {
			return
		}
		o := event.OrderTradeUpdate
		status := mapBinanceOrderStatus(o.Status)
		qty, _ := decimal.NewFromString(o.AccumulatedFilledQty)
		avg, _ := decimal.NewFromString(o.AveragePrice)
		out <- types.OrderUpdate{
			Exchange:     types.Binance,
			Symbol:       o.Symbol,
			OrderID:      fmt.Sprintf("%d", o.ID),
			FillID:       fmt.Sprintf("%d-%d", o.ID, o.TradeID),
			Status:       status,
			FilledQty:    qty,
			AveragePrice: avg,
			ReduceOnly:   o.IsReduceOnly,
		}
	}
	errHandler := func(err error) {}
	doneC, stopC, err := futures.WsUserDataServe(listenKey, handler, errHandler)
	if err != nil {
		return nil, err
	}
	l.doneC, l.stopC = doneC, stopC
	return out, nil
}

func (l *BinanceOrderUpdateListener) Stop() {
	if l.stopC != nil {
		close(l.stopC)
	}
}

func mapBinanceOrderStatus(s futures.OrderStatusType) types.OrderStatus {
	switch s {
	case futures.OrderStatusTypeFilled:
		return types.OrderFilled
	case futures.OrderStatusTypePartiallyFilled:
		return types.OrderPartiallyFilled
	case futures.OrderStatusTypeCanceled:
		return types.OrderCancelled
	case futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
		return types.OrderRejected
	default:
		return types.OrderNew
	}
}
