package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"vigil/internal/gateway/exchange"
	"vigil/internal/pkg/circuit"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

// Gateway implements exchange.Gateway on Binance USDT-M futures via the
// go-binance SDK. All calls pass through a circuit breaker so a dead venue
// cannot stall every poll cycle.
type Gateway struct {
	cfg     Config
	client  *futures.Client
	breaker *circuit.Breaker
}

func New(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Gateway{
		cfg:     final,
		client:  client,
		breaker: circuit.NewBreaker("binance", final.BreakerThreshold, final.BreakerTimeout),
	}, nil
}

func (g *Gateway) Name() string { return "binance-futures" }

// Breaker exposes the breaker state for status reporting.
func (g *Gateway) Breaker() *circuit.Breaker { return g.breaker }

func (g *Gateway) PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (int64, error) {
	if !g.breaker.Allow() {
		return 0, exchange.ErrUnavailable
	}
	symbol := exchange.NormalizeSymbol(spec.Symbol)
	if symbol == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	svc := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(spec.Side)).
		Type(futures.OrderType(spec.Kind)).
		PositionSide(futures.PositionSideType(spec.PositionSide))
	switch spec.Kind {
	case exchange.KindLimit:
		svc = svc.TimeInForce(futures.TimeInForceTypeGTC).
			Quantity(formatFloat(spec.Quantity)).
			Price(formatFloat(spec.Price))
	case exchange.KindMarket:
		svc = svc.Quantity(formatFloat(spec.Quantity))
	case exchange.KindStopMarket, exchange.KindTakeProfit:
		svc = svc.StopPrice(formatFloat(spec.StopPrice))
		if spec.ClosePosition {
			svc = svc.ClosePosition(true)
		} else {
			svc = svc.Quantity(formatFloat(spec.Quantity))
		}
	default:
		return 0, fmt.Errorf("unsupported order kind %q", spec.Kind)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return 0, g.classify(err)
	}
	g.breaker.RecordSuccess()
	return res.OrderID, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if !g.breaker.Allow() {
		return exchange.ErrUnavailable
	}
	_, err := g.client.NewCancelOrderService().
		Symbol(exchange.NormalizeSymbol(symbol)).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return g.classify(err)
	}
	g.breaker.RecordSuccess()
	return nil
}

func (g *Gateway) GetOrder(ctx context.Context, symbol string, orderID int64) (*exchange.Order, error) {
	if !g.breaker.Allow() {
		return nil, exchange.ErrUnavailable
	}
	raw, err := g.client.NewGetOrderService().
		Symbol(exchange.NormalizeSymbol(symbol)).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, g.classify(err)
	}
	g.breaker.RecordSuccess()
	out := convertOrder(raw)
	return &out, nil
}

func (g *Gateway) ListOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	if !g.breaker.Allow() {
		return nil, exchange.ErrUnavailable
	}
	svc := g.client.NewListOpenOrdersService()
	if s := exchange.NormalizeSymbol(symbol); s != "" {
		svc = svc.Symbol(s)
	}
	raws, err := svc.Do(ctx)
	if err != nil {
		return nil, g.classify(err)
	}
	g.breaker.RecordSuccess()
	out := make([]exchange.Order, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		out = append(out, convertOrder(raw))
	}
	return out, nil
}

func (g *Gateway) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	if !g.breaker.Allow() {
		return nil, exchange.ErrUnavailable
	}
	raws, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, g.classify(err)
	}
	g.breaker.RecordSuccess()
	out := make([]exchange.Position, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		amt := parseFloat(raw.PositionAmt)
		if amt == 0 {
			continue
		}
		out = append(out, exchange.Position{
			Symbol:        raw.Symbol,
			Side:          positionSideOf(raw.PositionSide, amt),
			Amount:        amt,
			EntryPrice:    parseFloat(raw.EntryPrice),
			MarkPrice:     parseFloat(raw.MarkPrice),
			Leverage:      parseFloat(raw.Leverage),
			UnrealizedPnL: parseFloat(raw.UnRealizedProfit),
		})
	}
	return out, nil
}

func (g *Gateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if !g.breaker.Allow() {
		return 0, exchange.ErrUnavailable
	}
	prices, err := g.client.NewListPricesService().
		Symbol(exchange.NormalizeSymbol(symbol)).
		Do(ctx)
	if err != nil {
		return 0, g.classify(err)
	}
	g.breaker.RecordSuccess()
	if len(prices) == 0 || prices[0] == nil {
		return 0, exchange.ErrOrderNotFound
	}
	return parseFloat(prices[0].Price), nil
}

// classify maps Binance API errors into the gateway taxonomy and feeds the
// breaker. Not-found responses count as successes: the venue answered.
func (g *Gateway) classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -2013, -2011: // unknown order / cancel rejected (already gone)
			g.breaker.RecordSuccess()
			return fmt.Errorf("%w: %s", exchange.ErrOrderNotFound, apiErr.Message)
		case -1003, -1015:
			g.breaker.RecordFailure()
			return fmt.Errorf("%w: %s", exchange.ErrRateLimited, apiErr.Message)
		default:
			g.breaker.RecordSuccess()
			return err
		}
	}
	g.breaker.RecordFailure()
	return fmt.Errorf("%w: %v", exchange.ErrUnavailable, err)
}

func convertOrder(raw *futures.Order) exchange.Order {
	return exchange.Order{
		Symbol:       raw.Symbol,
		OrderID:      raw.OrderID,
		Side:         string(raw.Side),
		PositionSide: string(raw.PositionSide),
		Kind:         exchange.OrderKind(raw.Type),
		State:        exchange.OrderState(raw.Status),
		Quantity:     parseFloat(raw.OrigQuantity),
		ExecutedQty:  parseFloat(raw.ExecutedQuantity),
		Price:        parseFloat(raw.Price),
		StopPrice:    parseFloat(raw.StopPrice),
		AvgFillPrice: parseFloat(raw.AvgPrice),
		UpdateTime:   raw.UpdateTime,
	}
}

func positionSideOf(side string, amt float64) string {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "LONG":
		return "LONG"
	case "SHORT":
		return "SHORT"
	}
	// One-way mode reports BOTH; fall back to the amount sign.
	if amt < 0 {
		return "SHORT"
	}
	return "LONG"
}

func parseFloat(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return val
}

func formatFloat(val float64) string {
	return strconv.FormatFloat(val, 'f', -1, 64)
}
