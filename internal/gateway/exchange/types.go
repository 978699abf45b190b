package exchange

import "strings"

// OrderKind selects the exchange order type.
type OrderKind string

const (
	KindLimit      OrderKind = "LIMIT"
	KindMarket     OrderKind = "MARKET"
	KindStopMarket OrderKind = "STOP_MARKET"
	KindTakeProfit OrderKind = "TAKE_PROFIT_MARKET"
)

// OrderSpec is a request to place one order.
type OrderSpec struct {
	Symbol        string
	Side          string // BUY / SELL
	PositionSide  string // LONG / SHORT
	Kind          OrderKind
	Quantity      float64
	Price         float64 // limit price, ignored for market orders
	StopPrice     float64 // trigger price for stop / take-profit orders
	ReduceOnly    bool
	ClosePosition bool
}

// OrderState is the exchange-reported status of an order.
type OrderState string

const (
	StateNew             OrderState = "NEW"
	StatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	StateFilled          OrderState = "FILLED"
	StateCanceled        OrderState = "CANCELED"
	StateRejected        OrderState = "REJECTED"
	StateExpired         OrderState = "EXPIRED"
)

// Open reports whether the order can still fill.
func (s OrderState) Open() bool {
	switch s {
	case StateNew, StatePartiallyFilled:
		return true
	default:
		return false
	}
}

// ClosedWithoutFill reports terminal states that never produced a position.
func (s OrderState) ClosedWithoutFill() bool {
	switch s {
	case StateCanceled, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// Order is an exchange-side order snapshot.
type Order struct {
	Symbol       string
	OrderID      int64
	Side         string
	PositionSide string
	Kind         OrderKind
	State        OrderState
	Quantity     float64
	ExecutedQty  float64
	Price        float64
	StopPrice    float64
	AvgFillPrice float64
	UpdateTime   int64 // epoch millis
}

// Position is an exchange-side open position snapshot. Amount carries the
// exchange sign convention: negative for shorts.
type Position struct {
	Symbol        string
	Side          string // LONG / SHORT
	Amount        float64
	EntryPrice    float64
	MarkPrice     float64
	Leverage      float64
	UnrealizedPnL float64
}

// Open reports whether the position has remaining size.
func (p Position) Open() bool {
	return p.Amount > 1e-12 || p.Amount < -1e-12
}

// NormalizeSymbol uppercases and strips separators so "eth/usdt" matches the
// exchange form "ETHUSDT".
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.ReplaceAll(symbol, "/", "")
	return strings.ReplaceAll(symbol, "-", "")
}
