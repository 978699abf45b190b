package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OrderStatus is the lifecycle state of a watched order.
type OrderStatus int

const (
	StatusUnknown OrderStatus = iota
	StatusPending
	StatusFilled
	StatusSLTPPlaced
	StatusCompleted
	StatusCancelled
	StatusSLTPError
)

// MaxSLTPAttempts bounds protective-order placement retries. Once exceeded the
// order is pinned to StatusSLTPError and only operator action clears it.
const MaxSLTPAttempts = 3

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusFilled:
		return "FILLED"
	case StatusSLTPPlaced:
		return "SL_TP_PLACED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusSLTPError:
		return "SL_TP_ERROR"
	default:
		return "UNKNOWN"
	}
}

func (s OrderStatus) Valid() bool {
	return s >= StatusPending && s <= StatusSLTPError
}

// Terminal reports whether no further automatic transition exists.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusSLTPError:
		return true
	default:
		return false
	}
}

func ParseOrderStatus(raw string) (OrderStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING":
		return StatusPending, true
	case "FILLED":
		return StatusFilled, true
	case "SL_TP_PLACED":
		return StatusSLTPPlaced, true
	case "COMPLETED":
		return StatusCompleted, true
	case "CANCELLED", "CANCELED":
		return StatusCancelled, true
	case "SL_TP_ERROR":
		return StatusSLTPError, true
	default:
		return StatusUnknown, false
	}
}

func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := ParseOrderStatus(raw)
	if !ok {
		return fmt.Errorf("unknown order status %q", raw)
	}
	*s = parsed
	return nil
}

// Side is the exchange order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide distinguishes hedge-mode long/short legs.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// SignalType is the direction of the originating signal.
type SignalType string

const (
	SignalLong  SignalType = "LONG"
	SignalShort SignalType = "SHORT"
)

// WatchedOrder is one supervised exchange order plus its derived protective
// orders and lifecycle status. OrderID is the primary key.
type WatchedOrder struct {
	Symbol       string       `json:"symbol"`
	OrderID      int64        `json:"orderId"`
	Side         Side         `json:"side"`
	PositionSide PositionSide `json:"positionSide"`
	Quantity     float64      `json:"quantity"`
	Price        float64      `json:"price"`
	SignalType   SignalType   `json:"signalType"`
	StopLoss     float64      `json:"stopLoss"`
	TakeProfit   float64      `json:"takeProfit"`
	Timeframe    string       `json:"sourceTimeframe"`
	Leverage     float64      `json:"leverage,omitempty"`

	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	FilledAt  *time.Time  `json:"filledAt,omitempty"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`

	SLOrderID    int64 `json:"slOrderId,omitempty"`
	TPOrderID    int64 `json:"tpOrderId,omitempty"`
	SLTPAttempts int   `json:"slTpAttempts"`

	TrailingTriggered bool `json:"trailingTriggered"`

	// Recovered marks orders rebuilt from exchange state at startup; their
	// stop/take levels are heuristic, not the original signal's.
	Recovered bool `json:"recovered,omitempty"`
}

// IsLong reports the direction of the underlying position.
func (o *WatchedOrder) IsLong() bool {
	if o.SignalType != "" {
		return o.SignalType == SignalLong
	}
	return o.PositionSide == PositionLong
}

// Age is the elapsed lifetime since the entry order was created.
func (o *WatchedOrder) Age(now time.Time) time.Duration {
	if o.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(o.CreatedAt)
}

// Expired reports whether the order passed its expiry boundary.
func (o *WatchedOrder) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}
