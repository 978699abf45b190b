package control

import "time"

// Actions understood by the control protocol. The vocabulary is shared by the
// HTTP listener and the legacy file queue so the companion scheduler can use
// either transport.
const (
	ActionAddOrder          = "add_order"
	ActionGetWatchedSymbols = "get_watched_symbols"
	ActionCheckConflicts    = "check_conflicts"
	ActionGetStatus         = "get_status"
)

// Request is one control message.
type Request struct {
	ID      string         `json:"id"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Response is the single-slot reply document.
type Response struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Result    any       `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderSummary is the per-order view returned by get_watched_symbols.
type OrderSummary struct {
	OrderID    int64   `json:"orderId"`
	Status     string  `json:"status"`
	SignalType string  `json:"signalType"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	Timeframe  string  `json:"sourceTimeframe"`
	Recovered  bool    `json:"recovered,omitempty"`
}

// ConflictSeverity grades how risky a proposed order is against current
// tracking.
type ConflictSeverity string

const (
	SeverityNone    ConflictSeverity = "none"
	SeverityWarning ConflictSeverity = "warning"
	SeverityError   ConflictSeverity = "error"
)

// ProposedOrder is the check_conflicts input item.
type ProposedOrder struct {
	Symbol     string `json:"symbol"`
	SignalType string `json:"signalType"`
}

// Conflict is the per-symbol verdict.
type Conflict struct {
	Symbol   string           `json:"symbol"`
	Severity ConflictSeverity `json:"severity"`
	Reason   string           `json:"reason,omitempty"`
}

// ConflictReport is the check_conflicts result.
type ConflictReport struct {
	Conflicts     []Conflict `json:"conflicts"`
	SafeToProceed bool       `json:"safeToProceed"`
}

// StatusReport is the get_status result.
type StatusReport struct {
	Running  bool           `json:"running"`
	Watched  int            `json:"watched"`
	ByStatus map[string]int `json:"byStatus"`
	Breaker  string         `json:"breaker,omitempty"`
	Uptime   string         `json:"uptime"`
}
