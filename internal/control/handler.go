package control

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"vigil/internal/gateway/exchange"
	"vigil/internal/types"
	"vigil/internal/watch"
)

// Handler executes control requests against the engine. It is
// transport-agnostic; the HTTP listener and the file queue both route through
// Handle. Mutations go through the watcher, never around the state machine.
type Handler struct {
	watcher   *watch.Watcher
	running   *atomic.Bool
	startedAt time.Time

	// BreakerState optionally reports the gateway breaker for get_status.
	BreakerState func() string
}

func NewHandler(watcher *watch.Watcher, running *atomic.Bool) *Handler {
	return &Handler{
		watcher:   watcher,
		running:   running,
		startedAt: time.Now(),
	}
}

// Handle dispatches one request. Errors are carried in the response, never
// returned: the transports only fail on I/O.
func (h *Handler) Handle(req Request) Response {
	resp := Response{ID: req.ID, Action: req.Action, Timestamp: time.Now().UTC()}
	switch strings.TrimSpace(req.Action) {
	case ActionAddOrder:
		result, err := h.addOrder(req.Payload)
		fill(&resp, result, err)
	case ActionGetWatchedSymbols:
		fill(&resp, h.watchedSymbols(), nil)
	case ActionCheckConflicts:
		result, err := h.checkConflicts(req.Payload)
		fill(&resp, result, err)
	case ActionGetStatus:
		fill(&resp, h.status(), nil)
	default:
		fill(&resp, nil, fmt.Errorf("unknown action %q", req.Action))
	}
	return resp
}

func fill(resp *Response, result any, err error) {
	if err != nil {
		resp.Error = err.Error()
		return
	}
	resp.OK = true
	resp.Result = result
}

func (h *Handler) addOrder(payload map[string]any) (any, error) {
	if err := validateAddOrder(payload); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var order types.WatchedOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode add_order payload: %w", err)
	}
	if order.PositionSide == "" {
		order.PositionSide = types.PositionLong
		if order.SignalType == types.SignalShort {
			order.PositionSide = types.PositionShort
		}
	}
	if err := h.watcher.Watch(order); err != nil {
		return nil, err
	}
	return map[string]any{"orderId": order.OrderID, "symbol": order.Symbol}, nil
}

func (h *Handler) watchedSymbols() map[string][]OrderSummary {
	out := make(map[string][]OrderSummary)
	for _, o := range h.watcher.Store().All() {
		out[o.Symbol] = append(out[o.Symbol], OrderSummary{
			OrderID:    o.OrderID,
			Status:     o.Status.String(),
			SignalType: string(o.SignalType),
			Quantity:   o.Quantity,
			Price:      o.Price,
			Timeframe:  o.Timeframe,
			Recovered:  o.Recovered,
		})
	}
	return out
}

func (h *Handler) checkConflicts(payload map[string]any) (*ConflictReport, error) {
	raw, err := json.Marshal(payload["orders"])
	if err != nil {
		return nil, err
	}
	var proposed []ProposedOrder
	if err := json.Unmarshal(raw, &proposed); err != nil {
		return nil, fmt.Errorf("check_conflicts wants payload.orders as a list: %w", err)
	}
	bySymbol := h.watchedSymbols()
	report := &ConflictReport{SafeToProceed: true}
	seen := make(map[string]bool)
	for _, p := range proposed {
		symbol := exchange.NormalizeSymbol(p.Symbol)
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		report.Conflicts = append(report.Conflicts, h.gradeSymbol(symbol, bySymbol[symbol]))
	}
	sort.Slice(report.Conflicts, func(i, j int) bool {
		return report.Conflicts[i].Symbol < report.Conflicts[j].Symbol
	})
	for _, c := range report.Conflicts {
		if c.Severity == SeverityError {
			report.SafeToProceed = false
			break
		}
	}
	return report, nil
}

// gradeSymbol: a live (filled or protected or errored) position is an error,
// since placing another order doubles exposure. A pending entry is a warning.
// The engine reports; the orchestrator decides.
func (h *Handler) gradeSymbol(symbol string, existing []OrderSummary) Conflict {
	conflict := Conflict{Symbol: symbol, Severity: SeverityNone}
	for _, o := range existing {
		switch o.Status {
		case types.StatusFilled.String(), types.StatusSLTPPlaced.String(), types.StatusSLTPError.String():
			conflict.Severity = SeverityError
			conflict.Reason = fmt.Sprintf("live position tracked by order %d (%s)", o.OrderID, o.Status)
			return conflict
		case types.StatusPending.String():
			conflict.Severity = SeverityWarning
			conflict.Reason = fmt.Sprintf("pending entry order %d already placed", o.OrderID)
		}
	}
	return conflict
}

func (h *Handler) status() *StatusReport {
	byStatus := make(map[string]int)
	total := 0
	for _, o := range h.watcher.Store().All() {
		byStatus[o.Status.String()]++
		total++
	}
	report := &StatusReport{
		Running:  h.running != nil && h.running.Load(),
		Watched:  total,
		ByStatus: byStatus,
		Uptime:   time.Since(h.startedAt).Round(time.Second).String(),
	}
	if h.BreakerState != nil {
		report.Breaker = h.BreakerState()
	}
	return report
}
