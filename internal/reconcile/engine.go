package reconcile

import (
	"context"
	"fmt"
	"math"
	"time"

	"vigil/internal/gateway/exchange"
	"vigil/internal/gateway/notifier"
	"vigil/internal/logger"
	"vigil/internal/types"
	"vigil/internal/watch"

	"github.com/google/uuid"
)

// maxReportedActions bounds the per-notification action listing.
const maxReportedActions = 10

// Engine compares the watched-order registry against exchange truth and
// corrects discrepancies. It never cancels unrecognized exchange orders:
// orphans are reported, cancellation of someone else's order is a human
// decision.
type Engine struct {
	store   *watch.Store
	watcher *watch.Watcher
	gateway exchange.Gateway
	notify  notifier.TextNotifier
	audit   *AuditLog

	now func() time.Time
}

func NewEngine(watcher *watch.Watcher, gw exchange.Gateway, tn notifier.TextNotifier, audit *AuditLog) *Engine {
	if tn == nil {
		tn = notifier.Noop{}
	}
	return &Engine{
		store:   watcher.Store(),
		watcher: watcher,
		gateway: gw,
		notify:  tn,
		audit:   audit,
		now:     time.Now,
	}
}

// Run executes one reconciliation pass. A gateway failure fetching the truth
// aborts the pass (local state untouched); individual corrective failures are
// collected into the result instead of aborting.
func (e *Engine) Run(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{RunID: uuid.NewString(), StartedAt: e.now().UTC()}

	openOrders, err := e.gateway.ListOpenOrders(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	positions, err := e.gateway.ListOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch open positions: %w", err)
	}

	openByID := make(map[int64]exchange.Order, len(openOrders))
	for _, ord := range openOrders {
		openByID[ord.OrderID] = ord
	}
	posBySymbol := make(map[string]bool)
	for _, p := range positions {
		if !p.Open() {
			continue
		}
		posBySymbol[exchange.NormalizeSymbol(p.Symbol)+"#"+p.Side] = true
	}

	var removals []removal
	var restores []restore

	for _, o := range e.store.All() {
		result.Checked++
		switch o.Status {
		case types.StatusSLTPPlaced:
			side := "LONG"
			if !o.IsLong() {
				side = "SHORT"
			}
			if !posBySymbol[o.Symbol+"#"+side] {
				// Position disappeared under live protective orders.
				removals = append(removals, removal{
					order:            o,
					reason:           "position closed outside tracking",
					critical:         true,
					cancelProtective: true,
				})
				continue
			}
			_, slOpen := openByID[o.SLOrderID]
			_, tpOpen := openByID[o.TPOrderID]
			if !slOpen || !tpOpen {
				restores = append(restores, restore{order: o, stopMissing: !slOpen, takeMissing: !tpOpen})
			}
		case types.StatusPending:
			if _, open := openByID[o.OrderID]; !open {
				// Untraceable: filled or cancelled out of band. Fill history is
				// deliberately not consulted; see the recovery notes.
				removals = append(removals, removal{
					order:    o,
					reason:   "pending order untraceable on exchange",
					critical: true,
				})
			}
		}
	}

	// Orphans: exchange-side orders no watched order references.
	referenced := make(map[int64]bool)
	for _, o := range e.store.All() {
		referenced[o.OrderID] = true
		if o.SLOrderID > 0 {
			referenced[o.SLOrderID] = true
		}
		if o.TPOrderID > 0 {
			referenced[o.TPOrderID] = true
		}
	}
	for _, ord := range openOrders {
		if referenced[ord.OrderID] {
			continue
		}
		result.Actions = append(result.Actions, SyncAction{
			Kind:      ActionReportOrphan,
			Symbol:    exchange.NormalizeSymbol(ord.Symbol),
			OrderID:   ord.OrderID,
			Reason:    fmt.Sprintf("untracked %s %s order qty=%.8g", ord.Kind, ord.State, math.Abs(ord.Quantity)),
			Succeeded: true,
			Timestamp: e.now().UTC(),
		})
	}

	e.applyRemovals(ctx, result, removals)
	e.applyRestores(ctx, result, restores)

	result.FinishedAt = e.now().UTC()
	result.Synchronized = result.Failed == 0 && result.ActionsTaken() == 0
	if e.audit != nil {
		if err := e.audit.Append(ctx, result); err != nil {
			logger.Warnf("audit append failed: %v", err)
		}
	}
	return result, nil
}

type removal struct {
	order            types.WatchedOrder
	reason           string
	critical         bool
	cancelProtective bool
}

type restore struct {
	order       types.WatchedOrder
	stopMissing bool
	takeMissing bool
}

// applyRemovals drops every flagged order in one locked batch so the pass
// lands atomically in the durable store.
func (e *Engine) applyRemovals(ctx context.Context, result *SyncResult, removals []removal) {
	if len(removals) == 0 {
		return
	}
	for _, rm := range removals {
		if !rm.cancelProtective {
			continue
		}
		for _, id := range []int64{rm.order.SLOrderID, rm.order.TPOrderID} {
			if id == 0 {
				continue
			}
			result.Attempted++
			action := SyncAction{
				Kind:      ActionCancelOrder,
				Symbol:    rm.order.Symbol,
				OrderID:   id,
				Reason:    "protective order left behind by closed position",
				Timestamp: e.now().UTC(),
			}
			if err := e.gateway.CancelOrder(ctx, rm.order.Symbol, id); err != nil && !exchange.IsNotFound(err) {
				result.Failed++
				action.Reason = fmt.Sprintf("%s: %v", action.Reason, err)
			} else {
				result.Succeeded++
				action.Succeeded = true
			}
			result.Actions = append(result.Actions, action)
		}
	}
	err := e.store.ApplyBatch(func(orders map[int64]*types.WatchedOrder) {
		for _, rm := range removals {
			delete(orders, rm.order.OrderID)
		}
	})
	for _, rm := range removals {
		result.Attempted++
		action := SyncAction{
			Kind:      ActionRemoveOrder,
			Symbol:    rm.order.Symbol,
			OrderID:   rm.order.OrderID,
			Reason:    rm.reason,
			Critical:  rm.critical,
			Timestamp: e.now().UTC(),
		}
		if err != nil {
			result.Failed++
		} else {
			result.Succeeded++
			action.Succeeded = true
		}
		result.Actions = append(result.Actions, action)
		logger.Warnf("reconcile: %s", action)
	}
}

func (e *Engine) applyRestores(ctx context.Context, result *SyncResult, restores []restore) {
	for _, rs := range restores {
		result.Attempted++
		missing := "stop-loss"
		if rs.stopMissing && rs.takeMissing {
			missing = "stop-loss and take-profit"
		} else if rs.takeMissing {
			missing = "take-profit"
		}
		action := SyncAction{
			Kind:      ActionRestoreProtection,
			Symbol:    rs.order.Symbol,
			OrderID:   rs.order.OrderID,
			Reason:    missing + " missing while position is open",
			Critical:  true,
			Timestamp: e.now().UTC(),
		}
		if err := e.watcher.RestoreProtection(ctx, rs.order.OrderID, rs.stopMissing, rs.takeMissing); err != nil {
			result.Failed++
			action.Reason = fmt.Sprintf("%s: %v", action.Reason, err)
		} else {
			result.Succeeded++
			action.Succeeded = true
		}
		result.Actions = append(result.Actions, action)
		logger.Warnf("reconcile: %s", action)
	}
}

// Report pushes the bounded summary notification. Only results containing
// critical discrepancies or corrective work produce a push; clean passes stay
// in the log.
func (e *Engine) Report(result *SyncResult) {
	if result == nil {
		return
	}
	summary := result.Summary(maxReportedActions)
	logger.InfoBlock(summary)
	if result.ActionsTaken() == 0 && len(result.Orphans()) == 0 {
		return
	}
	prefix := "🔍 "
	for _, a := range result.Actions {
		if a.Critical {
			prefix = "🚨 "
			break
		}
	}
	if err := e.notify.SendText(prefix + summary); err != nil {
		logger.Warnf("reconcile notify failed: %v", err)
	}
}

// RunAndReport is the scheduler-facing wrapper.
func (e *Engine) RunAndReport(ctx context.Context) error {
	result, err := e.Run(ctx)
	if err != nil {
		return err
	}
	e.Report(result)
	return nil
}
