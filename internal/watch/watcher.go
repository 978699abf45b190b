package watch

import (
	"context"
	"fmt"
	"time"

	"vigil/internal/gateway/exchange"
	"vigil/internal/gateway/notifier"
	"vigil/internal/logger"
	"vigil/internal/types"
)

// Options tune the supervision behavior. Zero values fall back to the classic
// defaults.
type Options struct {
	Leverage float64

	ExpiryWarning time.Duration

	TrailingTriggerRatio float64 // progress toward TP that arms the adjustment
	TrailingCloseRatio   float64 // share of remaining quantity closed at market
	TrailingStopRatio    float64 // new stop position along the entry->TP path

	RecoveryStopPct float64
	RecoveryTakePct float64
}

func (o Options) withDefaults() Options {
	out := o
	if out.Leverage <= 0 {
		out.Leverage = 1
	}
	if out.ExpiryWarning <= 0 {
		out.ExpiryWarning = 15 * time.Minute
	}
	if out.TrailingTriggerRatio <= 0 {
		out.TrailingTriggerRatio = 0.8
	}
	if out.TrailingCloseRatio <= 0 {
		out.TrailingCloseRatio = 0.8
	}
	if out.TrailingStopRatio <= 0 {
		out.TrailingStopRatio = 0.5
	}
	if out.RecoveryStopPct <= 0 {
		out.RecoveryStopPct = 0.03
	}
	if out.RecoveryTakePct <= 0 {
		out.RecoveryTakePct = 0.05
	}
	return out
}

// Watcher owns the per-order lifecycle: the poll loop is its only writer, and
// every mutation goes through the store's lock.
type Watcher struct {
	store   *Store
	gateway exchange.Gateway
	notify  notifier.TextNotifier
	opts    Options

	now func() time.Time // injectable clock for tests
}

func NewWatcher(store *Store, gw exchange.Gateway, tn notifier.TextNotifier, opts Options) *Watcher {
	if tn == nil {
		tn = notifier.Noop{}
	}
	return &Watcher{
		store:   store,
		gateway: gw,
		notify:  tn,
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

// Store exposes the registry for collaborators (control handler, reconciler).
func (w *Watcher) Store() *Store { return w.store }

// Watch registers a freshly placed entry order. ExpiresAt is derived from the
// signal timeframe grid; an unknown timeframe leaves the order without expiry
// and is logged.
func (w *Watcher) Watch(order types.WatchedOrder) error {
	if order.OrderID == 0 {
		return fmt.Errorf("order id is required")
	}
	order.Symbol = exchange.NormalizeSymbol(order.Symbol)
	if order.Status == types.StatusUnknown {
		order.Status = types.StatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = w.now().UTC()
	}
	if order.ExpiresAt == nil {
		if boundary, ok := NextBoundary(order.CreatedAt, order.Timeframe); ok {
			order.ExpiresAt = &boundary
		} else {
			logger.Warnf("order %d (%s): unknown timeframe %q, no expiry set", order.OrderID, order.Symbol, order.Timeframe)
		}
	}
	if err := w.store.Add(order); err != nil {
		return err
	}
	logger.Infof("watching %s order %d %s qty=%v price=%v tf=%s", order.Symbol, order.OrderID, order.Status, order.Quantity, order.Price, order.Timeframe)
	return nil
}

// send pushes a notification; failures are logged and never propagate.
func (w *Watcher) send(text string) {
	if err := w.notify.SendText(text); err != nil {
		logger.Warnf("notify failed: %v", err)
	}
}

// positionFor looks up the open position matching the order's symbol and
// direction.
func (w *Watcher) positionFor(ctx context.Context, o *types.WatchedOrder) (*exchange.Position, error) {
	positions, err := w.gateway.ListOpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	want := "LONG"
	if !o.IsLong() {
		want = "SHORT"
	}
	for i := range positions {
		p := positions[i]
		if exchange.NormalizeSymbol(p.Symbol) != o.Symbol {
			continue
		}
		if p.Side != want {
			continue
		}
		if !p.Open() {
			continue
		}
		return &p, nil
	}
	return nil, exchange.ErrPositionNotFound
}

func (w *Watcher) leverageFor(o *types.WatchedOrder) float64 {
	if o.Leverage > 0 {
		return o.Leverage
	}
	return w.opts.Leverage
}
