package watch

import (
	"context"
	"fmt"
	"time"

	"vigil/internal/gateway/exchange"
	"vigil/internal/logger"
	"vigil/internal/types"

	"github.com/shopspring/decimal"
)

// CheckOrder advances one order's lifecycle by at most one transition. Gateway
// failures leave the status untouched for retry on the next cycle; no partial
// transition is ever persisted.
func (w *Watcher) CheckOrder(ctx context.Context, orderID int64) error {
	o, ok := w.store.Get(orderID)
	if !ok {
		return nil
	}
	switch o.Status {
	case types.StatusPending:
		return w.checkPending(ctx, &o)
	case types.StatusFilled:
		return w.placeProtection(ctx, &o)
	case types.StatusSLTPPlaced:
		return w.checkProtection(ctx, &o)
	default:
		// Terminal states wait for expiry sweep or operator action.
		return nil
	}
}

func (w *Watcher) checkPending(ctx context.Context, o *types.WatchedOrder) error {
	ord, err := w.gateway.GetOrder(ctx, o.Symbol, o.OrderID)
	switch {
	case exchange.IsNotFound(err):
		// Gone without us seeing the fill; reconciliation semantics.
		logger.Warnf("%s order %d vanished from the exchange, dropping", o.Symbol, o.OrderID)
		w.send(fmt.Sprintf("⚠️ %s entry order %d no longer exists on the exchange, removed from tracking", o.Symbol, o.OrderID))
		return w.store.Remove(o.OrderID)
	case exchange.IsTransient(err):
		logger.Debugf("pending check %s/%d deferred: %v", o.Symbol, o.OrderID, err)
		return nil
	}
	switch {
	case ord.State == exchange.StateFilled:
		filledAt := w.now().UTC()
		if ord.UpdateTime > 0 {
			filledAt = time.UnixMilli(ord.UpdateTime).UTC()
		}
		entry := ord.AvgFillPrice
		if entry <= 0 {
			entry = o.Price
		}
		err := w.store.Mutate(o.OrderID, func(cur *types.WatchedOrder) bool {
			cur.Status = types.StatusFilled
			cur.FilledAt = &filledAt
			cur.Price = entry
			if boundary, ok := NextBoundary(filledAt, cur.Timeframe); ok {
				cur.ExpiresAt = &boundary
			}
			*o = *cur
			return true
		})
		if err != nil {
			return err
		}
		logger.Infof("%s order %d filled at %.8g", o.Symbol, o.OrderID, entry)
		w.send(fmt.Sprintf("✅ %s %s filled\nentry=%.6g qty=%.6g tf=%s", o.Symbol, o.SignalType, entry, o.Quantity, o.Timeframe))
		// Place protection in the same cycle; a failure here is retried.
		return w.placeProtection(ctx, o)
	case ord.State.ClosedWithoutFill():
		logger.Infof("%s order %d %s on the exchange, dropping", o.Symbol, o.OrderID, ord.State)
		w.send(fmt.Sprintf("🚫 %s entry order %d %s before filling, removed from tracking", o.Symbol, o.OrderID, ord.State))
		return w.store.Remove(o.OrderID)
	default:
		return nil
	}
}

// placeProtection places the stop-loss and take-profit pair. Both must succeed
// to transition; any failure counts against the bounded retry budget.
func (w *Watcher) placeProtection(ctx context.Context, o *types.WatchedOrder) error {
	if o.SLTPAttempts >= types.MaxSLTPAttempts {
		return w.pinError(o)
	}
	slID, err := w.gateway.PlaceOrder(ctx, w.stopLossSpec(o))
	if err != nil {
		logger.Warnf("%s order %d stop-loss placement failed: %v", o.Symbol, o.OrderID, err)
		return w.recordProtectionFailure(o)
	}
	tpID, err := w.gateway.PlaceOrder(ctx, w.takeProfitSpec(o))
	if err != nil {
		logger.Warnf("%s order %d take-profit placement failed: %v", o.Symbol, o.OrderID, err)
		// Do not leave a lone stop behind; retry places the pair together.
		if cErr := w.gateway.CancelOrder(ctx, o.Symbol, slID); cErr != nil && !exchange.IsNotFound(cErr) {
			logger.Warnf("%s rollback of stop %d failed: %v", o.Symbol, slID, cErr)
		}
		return w.recordProtectionFailure(o)
	}
	err = w.store.Mutate(o.OrderID, func(cur *types.WatchedOrder) bool {
		cur.Status = types.StatusSLTPPlaced
		cur.SLOrderID = slID
		cur.TPOrderID = tpID
		*o = *cur
		return true
	})
	if err != nil {
		return err
	}
	logger.Infof("%s order %d protected sl=%d tp=%d", o.Symbol, o.OrderID, slID, tpID)
	w.send(fmt.Sprintf("🛡 %s protected\nsl=%.6g tp=%.6g", o.Symbol, o.StopLoss, o.TakeProfit))
	return nil
}

func (w *Watcher) recordProtectionFailure(o *types.WatchedOrder) error {
	err := w.store.Mutate(o.OrderID, func(cur *types.WatchedOrder) bool {
		cur.SLTPAttempts++
		if cur.SLTPAttempts >= types.MaxSLTPAttempts {
			cur.Status = types.StatusSLTPError
		}
		*o = *cur
		return true
	})
	if err != nil {
		return err
	}
	// Alert after the persist, never under the store lock: the notifier can
	// block on network I/O for tens of seconds.
	if o.Status == types.StatusSLTPError {
		logger.Errorf("%s order %d protection failed %d times, pinned to %s", o.Symbol, o.OrderID, o.SLTPAttempts, o.Status)
		w.send(fmt.Sprintf("🆘 *%s position UNPROTECTED*\norder %d: stop/take placement failed %d times, operator action required", o.Symbol, o.OrderID, o.SLTPAttempts))
	}
	return nil
}

func (w *Watcher) pinError(o *types.WatchedOrder) error {
	if o.Status == types.StatusSLTPError {
		return nil
	}
	return w.store.Mutate(o.OrderID, func(cur *types.WatchedOrder) bool {
		cur.Status = types.StatusSLTPError
		*o = *cur
		return true
	})
}

func (w *Watcher) checkProtection(ctx context.Context, o *types.WatchedOrder) error {
	slOrd, slErr := w.gateway.GetOrder(ctx, o.Symbol, o.SLOrderID)
	if exchange.IsTransient(slErr) {
		return nil // retry next cycle
	}
	tpOrd, tpErr := w.gateway.GetOrder(ctx, o.Symbol, o.TPOrderID)
	if exchange.IsTransient(tpErr) {
		return nil
	}

	slState := protectiveState(slOrd, slErr)
	tpState := protectiveState(tpOrd, tpErr)

	switch {
	case slState == exchange.StateFilled:
		return w.completeOrder(ctx, o, slOrd, o.TPOrderID, "stop-loss")
	case tpState == exchange.StateFilled:
		return w.completeOrder(ctx, o, tpOrd, o.SLOrderID, "take-profit")
	case !slState.Open() && !tpState.Open():
		// Both protective orders gone without filling: was the position closed
		// through some other path?
		_, err := w.positionFor(ctx, o)
		if err != nil {
			if exchange.IsNotFound(err) {
				logger.Infof("%s order %d: position closed externally, dropping", o.Symbol, o.OrderID)
				w.send(fmt.Sprintf("ℹ️ %s position closed externally, order %d removed from tracking", o.Symbol, o.OrderID))
				return w.store.Remove(o.OrderID)
			}
			return nil
		}
		logger.Warnf("%s order %d: both protective orders missing while position is open, restoring", o.Symbol, o.OrderID)
		return w.placeProtection(ctx, o)
	case !slState.Open():
		return w.restoreSide(ctx, o, true)
	case !tpState.Open():
		return w.restoreSide(ctx, o, false)
	default:
		return nil
	}
}

// RestoreProtection re-places missing protective orders for a tracked order
// whose position is still open. Used by the reconciliation engine; bounded by
// the same retry budget as initial placement.
func (w *Watcher) RestoreProtection(ctx context.Context, orderID int64, stopMissing, takeMissing bool) error {
	o, ok := w.store.Get(orderID)
	if !ok {
		return fmt.Errorf("order %d not watched", orderID)
	}
	if stopMissing && takeMissing {
		return w.placeProtection(ctx, &o)
	}
	if stopMissing {
		return w.restoreSide(ctx, &o, true)
	}
	if takeMissing {
		return w.restoreSide(ctx, &o, false)
	}
	return nil
}

// restoreSide re-places a single protective order that was cancelled out of
// band while its sibling is still live. Bounded by the same retry budget.
func (w *Watcher) restoreSide(ctx context.Context, o *types.WatchedOrder, stopSide bool) error {
	if o.SLTPAttempts >= types.MaxSLTPAttempts {
		return w.pinError(o)
	}
	name := "take-profit"
	spec := w.takeProfitSpec(o)
	if stopSide {
		name = "stop-loss"
		spec = w.stopLossSpec(o)
	}
	id, err := w.gateway.PlaceOrder(ctx, spec)
	if err != nil {
		logger.Warnf("%s order %d %s restore failed: %v", o.Symbol, o.OrderID, name, err)
		return w.recordProtectionFailure(o)
	}
	err = w.store.Mutate(o.OrderID, func(cur *types.WatchedOrder) bool {
		if stopSide {
			cur.SLOrderID = id
		} else {
			cur.TPOrderID = id
		}
		*o = *cur
		return true
	})
	if err != nil {
		return err
	}
	logger.Infof("%s order %d %s restored as %d", o.Symbol, o.OrderID, name, id)
	w.send(fmt.Sprintf("🔧 %s %s restored (order %d)", o.Symbol, name, o.OrderID))
	return nil
}

func (w *Watcher) completeOrder(ctx context.Context, o *types.WatchedOrder, filled *exchange.Order, siblingID int64, via string) error {
	exit := filled.AvgFillPrice
	if exit <= 0 {
		exit = filled.StopPrice
	}
	if siblingID > 0 {
		if err := w.gateway.CancelOrder(ctx, o.Symbol, siblingID); err != nil && !exchange.IsNotFound(err) {
			logger.Warnf("%s cancel of sibling %d failed: %v", o.Symbol, siblingID, err)
		}
	}
	pnl := w.realizedPnL(o, exit)
	if err := w.store.Remove(o.OrderID); err != nil {
		return err
	}
	logger.Infof("%s order %d completed via %s exit=%.8g pnl=%.4f", o.Symbol, o.OrderID, via, exit, pnl)
	emoji := "🟢"
	if pnl < 0 {
		emoji = "🔴"
	}
	w.send(fmt.Sprintf("%s %s closed via %s\nentry=%.6g exit=%.6g pnl=%.4f", emoji, o.Symbol, via, o.Price, exit, pnl))
	return nil
}

// realizedPnL is quantity times the signed price delta, divided by the
// configured leverage (margin-relative accounting, as the venue reports it).
func (w *Watcher) realizedPnL(o *types.WatchedOrder, exit float64) float64 {
	entry := decimal.NewFromFloat(o.Price)
	exitD := decimal.NewFromFloat(exit)
	qty := decimal.NewFromFloat(o.Quantity)
	delta := exitD.Sub(entry)
	if !o.IsLong() {
		delta = entry.Sub(exitD)
	}
	lev := decimal.NewFromFloat(w.leverageFor(o))
	if lev.IsZero() {
		lev = decimal.NewFromInt(1)
	}
	out, _ := qty.Mul(delta).Div(lev).Float64()
	return out
}

func protectiveState(ord *exchange.Order, err error) exchange.OrderState {
	if err != nil || ord == nil {
		// Missing on the exchange reads as cancelled-without-fill.
		return exchange.StateCanceled
	}
	return ord.State
}

func (w *Watcher) stopLossSpec(o *types.WatchedOrder) exchange.OrderSpec {
	return exchange.OrderSpec{
		Symbol:       o.Symbol,
		Side:         string(closeSide(o)),
		PositionSide: string(o.PositionSide),
		Kind:         exchange.KindStopMarket,
		Quantity:     o.Quantity,
		StopPrice:    o.StopLoss,
		ReduceOnly:   true,
	}
}

func (w *Watcher) takeProfitSpec(o *types.WatchedOrder) exchange.OrderSpec {
	return exchange.OrderSpec{
		Symbol:       o.Symbol,
		Side:         string(closeSide(o)),
		PositionSide: string(o.PositionSide),
		Kind:         exchange.KindTakeProfit,
		Quantity:     o.Quantity,
		StopPrice:    o.TakeProfit,
		ReduceOnly:   true,
	}
}

func closeSide(o *types.WatchedOrder) types.Side {
	if o.IsLong() {
		return types.SideSell
	}
	return types.SideBuy
}
