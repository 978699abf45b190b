package watch

import (
	"context"
	"fmt"
	"time"

	"vigil/internal/gateway/exchange"
	"vigil/internal/logger"
	"vigil/internal/types"
)

// SweepExpiry force-cancels orders past their timeframe-grid deadline. Only
// PENDING entries and pinned SL_TP_ERROR orders expire; protected positions
// run until a protective order fills. Runs first in every poll cycle so an
// expired order is never also evaluated for fill or trailing logic.
func (w *Watcher) SweepExpiry(ctx context.Context) {
	now := w.now().UTC()
	for _, o := range w.store.All() {
		if o.Status != types.StatusPending && o.Status != types.StatusSLTPError {
			continue
		}
		if o.ExpiresAt == nil {
			continue
		}
		if !o.Expired(now) {
			if left := o.ExpiresAt.Sub(now); left <= w.opts.ExpiryWarning {
				logger.Infof("%s order %d expires in %s (tf=%s)", o.Symbol, o.OrderID, left.Round(time.Second), o.Timeframe)
			}
			continue
		}
		w.expireOrder(ctx, &o, now)
	}
}

func (w *Watcher) expireOrder(ctx context.Context, o *types.WatchedOrder, now time.Time) {
	// A pending entry may have partially executed; cancelling the remainder
	// leaves that portion as an open position without protection, which the
	// operator must be told about.
	var executed float64
	if o.Status == types.StatusPending {
		if ord, err := w.gateway.GetOrder(ctx, o.Symbol, o.OrderID); err == nil {
			executed = ord.ExecutedQty
		}
	}
	if err := w.gateway.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil && !exchange.IsNotFound(err) {
		// Leave it for the next sweep; cancelling must not half-complete.
		logger.Warnf("%s order %d expiry cancel failed: %v", o.Symbol, o.OrderID, err)
		return
	}
	for _, id := range []int64{o.SLOrderID, o.TPOrderID} {
		if id == 0 {
			continue
		}
		if err := w.gateway.CancelOrder(ctx, o.Symbol, id); err != nil && !exchange.IsNotFound(err) {
			logger.Warnf("%s protective order %d expiry cancel failed: %v", o.Symbol, id, err)
		}
	}
	if err := w.store.Remove(o.OrderID); err != nil {
		logger.Errorf("%s order %d remove after expiry failed: %v", o.Symbol, o.OrderID, err)
		return
	}
	age := o.Age(now).Round(time.Second)
	logger.Infof("%s order %d expired after %s (tf=%s, status was %s)", o.Symbol, o.OrderID, age, o.Timeframe, o.Status)
	msg := fmt.Sprintf("⏰ %s order %d expired\nlifetime=%s timeframe=%s status=%s", o.Symbol, o.OrderID, age, o.Timeframe, o.Status)
	if executed > 0 {
		logger.Warnf("%s order %d expired with %.8g already executed, position left unprotected", o.Symbol, o.OrderID, executed)
		msg += fmt.Sprintf("\n⚠️ %.6g already executed before expiry, that position is now UNPROTECTED and untracked, check the exchange", executed)
	}
	w.send(msg)
}
