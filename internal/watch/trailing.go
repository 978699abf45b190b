package watch

import (
	"context"
	"fmt"
	"math"

	"vigil/internal/gateway/exchange"
	"vigil/internal/logger"
	"vigil/internal/types"

	"github.com/shopspring/decimal"
)

// EvaluateTrailing runs the single-shot 80/80/50 adjustment for one protected
// order: at 80% progress toward the take-profit it market-closes 80% of the
// remaining position and moves the stop to the halfway point of the path. The
// TrailingTriggered flag only flips after every gateway call succeeded, so a
// partial failure is retried on the next cycle.
func (w *Watcher) EvaluateTrailing(ctx context.Context, orderID int64) error {
	o, ok := w.store.Get(orderID)
	if !ok || o.Status != types.StatusSLTPPlaced || o.TrailingTriggered {
		return nil
	}
	price, err := w.gateway.GetPrice(ctx, o.Symbol)
	if err != nil || price <= 0 {
		return nil
	}
	progress, ok := trailingProgress(o.Price, o.TakeProfit, price)
	if !ok || progress.LessThan(decimal.NewFromFloat(w.opts.TrailingTriggerRatio)) {
		return nil
	}

	remaining := o.Quantity
	if pos, err := w.positionFor(ctx, &o); err == nil {
		remaining = math.Abs(pos.Amount)
	}
	if remaining <= 0 {
		return nil
	}
	closeQty := remaining * w.opts.TrailingCloseRatio
	keepQty := remaining - closeQty
	newStop := trailingStopPrice(o.Price, o.TakeProfit, w.opts.TrailingStopRatio)

	logger.Infof("%s order %d trailing armed: price=%.8g progress=%s close=%.8g newStop=%.8g",
		o.Symbol, o.OrderID, price, progress.StringFixed(3), closeQty, newStop)

	if _, err := w.gateway.PlaceOrder(ctx, exchange.OrderSpec{
		Symbol:       o.Symbol,
		Side:         string(closeSide(&o)),
		PositionSide: string(o.PositionSide),
		Kind:         exchange.KindMarket,
		Quantity:     closeQty,
		ReduceOnly:   true,
	}); err != nil {
		logger.Warnf("%s trailing partial close failed: %v", o.Symbol, err)
		return nil
	}
	if err := w.gateway.CancelOrder(ctx, o.Symbol, o.SLOrderID); err != nil && !exchange.IsNotFound(err) {
		logger.Warnf("%s trailing stop cancel failed: %v", o.Symbol, err)
		return nil
	}
	newSLID, err := w.gateway.PlaceOrder(ctx, exchange.OrderSpec{
		Symbol:       o.Symbol,
		Side:         string(closeSide(&o)),
		PositionSide: string(o.PositionSide),
		Kind:         exchange.KindStopMarket,
		Quantity:     keepQty,
		StopPrice:    newStop,
		ReduceOnly:   true,
	})
	if err != nil {
		logger.Warnf("%s trailing stop re-place failed: %v", o.Symbol, err)
		return nil
	}

	err = w.store.Mutate(o.OrderID, func(cur *types.WatchedOrder) bool {
		cur.TrailingTriggered = true
		cur.SLOrderID = newSLID
		cur.StopLoss = newStop
		cur.Quantity = keepQty
		return true
	})
	if err != nil {
		return err
	}
	w.send(fmt.Sprintf("📈 %s trailing adjustment\nclosed %.0f%% at market, stop moved to %.6g",
		o.Symbol, w.opts.TrailingCloseRatio*100, newStop))
	return nil
}

// trailingProgress is the signed fraction of the entry->take-profit path the
// price has covered. The same expression serves both directions: for shorts
// numerator and denominator are both negative.
func trailingProgress(entry, tp, price float64) (decimal.Decimal, bool) {
	entryD := decimal.NewFromFloat(entry)
	span := decimal.NewFromFloat(tp).Sub(entryD)
	if span.IsZero() || entry <= 0 || tp <= 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(price).Sub(entryD).Div(span), true
}

// trailingStopPrice is entry + ratio x (tp - entry); the sign of the span
// mirrors it for shorts.
func trailingStopPrice(entry, tp, ratio float64) float64 {
	entryD := decimal.NewFromFloat(entry)
	span := decimal.NewFromFloat(tp).Sub(entryD)
	out, _ := entryD.Add(span.Mul(decimal.NewFromFloat(ratio))).Float64()
	return out
}
