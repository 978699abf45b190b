package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vigil/internal/gateway/exchange"
	"vigil/internal/logger"
	"vigil/internal/types"
)

// recoveryTimeframe is assumed for rebuilt orders whose source timeframe is
// unrecoverable from exchange state.
const recoveryTimeframe = "4h"

// RecoveryReport summarizes one startup recovery pass.
type RecoveryReport struct {
	LoadedFromDisk int
	Rebuilt        int
	OpenPositions  int
	RebuiltSymbols []string
}

func (r RecoveryReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "loaded=%d rebuilt=%d openPositions=%d", r.LoadedFromDisk, r.Rebuilt, r.OpenPositions)
	if len(r.RebuiltSymbols) > 0 {
		fmt.Fprintf(&b, " rebuiltSymbols=%s", strings.Join(r.RebuiltSymbols, ","))
	}
	return b.String()
}

// Recover rebuilds the registry from exchange state at boot, before the poll
// loop starts. Entry-type orders present on the exchange but absent locally
// get a WatchedOrder with heuristic protective levels: the true stop/take
// targets are unrecoverable, so fixed percentage offsets stand in and the
// order is flagged Recovered so reports surface the approximation.
func (w *Watcher) Recover(ctx context.Context) (*RecoveryReport, error) {
	report := &RecoveryReport{LoadedFromDisk: w.store.Len()}

	open, err := w.gateway.ListOpenOrders(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	positions, err := w.gateway.ListOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	report.OpenPositions = len(positions)

	now := w.now().UTC()
	for _, ord := range open {
		if ord.Kind != exchange.KindLimit || !ord.State.Open() {
			continue // protective and already-terminal orders are not entries
		}
		if _, tracked := w.store.Get(ord.OrderID); tracked {
			continue
		}
		rebuilt := w.rebuildOrder(ord, now)
		if err := w.store.Add(rebuilt); err != nil {
			logger.Errorf("recovery: tracking %s order %d failed: %v", ord.Symbol, ord.OrderID, err)
			continue
		}
		report.Rebuilt++
		report.RebuiltSymbols = append(report.RebuiltSymbols, rebuilt.Symbol)
		logger.Warnf("recovery: rebuilt %s order %d with heuristic sl=%.6g tp=%.6g (approximation)",
			rebuilt.Symbol, rebuilt.OrderID, rebuilt.StopLoss, rebuilt.TakeProfit)
	}
	if err := w.store.Persist(); err != nil {
		logger.Errorf("recovery: persist failed: %v", err)
	}
	return report, nil
}

func (w *Watcher) rebuildOrder(ord exchange.Order, now time.Time) types.WatchedOrder {
	long := strings.EqualFold(ord.Side, "BUY")
	signal := types.SignalLong
	posSide := types.PositionLong
	sl := ord.Price * (1 - w.opts.RecoveryStopPct)
	tp := ord.Price * (1 + w.opts.RecoveryTakePct)
	if !long {
		signal = types.SignalShort
		posSide = types.PositionShort
		sl = ord.Price * (1 + w.opts.RecoveryStopPct)
		tp = ord.Price * (1 - w.opts.RecoveryTakePct)
	}
	created := now
	if ord.UpdateTime > 0 {
		created = time.UnixMilli(ord.UpdateTime).UTC()
	}
	out := types.WatchedOrder{
		Symbol:       exchange.NormalizeSymbol(ord.Symbol),
		OrderID:      ord.OrderID,
		Side:         types.Side(strings.ToUpper(ord.Side)),
		PositionSide: posSide,
		Quantity:     ord.Quantity,
		Price:        ord.Price,
		SignalType:   signal,
		StopLoss:     sl,
		TakeProfit:   tp,
		Timeframe:    recoveryTimeframe,
		Status:       types.StatusPending,
		CreatedAt:    created,
		Recovered:    true,
	}
	if boundary, ok := NextBoundary(created, out.Timeframe); ok {
		// A stale order may already be past its grid boundary; expiry sweep
		// will pick it up on the first cycle.
		out.ExpiresAt = &boundary
	}
	return out
}
