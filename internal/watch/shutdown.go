package watch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"vigil/internal/gateway/exchange"
	"vigil/internal/logger"
	"vigil/internal/types"
)

// ShutdownPolicy controls the disposition of live orders when the process is
// asked to exit.
type ShutdownPolicy struct {
	// CancelPending cancels unfilled entry orders instead of leaving them to
	// fill while the process is down.
	CancelPending bool
	// Interactive asks per pending order when stdin is a terminal. Protected
	// positions are never part of the prompt: they always survive restarts.
	Interactive bool
}

// Drain runs the graceful-shutdown disposition after the poll loop stopped.
// Pending entries are kept or cancelled per policy; protected positions are
// left for the next startup's recovery pass. The final persist reuses the
// atomic snapshot write, so the durable store is never left half-written.
func (w *Watcher) Drain(ctx context.Context, policy ShutdownPolicy) {
	orders := w.store.All()
	var pending, protected []types.WatchedOrder
	for _, o := range orders {
		if o.Status == types.StatusPending {
			pending = append(pending, o)
		} else {
			protected = append(protected, o)
		}
	}
	logger.Infof("shutdown: %d pending entries, %d protected positions", len(pending), len(protected))

	interactive := policy.Interactive && stdinIsTerminal()
	for _, o := range pending {
		cancel := policy.CancelPending
		if interactive {
			cancel = promptCancel(&o)
		}
		if !cancel {
			logger.Infof("shutdown: keeping pending %s order %d", o.Symbol, o.OrderID)
			continue
		}
		if err := w.gateway.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil && !exchange.IsNotFound(err) {
			logger.Warnf("shutdown: cancel of %s order %d failed, keeping tracked: %v", o.Symbol, o.OrderID, err)
			continue
		}
		if err := w.store.Remove(o.OrderID); err != nil {
			logger.Errorf("shutdown: remove of order %d failed: %v", o.OrderID, err)
		}
		logger.Infof("shutdown: cancelled pending %s order %d", o.Symbol, o.OrderID)
	}

	for _, o := range protected {
		logger.Infof("shutdown: %s order %d (%s) persists for next startup", o.Symbol, o.OrderID, o.Status)
	}

	if err := w.store.Persist(); err != nil {
		logger.Errorf("shutdown: final persist failed: %v", err)
	} else {
		logger.Infof("shutdown: state persisted, %d orders on file", w.store.Len())
	}
}

func promptCancel(o *types.WatchedOrder) bool {
	fmt.Printf("cancel pending %s order %d (qty=%v price=%v)? [y/N] ", o.Symbol, o.OrderID, o.Quantity, o.Price)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
