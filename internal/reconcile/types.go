package reconcile

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind classifies one corrective or informational reconciliation action.
type ActionKind string

const (
	ActionRemoveOrder       ActionKind = "remove_order"
	ActionClosePosition     ActionKind = "close_position"
	ActionCancelOrder       ActionKind = "cancel_order"
	ActionRestoreProtection ActionKind = "restore_protection"
	ActionReportOrphan      ActionKind = "report_orphan"
)

// SyncAction is one discrepancy found between local tracking and exchange
// truth, plus what was done about it.
type SyncAction struct {
	Kind      ActionKind `json:"kind"`
	Symbol    string     `json:"symbol"`
	OrderID   int64      `json:"orderId,omitempty"`
	Reason    string     `json:"reason"`
	Succeeded bool       `json:"succeeded"`
	Critical  bool       `json:"critical,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func (a SyncAction) String() string {
	status := "ok"
	if !a.Succeeded {
		status = "FAILED"
	}
	return fmt.Sprintf("[%s] %s order=%d %s (%s)", a.Kind, a.Symbol, a.OrderID, a.Reason, status)
}

// SyncResult aggregates one reconciliation pass. Running the pass twice with
// no intervening exchange activity must yield ActionsTaken()==0 the second
// time.
type SyncResult struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	Checked   int `json:"checked"`
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	Actions []SyncAction `json:"actions"`

	Synchronized bool `json:"synchronized"`
}

// ActionsTaken counts corrective actions; orphan reports are informational.
func (r *SyncResult) ActionsTaken() int {
	n := 0
	for _, a := range r.Actions {
		if a.Kind != ActionReportOrphan {
			n++
		}
	}
	return n
}

// Orphans lists the informational orphan reports.
func (r *SyncResult) Orphans() []SyncAction {
	var out []SyncAction
	for _, a := range r.Actions {
		if a.Kind == ActionReportOrphan {
			out = append(out, a)
		}
	}
	return out
}

// Summary renders the bounded human-readable report, listing at most maxLines
// individual actions.
func (r *SyncResult) Summary(maxLines int) string {
	var b strings.Builder
	verdict := "in sync"
	if !r.Synchronized {
		verdict = "DISCREPANCIES"
	}
	runID := r.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	fmt.Fprintf(&b, "reconciliation %s: %s\nchecked=%d attempted=%d succeeded=%d failed=%d orphans=%d",
		runID, verdict, r.Checked, r.Attempted, r.Succeeded, r.Failed, len(r.Orphans()))
	for i, a := range r.Actions {
		if maxLines > 0 && i >= maxLines {
			fmt.Fprintf(&b, "\n... and %d more", len(r.Actions)-maxLines)
			break
		}
		b.WriteString("\n" + a.String())
	}
	return b.String()
}
