package loader

import (
	"time"

	"github.com/loadstone-io/loadstone/internal/entity"
)

// Status is the terminal state of a processing run.
type Status string

// Terminal states for a load.
const (
	// StatusSuccess means every staged entity type committed.
	StatusSuccess Status = "SUCCESS"

	// StatusPartial means one or more independent entity types failed
	// transactionally but the dependent chain completed.
	StatusPartial Status = "PARTIAL"

	// StatusAborted means a dependent entity type failed transactionally and
	// the remaining entity types were not attempted.
	StatusAborted Status = "ABORTED"
)

type (
	// Outcome records the result of one entity type's transaction.
	//
	// Success is transaction-level: a committed transaction with skipped rows
	// still reports Success true, with the skips visible in RowsFailed.
	Outcome struct {
		EntityType    entity.Type `json:"entity_type"`
		RowsProcessed int         `json:"rows_processed"`
		RowsInserted  int         `json:"rows_inserted"`
		RowsUpdated   int         `json:"rows_updated"`
		RowsFailed    int         `json:"rows_failed"`
		Success       bool        `json:"success"`
		Error         string      `json:"error,omitempty"`
	}

	// Ledger is the durable audit record of one load. Created when
	// orchestration starts, appended to per entity type, closed exactly once.
	Ledger struct {
		LoadID         string    `json:"load_id"`
		StartTime      time.Time `json:"start_time"`
		EndTime        time.Time `json:"end_time"`
		Outcomes       []Outcome `json:"outcomes"`
		TotalProcessed int       `json:"total_rows_processed"`
		TotalInserted  int       `json:"total_rows_inserted"`
		TotalUpdated   int       `json:"total_rows_updated"`
		TotalFailed    int       `json:"total_rows_failed"`
		Success        bool      `json:"success"`
		Status         Status    `json:"status"`
	}

	// Result bundles the ledger with the row-level failures collected during
	// the run, keyed by entity type, for downstream exception reporting.
	Result struct {
		Ledger           *Ledger
		ValidationErrors map[entity.Type][]entity.ValidationError
		ProcessingErrors map[entity.Type][]string
	}
)

// NewLedger opens a ledger for a load.
func NewLedger(loadID string) *Ledger {
	return &Ledger{
		LoadID:    loadID,
		StartTime: time.Now().UTC(),
	}
}

// Append records an entity outcome and folds it into the ledger totals.
func (l *Ledger) Append(o Outcome) {
	l.Outcomes = append(l.Outcomes, o)
	l.TotalProcessed += o.RowsProcessed
	l.TotalInserted += o.RowsInserted
	l.TotalUpdated += o.RowsUpdated
	l.TotalFailed += o.RowsFailed
}

// Close stamps the end time and terminal state. Success tracks the
// dependent chain: only an abort makes the ledger unsuccessful, independent
// entity failures downgrade the status to PARTIAL without flipping it.
func (l *Ledger) Close(status Status) {
	l.EndTime = time.Now().UTC()
	l.Status = status
	l.Success = status != StatusAborted
}

// Outcome returns the recorded outcome for an entity type, if present.
func (l *Ledger) Outcome(typ entity.Type) (Outcome, bool) {
	for _, o := range l.Outcomes {
		if o.EntityType == typ {
			return o, true
		}
	}

	return Outcome{}, false
}
