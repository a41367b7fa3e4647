package loader

import (
	"testing"

	"github.com/loadstone-io/loadstone/internal/entity"
)

func TestLedger_AppendAccumulatesTotals(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	l := NewLedger("load-001")

	l.Append(Outcome{
		EntityType:    entity.TypeCustomers,
		RowsProcessed: 3,
		RowsInserted:  3,
		Success:       true,
	})
	l.Append(Outcome{
		EntityType:    entity.TypeVehicles,
		RowsProcessed: 4,
		RowsInserted:  2,
		RowsUpdated:   1,
		RowsFailed:    1,
		Success:       true,
	})

	if l.TotalProcessed != 7 {
		t.Errorf("TotalProcessed = %d, want 7", l.TotalProcessed)
	}

	if l.TotalInserted != 5 {
		t.Errorf("TotalInserted = %d, want 5", l.TotalInserted)
	}

	if l.TotalUpdated != 1 {
		t.Errorf("TotalUpdated = %d, want 1", l.TotalUpdated)
	}

	if l.TotalFailed != 1 {
		t.Errorf("TotalFailed = %d, want 1", l.TotalFailed)
	}
}

func TestLedger_CloseSuccessTracksAbort(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name        string
		status      Status
		wantSuccess bool
	}{
		{"success", StatusSuccess, true},
		{"partial stays successful", StatusPartial, true},
		{"aborted flips the flag", StatusAborted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger("load-001")
			l.Close(tt.status)

			if l.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", l.Success, tt.wantSuccess)
			}

			if l.EndTime.IsZero() {
				t.Error("EndTime not stamped")
			}
		})
	}
}

func TestLedger_OutcomeLookup(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	l := NewLedger("load-001")
	l.Append(Outcome{EntityType: entity.TypeSuppliers, Success: true})

	if _, ok := l.Outcome(entity.TypeSuppliers); !ok {
		t.Error("Outcome(suppliers) not found")
	}

	if _, ok := l.Outcome(entity.TypePayments); ok {
		t.Error("Outcome(payments) unexpectedly present")
	}
}

func TestTerminalStatus(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	success := NewLedger("l")
	success.Append(Outcome{EntityType: entity.TypeCustomers, Success: true})

	if got := terminalStatus(success, false); got != StatusSuccess {
		t.Errorf("terminalStatus = %s, want %s", got, StatusSuccess)
	}

	partial := NewLedger("l")
	partial.Append(Outcome{EntityType: entity.TypeCustomers, Success: true})
	partial.Append(Outcome{EntityType: entity.TypeSuppliers, Success: false, Error: "boom"})

	if got := terminalStatus(partial, false); got != StatusPartial {
		t.Errorf("terminalStatus = %s, want %s", got, StatusPartial)
	}

	if got := terminalStatus(partial, true); got != StatusAborted {
		t.Errorf("terminalStatus = %s, want %s", got, StatusAborted)
	}
}
