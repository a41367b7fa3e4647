package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/loadstone-io/loadstone/internal/config"
	"github.com/loadstone-io/loadstone/internal/entity"
)

// ErrLoadAborted is returned by ProcessLoad when a dependent entity type
// failed transactionally and the remaining entity types were not attempted.
var ErrLoadAborted = errors.New("load aborted on dependent entity failure")

type (
	// TxBeginner opens database transactions. Satisfied by
	// storage.Connection.
	TxBeginner interface {
		BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	}

	// Orchestrator walks entity types in dependency order and applies the
	// partial-failure policy: a transactional failure on an independent
	// entity type is recorded and processing continues, a failure on a
	// dependent entity type aborts the rest of the load.
	//
	// A single load runs on a single logical worker; dependency order is a
	// hard serialization constraint, so there is no intra-load parallelism.
	// Separate Orchestrator calls for separate loads may run concurrently.
	Orchestrator struct {
		db        TxBeginner
		upserter  *Upserter
		validator *entity.Validator
		logger    *slog.Logger
	}

	// OrchestratorOption configures optional Orchestrator behavior.
	OrchestratorOption func(*Orchestrator)
)

// WithLogger overrides the default JSON logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithUpserter substitutes the upsert engine.
func WithUpserter(u *Upserter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.upserter = u
	}
}

// NewOrchestrator creates a load orchestrator over an open database handle.
func NewOrchestrator(db TxBeginner, opts ...OrchestratorOption) *Orchestrator {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	o := &Orchestrator{
		db:        db,
		validator: entity.NewValidator(),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.upserter == nil {
		o.upserter = NewUpserter(WithUpserterLogger(o.logger))
	}

	return o
}

// ProcessLoad upserts the staged rows of one load into production, one
// transaction per entity type, in dependency order.
//
// Entity types with no staged rows record a zero outcome without opening a
// transaction. Row-level failures (validation or statement errors) are
// skipped and counted inside a still-successful transaction. The returned
// error is non-nil only for an abort; a PARTIAL run returns a closed ledger
// and nil error.
func (o *Orchestrator) ProcessLoad(
	ctx context.Context,
	loadID string,
	staged map[entity.Type][]entity.Record,
) (*Result, error) {
	order, err := entity.Order()
	if err != nil {
		return nil, err
	}

	result := &Result{
		Ledger:           NewLedger(loadID),
		ValidationErrors: make(map[entity.Type][]entity.ValidationError),
		ProcessingErrors: make(map[entity.Type][]string),
	}

	o.logger.Info("load started",
		slog.String("load_id", loadID),
		slog.Int("entity_types", len(order)),
	)

	aborted := false

	for _, typ := range order {
		d, err := entity.Lookup(typ)
		if err != nil {
			return nil, err
		}

		rows := staged[typ]
		if len(rows) == 0 {
			// No transaction, no upsert calls. The zero outcome still lands
			// in the ledger so reconciliation sees the entity was reached.
			result.Ledger.Append(Outcome{EntityType: typ, Success: true})

			o.logger.Info("no staged rows for entity",
				slog.String("load_id", loadID),
				slog.String("entity", string(typ)),
			)

			continue
		}

		outcome := o.processEntity(ctx, loadID, d, rows, result)
		result.Ledger.Append(outcome)

		if outcome.Success {
			continue
		}

		if d.Independent {
			o.logger.Warn("independent entity failed, continuing",
				slog.String("load_id", loadID),
				slog.String("entity", string(typ)),
				slog.String("error", outcome.Error),
			)

			continue
		}

		o.logger.Error("dependent entity failed, aborting load",
			slog.String("load_id", loadID),
			slog.String("entity", string(typ)),
			slog.String("error", outcome.Error),
		)

		aborted = true

		break
	}

	status := terminalStatus(result.Ledger, aborted)
	result.Ledger.Close(status)

	o.logger.Info("load finished",
		slog.String("load_id", loadID),
		slog.String("status", string(status)),
		slog.Int("rows_processed", result.Ledger.TotalProcessed),
		slog.Int("rows_failed", result.Ledger.TotalFailed),
	)

	if aborted {
		return result, ErrLoadAborted
	}

	return result, nil
}

func terminalStatus(l *Ledger, aborted bool) Status {
	if aborted {
		return StatusAborted
	}

	for _, o := range l.Outcomes {
		if !o.Success {
			return StatusPartial
		}
	}

	return StatusSuccess
}

// processEntity runs one entity type's batch in its own transaction and
// returns the outcome. Row-level errors are recovered here; any error that
// leaves the transaction unusable marks the outcome failed.
func (o *Orchestrator) processEntity(
	ctx context.Context,
	loadID string,
	d *entity.Descriptor,
	rows []entity.Record,
	result *Result,
) Outcome {
	outcome := Outcome{EntityType: d.Type}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		outcome.Error = fmt.Sprintf("begin transaction: %v", err)

		return outcome
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	for i, raw := range rows {
		rowNumber := i + 1

		rec, vErrs := o.validator.ValidateRow(d, raw, rowNumber)
		if len(vErrs) > 0 {
			result.ValidationErrors[d.Type] = append(result.ValidationErrors[d.Type], vErrs...)
		}

		if entity.HasBlockingErrors(vErrs) {
			outcome.RowsProcessed++
			outcome.RowsFailed++

			o.logger.Warn("row failed validation, skipping",
				slog.String("load_id", loadID),
				slog.String("entity", string(d.Type)),
				slog.Int("row", rowNumber),
			)

			continue
		}

		action, err := o.upserter.Upsert(ctx, tx, d, rec, loadID)
		if err != nil {
			if errors.Is(err, ErrTxBroken) {
				outcome.Error = err.Error()

				return outcome
			}

			outcome.RowsProcessed++
			outcome.RowsFailed++
			result.ProcessingErrors[d.Type] = append(result.ProcessingErrors[d.Type],
				fmt.Sprintf("row %d: %v", rowNumber, err))

			o.logger.Warn("row upsert failed, skipping",
				slog.String("load_id", loadID),
				slog.String("entity", string(d.Type)),
				slog.Int("row", rowNumber),
				slog.String("error", err.Error()),
			)

			continue
		}

		outcome.RowsProcessed++

		switch action {
		case ActionInserted:
			outcome.RowsInserted++
		case ActionUpdated:
			outcome.RowsUpdated++
		}
	}

	// Deferred constraints fire here: a referential violation in the batch
	// surfaces as a commit error, which is transaction-level by definition.
	if err := tx.Commit(); err != nil {
		outcome.Error = fmt.Sprintf("commit %s: %v", d.Type, err)
		result.ProcessingErrors[d.Type] = append(result.ProcessingErrors[d.Type], outcome.Error)

		return outcome
	}

	outcome.Success = true

	o.logger.Info("entity committed",
		slog.String("load_id", loadID),
		slog.String("entity", string(d.Type)),
		slog.Int("inserted", outcome.RowsInserted),
		slog.Int("updated", outcome.RowsUpdated),
		slog.Int("failed", outcome.RowsFailed),
	)

	return outcome
}
