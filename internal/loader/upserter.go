// Package loader drives staged rows into production tables: a descriptor
// driven upsert engine wrapped by an orchestrator that walks entity types in
// dependency order, one transaction per type.
package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/loadstone-io/loadstone/internal/config"
	"github.com/loadstone-io/loadstone/internal/entity"
)

// Action reports which arm of the check-then-act pair a row took.
type Action string

// Upsert actions.
const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
)

// ErrTxBroken signals that the surrounding transaction can no longer accept
// statements and the entity type must be treated as failed transactionally.
var ErrTxBroken = errors.New("entity transaction no longer usable")

type (
	// Upserter runs natural-key check-then-act writes inside a caller-owned
	// transaction. Statements are precomputed per entity descriptor; the
	// Upserter itself is stateless and safe for concurrent loads.
	Upserter struct {
		stmts  map[entity.Type]statements
		logger *slog.Logger
	}

	// UpserterOption configures optional Upserter behavior.
	UpserterOption func(*Upserter)

	statements struct {
		sel     string
		ins     string
		upd     string
		cols    []string
		updCols []string
	}
)

// WithUpserterLogger overrides the default JSON logger.
func WithUpserterLogger(logger *slog.Logger) UpserterOption {
	return func(u *Upserter) {
		u.logger = logger
	}
}

// NewUpserter builds the per-descriptor statement set for every registered
// entity type.
func NewUpserter(opts ...UpserterOption) *Upserter {
	u := &Upserter{
		stmts: make(map[entity.Type]statements, len(entity.All())),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, d := range entity.All() {
		u.stmts[d.Type] = buildStatements(d)
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

func buildStatements(d *entity.Descriptor) statements {
	cols := d.Schema.Columns()

	// The natural key identifies the row; every other column is mutable.
	updCols := make([]string, 0, len(cols)-2)

	for _, c := range cols {
		if c == d.NaturalKey[0] || c == d.NaturalKey[1] {
			continue
		}

		updCols = append(updCols, c)
	}

	var (
		sel strings.Builder
		ins strings.Builder
		upd strings.Builder
	)

	sel.WriteString(fmt.Sprintf(
		"SELECT id FROM %s WHERE %s = $1 AND %s = $2",
		d.Table, d.NaturalKey[0], d.NaturalKey[1],
	))

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	ins.WriteString(fmt.Sprintf(
		"INSERT INTO %s (%s, load_id, created_at, updated_at) VALUES (%s, $%d, NOW(), NOW())",
		d.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), len(cols)+1,
	))

	assignments := make([]string, len(updCols))
	for i, c := range updCols {
		assignments[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}

	upd.WriteString(fmt.Sprintf(
		"UPDATE %s SET %s, load_id = $%d, updated_at = NOW() WHERE id = $%d",
		d.Table, strings.Join(assignments, ", "), len(updCols)+1, len(updCols)+2,
	))

	return statements{
		sel:     sel.String(),
		ins:     ins.String(),
		upd:     upd.String(),
		cols:    cols,
		updCols: updCols,
	}
}

// Upsert looks up the production record by natural key and applies either a
// full-column UPDATE or an INSERT, inside tx. Both arms stamp loadID so the
// production row records the last load that touched it.
//
// Each call runs under a savepoint: a statement failure rolls back to the
// savepoint and returns the error with the transaction still usable, so the
// caller can skip the row and keep the batch open. When the savepoint itself
// cannot be restored the error wraps ErrTxBroken.
func (u *Upserter) Upsert(
	ctx context.Context,
	tx *sql.Tx,
	d *entity.Descriptor,
	rec entity.Record,
	loadID string,
) (Action, error) {
	stmts, ok := u.stmts[d.Type]
	if !ok {
		return "", fmt.Errorf("%w: %s", entity.ErrUnknownType, d.Type)
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT row_upsert"); err != nil {
		return "", fmt.Errorf("%w: savepoint: %w", ErrTxBroken, err)
	}

	action, err := u.apply(ctx, tx, stmts, d, rec, loadID)
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT row_upsert"); rbErr != nil {
			return "", fmt.Errorf("%w: rollback to savepoint after %v: %w", ErrTxBroken, err, rbErr)
		}

		return "", err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT row_upsert"); err != nil {
		return "", fmt.Errorf("%w: release savepoint: %w", ErrTxBroken, err)
	}

	return action, nil
}

func (u *Upserter) apply(
	ctx context.Context,
	tx *sql.Tx,
	stmts statements,
	d *entity.Descriptor,
	rec entity.Record,
	loadID string,
) (Action, error) {
	var id int64

	err := tx.QueryRowContext(ctx, stmts.sel, rec[d.NaturalKey[0]], rec[d.NaturalKey[1]]).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		args := make([]any, 0, len(stmts.cols)+1)
		for _, c := range stmts.cols {
			args = append(args, rec[c])
		}

		args = append(args, loadID)

		if _, err := tx.ExecContext(ctx, stmts.ins, args...); err != nil {
			return "", fmt.Errorf("insert %s: %w", d.Type, err)
		}

		return ActionInserted, nil

	case err != nil:
		return "", fmt.Errorf("lookup %s by natural key: %w", d.Type, err)

	default:
		args := make([]any, 0, len(stmts.updCols)+2)
		for _, c := range stmts.updCols {
			args = append(args, rec[c])
		}

		args = append(args, loadID, id)

		if _, err := tx.ExecContext(ctx, stmts.upd, args...); err != nil {
			return "", fmt.Errorf("update %s: %w", d.Type, err)
		}

		return ActionUpdated, nil
	}
}
