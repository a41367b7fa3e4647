// Package staging implements the per-entity scratch tables a load is written
// to before production upserts.
//
// Staging tables mirror each entity's external column layout one-to-one, plus
// a surrogate key, a load-id tag, and an ingestion timestamp. Staged rows are
// immutable once written; only the retention purge removes them.
package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/loadstone-io/loadstone/internal/config"
	"github.com/loadstone-io/loadstone/internal/entity"
	"github.com/loadstone-io/loadstone/internal/storage"
)

// Sentinel errors for staging operations.
var (
	// ErrAreaCreateFailed is returned when a scratch table cannot be provisioned.
	ErrAreaCreateFailed = errors.New("staging area creation failed")

	// ErrAppendFailed is returned when a bulk insert into a staging table fails.
	ErrAppendFailed = errors.New("staging append failed")

	// ErrPurgeFailed is returned when the retention purge fails.
	ErrPurgeFailed = errors.New("staging purge failed")
)

// maxStatementParams is the PostgreSQL extended-protocol parameter ceiling;
// bulk inserts are chunked below it inside one transaction.
const maxStatementParams = 65535

type (
	// Store manages the per-entity staging tables over an explicit connection.
	Store struct {
		conn    *storage.Connection
		cfg     *Config
		logger  *slog.Logger
		limiter *rate.Limiter
		now     func() time.Time
	}

	// StoreOption configures optional Store behavior.
	StoreOption func(*Store)
)

// WithLogger overrides the default JSON logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a staging store. Returns an error when the configuration
// is invalid.
func NewStore(conn *storage.Connection, cfg *Config, opts ...StoreOption) (*Store, error) {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		conn: conn,
		cfg:  cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		limiter: rate.NewLimiter(rate.Limit(cfg.PurgeRatePerSec), 1),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// TableName returns the scratch table name for an entity type.
func TableName(d *entity.Descriptor) string {
	return "staging_" + d.Table
}

// CreateAreas provisions (or re-provisions, dropping prior contents) one
// scratch table per entity type. Creation is independent per entity: a
// failure for one type is recorded in the result map and does not block the
// others.
func (s *Store) CreateAreas(ctx context.Context, loadID string) map[entity.Type]error {
	results := make(map[entity.Type]error, len(entity.All()))

	for _, d := range entity.All() {
		err := s.createArea(ctx, d)
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrAreaCreateFailed, d.Type, err)
			s.logger.Error("failed to create staging area",
				slog.String("load_id", loadID),
				slog.String("entity", string(d.Type)),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Info("created staging area",
				slog.String("load_id", loadID),
				slog.String("entity", string(d.Type)),
			)
		}

		results[d.Type] = err
	}

	return results
}

func (s *Store) createArea(ctx context.Context, d *entity.Descriptor) error {
	table := TableName(d)

	if _, err := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return err
	}

	cols := make([]string, 0, len(d.Schema)+3)
	cols = append(cols,
		"id BIGSERIAL PRIMARY KEY",
		"load_id VARCHAR(100) NOT NULL",
		"created_at TIMESTAMPTZ NOT NULL DEFAULT now()",
	)

	for _, f := range d.Schema {
		cols = append(cols, f.Name+" "+columnType(f))
	}

	createSQL := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", table, strings.Join(cols, ",\n\t"))
	if _, err := s.conn.ExecContext(ctx, createSQL); err != nil {
		return err
	}

	for _, idx := range []string{"load_id", "created_at"} {
		indexSQL := fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s)", table, idx, table, idx)
		if _, err := s.conn.ExecContext(ctx, indexSQL); err != nil {
			return err
		}
	}

	return nil
}

// columnType maps a schema field to its staging column type. Staging columns
// stay deliberately loose (no NOT NULL, no FKs): relationships are enforced
// by processing order, not by the scratch schema.
func columnType(f entity.Field) string {
	switch f.Kind {
	case entity.KindInt:
		return "BIGINT"
	case entity.KindDecimal:
		return "NUMERIC(12,2)"
	case entity.KindBool:
		return "BOOLEAN"
	case entity.KindTimestamp:
		return "TIMESTAMPTZ"
	default:
		if f.MaxLen > 0 {
			return fmt.Sprintf("VARCHAR(%d)", f.MaxLen)
		}

		return "TEXT"
	}
}

// AppendRows bulk-inserts raw rows tagged with loadID into the entity's
// staging table. The whole append happens in one transaction: all rows land
// or none do. An empty input is a no-op returning 0, not an error; empty
// source files are legitimate.
func (s *Store) AppendRows(ctx context.Context, typ entity.Type, rows []entity.Record, loadID string) (int, error) {
	if len(rows) == 0 {
		s.logger.Info("no rows to stage",
			slog.String("load_id", loadID),
			slog.String("entity", string(typ)),
		)

		return 0, nil
	}

	d, err := entity.Lookup(typ)
	if err != nil {
		return 0, err
	}

	columns := append([]string{"load_id"}, d.Schema.Columns()...)
	chunkSize := maxStatementParams / len(columns)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrAppendFailed, typ, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	written := 0

	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))

		n, err := s.insertChunk(ctx, tx, d, columns, rows[start:end], loadID)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrAppendFailed, typ, err)
		}

		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrAppendFailed, typ, err)
	}

	s.logger.Info("staged rows",
		slog.String("load_id", loadID),
		slog.String("entity", string(typ)),
		slog.Int("rows", written),
	)

	return written, nil
}

func (s *Store) insertChunk(
	ctx context.Context,
	tx *sql.Tx,
	d *entity.Descriptor,
	columns []string,
	rows []entity.Record,
	loadID string,
) (int, error) {
	var (
		sb   strings.Builder
		args = make([]any, 0, len(rows)*len(columns))
	)

	sb.WriteString(fmt.Sprintf("INSERT INTO %s (%s) VALUES ", TableName(d), strings.Join(columns, ", ")))

	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}

		placeholders := make([]string, len(columns))
		for j := range columns {
			placeholders[j] = fmt.Sprintf("$%d", len(args)+j+1)
		}

		sb.WriteString("(" + strings.Join(placeholders, ", ") + ")")

		args = append(args, loadID)

		for _, col := range d.Schema.Columns() {
			args = append(args, normalizeArg(row[col]))
		}
	}

	result, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), nil
}

// normalizeArg maps absent and empty values to NULL so staging preserves the
// source file's incompleteness faithfully.
func normalizeArg(v any) any {
	if v == nil {
		return nil
	}

	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}

	return v
}

// CountRows returns the number of staged rows for one entity type and load.
func (s *Store) CountRows(ctx context.Context, typ entity.Type, loadID string) (int, error) {
	d, err := entity.Lookup(typ)
	if err != nil {
		return 0, err
	}

	var count int

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE load_id = $1", TableName(d))
	if err := s.conn.QueryRowContext(ctx, query, loadID).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// CountAll returns staged row counts for every entity type of one load.
// Entities whose staging table does not exist count as zero.
func (s *Store) CountAll(ctx context.Context, loadID string) (map[entity.Type]int, error) {
	counts := make(map[entity.Type]int, len(entity.All()))

	for _, d := range entity.All() {
		exists, err := s.tableExists(ctx, TableName(d))
		if err != nil {
			return nil, err
		}

		if !exists {
			counts[d.Type] = 0

			continue
		}

		count, err := s.CountRows(ctx, d.Type, loadID)
		if err != nil {
			return nil, err
		}

		counts[d.Type] = count
	}

	return counts, nil
}

// FetchRows reads back all staged rows for one entity type and load, ordered
// by surrogate key for deterministic downstream processing.
func (s *Store) FetchRows(ctx context.Context, typ entity.Type, loadID string) ([]entity.Record, error) {
	d, err := entity.Lookup(typ)
	if err != nil {
		return nil, err
	}

	columns := d.Schema.Columns()
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE load_id = $1 ORDER BY id",
		strings.Join(columns, ", "), TableName(d),
	)

	rows, err := s.conn.QueryContext(ctx, query, loadID)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = rows.Close()
	}()

	var records []entity.Record

	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))

		for i := range values {
			scanTargets[i] = &values[i]
		}

		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}

		rec := make(entity.Record, len(columns))

		for i, col := range columns {
			if values[i] != nil {
				rec[col] = values[i]
			}
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// VerifyPresence confirms each scratch table exists for the load. Zero rows
// is valid; it signals a legitimately empty source file, not an error.
func (s *Store) VerifyPresence(ctx context.Context, loadID string) map[entity.Type]bool {
	results := make(map[entity.Type]bool, len(entity.All()))

	for _, d := range entity.All() {
		exists, err := s.tableExists(ctx, TableName(d))
		if err != nil || !exists {
			results[d.Type] = false

			continue
		}

		count, err := s.CountRows(ctx, d.Type, loadID)
		results[d.Type] = err == nil && count >= 0
	}

	return results
}

func (s *Store) tableExists(ctx context.Context, table string) (bool, error) {
	var regclass sql.NullString

	err := s.conn.QueryRowContext(ctx, "SELECT to_regclass($1)", table).Scan(&regclass)
	if err != nil {
		return false, err
	}

	return regclass.Valid, nil
}

// PurgeOlderThan deletes staged rows whose ingestion timestamp precedes
// now - retention, across all entity types, and returns the number of rows
// removed. The cutoff comparison is strict: rows created exactly at the
// boundary survive.
//
// Deletes run in bounded batches with a rate limiter between statements so
// the purge never holds a table lock longer than a single delete. The purge
// is a maintenance operation independent of any specific load and may run
// concurrently with active loads.
func (s *Store) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := s.now().Add(-retention)

	var total int64

	for _, d := range entity.All() {
		table := TableName(d)

		exists, err := s.tableExists(ctx, table)
		if err != nil {
			return total, fmt.Errorf("%w: %w", ErrPurgeFailed, err)
		}

		if !exists {
			continue
		}

		deleteSQL := fmt.Sprintf(
			"DELETE FROM %s WHERE id IN (SELECT id FROM %s WHERE created_at < $1 ORDER BY id LIMIT $2)",
			table, table,
		)

		for {
			if err := s.limiter.Wait(ctx); err != nil {
				return total, fmt.Errorf("%w: %w", ErrPurgeFailed, err)
			}

			result, err := s.conn.ExecContext(ctx, deleteSQL, cutoff, s.cfg.PurgeBatchSize)
			if err != nil {
				return total, fmt.Errorf("%w: %s: %w", ErrPurgeFailed, d.Type, err)
			}

			n, err := result.RowsAffected()
			if err != nil {
				return total, fmt.Errorf("%w: %w", ErrPurgeFailed, err)
			}

			total += n

			if n < int64(s.cfg.PurgeBatchSize) {
				break
			}
		}
	}

	s.logger.Info("purged staged rows",
		slog.Int64("rows", total),
		slog.Time("cutoff", cutoff),
	)

	return total, nil
}
