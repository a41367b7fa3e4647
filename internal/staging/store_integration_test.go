package staging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/loadstone-io/loadstone/internal/config"
	"github.com/loadstone-io/loadstone/internal/entity"
	"github.com/loadstone-io/loadstone/internal/storage"
)

func setupStore(ctx context.Context, t *testing.T) *Store {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	store, err := NewStore(storage.Wrap(testDB.Connection), nil)
	require.NoError(t, err, "Failed to create staging store")

	return store
}

func TestStore_CreateAreas(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupStore(ctx, t)

	results := store.CreateAreas(ctx, "load-001")
	require.Len(t, results, len(entity.All()))

	for typ, err := range results {
		assert.NoError(t, err, "entity %s", typ)
	}

	presence := store.VerifyPresence(ctx, "load-001")
	for typ, ok := range presence {
		assert.True(t, ok, "staging table missing for %s", typ)
	}
}

func TestStore_CreateAreas_DropsPriorContents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupStore(ctx, t)

	results := store.CreateAreas(ctx, "load-001")
	for _, err := range results {
		require.NoError(t, err)
	}

	n, err := store.AppendRows(ctx, entity.TypeSuppliers, []entity.Record{
		{"external_shop_id": "shop-1", "external_supplier_id": "sup-1", "name": "Acme Parts"},
	}, "load-001")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Re-provisioning starts the table over.
	results = store.CreateAreas(ctx, "load-002")
	for _, err := range results {
		require.NoError(t, err)
	}

	count, err := store.CountRows(ctx, entity.TypeSuppliers, "load-001")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStore_AppendAndFetchRows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupStore(ctx, t)

	results := store.CreateAreas(ctx, "load-001")
	for _, err := range results {
		require.NoError(t, err)
	}

	rows := []entity.Record{
		{
			"external_shop_id":     "shop-1",
			"external_customer_id": "cust-1",
			"first_name":           "Ada",
			"last_name":            "Lovelace",
			"contact_email":        "ada@example.com",
		},
		{
			"external_shop_id":     "shop-1",
			"external_customer_id": "cust-2",
			"first_name":           "Grace",
			"last_name":            "Hopper",
			"contact_email":        "", // blank values stage as NULL
		},
	}

	n, err := store.AppendRows(ctx, entity.TypeCustomers, rows, "load-001")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := store.CountRows(ctx, entity.TypeCustomers, "load-001")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	fetched, err := store.FetchRows(ctx, entity.TypeCustomers, "load-001")
	require.NoError(t, err)
	require.Len(t, fetched, 2)

	// Insertion order is preserved through the surrogate key.
	assert.Equal(t, "cust-1", asString(fetched[0]["external_customer_id"]))
	assert.Equal(t, "cust-2", asString(fetched[1]["external_customer_id"]))

	_, present := fetched[1]["contact_email"]
	assert.False(t, present, "blank value should not round-trip")
}

func TestStore_AppendRows_Empty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupStore(ctx, t)

	results := store.CreateAreas(ctx, "load-001")
	for _, err := range results {
		require.NoError(t, err)
	}

	n, err := store.AppendRows(ctx, entity.TypeVehicles, nil, "load-001")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_AppendRows_Chunked(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupStore(ctx, t)

	results := store.CreateAreas(ctx, "load-001")
	for _, err := range results {
		require.NoError(t, err)
	}

	// Suppliers carry 17 parameters per row, so 5000 rows forces multiple
	// chunks under the statement parameter ceiling.
	rows := make([]entity.Record, 5000)
	for i := range rows {
		rows[i] = entity.Record{
			"external_shop_id":     "shop-1",
			"external_supplier_id": fmt.Sprintf("sup-%d", i),
			"name":                 fmt.Sprintf("Supplier %d", i),
		}
	}

	n, err := store.AppendRows(ctx, entity.TypeSuppliers, rows, "load-001")
	require.NoError(t, err)
	assert.Equal(t, 5000, n)

	count, err := store.CountRows(ctx, entity.TypeSuppliers, "load-001")
	require.NoError(t, err)
	assert.Equal(t, 5000, count)
}

func TestStore_CountAll_IsolatesLoads(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupStore(ctx, t)

	results := store.CreateAreas(ctx, "load-a")
	for _, err := range results {
		require.NoError(t, err)
	}

	_, err := store.AppendRows(ctx, entity.TypeSuppliers, []entity.Record{
		{"external_shop_id": "shop-1", "external_supplier_id": "sup-1", "name": "Acme"},
	}, "load-a")
	require.NoError(t, err)

	_, err = store.AppendRows(ctx, entity.TypeSuppliers, []entity.Record{
		{"external_shop_id": "shop-1", "external_supplier_id": "sup-2", "name": "Globex"},
		{"external_shop_id": "shop-1", "external_supplier_id": "sup-3", "name": "Initech"},
	}, "load-b")
	require.NoError(t, err)

	counts, err := store.CountAll(ctx, "load-b")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[entity.TypeSuppliers])
	assert.Equal(t, 0, counts[entity.TypeCustomers])
}

func TestStore_PurgeOlderThan_StrictCutoff(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := storage.Wrap(testDB.Connection)
	store, err := NewStore(conn, &Config{
		Retention:       DefaultRetention,
		PurgeBatchSize:  2,
		PurgeRatePerSec: 100,
	})
	require.NoError(t, err)

	results := store.CreateAreas(ctx, "load-001")
	for _, cerr := range results {
		require.NoError(t, cerr)
	}

	rows := make([]entity.Record, 5)
	for i := range rows {
		rows[i] = entity.Record{
			"external_shop_id":     "shop-1",
			"external_supplier_id": fmt.Sprintf("sup-%d", i),
			"name":                 "Acme",
		}
	}

	_, err = store.AppendRows(ctx, entity.TypeSuppliers, rows, "load-001")
	require.NoError(t, err)

	retention := 24 * time.Hour
	cutoff := time.Now().Add(-retention)

	// Backdate three rows past the cutoff and pin one just inside it. The
	// margin absorbs clock drift between here and the purge recomputing its
	// own cutoff.
	_, err = testDB.Connection.ExecContext(ctx,
		"UPDATE staging_suppliers SET created_at = $1 WHERE id <= 3",
		cutoff.Add(-time.Hour),
	)
	require.NoError(t, err)

	_, err = testDB.Connection.ExecContext(ctx,
		"UPDATE staging_suppliers SET created_at = $1 WHERE id = 4",
		cutoff.Add(time.Minute),
	)
	require.NoError(t, err)

	deleted, err := store.PurgeOlderThan(ctx, retention)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	count, err := store.CountRows(ctx, entity.TypeSuppliers, "load-001")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_PurgeOlderThan_ExactBoundaryRowSurvives(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := storage.Wrap(testDB.Connection)
	store, err := NewStore(conn, nil)
	require.NoError(t, err)

	// Pin the store's clock so the cutoff can be hit exactly. Truncated to
	// microseconds to match timestamptz precision.
	frozen := time.Now().UTC().Truncate(time.Microsecond)
	store.now = func() time.Time { return frozen }

	results := store.CreateAreas(ctx, "load-001")
	for _, cerr := range results {
		require.NoError(t, cerr)
	}

	_, err = store.AppendRows(ctx, entity.TypeSuppliers, []entity.Record{
		{"external_shop_id": "shop-1", "external_supplier_id": "sup-boundary", "name": "Acme"},
		{"external_shop_id": "shop-1", "external_supplier_id": "sup-expired", "name": "Globex"},
	}, "load-001")
	require.NoError(t, err)

	retention := 24 * time.Hour
	cutoff := frozen.Add(-retention)

	// One row exactly at the cutoff instant, one a microsecond older. The
	// comparison is strict, so only the older row goes.
	_, err = testDB.Connection.ExecContext(ctx,
		"UPDATE staging_suppliers SET created_at = $1 WHERE external_supplier_id = 'sup-boundary'",
		cutoff,
	)
	require.NoError(t, err)

	_, err = testDB.Connection.ExecContext(ctx,
		"UPDATE staging_suppliers SET created_at = $1 WHERE external_supplier_id = 'sup-expired'",
		cutoff.Add(-time.Microsecond),
	)
	require.NoError(t, err)

	deleted, err := store.PurgeOlderThan(ctx, retention)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rows, err := store.FetchRows(ctx, entity.TypeSuppliers, "load-001")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "sup-boundary", asString(rows[0]["external_supplier_id"]))
}

func TestStore_PurgeOlderThan_InvalidRetention(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupStore(ctx, t)

	_, err := store.PurgeOlderThan(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidRetention)
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}
