package telemetry

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "aggregates.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	require.NoError(t, err)

	require.NoError(t, InitSchema(db))

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func TestSQLiteStore_SaveMethodCounts(t *testing.T) {
	store, err := NewSQLiteStore(setupTestDB(t))
	require.NoError(t, err)

	counts := map[string]int64{
		"HYBRID(w=0.60)":  10,
		"STRUCTURED_ONLY": 5,
		"VECTOR_ONLY":     3,
	}

	require.NoError(t, store.SaveMethodCounts("2026-08-25", counts))

	result, err := store.GetMethodCounts("2026-08-25", "2026-08-25")
	require.NoError(t, err)

	assert.Equal(t, int64(10), result["HYBRID(w=0.60)"])
	assert.Equal(t, int64(5), result["STRUCTURED_ONLY"])
	assert.Equal(t, int64(3), result["VECTOR_ONLY"])
}

func TestSQLiteStore_SaveMethodCounts_Incremental(t *testing.T) {
	store, err := NewSQLiteStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.SaveMethodCounts("2026-08-25", map[string]int64{"HYBRID(w=0.60)": 10}))
	require.NoError(t, store.SaveMethodCounts("2026-08-25", map[string]int64{"HYBRID(w=0.60)": 5}))

	result, err := store.GetMethodCounts("2026-08-25", "2026-08-25")
	require.NoError(t, err)

	assert.Equal(t, int64(15), result["HYBRID(w=0.60)"])
}

func TestSQLiteStore_MethodCounts_DateRange(t *testing.T) {
	store, err := NewSQLiteStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.SaveMethodCounts("2026-08-23", map[string]int64{"VECTOR_ONLY": 10}))
	require.NoError(t, store.SaveMethodCounts("2026-08-24", map[string]int64{"VECTOR_ONLY": 20}))
	require.NoError(t, store.SaveMethodCounts("2026-08-25", map[string]int64{"VECTOR_ONLY": 30}))

	result, err := store.GetMethodCounts("2026-08-23", "2026-08-24")
	require.NoError(t, err)

	assert.Equal(t, int64(30), result["VECTOR_ONLY"])
}

func TestSQLiteStore_UpsertTermCounts(t *testing.T) {
	store, err := NewSQLiteStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.UpsertTermCounts(map[string]int64{
		"rumah": 10,
		"ruko":  5,
		"medan": 3,
	}))

	result, err := store.GetTopTerms(10)
	require.NoError(t, err)

	require.Len(t, result, 3)
	assert.Equal(t, "rumah", result[0].Term)
	assert.Equal(t, int64(10), result[0].Count)
}

func TestSQLiteStore_UpsertTermCounts_Incremental(t *testing.T) {
	store, err := NewSQLiteStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.UpsertTermCounts(map[string]int64{"rumah": 10}))
	require.NoError(t, store.UpsertTermCounts(map[string]int64{"rumah": 5}))

	result, err := store.GetTopTerms(1)
	require.NoError(t, err)

	assert.Equal(t, int64(15), result[0].Count)
}

func TestSQLiteStore_GetTopTerms_Limit(t *testing.T) {
	store, err := NewSQLiteStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.UpsertTermCounts(map[string]int64{
		"satu": 1, "dua": 2, "tiga": 3, "empat": 4, "lima": 5,
	}))

	result, err := store.GetTopTerms(3)
	require.NoError(t, err)

	require.Len(t, result, 3)
	assert.Equal(t, "lima", result[0].Term)
	assert.Equal(t, "empat", result[1].Term)
	assert.Equal(t, "tiga", result[2].Term)
}

func TestSQLiteStore_ZeroResultQueries(t *testing.T) {
	store, err := NewSQLiteStore(setupTestDB(t))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.AddZeroResultQuery("istana di medan", now))
	require.NoError(t, store.AddZeroResultQuery("kastil polonia", now.Add(time.Minute)))

	result, err := store.GetZeroResultQueries(10)
	require.NoError(t, err)

	require.Len(t, result, 2)
	assert.Equal(t, "kastil polonia", result[0], "newest first")
	assert.Equal(t, "istana di medan", result[1])
}

func TestSQLiteStore_ZeroResultQueries_Trimmed(t *testing.T) {
	store, err := NewSQLiteStore(setupTestDB(t))
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < zeroResultKeep+5; i++ {
		require.NoError(t, store.AddZeroResultQuery("query", now.Add(time.Duration(i)*time.Second)))
	}

	result, err := store.GetZeroResultQueries(zeroResultKeep * 2)
	require.NoError(t, err)

	assert.Len(t, result, zeroResultKeep)
}

func TestSQLiteStore_LatencyCounts(t *testing.T) {
	store, err := NewSQLiteStore(setupTestDB(t))
	require.NoError(t, err)

	counts := map[LatencyBucket]int64{
		BucketP10:   100,
		BucketP50:   50,
		BucketP1000: 5,
	}

	require.NoError(t, store.SaveLatencyCounts("2026-08-25", counts))
	require.NoError(t, store.SaveLatencyCounts("2026-08-25", map[LatencyBucket]int64{BucketP10: 1}))

	result, err := store.GetLatencyCounts("2026-08-25", "2026-08-25")
	require.NoError(t, err)

	assert.Equal(t, int64(101), result[BucketP10])
	assert.Equal(t, int64(50), result[BucketP50])
	assert.Equal(t, int64(5), result[BucketP1000])
}

func TestSQLiteStore_EmptyMapsAreNoOps(t *testing.T) {
	store, err := NewSQLiteStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.SaveMethodCounts("2026-08-25", nil))
	require.NoError(t, store.UpsertTermCounts(map[string]int64{}))
	require.NoError(t, store.SaveLatencyCounts("2026-08-25", nil))
}

func TestNewSQLiteStore_NilDB(t *testing.T) {
	_, err := NewSQLiteStore(nil)
	assert.Error(t, err)
}

func TestSQLiteStore_SharedHandleSurvivesClose(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	require.NoError(t, store.Close())

	// The shared handle stays usable after the store closes.
	require.NoError(t, db.Ping())
}

func TestOpenStore_CreatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics", "aggregates.db")

	store, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveMethodCounts("2026-08-25", map[string]int64{"HYBRID(w=0.60)": 7}))
	require.NoError(t, store.Close())

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	result, err := reopened.GetMethodCounts("2026-08-25", "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, int64(7), result["HYBRID(w=0.60)"])
}

func TestCollector_FlushesToSQLiteStore(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "aggregates.db"))
	require.NoError(t, err)
	defer store.Close()

	cfg := DefaultCollectorConfig()
	cfg.FlushInterval = 0
	c := NewCollectorWithConfig(store, cfg, nil)
	defer c.Close()

	c.Observe(SearchRecord{Method: "HYBRID(w=0.60)", Query: "rumah dekat usu", ResultCount: 4, TotalMS: 35})
	c.Observe(SearchRecord{Method: "HYBRID(w=0.60)", Query: "gudang kosong", ResultCount: 0, TotalMS: 8})

	require.NoError(t, c.Flush())

	today := time.Now().Format("2006-01-02")
	methods, err := store.GetMethodCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(2), methods["HYBRID(w=0.60)"])

	latencies, err := store.GetLatencyCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latencies[BucketP50])
	assert.Equal(t, int64(1), latencies[BucketP10])

	zero, err := store.GetZeroResultQueries(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"gudang kosong"}, zero)
}
