package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(path string, startedAt time.Time, durationMS int64, success bool) Record {
	return Record{
		Path:           path,
		RunID:          "run-1",
		StartedAt:      startedAt,
		DurationMS:     durationMS,
		Success:        success,
		MemoryMB:       256,
		CPUPercent:     12.5,
		DBConnections:  2,
		WorkerCount:    4,
		IsolationLevel: "transaction",
	}
}

func flushRecords(t *testing.T, store *Store, records ...Record) {
	t.Helper()
	for _, r := range records {
		store.Append(r)
	}
	n, err := store.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(records), n)
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name   string
		dbPath func(t *testing.T) string
	}{
		{
			name:   "creates database file",
			dbPath: func(t *testing.T) string { return filepath.Join(t.TempDir(), "history.db") },
		},
		{
			name:   "handles in-memory database",
			dbPath: func(t *testing.T) string { return ":memory:" },
		},
		{
			name: "creates parent directories if needed",
			dbPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "nested", "dir", "history.db")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.dbPath(t)
			store, err := NewStore(path)
			require.NoError(t, err)
			require.NotNil(t, store)
			defer store.Close()

			assert.Equal(t, path, store.Path())

			// Schema must be queryable immediately.
			stats, err := store.Summary()
			require.NoError(t, err)
			assert.Equal(t, int64(0), stats.Records)
		})
	}
}

func TestAppendAndFlush(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	store.Append(testRecord("tests/accounts.test.ts", now, 1200, true))
	store.Append(testRecord("tests/transfers.test.ts", now, 4500, false))
	assert.Equal(t, 2, store.Pending())

	n, err := store.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, store.Pending())

	records, err := store.Executions("tests/accounts.test.ts", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "tests/accounts.test.ts", records[0].Path)
	assert.Equal(t, "run-1", records[0].RunID)
	assert.Equal(t, int64(1200), records[0].DurationMS)
	assert.True(t, records[0].Success)
	assert.Equal(t, 256, records[0].MemoryMB)
	assert.Equal(t, 2, records[0].DBConnections)
	assert.Equal(t, 4, records[0].WorkerCount)
	assert.Equal(t, "transaction", records[0].IsolationLevel)
	assert.Equal(t, 1200*time.Millisecond, records[0].Duration())
}

func TestFlushEmptyBufferIsNoOp(t *testing.T) {
	store := newTestStore(t)

	n, err := store.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFlushIsIdempotentAfterDrain(t *testing.T) {
	store := newTestStore(t)
	flushRecords(t, store, testRecord("tests/a.test.ts", time.Now(), 100, true))

	n, err := store.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stats, err := store.Summary()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Records)
}

func TestExecutionsReturnsRecentWindowInOrder(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().Add(-time.Hour)

	var records []Record
	for i := 0; i < 5; i++ {
		records = append(records, testRecord("tests/budgets.test.ts", base.Add(time.Duration(i)*time.Minute), int64(100*(i+1)), true))
	}
	flushRecords(t, store, records...)

	got, err := store.Executions("tests/budgets.test.ts", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Most recent three, oldest first.
	assert.Equal(t, int64(300), got[0].DurationMS)
	assert.Equal(t, int64(400), got[1].DurationMS)
	assert.Equal(t, int64(500), got[2].DurationMS)
}

func TestExecutionsUnlimitedAndUnknownPath(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	flushRecords(t, store,
		testRecord("tests/a.test.ts", now, 100, true),
		testRecord("tests/a.test.ts", now, 200, true),
		testRecord("tests/b.test.ts", now, 300, true),
	)

	all, err := store.Executions("tests/a.test.ts", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	missing, err := store.Executions("tests/unknown.test.ts", 0)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestAverageDuration(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	flushRecords(t, store,
		testRecord("tests/goals.test.ts", now, 100, true),
		testRecord("tests/goals.test.ts", now, 200, false),
		testRecord("tests/goals.test.ts", now, 300, true),
	)

	avg, ok := store.AverageDuration("tests/goals.test.ts")
	assert.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, avg)

	_, ok = store.AverageDuration("tests/unknown.test.ts")
	assert.False(t, ok)
}

func TestAverageDurationUsesRecentWindowOnly(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	// Five ancient slow runs followed by twenty fast ones; only the window
	// of recent runs should feed the estimate.
	var records []Record
	for i := 0; i < 5; i++ {
		records = append(records, testRecord("tests/import.test.ts", now, 100000, true))
	}
	for i := 0; i < averageWindow; i++ {
		records = append(records, testRecord("tests/import.test.ts", now, 500, true))
	}
	flushRecords(t, store, records...)

	avg, ok := store.AverageDuration("tests/import.test.ts")
	assert.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, avg)
}

func TestPruneByAge(t *testing.T) {
	store := newTestStore(t)
	old := time.Now().AddDate(0, 0, -30)
	recent := time.Now()
	flushRecords(t, store,
		testRecord("tests/a.test.ts", old, 100, true),
		testRecord("tests/a.test.ts", old, 150, true),
		testRecord("tests/a.test.ts", recent, 200, true),
	)

	removed, err := store.Prune(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	remaining, err := store.Executions("tests/a.test.ts", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, int64(200), remaining[0].DurationMS)
}

func TestPruneByUnitCap(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	var records []Record
	for i := 0; i < 6; i++ {
		records = append(records, testRecord("tests/crowded.test.ts", now, int64(100+i), true))
	}
	records = append(records, testRecord("tests/sparse.test.ts", now, 999, true))
	flushRecords(t, store, records...)

	removed, err := store.Prune(context.Background(), 0, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	crowded, err := store.Executions("tests/crowded.test.ts", 0)
	require.NoError(t, err)
	require.Len(t, crowded, 4)
	// Oldest two trimmed.
	assert.Equal(t, int64(102), crowded[0].DurationMS)
	assert.Equal(t, int64(105), crowded[3].DurationMS)

	sparse, err := store.Executions("tests/sparse.test.ts", 0)
	require.NoError(t, err)
	assert.Len(t, sparse, 1)
}

func TestPruneWithoutPoliciesRemovesNothing(t *testing.T) {
	store := newTestStore(t)
	flushRecords(t, store, testRecord("tests/a.test.ts", time.Now(), 100, true))

	removed, err := store.Prune(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestClear(t *testing.T) {
	store := newTestStore(t)
	flushRecords(t, store,
		testRecord("tests/a.test.ts", time.Now(), 100, true),
		testRecord("tests/b.test.ts", time.Now(), 200, true),
	)

	require.NoError(t, store.Clear(context.Background()))

	stats, err := store.Summary()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Records)
	assert.Equal(t, int64(0), stats.Units)
}

func TestSummary(t *testing.T) {
	store := newTestStore(t)
	oldest := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	newest := time.Now().Truncate(time.Second)
	flushRecords(t, store,
		testRecord("tests/a.test.ts", oldest, 100, true),
		testRecord("tests/a.test.ts", newest, 200, true),
		testRecord("tests/b.test.ts", newest, 300, false),
		testRecord("tests/c.test.ts", newest, 400, true),
	)

	stats, err := store.Summary()
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Records)
	assert.Equal(t, int64(3), stats.Units)
	assert.InDelta(t, 0.75, stats.SuccessRate, 0.001)
	assert.False(t, stats.Oldest.After(stats.Newest))
}

func TestPaths(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	flushRecords(t, store,
		testRecord("tests/zebra.test.ts", now, 100, true),
		testRecord("tests/alpha.test.ts", now, 200, true),
		testRecord("tests/alpha.test.ts", now, 300, true),
	)

	paths, err := store.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"tests/alpha.test.ts", "tests/zebra.test.ts"}, paths)
}

func TestNewRecord(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		wantSuccess bool
	}{
		{name: "passed unit is a success", status: models.StatusPassed, wantSuccess: true},
		{name: "failed unit is not", status: models.StatusFailed, wantSuccess: false},
		{name: "timeout counts as failure", status: models.StatusTimeout, wantSuccess: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := time.Now()
			unit := models.UnitResult{
				Path:          "tests/payees.test.ts",
				Status:        tt.status,
				Duration:      1500 * time.Millisecond,
				MemoryMB:      512,
				DBConnections: 3,
			}

			r := NewRecord("run-42", started, unit, 4, "schema")
			assert.Equal(t, "tests/payees.test.ts", r.Path)
			assert.Equal(t, "run-42", r.RunID)
			assert.Equal(t, started, r.StartedAt)
			assert.Equal(t, int64(1500), r.DurationMS)
			assert.Equal(t, tt.wantSuccess, r.Success)
			assert.Equal(t, 512, r.MemoryMB)
			assert.Equal(t, 3, r.DBConnections)
			assert.Equal(t, 4, r.WorkerCount)
			assert.Equal(t, "schema", r.IsolationLevel)
		})
	}
}

func TestConcurrentAppend(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(worker int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 25; i++ {
				store.Append(testRecord(fmt.Sprintf("tests/worker-%d.test.ts", worker), now, 100, true))
			}
		}(w)
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	n, err := store.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	stats, err := store.Summary()
	require.NoError(t, err)
	assert.Equal(t, int64(100), stats.Records)
}
