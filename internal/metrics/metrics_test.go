package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordQueryCountsFailures(t *testing.T) {
	r := NewRecorder()
	r.RecordQuery("nodes", nil)
	r.RecordQuery("node_facts", nil)
	r.RecordQuery("node_facts", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.queries.WithLabelValues("nodes")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.queries.WithLabelValues("node_facts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.queryFailures.WithLabelValues("node_facts")))
}

func TestRecordCacheResultIsExclusive(t *testing.T) {
	r := NewRecorder()
	r.RecordCacheResult(CacheStale)
	r.RecordCacheResult(CacheHit)

	snap, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap["puppetdb_inventory_cache_result{hit}"])
	assert.Equal(t, 0.0, snap["puppetdb_inventory_cache_result{stale}"])
	assert.Equal(t, 0.0, snap["puppetdb_inventory_cache_result{refresh}"])
}

func TestRecordRunAndInventory(t *testing.T) {
	r := NewRecorder()
	start := time.Unix(1700000000, 0)
	r.RecordInventory(12, 4)
	r.RecordRun(start, start.Add(1500*time.Millisecond), nil)

	snap, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 12.0, snap["puppetdb_inventory_hosts"])
	assert.Equal(t, 4.0, snap["puppetdb_inventory_groups"])
	assert.Equal(t, 1.5, snap["puppetdb_inventory_run_duration_seconds"])
	assert.Equal(t, 1700000001.0, snap["puppetdb_inventory_last_run_timestamp_seconds"])
	assert.Equal(t, 1.0, snap["puppetdb_inventory_last_run_success"])

	r.RecordRun(start, start, errors.New("failed"))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.runSuccess))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.RecordInventory(3, 2)

	path := filepath.Join(t.TempDir(), "textfile", "puppetdb_inventory.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "puppetdb_inventory_hosts 3"))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.RecordQuery("nodes", nil)
	r.RecordInventory(1, 1)
	r.RecordCacheResult(CacheHit)
	r.RecordRun(time.Now(), time.Now(), nil)
	assert.NoError(t, r.WriteTextfile("/nonexistent/metrics.prom"))
}
