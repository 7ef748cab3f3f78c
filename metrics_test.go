package graphmat

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasicMetricsCollector(t *testing.T) {
	m := &BasicMetricsCollector{}
	boom := errors.New("boom")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.OnLookup("nodes", 10, 8, time.Millisecond, nil)
			m.OnQuery("edges", "subject", 3, 2*time.Millisecond, nil)
			m.OnBulk("adjacency_list", 5, 1, time.Millisecond, nil)
			m.RecordShard(0, 4*time.Millisecond, nil)
		}()
	}
	wg.Wait()
	m.OnLookup("nodes", 10, 0, time.Millisecond, boom)
	m.OnQuery("edges", "object", 0, 2*time.Millisecond, boom)
	m.OnBulk("adjacency_list", 5, 0, time.Millisecond, boom)
	m.RecordShard(1, 4*time.Millisecond, boom)
	m.RecordRun(40, 3, time.Second)

	s := m.GetStats()
	assert.Equal(t, int64(9), s.LookupCount)
	assert.Equal(t, int64(1), s.LookupErrors)
	assert.Equal(t, int64(80), s.LookupIDs)
	assert.Equal(t, int64(16), s.LookupMisses)
	assert.Equal(t, int64(9), s.QueryCount)
	assert.Equal(t, int64(24), s.QueryHits)
	assert.Equal(t, int64(2*time.Millisecond), s.QueryAvgNanos)
	assert.Equal(t, int64(9), s.BulkCount)
	assert.Equal(t, int64(45), s.BulkActions)
	assert.Equal(t, int64(8), s.BulkFailed)
	assert.Equal(t, int64(1), s.BulkErrors)
	assert.Equal(t, int64(9), s.ShardCount)
	assert.Equal(t, int64(1), s.ShardErrors)
	assert.Equal(t, int64(4*time.Millisecond), s.ShardAvgNanos)
	assert.Equal(t, int64(1), s.RunCount)
	assert.Equal(t, int64(40), s.RunProcessed)
	assert.Equal(t, int64(3), s.RunFailed)
}

func TestBasicMetricsCollector_Empty(t *testing.T) {
	s := (&BasicMetricsCollector{}).GetStats()
	assert.Zero(t, s.ShardAvgNanos)
	assert.Zero(t, s.QueryAvgNanos)
}

func TestNoopMetricsCollector(t *testing.T) {
	var mc MetricsCollector = NoopMetricsCollector{}
	mc.RecordShard(0, time.Second, nil)
	mc.RecordRun(1, 0, time.Second)
	mc.OnLookup("nodes", 1, 1, time.Second, nil)
}
