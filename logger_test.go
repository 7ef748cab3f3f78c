package graphmat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/graphmat/store"
)

func jsonLogger(buf *bytes.Buffer) *Logger {
	return NewLogger(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf).WithRunID("abc").WithWorker(2)
	ctx := context.Background()

	l.LogUnitFailure(ctx, "N1", errors.New("timeout"))
	l.LogBulkFailure(ctx, "adjacency_list", store.ItemFailure{ID: "N2", Reason: "document_missing_exception", Status: 404})
	l.LogShard(ctx, 2, 7, 1, time.Second, errors.New("boom"))
	l.LogLedger(ctx, "failed_nodes_abc.json", 2, nil)

	recs := records(t, &buf)
	require.Len(t, recs, 4)
	for _, r := range recs {
		assert.Equal(t, "abc", r["run_id"])
		assert.EqualValues(t, 2, r["worker"])
	}
	assert.Equal(t, "unit failed", recs[0]["msg"])
	assert.Equal(t, "N1", recs[0]["id"])
	assert.Equal(t, "timeout", recs[0]["reason"])
	assert.EqualValues(t, 404, recs[1]["status"])
	assert.Equal(t, "ERROR", recs[2]["level"])
	assert.EqualValues(t, 7, recs[2]["shard"])
	assert.Equal(t, "failed_nodes_abc.json", recs[3]["ledger"])
}

func TestLogger_RunLifecycle(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf)
	ctx := context.Background()

	l.LogRunStart(ctx, "adjacency", 100, 4, 4)
	l.LogRunComplete(ctx, 100, 0, time.Second, nil)
	l.LogRunComplete(ctx, 90, 10, time.Second, errors.New("shard failed"))

	recs := records(t, &buf)
	require.Len(t, recs, 3)
	assert.Equal(t, "run started", recs[0]["msg"])
	assert.Equal(t, "adjacency", recs[0]["mode"])
	assert.Equal(t, "run completed", recs[1]["msg"])
	assert.Equal(t, "run failed", recs[2]["msg"])
	assert.EqualValues(t, 10, recs[2]["failed"])
}

func TestLogger_Timed(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf)

	done := l.Timed(context.Background(), "process 3 nodes")
	d := done()
	assert.GreaterOrEqual(t, d, time.Duration(0))

	recs := records(t, &buf)
	require.Len(t, recs, 1)
	assert.True(t, strings.HasPrefix(recs[0]["msg"].(string), "process 3 nodes took "))
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
	l.LogUnitFailure(context.Background(), "x", errors.New("ignored"))
}
