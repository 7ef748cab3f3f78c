package shard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hupe1980/graphmat/blobstore"
)

// CacheSuffix is appended to the input name to form the cache blob name.
const CacheSuffix = ".offsets.json"

// CacheName returns the offset cache blob name for input.
func CacheName(input string) string {
	return input + CacheSuffix
}

// OffsetCache persists scans next to their input in a blobstore.
type OffsetCache struct {
	store  blobstore.Store
	logger *slog.Logger
}

// CacheOption configures an OffsetCache.
type CacheOption func(*OffsetCache)

// WithCacheLogger sets the logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *OffsetCache) {
		c.logger = l
	}
}

// NewOffsetCache creates a cache reading inputs from and writing caches to store.
func NewOffsetCache(store blobstore.Store, opts ...CacheOption) *OffsetCache {
	c := &OffsetCache{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load returns the scan of input, reading the cache unless force is set or
// the cached entry was computed for a different input size or batch size.
// hit reports whether the cache was used. A fresh scan is written back; a
// failed write is logged and does not fail the load.
func (c *OffsetCache) Load(ctx context.Context, input string, batchSize int, force bool) (scan Scan, hit bool, err error) {
	if batchSize <= 0 {
		return Scan{}, false, fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}

	blob, err := c.store.Open(ctx, input)
	if err != nil {
		return Scan{}, false, fmt.Errorf("shard: open input %q: %w", input, err)
	}
	defer blob.Close()

	if !force {
		cached, ok, err := c.read(ctx, input)
		if err != nil {
			c.logger.WarnContext(ctx, "ignoring unreadable offset cache", "input", input, "error", err)
		}
		if ok && cached.Size == blob.Size() && cached.BatchSize == batchSize {
			c.logger.DebugContext(ctx, "offset cache hit", "input", input, "shards", len(cached.Offsets))
			return cached, true, nil
		}
		if ok {
			c.logger.InfoContext(ctx, "offset cache stale, rescanning",
				"input", input,
				"cached_size", cached.Size,
				"size", blob.Size(),
				"cached_batch_size", cached.BatchSize,
			)
		}
	}

	scan, err = ScanOffsets(reader(ctx, blob), batchSize)
	if err != nil {
		return Scan{}, false, fmt.Errorf("shard: scan %q: %w", input, err)
	}

	if err := c.write(ctx, input, scan); err != nil {
		c.logger.WarnContext(ctx, "offset cache not written", "input", input, "error", err)
	}
	c.logger.InfoContext(ctx, "offsets computed", "input", input, "lines", scan.Lines, "shards", len(scan.Offsets))
	return scan, false, nil
}

// Invalidate drops the cache entry for input.
func (c *OffsetCache) Invalidate(ctx context.Context, input string) error {
	return c.store.Delete(ctx, CacheName(input))
}

func (c *OffsetCache) read(ctx context.Context, input string) (Scan, bool, error) {
	data, err := blobstore.ReadAll(ctx, c.store, CacheName(input))
	if errors.Is(err, blobstore.ErrNotFound) {
		return Scan{}, false, nil
	}
	if err != nil {
		return Scan{}, false, err
	}
	var scan Scan
	if err := json.Unmarshal(data, &scan); err != nil {
		return Scan{}, false, err
	}
	return scan, true, nil
}

func (c *OffsetCache) write(ctx context.Context, input string, scan Scan) error {
	data, err := json.Marshal(scan)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, CacheName(input), data); err != nil {
		return fmt.Errorf("shard: write offset cache: %w", err)
	}
	return nil
}

func reader(ctx context.Context, b blobstore.Blob) io.Reader {
	if m, ok := b.(blobstore.Mappable); ok {
		if data, err := m.Bytes(); err == nil {
			return bytes.NewReader(data)
		}
	}
	return blobstore.Reader(ctx, b)
}
