package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hupe1980/graphmat/blobstore"
	"github.com/hupe1980/graphmat/internal/compress"
	"github.com/hupe1980/graphmat/internal/fs"
	"github.com/hupe1980/graphmat/progress"
)

// TempExt is the suffix of per-shard output files.
const TempExt = ".tmp.jsonl"

// ErrShardExists is returned when a shard's output was already written.
var ErrShardExists = errors.New("sink: shard output already exists")

// MissingShardsError lists planned shards without an output file.
type MissingShardsError struct {
	Indices []int
}

func (e *MissingShardsError) Error() string {
	const show = 10
	if len(e.Indices) > show {
		return fmt.Sprintf("sink: %d shards missing (first %v)", len(e.Indices), e.Indices[:show])
	}
	return fmt.Sprintf("sink: %d shards missing %v", len(e.Indices), e.Indices)
}

// ShardFileName returns the file name of shard index. Indices are zero
// padded to five digits so lexical and numeric order agree for typical runs.
func ShardFileName(index int) string {
	return fmt.Sprintf("%05d%s", index, TempExt)
}

// OrderedOption configures an OrderedFileSink.
type OrderedOption func(*OrderedFileSink)

// WithFileSystem overrides the file system.
func WithFileSystem(fsys fs.FileSystem) OrderedOption {
	return func(s *OrderedFileSink) {
		s.fs = fsys
	}
}

// WithOverwrite allows a shard file to be replaced, e.g. when a shard is
// re-executed.
func WithOverwrite(overwrite bool) OrderedOption {
	return func(s *OrderedFileSink) {
		s.overwrite = overwrite
	}
}

// WithOrderedLogger sets the logger.
func WithOrderedLogger(l *slog.Logger) OrderedOption {
	return func(s *OrderedFileSink) {
		if l != nil {
			s.logger = l
		}
	}
}

// OrderedFileSink writes shard outputs to a directory. Write is safe for
// concurrent use by different shards.
type OrderedFileSink struct {
	dir       string
	fs        fs.FileSystem
	overwrite bool
	logger    *slog.Logger
}

// NewOrderedFileSink creates a sink writing into dir.
func NewOrderedFileSink(dir string, opts ...OrderedOption) *OrderedFileSink {
	s := &OrderedFileSink{
		dir:    dir,
		fs:     fs.Default,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the temp directory.
func (s *OrderedFileSink) Dir() string { return s.dir }

// Write stores lines as the newline-delimited output of shard index. The
// file appears atomically.
func (s *OrderedFileSink) Write(index int, lines [][]byte) error {
	name := filepath.Join(s.dir, ShardFileName(index))
	err := fs.WriteAtomic(s.fs, name, !s.overwrite, func(w io.Writer) error {
		for _, line := range lines {
			if _, err := w.Write(line); err != nil {
				return err
			}
			if _, err := w.Write([]byte{'\n'}); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: shard %d", ErrShardExists, index)
	}
	if err != nil {
		return fmt.Errorf("sink: write shard %d: %w", index, err)
	}
	s.logger.Debug("shard written", "shard", index, "lines", len(lines))
	return nil
}

// Written returns the set of shard indices with an output file.
func (s *OrderedFileSink) Written() (*progress.ShardSet, error) {
	set := progress.NewShardSet()
	entries, err := s.fs.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sink: list %s: %w", s.dir, err)
	}
	for _, e := range entries {
		if idx, ok := parseShardFile(e.Name()); ok {
			set.Mark(idx)
		}
	}
	return set, nil
}

func parseShardFile(name string) (int, bool) {
	digits, ok := strings.CutSuffix(name, TempExt)
	if !ok || digits == "" {
		return 0, false
	}
	idx, err := strconv.Atoi(digits)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// Verify checks that every shard in [0, planned) has an output file.
func (s *OrderedFileSink) Verify(planned int) error {
	set, err := s.Written()
	if err != nil {
		return err
	}
	if missing := set.Missing(planned); len(missing) > 0 {
		return &MissingShardsError{Indices: missing}
	}
	return nil
}

// Stitch verifies the shard files and copies them to w in ascending index
// order. It returns the number of bytes written.
func (s *OrderedFileSink) Stitch(ctx context.Context, w io.Writer, planned int) (int64, error) {
	if err := s.Verify(planned); err != nil {
		return 0, err
	}

	var total int64
	for i := range planned {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.copyShard(w, i)
		total += n
		if err != nil {
			return total, err
		}
	}
	s.logger.Info("stitched shards", "shards", planned, "bytes", total)
	return total, nil
}

func (s *OrderedFileSink) copyShard(w io.Writer, index int) (int64, error) {
	f, err := s.fs.OpenFile(filepath.Join(s.dir, ShardFileName(index)), os.O_RDONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("sink: open shard %d: %w", index, err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("sink: copy shard %d: %w", index, err)
	}
	return n, nil
}

// StitchTo stitches into a blob of bs, compressed with codec. The codec's
// extension is appended to name; the final name is returned. The blob is
// discarded if stitching fails.
func (s *OrderedFileSink) StitchTo(ctx context.Context, bs blobstore.Store, name string, planned int, codec compress.Codec) (string, error) {
	if err := s.Verify(planned); err != nil {
		return "", err
	}

	name += codec.Ext()
	blob, err := bs.Create(ctx, name)
	if err != nil {
		return "", fmt.Errorf("sink: create %s: %w", name, err)
	}

	cw, err := compress.NewWriter(blob, codec)
	if err != nil {
		_ = blob.Abort()
		return "", err
	}
	if _, err := s.Stitch(ctx, cw, planned); err != nil {
		_ = cw.Close()
		_ = blob.Abort()
		return "", err
	}
	if err := cw.Close(); err != nil {
		_ = blob.Abort()
		return "", fmt.Errorf("sink: finish %s: %w", name, err)
	}
	if err := blob.Close(); err != nil {
		return "", fmt.Errorf("sink: commit %s: %w", name, err)
	}
	return name, nil
}

// Cleanup removes the shard files and the directory if it is then empty.
func (s *OrderedFileSink) Cleanup() error {
	entries, err := s.fs.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if _, ok := parseShardFile(e.Name()); ok {
			if err := s.fs.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) == 0 {
		if rest, err := s.fs.ReadDir(s.dir); err == nil && len(rest) == 0 {
			errs = append(errs, s.fs.Remove(s.dir))
		}
	}
	return errors.Join(errs...)
}
