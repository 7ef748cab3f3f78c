package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/graphmat/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(t.TempDir()),
	}
}

func TestStore_Contract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Open(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "edges.jsonl", []byte("line1\nline2\n")))

			b, err := s.Open(ctx, "edges.jsonl")
			require.NoError(t, err)
			defer b.Close()
			assert.Equal(t, int64(12), b.Size())

			buf := make([]byte, 5)
			n, err := b.ReadAt(ctx, buf, 6)
			require.NoError(t, err)
			assert.Equal(t, 5, n)
			assert.Equal(t, "line2", string(buf))

			rc, err := b.ReadRange(ctx, 6, 100)
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, "line2\n", string(data))

			rc, err = b.ReadRange(ctx, 50, 10)
			require.NoError(t, err)
			data, _ = io.ReadAll(rc)
			assert.Empty(t, data)

			_, err = b.ReadRange(ctx, -1, 10)
			assert.Error(t, err)

			w, err := s.Create(ctx, "out/merged.jsonl")
			require.NoError(t, err)
			_, err = w.Write([]byte("{}\n"))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			all, err := ReadAll(ctx, s, "out/merged.jsonl")
			require.NoError(t, err)
			assert.Equal(t, "{}\n", string(all))

			names, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"edges.jsonl", "out/merged.jsonl"}, names)

			names, err = s.List(ctx, "out/")
			require.NoError(t, err)
			assert.Equal(t, []string{"out/merged.jsonl"}, names)

			ok, err := Exists(ctx, s, "edges.jsonl")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, s.Delete(ctx, "edges.jsonl"))
			require.NoError(t, s.Delete(ctx, "edges.jsonl"))
			ok, err = Exists(ctx, s, "edges.jsonl")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_AbortDiscards(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w, err := s.Create(ctx, "aborted")
			require.NoError(t, err)
			_, _ = w.Write([]byte("partial"))
			require.NoError(t, w.Abort())

			_, err = s.Open(ctx, "aborted")
			assert.ErrorIs(t, err, ErrNotFound)

			names, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestReader(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "a", []byte("hello world")))

	b, err := s.Open(ctx, "a")
	require.NoError(t, err)

	data, err := io.ReadAll(Reader(ctx, b))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "nope"))
	names, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_RenameFault(t *testing.T) {
	root := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("ledger", fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	s := NewLocalStore(root, WithFileSystem(ffs))

	err := s.Put(context.Background(), "ledger.json", []byte("[]"))
	assert.ErrorIs(t, err, fs.ErrInjected)

	_, err = os.Stat(filepath.Join(root, "ledger.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStore_Mappable(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())
	require.NoError(t, s.Put(ctx, "m", []byte("abc")))

	b, err := s.Open(ctx, "m")
	require.NoError(t, err)
	defer b.Close()

	m, ok := b.(Mappable)
	require.True(t, ok)
	data, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
