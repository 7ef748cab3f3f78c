package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/graphmat/blobstore"
	"github.com/hupe1980/graphmat/model"
	"github.com/hupe1980/graphmat/shard"
)

func (a *app) batchCmd() *cobra.Command {
	var (
		nodes      string
		out        string
		numBatches int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Extract node ids from a nodes file into an id file",
		Long: `Reads a line-delimited nodes file and writes the node ids as a JSON array,
the id file consumed by adjacency. The sizes of the named batches selected
with adjacency --batch are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if nodes == "" {
				return usageError(errors.New("--nodes is required"))
			}
			if numBatches <= 0 {
				return usageError(fmt.Errorf("--num-batches must be positive, got %d", numBatches))
			}
			ctx := cmd.Context()

			done := a.logger.Timed(ctx, "extract node ids")
			ids, err := extractIDs(ctx, nodes)
			if err != nil {
				return err
			}
			data, err := json.Marshal(ids)
			if err != nil {
				return err
			}
			dst := blobstore.NewLocalStore(filepath.Dir(out))
			if err := dst.Put(ctx, filepath.Base(out), data); err != nil {
				return err
			}
			done()

			fmt.Fprintf(a.stdout, "Loaded %d ids into %s\n", len(ids), out)
			for b := range numBatches {
				start, end, _ := shard.BatchBounds(b, len(ids), numBatches)
				fmt.Fprintf(a.stdout, "batch %d: ids [%d, %d) (%d)\n", b, start, end, end-start)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&nodes, "nodes", "", "line-delimited nodes file")
	flags.StringVar(&out, "out", "nodes_id.json", "id file to write")
	flags.IntVar(&numBatches, "num-batches", shard.DefaultNumBatches, "number of batches to report")
	return cmd
}

// extractIDs returns the id of every node line of the file at path.
func extractIDs(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ids := []string{}
	r := bufio.NewReader(f)
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := r.ReadBytes('\n')
		if raw = bytes.TrimSpace(raw); len(raw) > 0 {
			var n model.Node
			if uerr := json.Unmarshal(raw, &n); uerr != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, uerr)
			}
			ids = append(ids, n.ID)
		}
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
