package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/graphmat"
	"github.com/hupe1980/graphmat/blobstore"
	"github.com/hupe1980/graphmat/ledger"
	"github.com/hupe1980/graphmat/shard"
)

type idSelection struct {
	file       string
	replay     string
	batch      int
	numBatches int
	limit      int
}

func (s *idSelection) register(cmd *cobra.Command, what, file string) {
	flags := cmd.Flags()
	flags.StringVar(&s.file, "ids-file", file, "JSON array of "+what+" ids")
	flags.StringVar(&s.replay, "replay", "", "failure ledger in the output store to reprocess instead of --ids-file")
	flags.IntVar(&s.batch, "batch", -1, "process only this batch of the id file")
	flags.IntVar(&s.numBatches, "num-batches", shard.DefaultNumBatches, "number of batches the id file is split into")
	flags.IntVar(&s.limit, "limit", 0, "process at most this many ids, 0 for all")
}

// load reads the selected ids. Ledgers are read from ledgers, id files from
// the local filesystem.
func (s *idSelection) load(ctx context.Context, ledgers blobstore.Store) ([]string, error) {
	if s.limit < 0 {
		return nil, usageError(fmt.Errorf("--limit must not be negative, got %d", s.limit))
	}

	var (
		ids []string
		err error
	)
	if s.replay != "" {
		ids, err = ledger.Load(ctx, ledgers, s.replay)
	} else {
		ids, err = ledger.Load(ctx, blobstore.NewLocalStore(filepath.Dir(s.file)), filepath.Base(s.file))
	}
	if err != nil {
		return nil, err
	}

	if s.batch >= 0 {
		ids, err = shard.Batch(ids, s.batch, s.numBatches)
		if err != nil {
			return nil, usageError(err)
		}
	}
	if s.limit > 0 && len(ids) > s.limit {
		ids = ids[:s.limit]
	}
	return ids, nil
}

func (a *app) adjacencyCmd() *cobra.Command {
	var (
		sel    idSelection
		upsert bool
	)
	cmd := &cobra.Command{
		Use:   "adjacency",
		Short: "Build an adjacency document for every node id",
		Long: `Collects, for every node id, the edges where the node is subject (out_edges)
or object (in_edges) and writes them to the adjacency index with bulk updates.
Failed ids are written to failed_nodes_<run id>.json in the output store and
can be reprocessed with --replay.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out, err := a.blobStore(ctx)
			if err != nil {
				return err
			}
			ids, err := sel.load(ctx, out)
			if err != nil {
				return err
			}
			open, err := a.storeFactory(ctx)
			if err != nil {
				return err
			}
			r, err := a.runner(out, graphmat.WithUpsert(upsert))
			if err != nil {
				return err
			}

			res, err := r.BuildAdjacency(ctx, ids, open)
			a.report(res)
			if errors.Is(err, graphmat.ErrNoInput) {
				return usageError(err)
			}
			return err
		},
	}
	sel.register(cmd, "node", "nodes_id.json")
	cmd.Flags().BoolVar(&upsert, "upsert", false, "create missing adjacency documents")
	return cmd
}
