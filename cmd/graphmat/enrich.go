package main

import (
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/graphmat"
	"github.com/hupe1980/graphmat/blobstore"
	"github.com/hupe1980/graphmat/internal/compress"
)

func (a *app) enrichCmd() *cobra.Command {
	var (
		input     string
		byIDs     bool
		sel       idSelection
		output    string
		codec     string
		tempDir   string
		cacheSize int
		forceScan bool
	)
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Replace edge subject and object ids with their node documents",
		Long: `Reads a line-delimited edge file, joins every edge with the nodes it
references and stitches the result, in input order, into one output file in
the output store. With --by-ids the edges are fetched from the edge index by
id instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := compress.Parse(codec)
			if err != nil {
				return usageError(err)
			}
			if output == "" {
				output = graphmat.DefaultOutputName
			}
			if !byIDs && input == "" {
				return usageError(errors.New("--input is required unless --by-ids is set"))
			}

			out, err := a.blobStore(ctx)
			if err != nil {
				return err
			}
			open, err := a.storeFactory(ctx)
			if err != nil {
				return err
			}
			r, err := a.runner(out,
				graphmat.WithOutput(output, c),
				graphmat.WithTempDir(tempDir),
				graphmat.WithLookupCache(cacheSize),
				graphmat.WithForceScan(forceScan),
			)
			if err != nil {
				return err
			}

			var res *graphmat.Result
			if byIDs {
				ids, lerr := sel.load(ctx, out)
				if lerr != nil {
					return lerr
				}
				res, err = r.EnrichEdgeIDs(ctx, ids, open, out)
			} else {
				in := blobstore.NewLocalStore(filepath.Dir(input))
				res, err = r.EnrichEdges(ctx, in, filepath.Base(input), open, out)
			}
			a.report(res)
			if errors.Is(err, graphmat.ErrNoInput) {
				return usageError(err)
			}
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&input, "input", "", "line-delimited edge file")
	flags.BoolVar(&byIDs, "by-ids", false, "fetch edges by id from the edge index")
	sel.register(cmd, "edge", "edges_id.json")
	flags.StringVar(&output, "output", graphmat.DefaultOutputName, "name of the stitched output")
	flags.StringVar(&codec, "codec", "none", "output compression: none, zstd, lz4 or gzip")
	flags.StringVar(&tempDir, "temp-dir", "", "parent directory of per-shard files (default system temp)")
	flags.IntVar(&cacheSize, "lookup-cache", 0, "node documents cached per worker, 0 to disable")
	flags.BoolVar(&forceScan, "force-scan", false, "recompute cached line offsets of the input")
	return cmd
}
