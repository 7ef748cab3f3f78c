package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/graphmat/blobstore"
	"github.com/hupe1980/graphmat/shard"
)

func (a *app) offsetsCmd() *cobra.Command {
	var (
		input string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "offsets",
		Short: "Compute and cache the shard offsets of an edge file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input == "" {
				return usageError(errors.New("--input is required"))
			}
			ctx := cmd.Context()
			in := blobstore.NewLocalStore(filepath.Dir(input))
			name := filepath.Base(input)

			done := a.logger.Timed(ctx, "scan "+name)
			scan, hit, err := shard.NewOffsetCache(in, shard.WithCacheLogger(a.logger.Logger)).
				Load(ctx, name, a.cfg.BatchSize, force)
			done()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s: %d lines, %d records, %d shards of %d lines (cached: %t)\n",
				input, scan.Lines, scan.Records, len(scan.Offsets), scan.BatchSize, hit)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "line-delimited edge file")
	cmd.Flags().BoolVar(&force, "force", false, "ignore an existing offset cache")
	return cmd
}
