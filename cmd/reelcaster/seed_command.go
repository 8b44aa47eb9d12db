package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/reelcaster/internal/progress"
)

func newSeedCommand(ctx *commandContext) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert or replace the progress record from a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rec, err := readRecordFile(file, cfg.Store.Stream)
			if err != nil {
				return err
			}
			st, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			saved, err := seedRecord(cmd.Context(), st.progress, rec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored record %q at version %d (%d sources, %d pending)\n",
				saved.Stream, saved.Version, len(saved.Sources), len(saved.PendingPublish))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file holding the record")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readRecordFile decodes a record and binds it to stream. A file naming
// another stream is rejected.
func readRecordFile(path, stream string) (progress.Record, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - path is an explicit CLI argument
	if err != nil {
		return progress.Record{}, fmt.Errorf("read record: %w", err)
	}
	rec, err := progress.DecodeRecord(data)
	if err != nil {
		return progress.Record{}, fmt.Errorf("decode record: %w", err)
	}
	if rec.Stream != "" && rec.Stream != stream {
		return progress.Record{}, fmt.Errorf("record is for stream %q, config drives %q", rec.Stream, stream)
	}
	rec.Stream = stream
	return rec, nil
}

// seedRecord replaces the stored record, inserting it when none exists.
func seedRecord(ctx context.Context, store progress.Store, rec progress.Record) (progress.Record, error) {
	cur, err := store.Get(ctx, rec.Stream)
	switch {
	case errors.Is(err, progress.ErrNotFound):
		rec.Version = 0
	case err != nil:
		return progress.Record{}, err
	default:
		rec.Version = cur.Version
	}
	return store.Replace(ctx, rec)
}
