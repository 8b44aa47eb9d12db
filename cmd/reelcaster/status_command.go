package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/reelcaster/internal/config"
	"github.com/jo-hoe/reelcaster/internal/jobs"
	"github.com/jo-hoe/reelcaster/internal/logging"
	"github.com/jo-hoe/reelcaster/internal/progress"
	"github.com/jo-hoe/reelcaster/internal/scheduler"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var runLimit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the progress record, the publish queue and recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			rec, err := st.progress.Get(cmd.Context(), cfg.Store.Stream)
			if err != nil && !errors.Is(err, progress.ErrNotFound) {
				return err
			}
			missing := errors.Is(err, progress.ErrNotFound)
			runs, err := st.runs.ListRuns(runLimit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				payload := map[string]any{"runs": runs}
				if !missing {
					payload["record"] = rec
				}
				return writeJSON(out, payload)
			}
			return renderStatus(out, cfg, rec, missing, runs, time.Now())
		},
	}
	cmd.Flags().IntVar(&runLimit, "runs", 10, "Number of recent runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")
	return cmd
}

func renderStatus(w io.Writer, cfg *config.Config, rec progress.Record, missing bool, runs []jobs.Run, now time.Time) error {
	if missing {
		fmt.Fprintf(w, "No progress record for stream %q. Seed one with: reelcaster seed --file record.json\n\n", cfg.Store.Stream)
	} else {
		fmt.Fprintln(w, renderTable([]string{"Record", ""}, recordRows(rec, now), nil))
		if len(rec.PendingPublish) > 0 {
			fmt.Fprintln(w, renderTable([]string{"#", "Part", "File", "Container", "Queued"}, pendingRows(rec, now),
				[]columnAlignment{alignRight, alignRight}))
		}
	}

	if sched, err := scheduler.New(logging.Discard(), cfg.Schedule, nil); err == nil {
		entries := sched.Entries(now)
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{string(e.Kind), e.Spec, e.Next.Local().Format(time.RFC3339), age(e.Next, now)})
		}
		if len(rows) > 0 {
			fmt.Fprintln(w, renderTable([]string{"Task", "Schedule", "Next", ""}, rows, nil))
		}
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return nil
	}
	fmt.Fprintln(w, renderTable([]string{"Run", "Task", "Trigger", "Stage", "Outcome", "Created", "Took"}, runRows(runs, now),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
	return nil
}
