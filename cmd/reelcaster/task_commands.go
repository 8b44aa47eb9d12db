package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/reelcaster/internal/jobs"
	"github.com/jo-hoe/reelcaster/internal/util"
)

var taskDescriptions = map[jobs.Kind]string{
	jobs.KindEnqueue: "Create a publish container for the next uploaded segment",
	jobs.KindPublish: "Check the head container and publish it once ready",
	jobs.KindProduce: "Download the next episode, split it into parts and upload them",
}

// newTaskCommands returns one command per task kind. Each runs the operation
// once in this process and records it in the run history.
func newTaskCommands(ctx *commandContext) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(jobs.Kinds))
	for _, kind := range jobs.Kinds {
		cmds = append(cmds, newTaskCommand(ctx, kind))
	}
	return cmds
}

func newTaskCommand(ctx *commandContext, kind jobs.Kind) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   string(kind),
		Short: taskDescriptions[kind],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cfg)
			if err != nil {
				return err
			}
			lock, err := acquireLock(cfg)
			if err != nil {
				return fmt.Errorf("%w; while serve is running use POST /v1/jobs/%s", err, kind)
			}
			defer func() { _ = lock.Unlock() }()

			runCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(runCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			task := jobs.Task{ID: util.NewID(), Kind: kind, Trigger: jobs.TriggerCLI}
			if err := a.runs.CreateRun(&jobs.Run{ID: task.ID, Kind: kind, Trigger: task.Trigger}); err != nil {
				logger.Warn("record run failed", "err", err)
			}
			res, runErr := a.worker.Execute(runCtx, task)

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				fmt.Fprint(out, renderTable([]string{"Field", "Value"}, resultRows(task, res), nil))
				fmt.Fprintln(out)
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}
