package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lakeflow/internal/domain"
	"lakeflow/internal/pipeline"
)

func newRunCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <dataset> <interval>",
		Short: "Run one interval of a dataset and wait for it to finish",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			dataset := args[0]
			ds, _, _, err := a.svc.Registry().Lookup(dataset)
			if err != nil {
				return err
			}
			iv, err := domain.ParseInterval(args[1], ds.Granularity)
			if err != nil {
				return err
			}

			// Backfill over a single interval runs synchronously, which is
			// what a one-shot command wants.
			results, err := a.svc.Backfill(cmd.Context(), dataset, iv, iv)
			if err != nil {
				return err
			}
			return reportResults(cmd, a.svc, results)
		},
	}
}

func newBackfillCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill <dataset> <from> <to>",
		Short: "Run every interval in [from, to], one at a time",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			dataset := args[0]
			ds, _, _, err := a.svc.Registry().Lookup(dataset)
			if err != nil {
				return err
			}
			from, err := domain.ParseInterval(args[1], ds.Granularity)
			if err != nil {
				return err
			}
			to, err := domain.ParseInterval(args[2], ds.Granularity)
			if err != nil {
				return err
			}

			results, err := a.svc.Backfill(cmd.Context(), dataset, from, to)
			if err != nil {
				return err
			}
			return reportResults(cmd, a.svc, results)
		},
	}
}

// reportResults prints one line per interval and fails the command if any
// interval did not succeed.
func reportResults(cmd *cobra.Command, svc *pipeline.Service, results []pipeline.BackfillResult) error {
	failed := 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
			cmd.Printf("%s\tERROR\t%v\n", res.Interval.Key(), res.Err)
		case res.Status != domain.DagRunStatusSuccess:
			failed++
			cmd.Printf("%s\t%s\trun %s\n", res.Interval.Key(), res.Status, res.RunID)
			printFailedTasks(cmd, svc, res.RunID)
		default:
			cmd.Printf("%s\t%s\trun %s\n", res.Interval.Key(), res.Status, res.RunID)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d intervals did not succeed", failed, len(results))
	}
	return nil
}

func printFailedTasks(cmd *cobra.Command, svc *pipeline.Service, runID string) {
	taskRuns, err := svc.ListTaskRuns(cmd.Context(), runID)
	if err != nil {
		return
	}
	for _, tr := range taskRuns {
		if tr.Status == domain.TaskRunStatusFailed && tr.ErrorMessage != nil {
			cmd.Printf("\t%s: %s\n", tr.TaskName, *tr.ErrorMessage)
		}
	}
}
