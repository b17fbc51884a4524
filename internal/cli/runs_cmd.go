package cli

import (
	"github.com/spf13/cobra"

	"lakeflow/internal/domain"
)

func newRunsCmd(envFile *string) *cobra.Command {
	var (
		dataset string
		status  string
		limit   int
		tasks   bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded DAG runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			filter := domain.RunFilter{Limit: limit}
			if dataset != "" {
				filter.Dataset = &dataset
			}
			if status != "" {
				filter.Status = &status
			}

			runs, total, err := a.svc.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			cmd.Printf("%d runs (%d total)\n", len(runs), total)
			for _, run := range runs {
				cmd.Printf("%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.Dataset, run.Interval.Key(), run.Status, run.TriggerType)
				if !tasks {
					continue
				}
				taskRuns, err := a.svc.ListTaskRuns(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				for _, tr := range taskRuns {
					cmd.Printf("\t%s\t%s\tattempt %d\n", tr.TaskName, tr.Status, tr.Attempt)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataset, "dataset", "", "filter by dataset name")
	cmd.Flags().StringVar(&status, "status", "", "filter by run status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().BoolVar(&tasks, "tasks", false, "show per-task records")
	return cmd
}
