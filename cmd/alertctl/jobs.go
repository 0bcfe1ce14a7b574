package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/teamalerts/internal/app"
	"github.com/lalithlochan/teamalerts/internal/jobs"
)

func jobCmd(job, short string) *cobra.Command {
	return &cobra.Command{
		Use:   job,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), a.Config.JobTimeout)
				defer cancel()

				summary, err := a.Runner.Execute(ctx, job, "cli")
				if summary != "" {
					fmt.Fprintln(cmd.OutOrStdout(), summary)
				}
				return err
			})
		},
	}
}

func init() {
	rootCmd.AddCommand(
		jobCmd(jobs.JobStage, "Stage alerts from every source"),
		jobCmd(jobs.JobSend, "Dispatch pending channel sends"),
		jobCmd(jobs.JobRun, "Stage, then dispatch"),
	)
}
