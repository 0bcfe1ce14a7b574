package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/teamalerts/internal/jobs"
	"github.com/lalithlochan/teamalerts/internal/sqs"
)

var enqueueCmd = &cobra.Command{
	Use:       "enqueue <job>",
	Short:     "Queue a job trigger for the gateway to run",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{jobs.JobStage, jobs.JobSend, jobs.JobRun},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if cfg.TriggerQueueURL == "" {
			return errors.New("TRIGGER_QUEUE_URL is not set")
		}

		client, err := sqs.NewClient(cmd.Context(), sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.TriggerQueueURL,
			Endpoint: cfg.AWSEndpointURL,
		})
		if err != nil {
			return err
		}

		id, err := sqs.NewProducer(client, cfg.TriggerQueueURL, logger).Enqueue(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s (message %s)\n", args[0], id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}
