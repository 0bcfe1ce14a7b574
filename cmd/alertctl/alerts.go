package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lalithlochan/teamalerts/internal/app"
)

var listCmd = &cobra.Command{
	Use:   "list <userID> <channel>",
	Short: "List a user's undismissed alerts on a channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		return withApp(cmd.Context(), func(a *app.App) error {
			list, err := a.Alerts.GetUserAlerts(cmd.Context(), userID, args[1])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHANNEL SEND\tSTAGED\tSUBJECT")
			for _, ua := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", ua.ChannelSendID, ua.StagedTime.Format("2006-01-02 15:04"), ua.Subject)
			}
			return tw.Flush()
		})
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <userID> <channelSendID>",
	Short: "Dismiss one of a user's alerts",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		sendID, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid channel send id %q", args[1])
		}

		return withApp(cmd.Context(), func(a *app.App) error {
			if err := a.Alerts.DismissAlert(cmd.Context(), userID, sendID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dismissed %s\n", sendID)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd, dismissCmd)
}
