package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/teamalerts/internal/alerts"
	"github.com/lalithlochan/teamalerts/internal/app"
	"github.com/lalithlochan/teamalerts/internal/db"
)

type roleSender interface {
	SendAlertsToRole(ctx context.Context, role string, msg alerts.Message, channels []string, excludeUserID *int64) (int, error)
}

type broadcastOptions struct {
	subject  string
	body     string
	url      string
	channels []string
	exclude  int64
}

func (o broadcastOptions) message() alerts.Message {
	msg := alerts.Message{Subject: o.subject, Body: o.body}
	if o.url != "" {
		msg.URL = &o.url
	}
	return msg
}

func broadcast(ctx context.Context, svc roleSender, out io.Writer, role string, opts broadcastOptions) error {
	if opts.subject == "" {
		return errors.New("--subject is required")
	}
	if len(opts.channels) == 0 {
		return errors.New("at least one --channel is required")
	}
	for _, ch := range opts.channels {
		if !validChannel(ch) {
			return fmt.Errorf("unknown channel %q", ch)
		}
	}

	var exclude *int64
	if opts.exclude > 0 {
		exclude = &opts.exclude
	}

	n, err := svc.SendAlertsToRole(ctx, role, opts.message(), opts.channels, exclude)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "staged %d alert(s) for %s\n", n, role)
	return nil
}

func validChannel(code string) bool {
	switch code {
	case db.ChannelEmail, db.ChannelTxt, db.ChannelNotification, db.ChannelDiscord, db.ChannelMessage:
		return true
	}
	return false
}

var broadcastOpts broadcastOptions

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <role>",
	Short: "Stage one alert for every holder of a permission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			return broadcast(cmd.Context(), a.Alerts, cmd.OutOrStdout(), args[0], broadcastOpts)
		})
	},
}

func init() {
	f := broadcastCmd.Flags()
	f.StringVar(&broadcastOpts.subject, "subject", "", "alert subject")
	f.StringVar(&broadcastOpts.body, "body", "", "alert body")
	f.StringVar(&broadcastOpts.url, "url", "", "deep link")
	f.StringSliceVar(&broadcastOpts.channels, "channel", []string{db.ChannelEmail}, "channel codes to send on")
	f.Int64Var(&broadcastOpts.exclude, "exclude-user", 0, "user id to leave out")
	rootCmd.AddCommand(broadcastCmd)
}
