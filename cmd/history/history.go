package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/geonudge/cmd/output"
	"github.com/tphakala/geonudge/internal/app"
	"github.com/tphakala/geonudge/internal/conf"
	"github.com/tphakala/geonudge/internal/notification"
)

type options struct {
	user   string
	status string
	kind   string
	task   string
	since  time.Duration
	limit  int
	format string
}

// Command creates the command that prints a user's notification history.
func Command(settings *conf.Settings) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a user's notification history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.filter(time.Now())
			if err != nil {
				return err
			}

			s := *settings
			s.WebServer.Enabled = false
			s.Processor.Enabled = false
			s.MQTT.Enabled = false
			if s.Delivery.Provider == "mqtt" {
				s.Delivery.Provider = "log"
			}

			a, err := app.New(&s, app.WithLogger(app.StderrLogger(&s)))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			views, err := a.Engine.GetNotificationHistory(cmd.Context(), opts.user, filter)
			if err != nil {
				return err
			}
			return output.Write(cmd.OutOrStdout(), opts.format, views)
		},
	}

	cmd.Flags().StringVar(&opts.user, "user", "", "User id (required)")
	cmd.Flags().StringVar(&opts.status, "status", "", "Comma separated statuses, e.g. pending,delivered")
	cmd.Flags().StringVar(&opts.kind, "kind", "", "Notification kind: approach, arrival or post_arrival")
	cmd.Flags().StringVar(&opts.task, "task", "", "Only notifications for this task")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "Only notifications created within this duration")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "Maximum number of notifications")
	cmd.Flags().StringVar(&opts.format, "format", output.FormatJSON, "Output format: json or yaml")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// filter validates the flags and builds the history filter.
func (o *options) filter(now time.Time) (notification.HistoryFilter, error) {
	var filter notification.HistoryFilter

	if strings.TrimSpace(o.user) == "" {
		return filter, fmt.Errorf("--user is required")
	}
	if !output.ValidFormat(o.format) {
		return filter, fmt.Errorf("unsupported output format %q, use json or yaml", o.format)
	}
	if o.limit < 0 {
		return filter, fmt.Errorf("--limit must not be negative")
	}

	statuses, err := notification.ParseStatuses(o.status)
	if err != nil {
		return filter, err
	}
	kind, err := notification.ParseKind(o.kind)
	if err != nil {
		return filter, err
	}

	filter.Statuses = statuses
	filter.Kind = kind
	filter.TaskID = strings.TrimSpace(o.task)
	filter.Limit = o.limit
	if o.since > 0 {
		since := now.Add(-o.since)
		filter.Since = &since
	}
	return filter, nil
}
