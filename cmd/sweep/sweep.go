package sweep

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/geonudge/cmd/output"
	"github.com/tphakala/geonudge/internal/app"
	"github.com/tphakala/geonudge/internal/conf"
	"github.com/tphakala/geonudge/internal/notification"
)

// Command creates the command that runs the background processor once.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		format   string
		dispatch bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the background processor once",
		Long:  "Expire snoozes and mutes, process due retries, clean up old records and print the run report.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !output.ValidFormat(format) {
				return fmt.Errorf("unsupported output format %q, use json or yaml", format)
			}

			s := *settings
			s.WebServer.Enabled = false
			s.Processor.Enabled = false

			a, err := app.New(&s, app.WithLogger(app.StderrLogger(&s)))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := cmd.Context()
			reports := make([]*notification.RunReport, 0, 2)

			report, err := a.Engine.RunNow(ctx)
			if err != nil {
				return err
			}
			reports = append(reports, report)

			if dispatch {
				report, err := a.Engine.DispatchNow(ctx)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			}

			if err := output.Write(cmd.OutOrStdout(), format, reports); err != nil {
				return err
			}
			for _, r := range reports {
				if r.Failed() {
					return fmt.Errorf("%s run had failing steps", r.Job)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", output.FormatYAML, "Output format: json or yaml")
	cmd.Flags().BoolVar(&dispatch, "dispatch", false, "Also deliver notifications that are due")

	return cmd
}
