package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/geonudge/internal/app"
	"github.com/tphakala/geonudge/internal/conf"
)

// Command creates the command that runs the service until interrupted.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notification engine",
		Long:  "Serve the HTTP API, schedule the background processor and, when enabled, consume and deliver over MQTT.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			return a.Run(ctx)
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", "", "Address the HTTP API listens on")
	cmd.Flags().Bool("processor", true, "Schedule the background processor")
	cmd.Flags().Bool("mqtt", false, "Connect to the MQTT broker")

	bindings := map[string]string{
		"webserver.listen":  "listen",
		"processor.enabled": "processor",
		"mqtt.enabled":      "mqtt",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
