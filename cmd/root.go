package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/geonudge/cmd/config"
	"github.com/tphakala/geonudge/cmd/history"
	"github.com/tphakala/geonudge/cmd/serve"
	"github.com/tphakala/geonudge/cmd/sweep"
	"github.com/tphakala/geonudge/internal/conf"
)

// RootCommand creates and returns the root command. settings is filled from
// the config file, environment and flags before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "geonudge",
		Short:         "Geofence notification engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd); err != nil {
		// Flag binding only fails on programming errors.
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		sweep.Command(settings),
		history.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings)
	}

	return rootCmd
}

// initialize loads configuration into settings, keeping build information.
func initialize(settings *conf.Settings) error {
	loaded, err := conf.Load()
	if err != nil {
		return err
	}
	version, buildDate := settings.Version, settings.BuildDate
	*settings = *loaded
	settings.Version, settings.BuildDate = version, buildDate
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command) error {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default searches ., ~/.config/geonudge, /etc/geonudge)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
