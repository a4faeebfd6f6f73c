package config

import (
	"fmt"
	"maps"

	"github.com/spf13/cobra"

	"github.com/tphakala/geonudge/cmd/output"
	"github.com/tphakala/geonudge/internal/conf"
)

const redacted = "[REDACTED]"

// Command creates the config command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and write configuration",
	}
	cmd.AddCommand(dumpCommand(settings), pathCommand(), writeCommand(settings))
	return cmd
}

func dumpCommand(settings *conf.Settings) *cobra.Command {
	var (
		format      string
		showSecrets bool
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings
			if !showSecrets {
				s = Redact(settings)
			}
			return output.Write(cmd.OutOrStdout(), format, s)
		},
	}
	cmd.Flags().StringVar(&format, "format", output.FormatYAML, "Output format: json or yaml")
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print passwords and tokens in clear text")
	return cmd
}

func pathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := conf.ConfigFileUsed()
			if path == "" {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "no config file, running on defaults (searched %v)\n", conf.GetDefaultConfigPaths())
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

func writeCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "write <path>",
		Short: "Write the effective configuration to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.SaveYAMLConfig(args[0], settings); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", args[0])
			return err
		},
	}
}

// Redact returns a copy of settings with credentials masked.
func Redact(settings *conf.Settings) *conf.Settings {
	s := *settings
	mask := func(v *string) {
		if *v != "" {
			*v = redacted
		}
	}
	mask(&s.Database.MySQL.Password)
	mask(&s.MQTT.Password)
	mask(&s.WebServer.AdminToken)
	mask(&s.Sentry.DSN)

	s.Delivery.Webhook.Headers = redactHeaders(s.Delivery.Webhook.Headers)
	s.Tasks.CompletionHeaders = redactHeaders(s.Tasks.CompletionHeaders)
	if len(s.Delivery.Shoutrrr.URLs) > 0 {
		urls := make([]string, len(s.Delivery.Shoutrrr.URLs))
		for i := range urls {
			urls[i] = redacted
		}
		s.Delivery.Shoutrrr.URLs = urls
	}
	return &s
}

// redactHeaders returns a copy of headers with every value masked.
func redactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return headers
	}
	out := maps.Clone(headers)
	for k := range out {
		out[k] = redacted
	}
	return out
}
