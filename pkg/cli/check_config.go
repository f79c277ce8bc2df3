package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/mailqueue/pkg/config"
	"github.com/telekom/mailqueue/pkg/dkim"
)

func newCheckConfigCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			// Key problems otherwise only surface at startup.
			if _, err := dkim.Load(cfg.DKIM); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "configuration %s is valid\n", opts.ConfigPath)
			_, _ = fmt.Fprintf(w, "  smtp:        %s (security %s)\n", cfg.SMTP.Address(), cfg.SMTP.Security)
			_, _ = fmt.Fprintf(w, "  queue:       %s (backoff %s, maxAttempts %d)\n", cfg.Queue.Backend, cfg.Queue.Backoff, cfg.Queue.MaxAttempts)
			_, _ = fmt.Fprintf(w, "  dead letter: %s\n", cfg.DeadLetter.Kind)
			_, _ = fmt.Fprintf(w, "  dkim:        %t\n", cfg.DKIM.Enabled())
			_, _ = fmt.Fprintf(w, "  listen:      %s\n", cfg.Server.ListenAddress)
			return nil
		},
	}
}

// loadConfig reads, overrides and validates the configuration file.
func loadConfig(opts *Options) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if opts.ListenAddress != "" {
		cfg.Server.ListenAddress = opts.ListenAddress
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration %s: %w", opts.ConfigPath, err)
	}
	return cfg, nil
}
