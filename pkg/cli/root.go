package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the mailqueue command tree. Output of the version and
// check-config commands goes to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := DefaultOptions()

	root := &cobra.Command{
		Use:           "mailqueue",
		Short:         "Background outbound e-mail delivery service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if out != nil {
		root.SetOut(out)
	}

	root.PersistentFlags().BoolVar(&opts.Debug, "debug", opts.Debug, "Enable debug level logging (env MAILQUEUE_DEBUG)")
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "Path to the configuration file (env MAILQUEUE_CONFIG_PATH)")

	root.AddCommand(
		newServeCommand(&opts),
		newCheckConfigCommand(&opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command until SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand(os.Stdout).ExecuteContext(ctx)
}
