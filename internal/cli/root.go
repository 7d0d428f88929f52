// Package cli implements the cdc-stitcher command line.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigDir string
}

// NewRootCommand creates the root command for the cdc-stitcher CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cdc-stitcher",
		Short: "Stitch application context into database change events",
		Long: `cdc-stitcher consumes Debezium change events from NATS JetStream,
attaches the application context written in the same transaction to each
row change, and stores the result in an idempotent sink.`,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigDir, "config-dir", "configs", "directory containing config.yml")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))

	return cmd
}
