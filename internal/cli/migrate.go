package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/cdc-stitcher/internal/logging"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the sink schema",
		Long: `Create the changes table and its uniqueness index on PostgreSQL, or the
unique index on MongoDB. The embedded Pebble sink needs no schema.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), rootOpts, cmd)
		},
	}
	return cmd
}

func runMigrate(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadAndInitialize(opts)
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	store, err := openSink(ctx, cfg.Sink, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	applied, err := ensureSchema(ctx, store)
	if err != nil {
		return err
	}
	if applied {
		fmt.Fprintf(cmd.OutOrStdout(), "Schema ready on %s sink\n", cfg.Sink.Backend)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "The %s sink has no schema to create\n", cfg.Sink.Backend)
	}
	return nil
}
