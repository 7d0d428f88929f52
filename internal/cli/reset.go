package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/cdc-stitcher/internal/logging"
	"github.com/syntrixbase/cdc-stitcher/internal/sink/postgres"
)

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	Slot        string
	OffsetsFile string
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop the replication slot and the Debezium offsets",
		Long: `Drop the logical replication slot on the source database, when it
exists, and delete the Debezium offsets file, when present, so capture
restarts from a fresh snapshot. The source database is the one configured
under sink.postgres.

Example:
  cdc-stitcher reset --slot bemi_slot --offsets-file ./debezium-server/offsets.dat`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Slot, "slot", "bemi_slot", "logical replication slot to drop")
	cmd.Flags().StringVar(&opts.OffsetsFile, "offsets-file", "./debezium-server/offsets.dat", "Debezium offsets file to delete")

	return cmd
}

func runReset(ctx context.Context, opts *ResetOptions, out io.Writer) error {
	cfg, err := loadAndInitialize(opts.RootOptions)
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	db, err := openPostgres(ctx, cfg.Sink.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	dropped, err := postgres.DropReplicationSlot(ctx, db, opts.Slot)
	if err != nil {
		return err
	}
	if dropped {
		fmt.Fprintf(out, "Dropped replication slot %s\n", opts.Slot)
	} else {
		fmt.Fprintf(out, "Replication slot %s does not exist\n", opts.Slot)
	}

	removed, err := removeOffsets(opts.OffsetsFile)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(out, "Deleted offsets file %s\n", opts.OffsetsFile)
	} else {
		fmt.Fprintf(out, "Offsets file %s does not exist\n", opts.OffsetsFile)
	}
	return nil
}

// removeOffsets deletes path and reports whether it existed.
func removeOffsets(path string) (bool, error) {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete offsets file %s: %w", path, err)
	}
	return true, nil
}
