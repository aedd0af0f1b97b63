package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/internal/snapshot"
	cmddatastore "github.com/authzed/hashgraph/pkg/cmd/datastore"
)

func newSnapshotCommand(config *cmddatastore.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "snapshot",
		Short: "dump or restore the store as an NDJSON snapshot stream",
	}
	root.AddCommand(newSnapshotExportCommand(config))
	root.AddCommand(newSnapshotImportCommand(config))
	return root
}

func openDatastore(ctx context.Context, config *cmddatastore.Config) (*cmddatastore.Datastore, error) {
	return cmddatastore.NewDatastore(ctx,
		cmddatastore.WithEngine(config.Engine),
		cmddatastore.WithPostgresURI(config.PostgresURI))
}

func newSnapshotExportCommand(config *cmddatastore.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "write every entity and ontology type to an NDJSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ds, err := openDatastore(ctx, config)
			if err != nil {
				return fmt.Errorf("snapshot export: %w", err)
			}
			defer ds.Close()

			out, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("snapshot export: create %q: %w", args[0], err)
			}
			defer out.Close()

			writer := bufio.NewWriter(out)
			records := make(chan datastore.SnapshotRecord)
			dumpErr := make(chan error, 1)
			go func() { dumpErr <- ds.Snapshot.Dump(ctx, records) }()

			if err := snapshot.WriteStream(writer, records); err != nil {
				return fmt.Errorf("snapshot export: %w", err)
			}
			if err := <-dumpErr; err != nil {
				return fmt.Errorf("snapshot export: %w", err)
			}
			if err := writer.Flush(); err != nil {
				return fmt.Errorf("snapshot export: flush %q: %w", args[0], err)
			}
			info, err := out.Stat()
			if err != nil {
				return fmt.Errorf("snapshot export: stat %q: %w", args[0], err)
			}
			cmd.Printf("snapshot written to %s (%s)\n", args[0], humanize.Bytes(uint64(info.Size())))
			return nil
		},
	}
}

func newSnapshotImportCommand(config *cmddatastore.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "restore every entity and ontology type from an NDJSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ds, err := openDatastore(ctx, config)
			if err != nil {
				return fmt.Errorf("snapshot import: %w", err)
			}
			defer ds.Close()

			in, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("snapshot import: open %q: %w", args[0], err)
			}
			defer in.Close()

			info, err := in.Stat()
			if err != nil {
				return fmt.Errorf("snapshot import: stat %q: %w", args[0], err)
			}

			records := make(chan datastore.SnapshotRecord)
			readErr := make(chan error, 1)
			go func() { readErr <- snapshot.ReadStream(in, records) }()

			if err := ds.Snapshot.Restore(ctx, records); err != nil {
				return fmt.Errorf("snapshot import: %w", err)
			}
			if err := <-readErr; err != nil {
				return fmt.Errorf("snapshot import: %w", err)
			}
			cmd.Printf("snapshot restored from %s (%s)\n", args[0], humanize.Bytes(uint64(info.Size())))
			return nil
		},
	}
}
