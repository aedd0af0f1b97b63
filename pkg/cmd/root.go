// Package cmd assembles the command-line surface: flag registration,
// viper-backed configuration binding, and the migrate/snapshot
// subcommands built on top of pkg/cmd/datastore and internal/snapshot.
// There is no serve subcommand here — the gRPC/HTTP transport this store
// would sit behind is out of scope for this module (see DESIGN.md).
package cmd

import (
	"fmt"
	"strings"

	"github.com/jzelinskie/cobrautil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmddatastore "github.com/authzed/hashgraph/pkg/cmd/datastore"
)

const envPrefix = "HASHGRAPH"

// NewRootCommand builds the root "hashgraph" command with the datastore
// flags registered at the top level and migrate/snapshot wired as
// subcommands. Flag values are bound into viper so HASHGRAPH_-prefixed
// environment variables can override a flag's default without the caller
// needing to pass it explicitly.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var datastoreConfig cmddatastore.Config

	root := &cobra.Command{
		Use:           "hashgraph",
		Short:         "a bitemporal knowledge-graph storage engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			datastoreConfig.Engine = cmddatastore.EngineType(v.GetString("datastore-engine"))
			datastoreConfig.PostgresURI = v.GetString("datastore-postgres-uri")
			return nil
		},
	}

	if err := cmddatastore.RegisterDatastoreFlagsWithPrefix(root.PersistentFlags(), "", &datastoreConfig); err != nil {
		panic(fmt.Sprintf("cmd: register datastore flags: %v", err))
	}
	if err := v.BindPFlags(root.PersistentFlags()); err != nil {
		panic(fmt.Sprintf("cmd: bind datastore flags: %v", err))
	}

	root.AddCommand(newVersionCommand())
	root.AddCommand(newMigrateCommand(&datastoreConfig))
	root.AddCommand(newSnapshotCommand(&datastoreConfig))

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the hashgraph version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(cobrautil.Version)
			return nil
		},
	}
}
