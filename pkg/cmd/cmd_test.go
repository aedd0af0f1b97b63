package cmd_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authzed/hashgraph/pkg/cmd"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := cmd.NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func TestMigrateRequiresPostgresEngine(t *testing.T) {
	_, err := execute(t, "migrate")
	require.Error(t, err)
}

func TestSnapshotExportThenImportRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.ndjson")

	_, err := execute(t, "snapshot", "export", path)
	require.NoError(t, err)

	_, err = execute(t, "snapshot", "import", path)
	require.NoError(t, err)
}
