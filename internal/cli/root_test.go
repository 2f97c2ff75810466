package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provdump/provdump/internal/orm"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_RejectsInvalidFormat(t *testing.T) {
	_, err := executeCommand(t, "--format", "xml", "status", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "dump")
	assert.Contains(t, names, "status")
}

func TestStatusCommand_FreshDirectory(t *testing.T) {
	out, err := executeCommand(t, "status", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "calculations: 0")
	assert.Contains(t, out, "last dump: never")
}

func TestDumpCommand_RequiresExactlyOneTarget(t *testing.T) {
	db := seedDatabase(t)

	_, err := executeCommand(t, "dump", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = executeCommand(t, "dump", "--db", db, "--profile", "--group", "g")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDumpCommand_ProfileEndToEnd(t *testing.T) {
	db := seedDatabase(t)
	out := filepath.Join(t.TempDir(), "dump")

	stdout, err := executeCommand(t, "dump", "--db", db, "--profile", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "dump completed")

	assert.FileExists(t, filepath.Join(out, "dump_log.json"))
	assert.FileExists(t, filepath.Join(out, "groups", "experiments", "calculations", "add-1", "node_metadata.yaml"))
}

func TestDumpCommand_DryRunPrintsReport(t *testing.T) {
	db := seedDatabase(t)
	out := filepath.Join(t.TempDir(), "dump")

	stdout, err := executeCommand(t, "dump", "--db", db, "--profile", "--out", out, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Dump changes")
	assert.NoFileExists(t, filepath.Join(out, "dump_log.json"))
}

func TestDumpCommand_DryRunAndOverwriteConflict(t *testing.T) {
	db := seedDatabase(t)

	_, err := executeCommand(t, "dump", "--db", db, "--profile", "--dry-run", "--overwrite")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// seedDatabase creates a store with one grouped calculation and returns its path.
func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")
	store, err := orm.Open(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	node, err := store.CreateNode(ctx, orm.NodeSpec{
		Kind:         orm.KindCalculation,
		ProcessLabel: "add",
		Sealed:       true,
		FinishedOK:   true,
	})
	require.NoError(t, err)

	group, err := store.CreateGroup(ctx, "experiments")
	require.NoError(t, err)
	require.NoError(t, store.AddToGroup(ctx, group.UUID, node.UUID))
	return path
}
