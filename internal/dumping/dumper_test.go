package dumping

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provdump/provdump/internal/orm"
	"github.com/provdump/provdump/internal/testutil"
)

func newTestDumper(t *testing.T, b *testutil.GraphBuilder, cfg Config) (*NodeDumper, *Tracker) {
	t.Helper()
	tracker, err := LoadTracker(filepath.Join(t.TempDir(), TrackingLogFileName))
	require.NoError(t, err)

	log := discardLogger()
	fs := NewManager(cfg.Mode, log)
	content := NewContentGenerator(cfg, b.Store(), log)
	planner := NewPlanner(cfg, tracker)
	return NewNodeDumper(planner, fs, content, tracker, b.Store(), log), tracker
}

func TestDumpNode_PrimaryRegistersRecord(t *testing.T) {
	b := testutil.NewGraphBuilder(t)
	calc := b.AddCalculation("add")
	b.WithRepoFile(calc, "job.in", []byte("2 3\n"))

	dumper, tracker := newTestDumper(t, b, DefaultConfig())
	target := filepath.Join(t.TempDir(), "add-1")
	require.NoError(t, dumper.DumpNode(context.Background(), calc, target))

	testutil.AssertFile(t, target, MetadataFileName)
	testutil.AssertFile(t, target, SafeguardFileName)
	testutil.AssertFile(t, target, "inputs", "job.in")

	record, registry, ok := tracker.GetEntry(calc.UUID)
	require.True(t, ok)
	assert.Equal(t, RegistryCalculations, registry)
	require.NotNil(t, record.DirMtime, "stats must be finalized after a completed dump")
	assert.Positive(t, record.DirSize)
}

func TestDumpNode_WorkflowRecursesInCallOrder(t *testing.T) {
	b := testutil.NewGraphBuilder(t)
	wf := b.AddWorkflow("chain")
	multiply := b.AddCalculation("multiply")
	add := b.AddCalculation("add")
	b.Call(wf, multiply, "CALL")
	b.Call(wf, add, "CALL")

	dumper, tracker := newTestDumper(t, b, DefaultConfig())
	target := filepath.Join(t.TempDir(), "chain-1")
	require.NoError(t, dumper.DumpNode(context.Background(), wf, target))

	// Children appear as positional directories ordered by creation time.
	testutil.AssertDir(t, target, "01-multiply-2")
	testutil.AssertDir(t, target, "02-add-3")
	testutil.AssertFile(t, target, "01-multiply-2", MetadataFileName)

	// Each dumped process gets its own record.
	assert.Equal(t, 3, tracker.Len())
	record, _, ok := tracker.GetEntry(multiply.UUID)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(target, "01-multiply-2"), record.Path)
}

func TestDumpNode_SecondLocationSymlinksCalc(t *testing.T) {
	b := testutil.NewGraphBuilder(t)
	calc := b.AddCalculation("shared")

	cfg := DefaultConfig()
	cfg.SymlinkCalcs = true
	dumper, tracker := newTestDumper(t, b, cfg)

	root := t.TempDir()
	primary := filepath.Join(root, "g1", "shared-1")
	secondary := filepath.Join(root, "g2", "shared-1")
	ctx := context.Background()

	require.NoError(t, dumper.DumpNode(ctx, calc, primary))
	require.NoError(t, dumper.DumpNode(ctx, calc, secondary))

	testutil.AssertSymlink(t, secondary)

	record, _, ok := tracker.GetEntry(calc.UUID)
	require.True(t, ok)
	assert.Equal(t, primary, record.Path)
	assert.Equal(t, []string{secondary}, record.Symlinks)
	assert.Empty(t, record.Duplicates)
}

func TestDumpNode_SecondLocationDuplicatesByDefault(t *testing.T) {
	b := testutil.NewGraphBuilder(t)
	calc := b.AddCalculation("shared")
	b.WithRepoFile(calc, "job.in", []byte("x\n"))

	dumper, tracker := newTestDumper(t, b, DefaultConfig())

	root := t.TempDir()
	primary := filepath.Join(root, "g1", "shared-1")
	secondary := filepath.Join(root, "g2", "shared-1")
	ctx := context.Background()

	require.NoError(t, dumper.DumpNode(ctx, calc, primary))
	require.NoError(t, dumper.DumpNode(ctx, calc, secondary))

	// The duplicate is a full independent copy.
	testutil.AssertFile(t, secondary, "inputs", "job.in")

	record, _, ok := tracker.GetEntry(calc.UUID)
	require.True(t, ok)
	assert.Equal(t, []string{secondary}, record.Duplicates)
}

func TestDumpNode_SamePathTwiceSkips(t *testing.T) {
	b := testutil.NewGraphBuilder(t)
	calc := b.AddCalculation("idempotent")

	dumper, _ := newTestDumper(t, b, DefaultConfig())
	target := filepath.Join(t.TempDir(), "idempotent-1")
	ctx := context.Background()

	require.NoError(t, dumper.DumpNode(ctx, calc, target))
	before := testutil.ListDir(t, target)

	require.NoError(t, dumper.DumpNode(ctx, calc, target))
	assert.Equal(t, before, testutil.ListDir(t, target))
}

func TestDumpNode_UpdateRegeneratesStaleOutput(t *testing.T) {
	b := testutil.NewGraphBuilder(t)
	calc := b.AddCalculation("evolving")

	dumper, tracker := newTestDumper(t, b, DefaultConfig())
	target := filepath.Join(t.TempDir(), "evolving-1")
	ctx := context.Background()

	require.NoError(t, dumper.DumpNode(ctx, calc, target))

	// Source node changes after the dump.
	b.WithRepoFile(calc, "late.txt", []byte("appeared later\n"))
	b.Touch(calc)
	calc = b.Reload(calc)

	require.NoError(t, dumper.DumpNode(ctx, calc, target))
	testutil.AssertFile(t, target, "inputs", "late.txt")

	record, _, _ := tracker.GetEntry(calc.UUID)
	require.NotNil(t, record.DirMtime)
	assert.False(t, NeedsUpdate(calc, record), "record stats must be refreshed after the update")
}

func TestChildLabel(t *testing.T) {
	cases := []struct {
		name  string
		index int
		link  orm.LinkTriple
		want  string
	}{
		{
			name:  "call prefix stripped",
			index: 1,
			link:  orm.LinkTriple{Label: "CALL", Node: &orm.Node{ProcessLabel: "multiply", PK: 7}},
			want:  "01-multiply-7",
		},
		{
			name:  "label and process label both kept",
			index: 2,
			link:  orm.LinkTriple{Label: "iteration_01", Node: &orm.Node{ProcessLabel: "loop_body", PK: 9}},
			want:  "02-iteration_01-loop_body-9",
		},
		{
			name:  "process label omitted when redundant",
			index: 3,
			link:  orm.LinkTriple{Label: "add", Node: &orm.Node{ProcessLabel: "add", PK: 4}},
			want:  "03-add-4",
		},
		{
			name:  "process type as fallback",
			index: 4,
			link:  orm.LinkTriple{Label: "step", Node: &orm.Node{ProcessType: "process.calc", PK: 5}},
			want:  "04-step-process.calc-5",
		},
		{
			name:  "none token stripped",
			index: 5,
			link:  orm.LinkTriple{Label: "None-loop", Node: &orm.Node{PK: 6}},
			want:  "05-loop-6",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, childLabel(tc.index, tc.link))
		})
	}
}
