package dumping

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provdump/provdump/internal/orm"
)

func TestSanitizeLabel(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"simple", "simple"},
		{"with spaces here", "with-spaces-here"},
		{"nested/group/label", "nested-group-label"},
		{"  padded\tlabel ", "padded-label"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeLabel(tc.in), "input %q", tc.in)
	}
}

func TestNodeDirName_Precedence(t *testing.T) {
	node := &orm.Node{PK: 42, Label: "my label", ProcessLabel: "ArithmeticAdd", ProcessType: "process.calc"}
	assert.Equal(t, "my-label-42", NodeDirName(node))

	node.Label = ""
	assert.Equal(t, "ArithmeticAdd-42", NodeDirName(node))

	node.ProcessLabel = ""
	assert.Equal(t, "process.calc-42", NodeDirName(node))

	node.ProcessType = ""
	assert.Equal(t, "42", NodeDirName(node))
}

func TestDefaultDumpDirName(t *testing.T) {
	assert.Equal(t, "dump-experiments-7", DefaultDumpDirName("dump", "experiments", 7))
	assert.Equal(t, "dump-graph.db", DefaultDumpDirName("dump", "graph.db", 0))
}

func TestPathResolver_GroupPath(t *testing.T) {
	cfg := DefaultConfig()
	r := NewPathResolver(cfg, "/out")

	group := &orm.Group{Label: "phase one"}
	assert.Equal(t, filepath.Join("/out", "groups", "phase-one"), r.GroupPath(group))

	cfg.OrganizeByGroups = false
	flat := NewPathResolver(cfg, "/out")
	assert.Equal(t, "/out", flat.GroupPath(group))
}

func TestPathResolver_UngroupedPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlsoUngrouped = true
	r := NewPathResolver(cfg, "/out")
	assert.Equal(t, filepath.Join("/out", "ungrouped"), r.UngroupedPath())

	cfg.OrganizeByGroups = false
	flat := NewPathResolver(cfg, "/out")
	assert.Equal(t, "/out", flat.UngroupedPath())
}

func TestPathResolver_NodePath(t *testing.T) {
	r := NewPathResolver(DefaultConfig(), "/out")

	calc := &orm.Node{Kind: orm.KindCalculation, ProcessLabel: "add", PK: 3}
	path, err := r.NodePath(calc, "/out/groups/g1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out/groups/g1", "calculations", "add-3"), path)

	wf := &orm.Node{Kind: orm.KindWorkflow, ProcessLabel: "chain", PK: 4}
	path, err = r.NodePath(wf, "/out")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "workflows", "chain-4"), path)

	datum := &orm.Node{Kind: orm.KindData, Label: "d", PK: 5}
	_, err = r.NodePath(datum, "/out")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestPathResolver_WellKnownFiles(t *testing.T) {
	r := NewPathResolver(DefaultConfig(), "/out")
	assert.Equal(t, "/out", r.BasePath())
	assert.Equal(t, filepath.Join("/out", TrackingLogFileName), r.TrackingLogPath())
	assert.Equal(t, filepath.Join("/out", ConfigFileName), r.ConfigFilePath())
}
