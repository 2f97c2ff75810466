package dumping

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/provdump/provdump/internal/orm"
	"github.com/provdump/provdump/internal/testutil"
)

func TestGenerateReadme_Golden(t *testing.T) {
	b := testutil.NewGraphBuilder(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	wf, err := b.Store().CreateNode(ctx, orm.NodeSpec{
		UUID:         uuid.MustParse("11111111-1111-4111-8111-111111111111"),
		Kind:         orm.KindWorkflow,
		ProcessLabel: "MultiplyAddWorkChain",
		ProcessType:  "process.workflow.workchain",
		NodeType:     "process.workflow.workchain",
		CTime:        base,
		MTime:        base,
		Sealed:       true,
		FinishedOK:   true,
	})
	require.NoError(t, err)

	multiply, err := b.Store().CreateNode(ctx, orm.NodeSpec{
		UUID:         uuid.MustParse("22222222-2222-4222-8222-222222222222"),
		Kind:         orm.KindCalculation,
		ProcessLabel: "multiply",
		CTime:        base.Add(time.Minute),
		MTime:        base.Add(time.Minute),
		Sealed:       true,
		FinishedOK:   true,
	})
	require.NoError(t, err)

	add, err := b.Store().CreateNode(ctx, orm.NodeSpec{
		UUID:         uuid.MustParse("33333333-3333-4333-8333-333333333333"),
		Kind:         orm.KindCalculation,
		ProcessLabel: "add",
		CTime:        base.Add(2 * time.Minute),
		MTime:        base.Add(2 * time.Minute),
		Sealed:       true,
		FinishedOK:   false,
	})
	require.NoError(t, err)

	b.Link(wf, multiply, orm.LinkCallCalc, "CALL__multiply")
	b.Link(wf, add, orm.LinkCallCalc, "CALL__add")

	dir := t.TempDir()
	require.NoError(t, GenerateReadme(ctx, b.Store(), wf, dir))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "readme", []byte(testutil.ReadFile(t, dir, ReadmeFileName)))
}

func TestGenerateReadme_CalculationHasNoChildren(t *testing.T) {
	b := testutil.NewGraphBuilder(t)
	calc := b.AddCalculation("standalone")

	dir := t.TempDir()
	require.NoError(t, GenerateReadme(context.Background(), b.Store(), calc, dir))

	content := testutil.ReadFile(t, dir, ReadmeFileName)
	require.Contains(t, content, "# Process dump: standalone <1>")
	require.Contains(t, content, "standalone<1> Finished")
}
