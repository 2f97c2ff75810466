// Package testutil provides test fixtures for the dump engine: a builder
// that seeds deterministic provenance graphs into a temporary store, and
// assertions over dump trees.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/provdump/provdump/internal/orm"
)

// BaseTime is the ctime of the first node created by a GraphBuilder.
// Subsequent nodes advance by one minute each, so creation order and
// ctime order always agree in fixtures.
var BaseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// GraphBuilder seeds nodes, links, and groups into a store with
// deterministic timestamps. All methods fail the test on error so fixture
// setup stays linear.
type GraphBuilder struct {
	t     *testing.T
	ctx   context.Context
	store *orm.Store
	next  time.Time
}

// NewGraphBuilder opens a fresh store in a temporary directory.
func NewGraphBuilder(t *testing.T) *GraphBuilder {
	t.Helper()
	store, err := orm.Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &GraphBuilder{
		t:     t,
		ctx:   context.Background(),
		store: store,
		next:  BaseTime,
	}
}

// Store returns the underlying store.
func (b *GraphBuilder) Store() *orm.Store { return b.store }

// Context returns the context used for seeding calls.
func (b *GraphBuilder) Context() context.Context { return b.ctx }

func (b *GraphBuilder) tick() time.Time {
	t := b.next
	b.next = b.next.Add(time.Minute)
	return t
}

// AddCalculation inserts a sealed, successfully finished calculation node.
func (b *GraphBuilder) AddCalculation(processLabel string) *orm.Node {
	return b.addProcess(orm.KindCalculation, processLabel)
}

// AddWorkflow inserts a sealed, successfully finished workflow node.
func (b *GraphBuilder) AddWorkflow(processLabel string) *orm.Node {
	return b.addProcess(orm.KindWorkflow, processLabel)
}

func (b *GraphBuilder) addProcess(kind orm.NodeKind, processLabel string) *orm.Node {
	b.t.Helper()
	ct := b.tick()
	node, err := b.store.CreateNode(b.ctx, orm.NodeSpec{
		Kind:         kind,
		ProcessLabel: processLabel,
		ProcessType:  "process." + processLabel,
		CTime:        ct,
		MTime:        ct,
		Sealed:       true,
		FinishedOK:   true,
	})
	if err != nil {
		b.t.Fatalf("add %s %s: %v", kind, processLabel, err)
	}
	return node
}

// AddUnsealedWorkflow inserts a workflow node that has not been sealed yet.
func (b *GraphBuilder) AddUnsealedWorkflow(processLabel string) *orm.Node {
	b.t.Helper()
	ct := b.tick()
	node, err := b.store.CreateNode(b.ctx, orm.NodeSpec{
		Kind:         orm.KindWorkflow,
		ProcessLabel: processLabel,
		ProcessType:  "process." + processLabel,
		CTime:        ct,
		MTime:        ct,
	})
	if err != nil {
		b.t.Fatalf("add unsealed workflow %s: %v", processLabel, err)
	}
	return node
}

// AddData inserts a sealed data node.
func (b *GraphBuilder) AddData(label string) *orm.Node {
	b.t.Helper()
	ct := b.tick()
	node, err := b.store.CreateNode(b.ctx, orm.NodeSpec{
		Kind:     orm.KindData,
		Label:    label,
		NodeType: "data.core",
		CTime:    ct,
		MTime:    ct,
		Sealed:   true,
	})
	if err != nil {
		b.t.Fatalf("add data %s: %v", label, err)
	}
	return node
}

// Link connects source to target with the given type and label.
func (b *GraphBuilder) Link(source, target *orm.Node, lt orm.LinkType, label string) {
	b.t.Helper()
	if err := b.store.CreateLink(b.ctx, source.UUID, target.UUID, lt, label); err != nil {
		b.t.Fatalf("link %s -> %s: %v", source.UUID, target.UUID, err)
	}
}

// Call links a parent process to a child process with a CALL link whose
// type matches the child's kind.
func (b *GraphBuilder) Call(parent, child *orm.Node, label string) {
	b.t.Helper()
	lt := orm.LinkCallCalc
	if child.Kind == orm.KindWorkflow {
		lt = orm.LinkCallWork
	}
	b.Link(parent, child, lt, label)
}

// AddGroup inserts a group with the given label and members.
func (b *GraphBuilder) AddGroup(label string, members ...*orm.Node) *orm.Group {
	b.t.Helper()
	group, err := b.store.CreateGroup(b.ctx, label)
	if err != nil {
		b.t.Fatalf("add group %s: %v", label, err)
	}
	for _, m := range members {
		if err := b.store.AddToGroup(b.ctx, group.UUID, m.UUID); err != nil {
			b.t.Fatalf("add %s to group %s: %v", m.UUID, label, err)
		}
	}
	return group
}

// WithRepoFile attaches a repository file to a node.
func (b *GraphBuilder) WithRepoFile(node *orm.Node, path string, content []byte) {
	b.t.Helper()
	if err := b.store.PutRepoFile(b.ctx, node.UUID, path, content); err != nil {
		b.t.Fatalf("put repo file %s on %s: %v", path, node.UUID, err)
	}
}

// Seal seals a node and bumps its mtime.
func (b *GraphBuilder) Seal(node *orm.Node) {
	b.t.Helper()
	if err := b.store.SealNode(b.ctx, node.UUID); err != nil {
		b.t.Fatalf("seal %s: %v", node.UUID, err)
	}
}

// Touch advances a node's mtime past any filesystem timestamp the test run
// can produce, so the node looks modified relative to existing dump output.
func (b *GraphBuilder) Touch(node *orm.Node) {
	b.t.Helper()
	if err := b.store.TouchNode(b.ctx, node.UUID, time.Now().UTC().Add(time.Hour)); err != nil {
		b.t.Fatalf("touch %s: %v", node.UUID, err)
	}
}

// Delete removes a node and its links.
func (b *GraphBuilder) Delete(node *orm.Node) {
	b.t.Helper()
	if err := b.store.DeleteNode(b.ctx, node.UUID); err != nil {
		b.t.Fatalf("delete %s: %v", node.UUID, err)
	}
}

// Reload fetches the current stored state of a node.
func (b *GraphBuilder) Reload(node *orm.Node) *orm.Node {
	b.t.Helper()
	fresh, err := b.store.NodeByUUID(b.ctx, node.UUID)
	if err != nil {
		b.t.Fatalf("reload %s: %v", node.UUID, err)
	}
	return fresh
}

// MustUUID parses a UUID literal, failing the test on bad input.
func MustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse uuid %q: %v", s, err)
	}
	return id
}
