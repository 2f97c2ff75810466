package orm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")

	// Open multiple times
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	// Final open should work with schema intact
	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"users", "computers", "nodes", "links", "groups", "group_nodes", "repo_files"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/graph.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestCreateNode_Defaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	node, err := s.CreateNode(ctx, NodeSpec{Kind: KindCalculation, ProcessLabel: "addition"})
	if err != nil {
		t.Fatalf("CreateNode() failed: %v", err)
	}

	if node.UUID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected a generated UUID")
	}
	if node.PK == 0 {
		t.Error("expected a nonzero primary key")
	}
	if node.CTime.IsZero() || node.MTime.IsZero() {
		t.Error("expected timestamps to be defaulted")
	}
	if !node.MTime.Equal(node.CTime) {
		t.Errorf("default mtime %v should equal ctime %v", node.MTime, node.CTime)
	}
}

func TestCreateNode_Roundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ct := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	created, err := s.CreateNode(ctx, NodeSpec{
		Kind:         KindWorkflow,
		ProcessLabel: "MultiplyAddWorkChain",
		ProcessType:  "process.workflow",
		CTime:        ct,
		MTime:        ct,
		Sealed:       true,
		FinishedOK:   true,
		Attributes:   map[string]any{"exit_status": float64(0)},
	})
	if err != nil {
		t.Fatalf("CreateNode() failed: %v", err)
	}

	got, err := s.NodeByUUID(ctx, created.UUID)
	if err != nil {
		t.Fatalf("NodeByUUID() failed: %v", err)
	}
	if got.Kind != KindWorkflow {
		t.Errorf("kind = %q, want %q", got.Kind, KindWorkflow)
	}
	if got.ProcessLabel != "MultiplyAddWorkChain" {
		t.Errorf("process label = %q", got.ProcessLabel)
	}
	if !got.Sealed || !got.FinishedOK {
		t.Errorf("sealed/finished flags not preserved: %+v", got)
	}
	if !got.CTime.Equal(ct) {
		t.Errorf("ctime = %v, want %v", got.CTime, ct)
	}

	attrs, err := s.Attributes(ctx, created.UUID)
	if err != nil {
		t.Fatalf("Attributes() failed: %v", err)
	}
	if attrs["exit_status"] != float64(0) {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestSealNode_BumpsMtime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ct := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	node, err := s.CreateNode(ctx, NodeSpec{Kind: KindCalculation, CTime: ct, MTime: ct})
	if err != nil {
		t.Fatalf("CreateNode() failed: %v", err)
	}

	if err := s.SealNode(ctx, node.UUID); err != nil {
		t.Fatalf("SealNode() failed: %v", err)
	}

	got, err := s.NodeByUUID(ctx, node.UUID)
	if err != nil {
		t.Fatalf("NodeByUUID() failed: %v", err)
	}
	if !got.Sealed {
		t.Error("node not sealed")
	}
	if !got.MTime.After(ct) {
		t.Errorf("mtime %v not advanced past %v", got.MTime, ct)
	}
}

func TestDeleteNode_RemovesLinks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	parent, err := s.CreateNode(ctx, NodeSpec{Kind: KindWorkflow, Sealed: true})
	if err != nil {
		t.Fatal(err)
	}
	child, err := s.CreateNode(ctx, NodeSpec{Kind: KindCalculation, Sealed: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateLink(ctx, parent.UUID, child.UUID, LinkCallCalc, "CALL"); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteNode(ctx, child.UUID); err != nil {
		t.Fatalf("DeleteNode() failed: %v", err)
	}

	exists, err := s.NodeExists(ctx, child.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("deleted node still exists")
	}

	links, err := s.OutgoingLinks(ctx, parent.UUID, CallLinks...)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 0 {
		t.Errorf("expected links removed, got %d", len(links))
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
