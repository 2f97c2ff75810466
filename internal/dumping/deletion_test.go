package dumping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeleter(t *testing.T, cfg Config, base string) (*DeletionExecutor, *Tracker, *Manager) {
	t.Helper()
	tracker, err := LoadTracker(filepath.Join(base, TrackingLogFileName))
	require.NoError(t, err)

	log := discardLogger()
	fs := NewManager(cfg.Mode, log)
	paths := NewPathResolver(cfg, base)
	return NewDeletionExecutor(fs, paths, tracker, log), tracker, fs
}

func TestDeleteNode_RemovesAllMaterializations(t *testing.T) {
	base := t.TempDir()
	deleter, tracker, fs := newTestDeleter(t, DefaultConfig(), base)

	primary := filepath.Join(base, "groups", "g1", "calculations", "calc-1")
	duplicate := filepath.Join(base, "groups", "g2", "calculations", "calc-1")
	link := filepath.Join(base, "groups", "g3", "calculations", "calc-1")
	require.NoError(t, fs.Prepare(primary, true))
	require.NoError(t, fs.Prepare(duplicate, true))
	require.NoError(t, fs.Symlink(primary, link))

	id := uuid.New()
	record := &DumpRecord{Path: primary}
	record.AddSymlink(link)
	record.AddDuplicate(duplicate)
	tracker.Registry(RegistryCalculations).AddEntry(id, record)

	changes := DumpChanges{Nodes: NodeChanges{Deleted: []uuid.UUID{id}}}
	require.NoError(t, deleter.Execute(changes, nil))

	for _, p := range []string{primary, duplicate, link} {
		_, err := os.Lstat(p)
		assert.True(t, os.IsNotExist(err), "%s must be gone", p)
	}
	_, _, ok := tracker.GetEntry(id)
	assert.False(t, ok)
}

func TestDeleteNode_SafeguardViolationKeepsRecord(t *testing.T) {
	base := t.TempDir()
	deleter, tracker, _ := newTestDeleter(t, DefaultConfig(), base)

	// An unmanaged directory at the recorded path must not be deleted.
	primary := filepath.Join(base, "calculations", "calc-1")
	require.NoError(t, os.MkdirAll(primary, 0o755))

	id := uuid.New()
	tracker.Registry(RegistryCalculations).AddEntry(id, &DumpRecord{Path: primary})

	changes := DumpChanges{Nodes: NodeChanges{Deleted: []uuid.UUID{id}}}
	err := deleter.Execute(changes, nil)
	require.Error(t, err)
	assert.True(t, IsSafeguardError(err))

	_, statErr := os.Stat(primary)
	assert.NoError(t, statErr)
	_, _, ok := tracker.GetEntry(id)
	assert.True(t, ok, "record survives a failed deletion")
}

func TestDeleteGroup_TrimsTrackerRecords(t *testing.T) {
	base := t.TempDir()
	cfg := DefaultConfig()
	deleter, tracker, fs := newTestDeleter(t, cfg, base)

	groupID := uuid.New()
	groupPath := filepath.Join(base, "groups", "doomed")
	insidePrimary := filepath.Join(groupPath, "calculations", "calc-1")
	outsidePrimary := filepath.Join(base, "groups", "kept", "calculations", "calc-2")
	require.NoError(t, fs.Prepare(groupPath, false))
	require.NoError(t, fs.Prepare(insidePrimary, true))
	require.NoError(t, fs.Prepare(outsidePrimary, true))

	insideID := uuid.New()
	tracker.Registry(RegistryCalculations).AddEntry(insideID, &DumpRecord{Path: insidePrimary})

	outsideID := uuid.New()
	outsideRecord := &DumpRecord{Path: outsidePrimary}
	outsideRecord.AddDuplicate(filepath.Join(groupPath, "calculations", "calc-2"))
	tracker.Registry(RegistryCalculations).AddEntry(outsideID, outsideRecord)

	changes := DumpChanges{Groups: GroupChanges{Deleted: []GroupInfo{{UUID: groupID, Label: "doomed"}}}}
	require.NoError(t, deleter.Execute(changes, nil))

	_, err := os.Stat(groupPath)
	assert.True(t, os.IsNotExist(err))

	// Record with its primary inside the group is dropped entirely.
	_, _, ok := tracker.GetEntry(insideID)
	assert.False(t, ok)

	// Record outside the group survives with its inside-satellite trimmed.
	kept, _, ok := tracker.GetEntry(outsideID)
	require.True(t, ok)
	assert.Empty(t, kept.Duplicates)
}

func TestRemoveGroupRepresentation_PrimarySurvives(t *testing.T) {
	base := t.TempDir()
	deleter, tracker, fs := newTestDeleter(t, DefaultConfig(), base)

	groupID := uuid.New()
	groupPath := filepath.Join(base, "groups", "alpha")
	primary := filepath.Join(base, "groups", "beta", "calculations", "calc-1")
	duplicate := filepath.Join(groupPath, "calculations", "calc-1")
	require.NoError(t, fs.Prepare(primary, true))
	require.NoError(t, fs.Prepare(duplicate, true))

	id := uuid.New()
	record := &DumpRecord{Path: primary}
	record.AddDuplicate(duplicate)
	tracker.Registry(RegistryCalculations).AddEntry(id, record)

	changes := DumpChanges{Groups: GroupChanges{Modified: []GroupModificationInfo{{
		UUID:         groupID,
		Label:        "alpha",
		NodesRemoved: []uuid.UUID{id},
	}}}}
	require.NoError(t, deleter.Execute(changes, nil))

	_, err := os.Stat(duplicate)
	assert.True(t, os.IsNotExist(err), "removed-membership duplicate must be gone")
	_, err = os.Stat(primary)
	assert.NoError(t, err, "primary in another group must survive")

	kept, _, ok := tracker.GetEntry(id)
	require.True(t, ok)
	assert.Empty(t, kept.Duplicates)
}
