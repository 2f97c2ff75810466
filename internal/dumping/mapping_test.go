package dumping

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provdump/provdump/internal/orm"
)

func TestBuildGroupNodeMapping(t *testing.T) {
	g1 := &orm.Group{UUID: uuid.New(), Label: "alpha"}
	n1, n2 := uuid.New(), uuid.New()

	mapping := BuildGroupNodeMapping([]orm.GroupMembership{
		{Group: g1, Members: []uuid.UUID{n1, n2}},
	})

	assert.Equal(t, 1, mapping.Len())
	label, ok := mapping.Label(g1.UUID)
	require.True(t, ok)
	assert.Equal(t, "alpha", label)
	assert.True(t, mapping.Contains(g1.UUID, n1))
	assert.False(t, mapping.Contains(g1.UUID, uuid.New()))
	assert.Len(t, mapping.Members(g1.UUID), 2)
}

func TestDiffGroupNodeMappings_NewAndDeleted(t *testing.T) {
	kept := uuid.New()
	gone := uuid.New()
	fresh := uuid.New()

	prev := NewGroupNodeMapping()
	prev.Add(kept, "kept")
	prev.Add(gone, "gone")

	curr := NewGroupNodeMapping()
	curr.Add(kept, "kept")
	curr.Add(fresh, "fresh")

	changes := DiffGroupNodeMappings(prev, curr, nil)

	require.Len(t, changes.New, 1)
	assert.Equal(t, fresh, changes.New[0].UUID)
	assert.Equal(t, "fresh", changes.New[0].Label)

	require.Len(t, changes.Deleted, 1)
	assert.Equal(t, gone, changes.Deleted[0].UUID)

	assert.Empty(t, changes.Renamed)
	assert.Empty(t, changes.Modified)
}

func TestDiffGroupNodeMappings_RenameTakesPrecedence(t *testing.T) {
	g := uuid.New()
	member := uuid.New()
	added := uuid.New()

	prev := NewGroupNodeMapping()
	prev.Add(g, "old-label", member)

	// Same group renamed and with a member added: reported as a rename,
	// not a modification.
	curr := NewGroupNodeMapping()
	curr.Add(g, "new-label", member, added)

	changes := DiffGroupNodeMappings(prev, curr, nil)

	require.Len(t, changes.Renamed, 1)
	assert.Equal(t, "old-label", changes.Renamed[0].OldLabel)
	assert.Equal(t, "new-label", changes.Renamed[0].NewLabel)
	assert.Empty(t, changes.Modified)
}

func TestDiffGroupNodeMappings_MembershipDelta(t *testing.T) {
	g := uuid.New()
	stays := uuid.New()
	removed := uuid.New()
	added := uuid.New()

	prev := NewGroupNodeMapping()
	prev.Add(g, "stable", stays, removed)

	curr := NewGroupNodeMapping()
	curr.Add(g, "stable", stays, added)

	changes := DiffGroupNodeMappings(prev, curr, nil)

	require.Len(t, changes.Modified, 1)
	mod := changes.Modified[0]
	assert.Equal(t, []uuid.UUID{added}, mod.NodesAdded)
	assert.Equal(t, []uuid.UUID{removed}, mod.NodesRemoved)
}

func TestDiffGroupNodeMappings_ScopeFiltersOtherGroups(t *testing.T) {
	inScope := uuid.New()
	outOfScope := uuid.New()

	prev := NewGroupNodeMapping()
	prev.Add(inScope, "scoped", uuid.New())
	prev.Add(outOfScope, "other")

	curr := NewGroupNodeMapping()
	curr.Add(inScope, "scoped-renamed", uuid.New())

	changes := DiffGroupNodeMappings(prev, curr, &inScope)

	// The out-of-scope deletion must not be reported.
	assert.Empty(t, changes.Deleted)
	require.Len(t, changes.Renamed, 1)
	assert.Equal(t, inScope, changes.Renamed[0].UUID)
}

func TestDiffGroupNodeMappings_NilPrevious(t *testing.T) {
	g := uuid.New()
	curr := NewGroupNodeMapping()
	curr.Add(g, "first")

	changes := DiffGroupNodeMappings(nil, curr, nil)
	require.Len(t, changes.New, 1)
	assert.Equal(t, g, changes.New[0].UUID)
}
