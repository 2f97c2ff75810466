package dumping

import (
	"sort"

	"github.com/google/uuid"

	"github.com/provdump/provdump/internal/orm"
)

// GroupNodeMapping is a snapshot of which nodes belong to which groups,
// keyed by group identity. Two snapshots (the previous one from the tracker
// and a freshly queried one) are diffed to produce group change events.
type GroupNodeMapping struct {
	entries map[uuid.UUID]*groupEntry
}

type groupEntry struct {
	label string
	nodes map[uuid.UUID]struct{}
}

// NewGroupNodeMapping creates an empty snapshot.
func NewGroupNodeMapping() *GroupNodeMapping {
	return &GroupNodeMapping{entries: make(map[uuid.UUID]*groupEntry)}
}

// BuildGroupNodeMapping converts a store membership snapshot.
func BuildGroupNodeMapping(memberships []orm.GroupMembership) *GroupNodeMapping {
	m := NewGroupNodeMapping()
	for _, gm := range memberships {
		m.Add(gm.Group.UUID, gm.Group.Label, gm.Members...)
	}
	return m
}

// Add records a group with its label and members, merging with any members
// already recorded for the same identity.
func (m *GroupNodeMapping) Add(groupUUID uuid.UUID, label string, members ...uuid.UUID) {
	entry, ok := m.entries[groupUUID]
	if !ok {
		entry = &groupEntry{label: label, nodes: make(map[uuid.UUID]struct{})}
		m.entries[groupUUID] = entry
	}
	entry.label = label
	for _, member := range members {
		entry.nodes[member] = struct{}{}
	}
}

// Groups returns the group identities in the snapshot, sorted for
// deterministic iteration.
func (m *GroupNodeMapping) Groups() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Label returns a group's label in the snapshot.
func (m *GroupNodeMapping) Label(groupUUID uuid.UUID) (string, bool) {
	entry, ok := m.entries[groupUUID]
	if !ok {
		return "", false
	}
	return entry.label, true
}

// Members returns a group's member identities, sorted.
func (m *GroupNodeMapping) Members(groupUUID uuid.UUID) []uuid.UUID {
	entry, ok := m.entries[groupUUID]
	if !ok {
		return nil
	}
	members := make([]uuid.UUID, 0, len(entry.nodes))
	for id := range entry.nodes {
		members = append(members, id)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].String() < members[j].String() })
	return members
}

// Contains reports whether the snapshot records the node as a member of the
// group.
func (m *GroupNodeMapping) Contains(groupUUID, nodeUUID uuid.UUID) bool {
	entry, ok := m.entries[groupUUID]
	if !ok {
		return false
	}
	_, ok = entry.nodes[nodeUUID]
	return ok
}

// Len returns the number of groups in the snapshot.
func (m *GroupNodeMapping) Len() int {
	return len(m.entries)
}

// GroupInfo identifies a group in a change event.
type GroupInfo struct {
	UUID  uuid.UUID
	Label string
}

// GroupRenameInfo describes a group whose identity is preserved but whose
// label changed since the previous snapshot.
type GroupRenameInfo struct {
	UUID     uuid.UUID
	OldLabel string
	NewLabel string
}

// GroupModificationInfo describes a membership delta for a group whose label
// is unchanged.
type GroupModificationInfo struct {
	UUID         uuid.UUID
	Label        string
	NodesAdded   []uuid.UUID
	NodesRemoved []uuid.UUID
}

// GroupChanges aggregates the group lifecycle events between two snapshots.
// Unchanged groups are omitted.
type GroupChanges struct {
	New      []GroupInfo
	Deleted  []GroupInfo
	Renamed  []GroupRenameInfo
	Modified []GroupModificationInfo
}

// IsEmpty reports whether no group-level change was detected.
func (c GroupChanges) IsEmpty() bool {
	return len(c.New) == 0 && len(c.Deleted) == 0 && len(c.Renamed) == 0 && len(c.Modified) == 0
}

// DiffGroupNodeMappings computes the group change events between a previous
// and a current snapshot.
//
//   - present only in current: new
//   - present only in previous: deleted
//   - same identity, different label: renamed
//   - same label, different member set: modified (with added/removed sets)
//
// When scope is non-nil, only changes concerning that group identity are
// reported.
func DiffGroupNodeMappings(previous, current *GroupNodeMapping, scope *uuid.UUID) GroupChanges {
	var changes GroupChanges

	if previous == nil {
		previous = NewGroupNodeMapping()
	}
	if current == nil {
		current = NewGroupNodeMapping()
	}

	inScope := func(id uuid.UUID) bool {
		return scope == nil || *scope == id
	}

	for _, id := range current.Groups() {
		if !inScope(id) {
			continue
		}
		currLabel, _ := current.Label(id)

		prevLabel, existed := previous.Label(id)
		if !existed {
			changes.New = append(changes.New, GroupInfo{UUID: id, Label: currLabel})
			continue
		}

		if prevLabel != currLabel {
			changes.Renamed = append(changes.Renamed, GroupRenameInfo{UUID: id, OldLabel: prevLabel, NewLabel: currLabel})
			continue
		}

		added, removed := diffMembers(previous.Members(id), current.Members(id))
		if len(added) > 0 || len(removed) > 0 {
			changes.Modified = append(changes.Modified, GroupModificationInfo{
				UUID:         id,
				Label:        currLabel,
				NodesAdded:   added,
				NodesRemoved: removed,
			})
		}
	}

	for _, id := range previous.Groups() {
		if !inScope(id) {
			continue
		}
		if _, exists := current.Label(id); !exists {
			prevLabel, _ := previous.Label(id)
			changes.Deleted = append(changes.Deleted, GroupInfo{UUID: id, Label: prevLabel})
		}
	}

	return changes
}

// diffMembers returns the identities present only in curr (added) and only
// in prev (removed). Both inputs are sorted, so a two-pointer sweep suffices.
func diffMembers(prev, curr []uuid.UUID) (added, removed []uuid.UUID) {
	i, j := 0, 0
	for i < len(prev) && j < len(curr) {
		switch {
		case prev[i] == curr[j]:
			i++
			j++
		case prev[i].String() < curr[j].String():
			removed = append(removed, prev[i])
			i++
		default:
			added = append(added, curr[j])
			j++
		}
	}
	removed = append(removed, prev[i:]...)
	added = append(added, curr[j:]...)
	return added, removed
}
