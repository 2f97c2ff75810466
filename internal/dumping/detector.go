package dumping

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/provdump/provdump/internal/orm"
)

// NodeChanges partitions the candidate entities of a scope into the nodes
// that need dumping, the nodes that are up to date, and the tracker entries
// whose source entity no longer exists.
type NodeChanges struct {
	NewOrModified ProcessingQueue
	Unchanged     ProcessingQueue
	Deleted       []uuid.UUID
}

// IsEmpty reports whether nothing needs dumping or deleting.
func (c NodeChanges) IsEmpty() bool {
	return c.NewOrModified.IsEmpty() && len(c.Deleted) == 0
}

// ChangeDetector computes the delta between the tracker's last-known state
// and the current graph state. Detection never mutates state; any query
// failure propagates as fatal for the invocation.
type ChangeDetector struct {
	reader  GraphReader
	tracker *Tracker
	cfg     Config
	log     *slog.Logger
}

// NewChangeDetector creates a detector over the invocation's tracker.
func NewChangeDetector(reader GraphReader, tracker *Tracker, cfg Config, log *slog.Logger) *ChangeDetector {
	return &ChangeDetector{reader: reader, tracker: tracker, cfg: cfg, log: log}
}

// DetectNodeChanges partitions the current process nodes of the scope (one
// group, or the entire profile when group is nil) into new-or-modified vs
// unchanged, using the same modification-time comparison as the planner.
// It also collects tracker entries whose source node has been deleted.
//
// Unsealed nodes are excluded: they are still mutable in the source store.
// Sub-processes are excluded from collection scopes; they are reached through
// their caller's recursion instead (calculations only when the
// only-top-level-calculations option is set, sub-workflows always).
func (d *ChangeDetector) DetectNodeChanges(ctx context.Context, group *orm.Group) (NodeChanges, error) {
	var (
		candidates []*orm.Node
		err        error
	)
	if group != nil {
		candidates, err = d.reader.GroupNodes(ctx, group.UUID)
	} else {
		candidates, err = d.reader.ProcessNodes(ctx)
	}
	if err != nil {
		return NodeChanges{}, NewStoreError("detect node changes", err)
	}

	var changes NodeChanges
	for _, node := range candidates {
		if !node.Sealed {
			d.log.Debug("skipping unsealed node", "node", node.UUID)
			continue
		}

		topLevel, err := d.isTopLevel(ctx, node)
		if err != nil {
			return NodeChanges{}, err
		}
		if !topLevel {
			continue
		}

		record, _, ok := d.tracker.GetEntry(node.UUID)
		if !ok || NeedsUpdate(node, record) {
			d.log.Debug("node needs dump", "node", nodeSummary(node))
			changes.NewOrModified.Append(node)
		} else {
			changes.Unchanged.Append(node)
		}
	}
	changes.NewOrModified.SortByCTime()
	changes.Unchanged.SortByCTime()

	deleted, err := d.detectDeletedNodes(ctx)
	if err != nil {
		return NodeChanges{}, err
	}
	changes.Deleted = deleted

	return changes, nil
}

// isTopLevel reports whether the node should be dumped directly in a
// collection scope rather than only through its caller.
func (d *ChangeDetector) isTopLevel(ctx context.Context, node *orm.Node) (bool, error) {
	if node.Kind == orm.KindCalculation && !d.cfg.OnlyTopLevelCalcs {
		return true, nil
	}
	called, err := d.reader.IncomingLinks(ctx, node.UUID, orm.CallLinks...)
	if err != nil {
		return false, NewStoreError("resolve call links", err)
	}
	return len(called) == 0, nil
}

// detectDeletedNodes returns the tracker identities no longer present in the
// graph store.
func (d *ChangeDetector) detectDeletedNodes(ctx context.Context) ([]uuid.UUID, error) {
	var deleted []uuid.UUID
	for _, name := range []string{RegistryCalculations, RegistryWorkflows} {
		for _, id := range d.tracker.Registry(name).UUIDs() {
			exists, err := d.reader.NodeExists(ctx, id)
			if err != nil {
				return nil, NewStoreError("check deleted nodes", err)
			}
			if !exists {
				deleted = append(deleted, id)
			}
		}
	}
	return deleted, nil
}

// DetectGroupChanges diffs the previous and current group membership
// snapshots. When scope is non-nil only changes of that group are reported.
func (d *ChangeDetector) DetectGroupChanges(previous, current *GroupNodeMapping, scope *uuid.UUID) GroupChanges {
	return DiffGroupNodeMappings(previous, current, scope)
}

// UngroupedNodes returns the sealed top-level process nodes that belong to
// no group.
func (d *ChangeDetector) UngroupedNodes(ctx context.Context) (ProcessingQueue, error) {
	nodes, err := d.reader.UngroupedProcessNodes(ctx)
	if err != nil {
		return ProcessingQueue{}, NewStoreError("query ungrouped nodes", err)
	}

	var queue ProcessingQueue
	for _, node := range nodes {
		if !node.Sealed {
			continue
		}
		topLevel, err := d.isTopLevel(ctx, node)
		if err != nil {
			return ProcessingQueue{}, err
		}
		if topLevel {
			queue.Append(node)
		}
	}
	queue.SortByCTime()
	return queue, nil
}
