package dumping

import (
	"context"
	"log/slog"

	"github.com/provdump/provdump/internal/orm"
)

// GroupProcessor iterates the planner and dumper over one group's member
// nodes.
type GroupProcessor struct {
	dumper *NodeDumper
	fs     *Manager
	paths  *PathResolver
	log    *slog.Logger
}

// NewGroupProcessor wires a group processor.
func NewGroupProcessor(dumper *NodeDumper, fs *Manager, paths *PathResolver, log *slog.Logger) *GroupProcessor {
	return &GroupProcessor{dumper: dumper, fs: fs, paths: paths, log: log}
}

// ProcessGroup dumps the queued nodes under the group's directory,
// calculations first, then workflows, each ordered by creation time.
func (p *GroupProcessor) ProcessGroup(ctx context.Context, group *orm.Group, queue ProcessingQueue) error {
	groupPath := p.paths.GroupPath(group)
	if err := p.fs.Prepare(groupPath, false); err != nil {
		return err
	}

	queue.SortByCTime()
	p.log.Info("processing group", "group", group.Label, "nodes", queue.Len())

	for _, node := range queue.All() {
		nodePath, err := p.paths.NodePath(node, groupPath)
		if err != nil {
			return err
		}
		if err := p.dumper.DumpNode(ctx, node, nodePath); err != nil {
			return err
		}
	}
	return nil
}

// GroupWork pairs a group with the nodes still to be dumped for it.
type GroupWork struct {
	Group *orm.Group
	Queue ProcessingQueue
}

// ProfileProcessor iterates the group processor over a whole profile's
// groups.
type ProfileProcessor struct {
	groups *GroupProcessor
}

// NewProfileProcessor wires a profile processor.
func NewProfileProcessor(groups *GroupProcessor) *ProfileProcessor {
	return &ProfileProcessor{groups: groups}
}

// ProcessProfile dumps every group's pending work. Cross-group ordering
// carries no guarantee.
func (p *ProfileProcessor) ProcessProfile(ctx context.Context, work []GroupWork) error {
	for _, gw := range work {
		if gw.Queue.IsEmpty() {
			continue
		}
		if err := p.groups.ProcessGroup(ctx, gw.Group, gw.Queue); err != nil {
			return err
		}
	}
	return nil
}
