package dumping

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/provdump/provdump/internal/orm"
)

// NodeDumper executes planner decisions for single nodes, recursing into
// workflow children depth-first so a workflow's whole subtree completes
// before the parent's stats are finalized.
type NodeDumper struct {
	planner *Planner
	fs      *Manager
	content *ContentGenerator
	tracker *Tracker
	reader  GraphReader
	log     *slog.Logger
}

// NewNodeDumper wires a node dumper.
func NewNodeDumper(planner *Planner, fs *Manager, content *ContentGenerator, tracker *Tracker, reader GraphReader, log *slog.Logger) *NodeDumper {
	return &NodeDumper{planner: planner, fs: fs, content: content, tracker: tracker, reader: reader, log: log}
}

// DumpNode dumps one node at the target path according to the planner's
// decision.
func (d *NodeDumper) DumpNode(ctx context.Context, node *orm.Node, targetPath string) error {
	plan, err := d.planner.PlanNode(node, targetPath)
	if err != nil {
		return err
	}

	d.log.Debug("planned node dump",
		"node", node.UUID, "action", plan.Action.String(), "path", plan.TargetPath)

	switch plan.Action {
	case ActionSkip:
		return nil
	case ActionDumpPrimary:
		return d.executePrimary(ctx, node, plan)
	case ActionUpdate:
		return d.executeUpdate(ctx, node, plan)
	case ActionSymlink:
		return d.executeSymlink(node, plan)
	case ActionDumpDuplicate:
		return d.executeDuplicate(ctx, node, plan)
	default:
		return NewConfigError(fmt.Sprintf("unhandled dump action %s", plan.Action))
	}
}

// executePrimary materializes the node's first copy. The tracker record is
// registered before content generation: a crash mid-generation then leaves a
// discoverable record pointing at a real, marked directory, and the next
// run's update path repairs it instead of colliding.
func (d *NodeDumper) executePrimary(ctx context.Context, node *orm.Node, plan Plan) error {
	if err := d.fs.Prepare(plan.TargetPath, true); err != nil {
		return err
	}

	abs, err := filepath.Abs(plan.TargetPath)
	if err != nil {
		return fmt.Errorf("resolve target %s: %w", plan.TargetPath, err)
	}
	record := &DumpRecord{Path: abs}
	d.tracker.Registry(plan.RegistryName).AddEntry(node.UUID, record)

	if err := d.generateAndRecurse(ctx, node, plan.TargetPath); err != nil {
		return err
	}
	return record.UpdateStatsFromPath(plan.TargetPath, node.MTime)
}

// executeUpdate regenerates a stale primary in place. The delete is guarded:
// a directory that lost its safeguard marker aborts this node's subtree.
func (d *NodeDumper) executeUpdate(ctx context.Context, node *orm.Node, plan Plan) error {
	if err := d.fs.Delete(plan.TargetPath); err != nil {
		return err
	}
	if err := d.fs.Prepare(plan.TargetPath, true); err != nil {
		return err
	}
	if err := d.generateAndRecurse(ctx, node, plan.TargetPath); err != nil {
		return err
	}
	return plan.Record.UpdateStatsFromPath(plan.TargetPath, node.MTime)
}

func (d *NodeDumper) executeSymlink(node *orm.Node, plan Plan) error {
	if err := d.fs.Symlink(plan.Record.Path, plan.TargetPath); err != nil {
		return err
	}
	abs, err := filepath.Abs(plan.TargetPath)
	if err != nil {
		return fmt.Errorf("resolve target %s: %w", plan.TargetPath, err)
	}
	plan.Record.AddSymlink(abs)
	return nil
}

// executeDuplicate materializes an independent copy. Duplicates are
// satellites of the original record, never records of their own.
func (d *NodeDumper) executeDuplicate(ctx context.Context, node *orm.Node, plan Plan) error {
	if err := d.fs.Prepare(plan.TargetPath, true); err != nil {
		return err
	}
	abs, err := filepath.Abs(plan.TargetPath)
	if err != nil {
		return fmt.Errorf("resolve target %s: %w", plan.TargetPath, err)
	}
	plan.Record.AddDuplicate(abs)
	return d.generateAndRecurse(ctx, node, plan.TargetPath)
}

func (d *NodeDumper) generateAndRecurse(ctx context.Context, node *orm.Node, path string) error {
	if err := d.content.GenerateAll(ctx, node, path); err != nil {
		return err
	}
	if node.IsContainer() {
		return d.dumpWorkflowChildren(ctx, node, path)
	}
	return nil
}

// dumpWorkflowChildren discovers a workflow's children through its outgoing
// call links, sorted by child creation time ascending, and dumps each at
// parent/childLabel, depth-first.
func (d *NodeDumper) dumpWorkflowChildren(ctx context.Context, workflow *orm.Node, outputPath string) error {
	links, err := d.reader.OutgoingLinks(ctx, workflow.UUID, orm.CallLinks...)
	if err != nil {
		return NewStoreError("resolve called links", err)
	}

	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Node.CTime.Equal(links[j].Node.CTime) {
			return links[i].Node.PK < links[j].Node.PK
		}
		return links[i].Node.CTime.Before(links[j].Node.CTime)
	})

	for index, link := range links {
		if !link.Node.IsProcess() {
			continue
		}
		label := childLabel(index+1, link)
		childPath := filepath.Join(outputPath, label)
		if err := d.DumpNode(ctx, link.Node, childPath); err != nil {
			return err
		}
	}
	return nil
}

// childLabel builds the 1-based positional directory name of a called child:
// index, link label, process label (or type) when it adds information, and
// primary key, joined by dashes with redundant prefixes stripped.
func childLabel(index int, link orm.LinkTriple) string {
	parts := []string{fmt.Sprintf("%02d", index)}
	if link.Label != "" {
		parts = append(parts, link.Label)
	}

	node := link.Node
	switch {
	case node.ProcessLabel != "" && node.ProcessLabel != link.Label:
		parts = append(parts, node.ProcessLabel)
	case node.ProcessType != "" && node.ProcessType != link.Label:
		parts = append(parts, node.ProcessType)
	}
	parts = append(parts, fmt.Sprintf("%d", node.PK))

	label := strings.Join(parts, "-")
	label = strings.ReplaceAll(label, "CALL-", "")
	label = strings.ReplaceAll(label, "None-", "")
	return SanitizeLabel(label)
}
