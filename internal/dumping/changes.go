package dumping

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/provdump/provdump/internal/orm"
)

// DumpChanges aggregates the node-level and group-level deltas of one
// invocation. It is ephemeral; its only consumer beyond the engine itself is
// the dry-run report.
type DumpChanges struct {
	Nodes  NodeChanges
	Groups GroupChanges
}

// IsEmpty reports whether the invocation has nothing to do.
func (c DumpChanges) IsEmpty() bool {
	return c.Nodes.IsEmpty() && c.Groups.IsEmpty()
}

// RenderTable produces the human-readable change report used for dry runs.
func (c DumpChanges) RenderTable() string {
	var b strings.Builder

	b.WriteString("Dump changes\n")
	b.WriteString("============\n\n")

	fmt.Fprintf(&b, "Nodes (new or modified): %d\n", c.Nodes.NewOrModified.Len())
	if !c.Nodes.NewOrModified.IsEmpty() {
		w := tabwriter.NewWriter(&b, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  KIND\tNAME\tUUID")
		for _, node := range c.Nodes.NewOrModified.All() {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", node.Kind, NodeDirName(node), node.UUID)
		}
		w.Flush()
	}

	fmt.Fprintf(&b, "Nodes (unchanged): %d\n", c.Nodes.Unchanged.Len())

	fmt.Fprintf(&b, "Nodes (deleted): %d\n", len(c.Nodes.Deleted))
	for _, id := range c.Nodes.Deleted {
		fmt.Fprintf(&b, "  %s\n", id)
	}

	b.WriteString("\nGroups\n")
	if c.Groups.IsEmpty() {
		b.WriteString("  no group changes\n")
		return b.String()
	}

	for _, info := range c.Groups.New {
		fmt.Fprintf(&b, "  new:      %s (%s)\n", info.Label, info.UUID)
	}
	for _, info := range c.Groups.Deleted {
		fmt.Fprintf(&b, "  deleted:  %s (%s)\n", info.Label, info.UUID)
	}
	for _, info := range c.Groups.Renamed {
		fmt.Fprintf(&b, "  renamed:  %s -> %s (%s)\n", info.OldLabel, info.NewLabel, info.UUID)
	}
	for _, info := range c.Groups.Modified {
		fmt.Fprintf(&b, "  modified: %s (+%d/-%d) (%s)\n", info.Label, len(info.NodesAdded), len(info.NodesRemoved), info.UUID)
	}

	return b.String()
}

// nodeSummary is a compact per-node line used in verbose logging.
func nodeSummary(node *orm.Node) string {
	return fmt.Sprintf("%s %s (%s)", node.Kind, NodeDirName(node), node.UUID)
}
