package dumping

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/provdump/provdump/internal/orm"
)

// ReadmeFileName is the per-dump summary written next to a top-level
// process dump.
const ReadmeFileName = "README.md"

// GenerateReadme writes a README.md summarizing the dumped process: its
// identity, a call-graph status block, and a short report.
func GenerateReadme(ctx context.Context, reader GraphReader, node *orm.Node, dir string) error {
	title := node.ProcessLabel
	if title == "" {
		title = node.ProcessType
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Process dump: %s <%d>\n\n", title, node.PK)
	fmt.Fprintf(&b, "This directory contains files related to process node %d.\n", node.PK)
	fmt.Fprintf(&b, "- **UUID:** %s\n", node.UUID)
	fmt.Fprintf(&b, "- **Type:** %s\n", node.NodeType)

	graph, err := formatCallGraph(ctx, reader, node, 0)
	if err != nil {
		return err
	}
	b.WriteString("\n## Process Status\n\n```\n")
	b.WriteString(graph)
	b.WriteString("```\n")

	b.WriteString("\n## Process Report\n\n```\n")
	fmt.Fprintf(&b, "%s <%d> finished_ok=%t sealed=%t\n", title, node.PK, node.FinishedOK, node.Sealed)
	b.WriteString("```\n")

	target := filepath.Join(dir, ReadmeFileName)
	if err := os.WriteFile(target, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write readme %s: %w", target, err)
	}
	return nil
}

// formatCallGraph renders the called subtree of a process as an indented
// tree, one line per process with its terminal state.
func formatCallGraph(ctx context.Context, reader GraphReader, node *orm.Node, depth int) (string, error) {
	state := "Failed"
	if node.FinishedOK {
		state = "Finished"
	}

	label := node.ProcessLabel
	if label == "" {
		label = node.ProcessType
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s<%d> %s\n", strings.Repeat("    ", depth), label, node.PK, state)

	if !node.IsContainer() {
		return b.String(), nil
	}

	links, err := reader.OutgoingLinks(ctx, node.UUID, orm.CallLinks...)
	if err != nil {
		return "", NewStoreError("resolve call graph", err)
	}
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Node.CTime.Equal(links[j].Node.CTime) {
			return links[i].Node.PK < links[j].Node.PK
		}
		return links[i].Node.CTime.Before(links[j].Node.CTime)
	})

	for _, link := range links {
		if !link.Node.IsProcess() {
			continue
		}
		sub, err := formatCallGraph(ctx, reader, link.Node, depth+1)
		if err != nil {
			return "", err
		}
		b.WriteString(sub)
	}
	return b.String(), nil
}
