package dumping

import (
	"sort"

	"github.com/provdump/provdump/internal/orm"
)

// ProcessingQueue is the ephemeral work list of one pass, split by kind so
// processors can lay calculations and workflows out separately.
type ProcessingQueue struct {
	Calculations []*orm.Node
	Workflows    []*orm.Node
}

// Append adds a node to the matching list. Non-process nodes are ignored.
func (q *ProcessingQueue) Append(node *orm.Node) {
	switch node.Kind {
	case orm.KindCalculation:
		q.Calculations = append(q.Calculations, node)
	case orm.KindWorkflow:
		q.Workflows = append(q.Workflows, node)
	}
}

// IsEmpty reports whether there is no work left.
func (q *ProcessingQueue) IsEmpty() bool {
	return len(q.Calculations) == 0 && len(q.Workflows) == 0
}

// Len returns the total number of queued nodes.
func (q *ProcessingQueue) Len() int {
	return len(q.Calculations) + len(q.Workflows)
}

// All flattens the queue: calculations first, then workflows.
func (q *ProcessingQueue) All() []*orm.Node {
	all := make([]*orm.Node, 0, q.Len())
	all = append(all, q.Calculations...)
	all = append(all, q.Workflows...)
	return all
}

// SortByCTime orders both lists by creation time ascending, so sibling
// directory numbering is deterministic and human-sensible.
func (q *ProcessingQueue) SortByCTime() {
	byCTime := func(nodes []*orm.Node) {
		sort.SliceStable(nodes, func(i, j int) bool {
			if nodes[i].CTime.Equal(nodes[j].CTime) {
				return nodes[i].PK < nodes[j].PK
			}
			return nodes[i].CTime.Before(nodes[j].CTime)
		})
	}
	byCTime(q.Calculations)
	byCTime(q.Workflows)
}
