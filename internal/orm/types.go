package orm

import (
	"time"

	"github.com/google/uuid"
)

// NodeKind discriminates the closed set of node variants stored in the graph.
//
// The dump engine switches on this single discriminant for planning and path
// resolution; an unknown kind is a logic error, never a recoverable condition.
type NodeKind string

const (
	// KindCalculation is a leaf process node that owns repository files and
	// produces outputs. Calculations may be symlinked when dumped under a
	// second logical location.
	KindCalculation NodeKind = "calculation"

	// KindWorkflow is a composite process node whose identity is its called
	// subtree. Workflows are never symlinked, only duplicated or primary.
	KindWorkflow NodeKind = "workflow"

	// KindData is a file-bearing non-process node linked into calculations
	// as inputs or created outputs.
	KindData NodeKind = "data"
)

// LinkType is the typed edge label connecting two nodes in the graph.
type LinkType string

const (
	// LinkCallCalc connects a workflow to a calculation it called.
	LinkCallCalc LinkType = "call_calc"

	// LinkCallWork connects a workflow to a sub-workflow it called.
	LinkCallWork LinkType = "call_work"

	// LinkInputCalc connects a data node to a calculation consuming it.
	LinkInputCalc LinkType = "input_calc"

	// LinkCreate connects a calculation to a data node it created.
	LinkCreate LinkType = "create"
)

// CallLinks are the outgoing link types that define a workflow's children.
var CallLinks = []LinkType{LinkCallCalc, LinkCallWork}

// RetrievedLinkLabel is the reserved label of the "create" link pointing at a
// calculation's retrieved-output bucket. It is laid out separately from other
// created outputs.
const RetrievedLinkLabel = "retrieved"

// User identifies the owning user of a node.
type User struct {
	FirstName   string
	LastName    string
	Email       string
	Institution string
}

// Computer identifies the computer a calculation ran on.
type Computer struct {
	Label         string
	Hostname      string
	SchedulerType string
	TransportType string
}

// Node is one record of the provenance graph.
//
// Process nodes (calculations, workflows) carry the process-specific fields;
// for data nodes those fields are zero. Identity is the UUID, which survives
// renames; the PK is a per-store integer used only for human-readable labels.
type Node struct {
	UUID        uuid.UUID
	PK          int64
	Kind        NodeKind
	Label       string
	Description string

	ProcessLabel string
	ProcessType  string
	NodeType     string

	CTime time.Time
	MTime time.Time

	// Sealed marks the node as immutable in the source store. Unsealed
	// process nodes must not be dumped.
	Sealed bool

	// FinishedOK reports whether the process terminated successfully.
	FinishedOK bool

	User     *User
	Computer *Computer
}

// IsProcess reports whether the node is a calculation or workflow.
func (n *Node) IsProcess() bool {
	return n.Kind == KindCalculation || n.Kind == KindWorkflow
}

// IsContainer reports whether the node's content is its called subtree
// rather than its own file set.
func (n *Node) IsContainer() bool {
	return n.Kind == KindWorkflow
}

// LinkTriple is one typed edge together with the node on its far end.
type LinkTriple struct {
	Node  *Node
	Type  LinkType
	Label string
}

// Group is a named collection of nodes. Identity is the UUID; the label is
// mutable and may be renamed between dump runs.
type Group struct {
	UUID  uuid.UUID
	PK    int64
	Label string
}

// GroupMembership is one group together with the identities of its current
// member nodes, as returned by a membership snapshot query.
type GroupMembership struct {
	Group   *Group
	Members []uuid.UUID
}
