package dumping

import (
	"fmt"
	"path/filepath"

	"github.com/provdump/provdump/internal/orm"
)

// Action is the decision the planner takes for one node at one target path.
type Action int

const (
	// ActionSkip leaves the existing output untouched.
	ActionSkip Action = iota

	// ActionDumpPrimary materializes the node's first, canonical copy.
	ActionDumpPrimary

	// ActionUpdate deletes and regenerates a stale primary in place.
	ActionUpdate

	// ActionSymlink points the target at the existing primary.
	ActionSymlink

	// ActionDumpDuplicate materializes an independent second copy.
	ActionDumpDuplicate
)

// String returns the action name for logs and reports.
func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionDumpPrimary:
		return "dump-primary"
	case ActionUpdate:
		return "update"
	case ActionSymlink:
		return "symlink"
	case ActionDumpDuplicate:
		return "dump-duplicate"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Plan is the ephemeral decision record for dumping a single node. Produced
// and consumed within one dump call; never persisted.
type Plan struct {
	Action       Action
	TargetPath   string
	RegistryName string

	// Record is the pre-existing tracker record the plan concerns, nil for
	// dump-primary.
	Record *DumpRecord
}

// Planner decides what action to take for each node, consulting the tracker.
type Planner struct {
	cfg     Config
	tracker *Tracker
}

// NewPlanner creates a planner over the invocation's tracker.
func NewPlanner(cfg Config, tracker *Tracker) *Planner {
	return &Planner{cfg: cfg, tracker: tracker}
}

// PlanNode determines the action for dumping node at targetPath.
//
//   - No existing record: dump-primary.
//   - Record exists and its primary resolves to the same canonical location:
//     update when the node's mtime advanced past the recorded directory
//     mtime, skip otherwise.
//   - Record exists but the target is a different location (the node is
//     being dumped under a second logical location): symlink for
//     calculations when symlink mode is on, duplicate otherwise. Workflows
//     are never symlinked.
//
// An unrecognized node kind is a configuration/logic error.
func (p *Planner) PlanNode(node *orm.Node, targetPath string) (Plan, error) {
	registryName, err := registryNameFor(node)
	if err != nil {
		return Plan{}, err
	}

	record, _, ok := p.tracker.GetEntry(node.UUID)
	if !ok {
		return Plan{Action: ActionDumpPrimary, TargetPath: targetPath, RegistryName: registryName}, nil
	}

	// A target that is already a recorded symlink satellite is left alone:
	// the primary it points at gets its own update at its own path, and
	// resolving the link here would misplan an update at the link's path.
	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return Plan{}, fmt.Errorf("resolve path %s: %w", targetPath, err)
	}
	if containsPath(record.Symlinks, absTarget) {
		return Plan{Action: ActionSkip, TargetPath: targetPath, RegistryName: registryName, Record: record}, nil
	}

	resolvedTarget, err := canonicalPath(targetPath)
	if err != nil {
		return Plan{}, err
	}
	resolvedLogged, err := canonicalPath(record.Path)
	if err != nil {
		return Plan{}, err
	}

	if resolvedTarget == resolvedLogged {
		action := ActionSkip
		if NeedsUpdate(node, record) {
			action = ActionUpdate
		}
		return Plan{Action: action, TargetPath: targetPath, RegistryName: registryName, Record: record}, nil
	}

	action := ActionDumpDuplicate
	if p.cfg.SymlinkCalcs && node.Kind == orm.KindCalculation {
		action = ActionSymlink
	}
	return Plan{Action: action, TargetPath: targetPath, RegistryName: registryName, Record: record}, nil
}

// NeedsUpdate compares the node's source modification time against the
// record's stored directory mtime, both in UTC. A record without stats (a
// crash-interrupted dump) always needs an update.
func NeedsUpdate(node *orm.Node, record *DumpRecord) bool {
	if record.DirMtime == nil {
		return true
	}
	return node.MTime.UTC().After(record.DirMtime.UTC())
}

func registryNameFor(node *orm.Node) (string, error) {
	switch node.Kind {
	case orm.KindCalculation:
		return RegistryCalculations, nil
	case orm.KindWorkflow:
		return RegistryWorkflows, nil
	default:
		return "", NewConfigError(fmt.Sprintf("unknown node kind %q for node %s", node.Kind, node.UUID))
	}
}

// canonicalPath normalizes a path for identity comparison. Symlinks in
// existing prefixes are resolved so that two spellings of the same location
// compare equal.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// Path does not exist yet; the cleaned absolute form is canonical enough.
	return filepath.Clean(abs), nil
}
