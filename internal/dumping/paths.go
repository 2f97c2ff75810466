package dumping

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/provdump/provdump/internal/orm"
)

// Well-known names inside a managed output tree.
const (
	// SafeguardFileName is the sentinel placed in every engine-managed
	// directory; its presence is the sole signal that a directory is safe
	// to delete or overwrite.
	SafeguardFileName = ".provdump_safeguard"

	// TrackingLogFileName is the tracker's durable log, one per tree root.
	TrackingLogFileName = "dump_log.json"

	// ConfigFileName is the persisted copy of the options used for the tree.
	ConfigFileName = "dump_config.yaml"

	// MetadataFileName is the per-node metadata summary.
	MetadataFileName = "node_metadata.yaml"

	// GroupsDirName holds per-group subtrees when organizing by groups.
	GroupsDirName = "groups"

	// UngroupedDirName is the bucket for nodes that belong to no group.
	UngroupedDirName = "ungrouped"

	// CalculationsDirName and WorkflowsDirName split a container by kind.
	CalculationsDirName = "calculations"
	WorkflowsDirName    = "workflows"
)

// PathResolver maps domain entities to target filesystem paths. Pure: no I/O.
type PathResolver struct {
	cfg      Config
	basePath string
}

// NewPathResolver creates a resolver rooted at the absolute base output path.
func NewPathResolver(cfg Config, basePath string) *PathResolver {
	return &PathResolver{cfg: cfg, basePath: basePath}
}

// BasePath returns the tree root.
func (r *PathResolver) BasePath() string {
	return r.basePath
}

// TrackingLogPath returns the tracker log location for this tree.
func (r *PathResolver) TrackingLogPath() string {
	return filepath.Join(r.basePath, TrackingLogFileName)
}

// ConfigFilePath returns the persisted config location for this tree.
func (r *PathResolver) ConfigFilePath() string {
	return filepath.Join(r.basePath, ConfigFileName)
}

// GroupPath returns the directory for a group's subtree.
func (r *PathResolver) GroupPath(group *orm.Group) string {
	if !r.cfg.OrganizeByGroups {
		return r.basePath
	}
	return filepath.Join(r.basePath, GroupsDirName, SanitizeLabel(group.Label))
}

// UngroupedPath returns the bucket directory for nodes in no group.
func (r *PathResolver) UngroupedPath() string {
	if r.cfg.AlsoUngrouped && r.cfg.OrganizeByGroups {
		return filepath.Join(r.basePath, UngroupedDirName)
	}
	return r.basePath
}

// NodePath returns the target directory for one node within a parent
// container directory, split by kind.
func (r *PathResolver) NodePath(node *orm.Node, parentPath string) (string, error) {
	typeDir, err := kindDirName(node)
	if err != nil {
		return "", err
	}
	return filepath.Join(parentPath, typeDir, NodeDirName(node)), nil
}

func kindDirName(node *orm.Node) (string, error) {
	switch node.Kind {
	case orm.KindCalculation:
		return CalculationsDirName, nil
	case orm.KindWorkflow:
		return WorkflowsDirName, nil
	default:
		return "", NewConfigError(fmt.Sprintf("wrong node kind %q for node %s", node.Kind, node.UUID))
	}
}

// NodeDirName generates the directory name for a node: the first non-empty
// of label, process label, process type, suffixed with the primary key.
func NodeDirName(node *orm.Node) string {
	var parts []string
	switch {
	case node.Label != "":
		parts = append(parts, node.Label)
	case node.ProcessLabel != "":
		parts = append(parts, node.ProcessLabel)
	case node.ProcessType != "":
		parts = append(parts, node.ProcessType)
	}
	parts = append(parts, fmt.Sprintf("%d", node.PK))
	return SanitizeLabel(strings.Join(parts, "-"))
}

// DefaultDumpDirName generates the default output directory name for a dump
// target when the caller does not pass one explicitly.
func DefaultDumpDirName(prefix, label string, pk int64) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if label != "" {
		parts = append(parts, label)
	}
	if pk > 0 {
		parts = append(parts, fmt.Sprintf("%d", pk))
	}
	return SanitizeLabel(strings.Join(parts, "-"))
}

// SanitizeLabel makes a label usable as a single directory name: NFC
// normalization, path separators and whitespace collapsed to dashes.
func SanitizeLabel(label string) string {
	s := norm.NFC.String(label)
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, string(filepath.Separator), "-")
	s = strings.Join(strings.Fields(s), "-")
	return s
}
