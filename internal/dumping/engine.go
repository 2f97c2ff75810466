package dumping

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/provdump/provdump/internal/orm"
)

// Target is the closed set of dump targets: one process node, one group, or
// an entire profile.
type Target interface {
	describe() string
}

// ProcessTarget dumps a single process node at the output root.
type ProcessTarget struct {
	Node *orm.Node
}

func (t ProcessTarget) describe() string {
	return fmt.Sprintf("process node (PK: %d)", t.Node.PK)
}

// GroupTarget dumps one group's members.
type GroupTarget struct {
	Group *orm.Group
}

func (t GroupTarget) describe() string {
	return fmt.Sprintf("group %q (PK: %d)", t.Group.Label, t.Group.PK)
}

// ProfileTarget dumps an entire profile, organized by groups.
type ProfileTarget struct {
	Name string
}

func (t ProfileTarget) describe() string {
	return fmt.Sprintf("profile %q", t.Name)
}

// Engine coordinates one dump invocation: it owns the tracker for the
// duration of the run and is the only component permitted to persist it.
// A single Dump call is blocking and synchronous; there is no internal
// parallelism.
type Engine struct {
	cfg      Config
	reader   GraphReader
	target   Target
	basePath string

	paths       *PathResolver
	fs          *Manager
	tracker     *Tracker
	times       DumpTimes
	detector    *ChangeDetector
	planner     *Planner
	content     *ContentGenerator
	dumper      *NodeDumper
	groupProc   *GroupProcessor
	profileProc *ProfileProcessor
	deleter     *DeletionExecutor

	log    *slog.Logger
	report io.Writer

	mapping *GroupNodeMapping // current snapshot, built once per run
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the structured reporter used for progress output.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithReportWriter sets the destination of the dry-run change table.
func WithReportWriter(w io.Writer) Option {
	return func(e *Engine) { e.report = w }
}

// New wires an engine for one invocation. The tracker log under outputPath
// is loaded here; Dump persists it at the end of a successful run.
func New(reader GraphReader, target Target, outputPath string, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	basePath, err := filepath.Abs(outputPath)
	if err != nil {
		return nil, fmt.Errorf("resolve output path %s: %w", outputPath, err)
	}

	e := &Engine{
		cfg:      cfg,
		reader:   reader,
		target:   target,
		basePath: basePath,
		log:      slog.Default(),
		report:   os.Stdout,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.paths = NewPathResolver(cfg, basePath)
	e.fs = NewManager(cfg.Mode, e.log)

	e.tracker, err = LoadTracker(e.paths.TrackingLogPath())
	if err != nil {
		return nil, err
	}
	e.times = NewDumpTimes(e.tracker.LastDumpTime())

	e.detector = NewChangeDetector(reader, e.tracker, cfg, e.log)
	e.planner = NewPlanner(cfg, e.tracker)
	e.content = NewContentGenerator(cfg, reader, e.log)
	e.dumper = NewNodeDumper(e.planner, e.fs, e.content, e.tracker, reader, e.log)
	e.groupProc = NewGroupProcessor(e.dumper, e.fs, e.paths, e.log)
	e.profileProc = NewProfileProcessor(e.groupProc)
	e.deleter = NewDeletionExecutor(e.fs, e.paths, e.tracker, e.log)

	return e, nil
}

// Tracker exposes the engine's tracker for inspection after a run. Callers
// must not persist it themselves.
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// Dump executes the invocation: detection, deletions, dumping, and the
// single tracker flush. A dry run performs detection only and renders the
// change table to the report writer.
func (e *Engine) Dump(ctx context.Context) error {
	if e.cfg.Mode != ModeDryRun {
		e.log.Info("starting dump", "target", e.target.describe(), "mode", string(e.cfg.Mode), "path", e.basePath)
	}

	if err := e.fs.Prepare(e.basePath, false); err != nil {
		return err
	}
	if e.cfg.Mode != ModeDryRun {
		if err := e.checkStoredConfig(); err != nil {
			return err
		}
	}

	var (
		err         error
		withMapping bool
	)
	switch target := e.target.(type) {
	case ProcessTarget:
		err = e.dumpProcess(ctx, target.Node)
	case GroupTarget:
		withMapping = true
		err = e.dumpGroup(ctx, target.Group)
	case ProfileTarget:
		withMapping = true
		err = e.dumpProfile(ctx)
	default:
		return NewConfigError(fmt.Sprintf("unsupported dump target %T", e.target))
	}
	if err != nil {
		return err
	}

	if e.cfg.Mode == ModeDryRun {
		return nil
	}

	// Persisted after the dump: an in-place update of a process target
	// regenerates the output root itself and would take an earlier copy of
	// the config file with it.
	if err := SaveConfigFile(e.paths.ConfigFilePath(), e.cfg); err != nil {
		return err
	}

	var mapping *GroupNodeMapping
	if withMapping {
		if mapping, err = e.currentMapping(ctx); err != nil {
			return err
		}
	}

	e.log.Info("saving dump log", "path", e.paths.TrackingLogPath())
	return e.tracker.Save(e.times.Current, mapping)
}

// checkStoredConfig compares the layout-shaping options of this run against
// the config persisted by the tree's previous run. Changing them against an
// existing tree would interleave two incompatible layouts; overwrite mode
// accepts the new layout instead.
func (e *Engine) checkStoredConfig() error {
	stored, err := LoadConfigFile(e.paths.ConfigFilePath(), e.cfg)
	if err != nil {
		return err
	}
	if e.cfg.Mode == ModeOverwrite {
		return nil
	}
	if stored.FlatLayout != e.cfg.FlatLayout {
		return NewConfigError("flat_layout conflicts with the existing dump tree; rerun in overwrite mode to change the layout")
	}
	if stored.OrganizeByGroups != e.cfg.OrganizeByGroups {
		return NewConfigError("organize_by_groups conflicts with the existing dump tree; rerun in overwrite mode to change the layout")
	}
	return nil
}

// currentMapping builds and caches the current group membership snapshot.
func (e *Engine) currentMapping(ctx context.Context) (*GroupNodeMapping, error) {
	if e.mapping != nil {
		return e.mapping, nil
	}
	memberships, err := e.reader.GroupMemberships(ctx)
	if err != nil {
		return nil, NewStoreError("query group memberships", err)
	}
	e.mapping = BuildGroupNodeMapping(memberships)
	return e.mapping, nil
}

// dumpProcess dumps a single process node at the output root.
func (e *Engine) dumpProcess(ctx context.Context, node *orm.Node) error {
	if !node.IsProcess() {
		return NewConfigError(fmt.Sprintf("node %s has kind %q, expected a process node", node.UUID, node.Kind))
	}
	if !node.Sealed {
		return NewValidationError(node.UUID.String(), "cannot dump unsealed process node")
	}

	if e.cfg.Mode == ModeDryRun {
		var changes DumpChanges
		record, _, ok := e.tracker.GetEntry(node.UUID)
		if !ok || NeedsUpdate(node, record) {
			changes.Nodes.NewOrModified.Append(node)
		} else {
			changes.Nodes.Unchanged.Append(node)
		}
		_, err := fmt.Fprint(e.report, changes.RenderTable())
		return err
	}

	if err := e.dumper.DumpNode(ctx, node, e.basePath); err != nil {
		return err
	}
	return GenerateReadme(ctx, e.reader, node, e.basePath)
}

// dumpGroup dumps one group's members, driven by change detection.
func (e *Engine) dumpGroup(ctx context.Context, group *orm.Group) error {
	nodeChanges, err := e.detector.DetectNodeChanges(ctx, group)
	if err != nil {
		return err
	}

	current, err := e.currentMapping(ctx)
	if err != nil {
		return err
	}
	groupChanges := e.detector.DetectGroupChanges(e.tracker.PreviousMapping(), current, &group.UUID)
	changes := DumpChanges{Nodes: nodeChanges, Groups: groupChanges}

	if e.cfg.Mode == ModeDryRun {
		_, err := fmt.Fprint(e.report, changes.RenderTable())
		return err
	}

	// Deletions complete before any dumping begins, so a reused path cannot
	// collide with a deleted entity's old output.
	if e.cfg.DeleteMissing {
		if err := e.deleter.Execute(changes, e.tracker.PreviousMapping()); err != nil {
			return err
		}
	}

	if err := e.handleGroupLifecycle(groupChanges); err != nil {
		return err
	}

	if !nodeChanges.NewOrModified.IsEmpty() {
		return e.groupProc.ProcessGroup(ctx, group, nodeChanges.NewOrModified)
	}
	return nil
}

// dumpProfile dumps every selected group of the profile, then optionally the
// ungrouped bucket.
func (e *Engine) dumpProfile(ctx context.Context) error {
	if !e.cfg.AllEntries && len(e.cfg.Groups) == 0 && !e.cfg.AlsoUngrouped {
		return NewConfigError("profile dump requires all_entries, groups, or also_ungrouped")
	}

	nodeChanges, err := e.detector.DetectNodeChanges(ctx, nil)
	if err != nil {
		return err
	}

	current, err := e.currentMapping(ctx)
	if err != nil {
		return err
	}
	groupChanges := e.detector.DetectGroupChanges(e.tracker.PreviousMapping(), current, nil)
	changes := DumpChanges{Nodes: nodeChanges, Groups: groupChanges}

	if changes.IsEmpty() && !e.cfg.AlsoUngrouped {
		e.log.Info("no changes detected since last dump, nothing to do")
		return nil
	}

	if e.cfg.Mode == ModeDryRun {
		_, err := fmt.Fprint(e.report, changes.RenderTable())
		return err
	}

	if e.cfg.DeleteMissing {
		if err := e.deleter.Execute(changes, e.tracker.PreviousMapping()); err != nil {
			return err
		}
	}

	if err := e.handleGroupLifecycle(groupChanges); err != nil {
		return err
	}

	work, err := e.profileWork(ctx, nodeChanges, current)
	if err != nil {
		return err
	}
	if err := e.profileProc.ProcessProfile(ctx, work); err != nil {
		return err
	}

	if e.cfg.AlsoUngrouped {
		return e.processUngrouped(ctx)
	}
	return nil
}

// profileWork selects the groups to process and assigns each its share of
// the detected node changes, based on current membership.
func (e *Engine) profileWork(ctx context.Context, nodeChanges NodeChanges, current *GroupNodeMapping) ([]GroupWork, error) {
	var groups []*orm.Group
	switch {
	case e.cfg.AllEntries:
		all, err := e.reader.Groups(ctx)
		if err != nil {
			return nil, NewStoreError("query groups", err)
		}
		groups = all
	case len(e.cfg.Groups) > 0:
		for _, label := range e.cfg.Groups {
			group, err := e.resolveGroup(ctx, label)
			if err != nil {
				return nil, err
			}
			groups = append(groups, group)
		}
	}

	var work []GroupWork
	for _, group := range groups {
		var queue ProcessingQueue
		for _, node := range nodeChanges.NewOrModified.All() {
			if current.Contains(group.UUID, node.UUID) {
				queue.Append(node)
			}
		}
		if !queue.IsEmpty() {
			work = append(work, GroupWork{Group: group, Queue: queue})
		}
	}
	return work, nil
}

func (e *Engine) resolveGroup(ctx context.Context, identifier string) (*orm.Group, error) {
	type labelReader interface {
		GroupByLabel(ctx context.Context, label string) (*orm.Group, error)
	}
	if byLabel, ok := e.reader.(labelReader); ok {
		if group, err := byLabel.GroupByLabel(ctx, identifier); err == nil {
			return group, nil
		}
	}
	id, err := uuid.Parse(identifier)
	if err != nil {
		return nil, NewConfigError(fmt.Sprintf("unknown group %q", identifier))
	}
	group, err := e.reader.GroupByUUID(ctx, id)
	if err != nil {
		return nil, NewStoreError(fmt.Sprintf("load group %q", identifier), err)
	}
	return group, nil
}

// handleGroupLifecycle applies group-level events: renamed group directories
// are moved (with tracker paths rebased) when relabeling is enabled; new and
// deleted groups are reported. Membership additions are covered by node
// detection, removals by the deletion executor.
func (e *Engine) handleGroupLifecycle(groupChanges GroupChanges) error {
	if groupChanges.IsEmpty() {
		return nil
	}

	if len(groupChanges.New) > 0 {
		e.log.Info("detected new groups", "count", len(groupChanges.New))
	}
	if len(groupChanges.Deleted) > 0 {
		e.log.Info("detected deleted groups", "count", len(groupChanges.Deleted))
	}

	if !e.cfg.RelabelGroups {
		return nil
	}
	for _, rename := range groupChanges.Renamed {
		if err := e.handleGroupRename(rename); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) handleGroupRename(rename GroupRenameInfo) error {
	oldPath := e.paths.GroupPath(&orm.Group{UUID: rename.UUID, Label: rename.OldLabel})
	newPath := e.paths.GroupPath(&orm.Group{UUID: rename.UUID, Label: rename.NewLabel})
	if oldPath == newPath {
		return nil
	}

	if _, err := os.Stat(oldPath); err == nil {
		if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
			return fmt.Errorf("prepare renamed group directory %s: %w", newPath, err)
		}
		if err := os.Rename(oldPath, newPath); err != nil {
			return fmt.Errorf("rename group directory %s -> %s: %w", oldPath, newPath, err)
		}
		e.log.Info("renamed group directory", "from", oldPath, "to", newPath)
	}

	e.tracker.UpdatePaths(oldPath, newPath)
	return nil
}

// processUngrouped dumps nodes that belong to no group into the ungrouped
// bucket, skipping nodes that already have a representation there.
func (e *Engine) processUngrouped(ctx context.Context) error {
	queue, err := e.detector.UngroupedNodes(ctx)
	if err != nil {
		return err
	}

	ungroupedPath := e.paths.UngroupedPath()
	var pending ProcessingQueue
	for _, node := range queue.All() {
		if e.hasRepresentationUnder(node, ungroupedPath) {
			continue
		}
		pending.Append(node)
	}
	if pending.IsEmpty() {
		return nil
	}

	e.log.Info("dumping ungrouped nodes", "count", pending.Len())
	if err := e.fs.Prepare(ungroupedPath, false); err != nil {
		return err
	}

	for _, node := range pending.All() {
		nodePath, err := e.paths.NodePath(node, ungroupedPath)
		if err != nil {
			return err
		}
		if err := e.dumper.DumpNode(ctx, node, nodePath); err != nil {
			return err
		}
	}
	return nil
}

// hasRepresentationUnder reports whether any of the node's recorded paths
// (primary, symlinks, duplicates) lives under the given directory and still
// exists on disk.
func (e *Engine) hasRepresentationUnder(node *orm.Node, base string) bool {
	record, _, ok := e.tracker.GetEntry(node.UUID)
	if !ok {
		return false
	}
	for _, p := range record.AllPaths() {
		if !isUnder(p, base) {
			continue
		}
		if _, err := os.Lstat(p); err == nil {
			return true
		}
	}
	return false
}
