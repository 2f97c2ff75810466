package dumping

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/provdump/provdump/internal/orm"
)

// DeletionExecutor removes output subtrees whose source entities vanished
// from the graph since the last run: deleted nodes, deleted groups, and
// representations of nodes removed from a group's membership.
//
// It always runs to completion before any new dumping begins in a pass, so a
// deleted entity's old path can be reused by a new entity without collision.
// A safeguard violation on one path is collected and surfaced, but does not
// stop the remaining deletions.
type DeletionExecutor struct {
	fs      *Manager
	paths   *PathResolver
	tracker *Tracker
	log     *slog.Logger
}

// NewDeletionExecutor wires a deletion executor.
func NewDeletionExecutor(fs *Manager, paths *PathResolver, tracker *Tracker, log *slog.Logger) *DeletionExecutor {
	return &DeletionExecutor{fs: fs, paths: paths, tracker: tracker, log: log}
}

// Execute processes all deletions implied by the detected changes.
func (e *DeletionExecutor) Execute(changes DumpChanges, previous *GroupNodeMapping) error {
	var errs []error

	for _, info := range changes.Groups.Deleted {
		if err := e.deleteGroup(info); err != nil {
			errs = append(errs, err)
		}
	}

	for _, id := range changes.Nodes.Deleted {
		if err := e.deleteNode(id); err != nil {
			errs = append(errs, err)
		}
	}

	for _, info := range changes.Groups.Modified {
		for _, id := range info.NodesRemoved {
			if err := e.removeGroupRepresentation(id, info); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// deleteNode removes every materialization of a deleted entity: the primary
// directory, all symlinks, all duplicate copies, then the tracker record.
func (e *DeletionExecutor) deleteNode(id uuid.UUID) error {
	record, _, ok := e.tracker.GetEntry(id)
	if !ok {
		return nil
	}

	e.log.Info("removing output of deleted node", "node", id, "path", record.Path)

	var errs []error
	for _, link := range record.Symlinks {
		if err := e.fs.RemoveSymlink(link); err != nil {
			errs = append(errs, err)
		}
	}
	for _, dup := range record.Duplicates {
		if err := e.fs.Delete(dup); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.fs.Delete(record.Path); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		e.tracker.DeleteEntry(id)
	}
	return errors.Join(errs...)
}

// deleteGroup removes a deleted group's directory and drops or trims every
// tracker record that referenced paths inside it.
func (e *DeletionExecutor) deleteGroup(info GroupInfo) error {
	groupPath := e.paths.GroupPath(&orm.Group{UUID: info.UUID, Label: info.Label})
	e.log.Info("removing output of deleted group", "group", info.Label, "path", groupPath)

	if err := e.fs.Delete(groupPath); err != nil {
		return err
	}

	for _, name := range []string{RegistryCalculations, RegistryWorkflows} {
		reg := e.tracker.Registry(name)
		for _, id := range reg.UUIDs() {
			record, _ := reg.Get(id)
			record.Symlinks = dropUnder(record.Symlinks, groupPath)
			record.Duplicates = dropUnder(record.Duplicates, groupPath)
			if isUnder(record.Path, groupPath) {
				reg.Delete(id)
			}
		}
	}
	return nil
}

// removeGroupRepresentation removes a node's satellites under a group it was
// removed from. The primary copy is left alone: it may still be referenced
// from other locations, and disappears with the node itself if the node is
// deleted.
func (e *DeletionExecutor) removeGroupRepresentation(id uuid.UUID, info GroupModificationInfo) error {
	record, _, ok := e.tracker.GetEntry(id)
	if !ok {
		return nil
	}
	groupPath := e.paths.GroupPath(&orm.Group{UUID: info.UUID, Label: info.Label})

	var errs []error
	var keptLinks []string
	for _, link := range record.Symlinks {
		if !isUnder(link, groupPath) {
			keptLinks = append(keptLinks, link)
			continue
		}
		if err := e.fs.RemoveSymlink(link); err != nil {
			errs = append(errs, err)
			keptLinks = append(keptLinks, link)
		}
	}
	record.Symlinks = keptLinks

	var keptDups []string
	for _, dup := range record.Duplicates {
		if !isUnder(dup, groupPath) {
			keptDups = append(keptDups, dup)
			continue
		}
		if err := e.fs.Delete(dup); err != nil {
			errs = append(errs, err)
			keptDups = append(keptDups, dup)
		}
	}
	record.Duplicates = keptDups

	return errors.Join(errs...)
}

func isUnder(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "")
}

func dropUnder(paths []string, base string) []string {
	var kept []string
	for _, p := range paths {
		if !isUnder(p, base) {
			kept = append(kept, p)
		}
	}
	return kept
}
