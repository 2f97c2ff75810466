package dumping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Names of the tracker's two sub-registries. Every dumped entity lives in
// exactly one of them, keyed by its kind.
const (
	RegistryCalculations = "calculations"
	RegistryWorkflows    = "workflows"
)

// DumpRecord is one tracker entry per previously-dumped entity.
//
// The primary path is the canonical materialized location; symlinks and
// duplicates are satellites of it and never get their own record. A path
// appears in at most one record's (primary, symlinks, duplicates) set at any
// time.
type DumpRecord struct {
	// Path is the absolute primary output path.
	Path string `json:"path"`

	// DirMtime is the directory modification time captured after the last
	// completed dump. Nil means the dump never finalized (crash mid-run);
	// the next run takes the update path to repair it.
	DirMtime *time.Time `json:"dir_mtime,omitempty"`

	// DirSize is the total directory size captured after the last dump.
	DirSize int64 `json:"dir_size,omitempty"`

	// Symlinks are absolute paths of symlinks pointing at the primary.
	Symlinks []string `json:"symlinks,omitempty"`

	// Duplicates are absolute paths of independent materialized copies.
	Duplicates []string `json:"duplicates,omitempty"`
}

// AddSymlink appends a symlink path; duplicates are ignored.
func (r *DumpRecord) AddSymlink(path string) {
	if !containsPath(r.Symlinks, path) {
		r.Symlinks = append(r.Symlinks, path)
	}
}

// AddDuplicate appends a duplicate-copy path; duplicates are ignored.
func (r *DumpRecord) AddDuplicate(path string) {
	if !containsPath(r.Duplicates, path) {
		r.Duplicates = append(r.Duplicates, path)
	}
}

// AllPaths returns the primary, symlink, and duplicate paths of the record.
func (r *DumpRecord) AllPaths() []string {
	paths := make([]string, 0, 1+len(r.Symlinks)+len(r.Duplicates))
	paths = append(paths, r.Path)
	paths = append(paths, r.Symlinks...)
	paths = append(paths, r.Duplicates...)
	return paths
}

// UpdateStatsFromPath re-scans the primary directory and refreshes the
// stored mtime and size. Called after a dump completes, which is what makes
// crash-interrupted records detectable (their stats stay nil).
//
// The stored mtime is floored at the entity's source mtime: when the source
// clock runs ahead of the filesystem clock, the walked directory mtime alone
// would stay behind the source forever and the entity would be re-planned as
// an update on every run.
func (r *DumpRecord) UpdateStatsFromPath(path string, sourceMtime time.Time) error {
	mtime, size, err := DirStats(path)
	if err != nil {
		return err
	}
	if source := sourceMtime.UTC(); mtime == nil || source.After(mtime.UTC()) {
		mtime = &source
	}
	r.DirMtime = mtime
	r.DirSize = size
	return nil
}

// rebase rewrites every path of the record that lives under oldBase to live
// under newBase. Used when a group directory is renamed.
func (r *DumpRecord) rebase(oldBase, newBase string) {
	r.Path = rebasePath(r.Path, oldBase, newBase)
	for i, p := range r.Symlinks {
		r.Symlinks[i] = rebasePath(p, oldBase, newBase)
	}
	for i, p := range r.Duplicates {
		r.Duplicates[i] = rebasePath(p, oldBase, newBase)
	}
}

func rebasePath(path, oldBase, newBase string) string {
	rel, err := filepath.Rel(oldBase, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	if rel == "." {
		return newBase
	}
	return filepath.Join(newBase, rel)
}

func containsPath(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}

// Registry is one of the tracker's sub-registries: a flat map from entity
// identity to its record. Records hold no cross-references, so the arena has
// no cycles.
type Registry struct {
	entries map[uuid.UUID]*DumpRecord
}

func newRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]*DumpRecord)}
}

// AddEntry registers a record for an entity, replacing any previous one.
func (g *Registry) AddEntry(id uuid.UUID, record *DumpRecord) {
	g.entries[id] = record
}

// Get returns the record for an entity.
func (g *Registry) Get(id uuid.UUID) (*DumpRecord, bool) {
	record, ok := g.entries[id]
	return record, ok
}

// Delete removes an entity's record.
func (g *Registry) Delete(id uuid.UUID) {
	delete(g.entries, id)
}

// Len returns the number of records.
func (g *Registry) Len() int {
	return len(g.entries)
}

// UUIDs returns the registered identities, sorted.
func (g *Registry) UUIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(g.entries))
	for id := range g.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Tracker is the persistent registry mapping entity identity to dump state:
// output path, derived stats, symlink set, duplicate set. It also carries the
// last successful dump time and the last-persisted group membership snapshot.
//
// Exactly one Tracker exists per engine invocation. It is loaded at engine
// construction and flushed once, atomically, at the very end of a successful
// run; a run that fails earlier leaves the previous durable state intact.
type Tracker struct {
	logPath      string
	registries   map[string]*Registry
	lastDumpTime *time.Time
	groupMapping *GroupNodeMapping
}

// trackerFile is the on-disk JSON layout of the tracker log.
type trackerFile struct {
	Calculations map[string]*DumpRecord    `json:"calculations"`
	Workflows    map[string]*DumpRecord    `json:"workflows"`
	LastDumpTime *time.Time                `json:"last_dump_time,omitempty"`
	Groups       map[string]trackerFileGrp `json:"group_node_mapping,omitempty"`
}

type trackerFileGrp struct {
	Label string   `json:"label"`
	Nodes []string `json:"nodes"`
}

// LoadTracker reads the tracker log at logPath. A missing file is not an
// error: an empty tracker is returned, so the first run of a target takes
// the dump-primary path for everything.
func LoadTracker(logPath string) (*Tracker, error) {
	t := &Tracker{
		logPath: logPath,
		registries: map[string]*Registry{
			RegistryCalculations: newRegistry(),
			RegistryWorkflows:    newRegistry(),
		},
	}

	raw, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tracker log %s: %w", logPath, err)
	}

	var file trackerFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode tracker log %s: %w", logPath, err)
	}

	if err := loadRegistry(t.registries[RegistryCalculations], file.Calculations); err != nil {
		return nil, fmt.Errorf("tracker log %s: %w", logPath, err)
	}
	if err := loadRegistry(t.registries[RegistryWorkflows], file.Workflows); err != nil {
		return nil, fmt.Errorf("tracker log %s: %w", logPath, err)
	}
	t.lastDumpTime = file.LastDumpTime

	if file.Groups != nil {
		mapping := NewGroupNodeMapping()
		for rawGroup, entry := range file.Groups {
			groupUUID, err := uuid.Parse(rawGroup)
			if err != nil {
				return nil, fmt.Errorf("tracker log %s: parse group uuid %q: %w", logPath, rawGroup, err)
			}
			members := make([]uuid.UUID, 0, len(entry.Nodes))
			for _, rawNode := range entry.Nodes {
				nodeUUID, err := uuid.Parse(rawNode)
				if err != nil {
					return nil, fmt.Errorf("tracker log %s: parse node uuid %q: %w", logPath, rawNode, err)
				}
				members = append(members, nodeUUID)
			}
			mapping.Add(groupUUID, entry.Label, members...)
		}
		t.groupMapping = mapping
	}

	return t, nil
}

func loadRegistry(reg *Registry, entries map[string]*DumpRecord) error {
	for raw, record := range entries {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse entity uuid %q: %w", raw, err)
		}
		reg.AddEntry(id, record)
	}
	return nil
}

// Registry returns the named sub-registry, or nil for an unknown name.
func (t *Tracker) Registry(name string) *Registry {
	return t.registries[name]
}

// GetEntry looks an entity up across both registries, returning its record
// and the registry name it was found in.
func (t *Tracker) GetEntry(id uuid.UUID) (*DumpRecord, string, bool) {
	for _, name := range []string{RegistryCalculations, RegistryWorkflows} {
		if record, ok := t.registries[name].Get(id); ok {
			return record, name, true
		}
	}
	return nil, "", false
}

// DeleteEntry removes an entity's record from whichever registry holds it.
func (t *Tracker) DeleteEntry(id uuid.UUID) {
	for _, reg := range t.registries {
		reg.Delete(id)
	}
}

// Len returns the total number of records across registries.
func (t *Tracker) Len() int {
	total := 0
	for _, reg := range t.registries {
		total += reg.Len()
	}
	return total
}

// LastDumpTime returns the logical timestamp of the last successful run, or
// nil on a fresh tree.
func (t *Tracker) LastDumpTime() *time.Time {
	return t.lastDumpTime
}

// PreviousMapping returns the group membership snapshot persisted by the
// last successful run, or nil if none was recorded.
func (t *Tracker) PreviousMapping() *GroupNodeMapping {
	return t.groupMapping
}

// UpdatePaths rebases every recorded path under oldBase to newBase. Invoked
// after a group directory rename so records keep pointing at real paths.
func (t *Tracker) UpdatePaths(oldBase, newBase string) {
	for _, reg := range t.registries {
		for _, record := range reg.entries {
			record.rebase(oldBase, newBase)
		}
	}
}

// Save serializes both registries, the current dump time, and (when given)
// the current group membership snapshot in one atomic write. Called exactly
// once at the very end of a successful run.
func (t *Tracker) Save(currentTime time.Time, mapping *GroupNodeMapping) error {
	file := trackerFile{
		Calculations: dumpRegistry(t.registries[RegistryCalculations]),
		Workflows:    dumpRegistry(t.registries[RegistryWorkflows]),
	}
	utc := currentTime.UTC()
	file.LastDumpTime = &utc

	if mapping != nil {
		file.Groups = make(map[string]trackerFileGrp, mapping.Len())
		for _, groupUUID := range mapping.Groups() {
			label, _ := mapping.Label(groupUUID)
			members := mapping.Members(groupUUID)
			nodes := make([]string, len(members))
			for i, member := range members {
				nodes[i] = member.String()
			}
			file.Groups[groupUUID.String()] = trackerFileGrp{Label: label, Nodes: nodes}
		}
	}

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tracker log: %w", err)
	}

	// Atomic replace: a crash mid-write leaves the previous log intact.
	tmp := t.logPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write tracker log %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, t.logPath); err != nil {
		return fmt.Errorf("replace tracker log %s: %w", t.logPath, err)
	}

	t.lastDumpTime = &utc
	if mapping != nil {
		t.groupMapping = mapping
	}
	return nil
}

func dumpRegistry(reg *Registry) map[string]*DumpRecord {
	out := make(map[string]*DumpRecord, reg.Len())
	for id, record := range reg.entries {
		out[id.String()] = record
	}
	return out
}
