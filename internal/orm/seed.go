package orm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// The write side of the store. The dump engine never writes to the graph;
// these helpers exist for fixtures, tests, and the demo seeding command.

// NodeSpec describes a node to insert. Zero-value fields get defaults:
// a fresh UUID, current UTC timestamps, empty attributes/extras.
type NodeSpec struct {
	UUID         uuid.UUID
	Kind         NodeKind
	Label        string
	Description  string
	ProcessLabel string
	ProcessType  string
	NodeType     string
	CTime        time.Time
	MTime        time.Time
	Sealed       bool
	FinishedOK   bool
	Attributes   map[string]any
	Extras       map[string]any
	UserEmail    string
	Computer     string
}

// CreateUser inserts a user, or returns the existing one with the same email.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, first_name, last_name, institution) VALUES (?, ?, ?, ?)
		 ON CONFLICT (email) DO NOTHING`,
		u.Email, u.FirstName, u.LastName, u.Institution)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.Email, err)
	}
	return nil
}

// CreateComputer inserts a computer, or returns the existing one with the
// same label.
func (s *Store) CreateComputer(ctx context.Context, c Computer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO computers (label, hostname, scheduler_type, transport_type) VALUES (?, ?, ?, ?)
		 ON CONFLICT (label) DO NOTHING`,
		c.Label, c.Hostname, c.SchedulerType, c.TransportType)
	if err != nil {
		return fmt.Errorf("create computer %s: %w", c.Label, err)
	}
	return nil
}

// CreateNode inserts a new node and returns it with its assigned pk and
// timestamps filled in.
func (s *Store) CreateNode(ctx context.Context, spec NodeSpec) (*Node, error) {
	if spec.UUID == uuid.Nil {
		spec.UUID = uuid.New()
	}
	now := time.Now().UTC()
	if spec.CTime.IsZero() {
		spec.CTime = now
	}
	if spec.MTime.IsZero() {
		spec.MTime = spec.CTime
	}

	attrs, err := encodeJSONMap(spec.Attributes)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	extras, err := encodeJSONMap(spec.Extras)
	if err != nil {
		return nil, fmt.Errorf("encode extras: %w", err)
	}

	var userID, computerID any
	if spec.UserEmail != "" {
		if err := s.db.QueryRowContext(ctx,
			"SELECT id FROM users WHERE email = ?", spec.UserEmail).Scan(&userID); err != nil {
			return nil, fmt.Errorf("resolve user %s: %w", spec.UserEmail, err)
		}
	}
	if spec.Computer != "" {
		if err := s.db.QueryRowContext(ctx,
			"SELECT id FROM computers WHERE label = ?", spec.Computer).Scan(&computerID); err != nil {
			return nil, fmt.Errorf("resolve computer %s: %w", spec.Computer, err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes
		 (uuid, kind, label, description, process_label, process_type, node_type,
		  ctime, mtime, sealed, finished_ok, attributes, extras, user_id, computer_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		spec.UUID.String(), string(spec.Kind), spec.Label, spec.Description,
		spec.ProcessLabel, spec.ProcessType, spec.NodeType,
		spec.CTime.UTC().Format(timeLayout), spec.MTime.UTC().Format(timeLayout),
		boolToInt(spec.Sealed), boolToInt(spec.FinishedOK), attrs, extras, userID, computerID)
	if err != nil {
		return nil, fmt.Errorf("create node %s: %w", spec.UUID, err)
	}

	return s.NodeByUUID(ctx, spec.UUID)
}

// CreateLink inserts a typed link between two existing nodes.
func (s *Store) CreateLink(ctx context.Context, source, target uuid.UUID, lt LinkType, label string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO links (source_uuid, target_uuid, link_type, link_label) VALUES (?, ?, ?, ?)",
		source.String(), target.String(), string(lt), label)
	if err != nil {
		return fmt.Errorf("create %s link %s -> %s: %w", lt, source, target, err)
	}
	return nil
}

// CreateGroup inserts a group and returns it.
func (s *Store) CreateGroup(ctx context.Context, label string) (*Group, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO groups (uuid, label) VALUES (?, ?)", id.String(), label)
	if err != nil {
		return nil, fmt.Errorf("create group %q: %w", label, err)
	}
	return s.GroupByUUID(ctx, id)
}

// AddToGroup adds a node to a group; adding an existing member is a no-op.
func (s *Store) AddToGroup(ctx context.Context, groupUUID, nodeUUID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_nodes (group_uuid, node_uuid) VALUES (?, ?)
		 ON CONFLICT (group_uuid, node_uuid) DO NOTHING`,
		groupUUID.String(), nodeUUID.String())
	if err != nil {
		return fmt.Errorf("add node %s to group %s: %w", nodeUUID, groupUUID, err)
	}
	return nil
}

// RemoveFromGroup removes a node from a group.
func (s *Store) RemoveFromGroup(ctx context.Context, groupUUID, nodeUUID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM group_nodes WHERE group_uuid = ? AND node_uuid = ?",
		groupUUID.String(), nodeUUID.String())
	if err != nil {
		return fmt.Errorf("remove node %s from group %s: %w", nodeUUID, groupUUID, err)
	}
	return nil
}

// RenameGroup changes a group's label. Identity is preserved.
func (s *Store) RenameGroup(ctx context.Context, groupUUID uuid.UUID, newLabel string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE groups SET label = ? WHERE uuid = ?", newLabel, groupUUID.String())
	if err != nil {
		return fmt.Errorf("rename group %s: %w", groupUUID, err)
	}
	return nil
}

// DeleteGroup removes a group and its memberships.
func (s *Store) DeleteGroup(ctx context.Context, groupUUID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM groups WHERE uuid = ?", groupUUID.String())
	if err != nil {
		return fmt.Errorf("delete group %s: %w", groupUUID, err)
	}
	return nil
}

// DeleteNode removes a node, its memberships, links, and repository files.
func (s *Store) DeleteNode(ctx context.Context, nodeUUID uuid.UUID) error {
	id := nodeUUID.String()
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM links WHERE source_uuid = ? OR target_uuid = ?", id, id); err != nil {
		return fmt.Errorf("delete links of node %s: %w", nodeUUID, err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM nodes WHERE uuid = ?", id); err != nil {
		return fmt.Errorf("delete node %s: %w", nodeUUID, err)
	}
	return nil
}

// PutRepoFile inserts or replaces one repository file for a node.
func (s *Store) PutRepoFile(ctx context.Context, nodeUUID uuid.UUID, path string, content []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repo_files (node_uuid, path, content) VALUES (?, ?, ?)
		 ON CONFLICT (node_uuid, path) DO UPDATE SET content = excluded.content`,
		nodeUUID.String(), path, content)
	if err != nil {
		return fmt.Errorf("put repository file %s of node %s: %w", path, nodeUUID, err)
	}
	return nil
}

// SealNode marks a node as sealed and bumps its modification time.
func (s *Store) SealNode(ctx context.Context, nodeUUID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE nodes SET sealed = 1, mtime = ? WHERE uuid = ?",
		time.Now().UTC().Format(timeLayout), nodeUUID.String())
	if err != nil {
		return fmt.Errorf("seal node %s: %w", nodeUUID, err)
	}
	return nil
}

// TouchNode sets a node's modification time.
func (s *Store) TouchNode(ctx context.Context, nodeUUID uuid.UUID, mtime time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE nodes SET mtime = ? WHERE uuid = ?",
		mtime.UTC().Format(timeLayout), nodeUUID.String())
	if err != nil {
		return fmt.Errorf("touch node %s: %w", nodeUUID, err)
	}
	return nil
}

func encodeJSONMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
