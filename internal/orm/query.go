package orm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a node or group does not exist in the store.
var ErrNotFound = errors.New("orm: not found")

// timeLayout is the canonical on-disk timestamp encoding. All timestamps are
// stored and compared in UTC.
const timeLayout = time.RFC3339Nano

// nodeColumns is the select list shared by every node query. The LEFT JOINs
// pull in the owning user/computer in the same round trip.
const nodeColumns = `
	n.pk, n.uuid, n.kind, n.label, n.description,
	n.process_label, n.process_type, n.node_type,
	n.ctime, n.mtime, n.sealed, n.finished_ok,
	u.email, u.first_name, u.last_name, u.institution,
	c.label, c.hostname, c.scheduler_type, c.transport_type
FROM nodes n
LEFT JOIN users u ON u.id = n.user_id
LEFT JOIN computers c ON c.id = n.computer_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var (
		n            Node
		rawUUID      string
		ctime, mtime string
		sealed, okay int
		uEmail       sql.NullString
		uFirst       sql.NullString
		uLast        sql.NullString
		uInst        sql.NullString
		cLabel       sql.NullString
		cHost        sql.NullString
		cSched       sql.NullString
		cTrans       sql.NullString
	)

	err := row.Scan(
		&n.PK, &rawUUID, &n.Kind, &n.Label, &n.Description,
		&n.ProcessLabel, &n.ProcessType, &n.NodeType,
		&ctime, &mtime, &sealed, &okay,
		&uEmail, &uFirst, &uLast, &uInst,
		&cLabel, &cHost, &cSched, &cTrans,
	)
	if err != nil {
		return nil, err
	}

	if n.UUID, err = uuid.Parse(rawUUID); err != nil {
		return nil, fmt.Errorf("parse node uuid %q: %w", rawUUID, err)
	}
	if n.CTime, err = time.Parse(timeLayout, ctime); err != nil {
		return nil, fmt.Errorf("parse ctime of node %s: %w", rawUUID, err)
	}
	if n.MTime, err = time.Parse(timeLayout, mtime); err != nil {
		return nil, fmt.Errorf("parse mtime of node %s: %w", rawUUID, err)
	}
	n.Sealed = sealed != 0
	n.FinishedOK = okay != 0

	if uEmail.Valid {
		n.User = &User{
			FirstName:   uFirst.String,
			LastName:    uLast.String,
			Email:       uEmail.String,
			Institution: uInst.String,
		}
	}
	if cLabel.Valid {
		n.Computer = &Computer{
			Label:         cLabel.String,
			Hostname:      cHost.String,
			SchedulerType: cSched.String,
			TransportType: cTrans.String,
		}
	}

	return &n, nil
}

// NodeByUUID fetches a single node by identity.
// Returns ErrNotFound if no node with the given UUID exists.
func (s *Store) NodeByUUID(ctx context.Context, id uuid.UUID) (*Node, error) {
	row := s.db.QueryRowContext(ctx, "SELECT"+nodeColumns+" WHERE n.uuid = ?", id.String())
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query node %s: %w", id, err)
	}
	return node, nil
}

// NodeExists reports whether a node with the given identity is still present.
func (s *Store) NodeExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM nodes WHERE uuid = ?", id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check node %s: %w", id, err)
	}
	return true, nil
}

// ProcessNodes returns every calculation and workflow node in the store,
// ordered by creation time for deterministic processing.
func (s *Store) ProcessNodes(ctx context.Context) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+nodeColumns+" WHERE n.kind IN ('calculation', 'workflow') ORDER BY n.ctime ASC, n.pk ASC")
	if err != nil {
		return nil, fmt.Errorf("query process nodes: %w", err)
	}
	return collectNodes(rows)
}

// GroupNodes returns the process nodes that are direct members of a group,
// ordered by creation time.
func (s *Store) GroupNodes(ctx context.Context, groupUUID uuid.UUID) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+nodeColumns+`
		JOIN group_nodes gn ON gn.node_uuid = n.uuid
		WHERE gn.group_uuid = ? AND n.kind IN ('calculation', 'workflow')
		ORDER BY n.ctime ASC, n.pk ASC`, groupUUID.String())
	if err != nil {
		return nil, fmt.Errorf("query nodes of group %s: %w", groupUUID, err)
	}
	return collectNodes(rows)
}

// UngroupedProcessNodes returns process nodes that belong to no group,
// ordered by creation time.
func (s *Store) UngroupedProcessNodes(ctx context.Context) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+nodeColumns+`
		WHERE n.kind IN ('calculation', 'workflow')
		  AND n.uuid NOT IN (SELECT node_uuid FROM group_nodes)
		ORDER BY n.ctime ASC, n.pk ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ungrouped nodes: %w", err)
	}
	return collectNodes(rows)
}

func collectNodes(rows *sql.Rows) ([]*Node, error) {
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// IncomingLinks returns the links arriving at a node, restricted to the given
// link types (all types when none are given). The far-end node is embedded in
// each triple.
func (s *Store) IncomingLinks(ctx context.Context, id uuid.UUID, types ...LinkType) ([]LinkTriple, error) {
	return s.queryLinks(ctx, "l.target_uuid", "l.source_uuid", id, types)
}

// OutgoingLinks returns the links leaving a node, restricted to the given
// link types (all types when none are given).
func (s *Store) OutgoingLinks(ctx context.Context, id uuid.UUID, types ...LinkType) ([]LinkTriple, error) {
	return s.queryLinks(ctx, "l.source_uuid", "l.target_uuid", id, types)
}

func (s *Store) queryLinks(ctx context.Context, anchorCol, farCol string, id uuid.UUID, types []LinkType) ([]LinkTriple, error) {
	query := "SELECT l.link_type, l.link_label," + nodeColumns +
		" JOIN links l ON " + farCol + " = n.uuid WHERE " + anchorCol + " = ?"
	args := []any{id.String()}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, lt := range types {
			placeholders[i] = "?"
			args = append(args, string(lt))
		}
		query += " AND l.link_type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY n.ctime ASC, n.pk ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query links of node %s: %w", id, err)
	}
	defer rows.Close()

	var triples []LinkTriple
	for rows.Next() {
		var (
			lt    LinkType
			label string
		)
		node, err := scanLinkedNode(rows, &lt, &label)
		if err != nil {
			return nil, fmt.Errorf("scan link of node %s: %w", id, err)
		}
		triples = append(triples, LinkTriple{Node: node, Type: lt, Label: label})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links of node %s: %w", id, err)
	}
	return triples, nil
}

// scanLinkedNode scans a row shaped as (link_type, link_label, <nodeColumns>).
func scanLinkedNode(rows *sql.Rows, lt *LinkType, label *string) (*Node, error) {
	var (
		n            Node
		rawUUID      string
		ctime, mtime string
		sealed, okay int
		uEmail       sql.NullString
		uFirst       sql.NullString
		uLast        sql.NullString
		uInst        sql.NullString
		cLabel       sql.NullString
		cHost        sql.NullString
		cSched       sql.NullString
		cTrans       sql.NullString
	)

	err := rows.Scan(
		lt, label,
		&n.PK, &rawUUID, &n.Kind, &n.Label, &n.Description,
		&n.ProcessLabel, &n.ProcessType, &n.NodeType,
		&ctime, &mtime, &sealed, &okay,
		&uEmail, &uFirst, &uLast, &uInst,
		&cLabel, &cHost, &cSched, &cTrans,
	)
	if err != nil {
		return nil, err
	}

	if n.UUID, err = uuid.Parse(rawUUID); err != nil {
		return nil, fmt.Errorf("parse node uuid %q: %w", rawUUID, err)
	}
	if n.CTime, err = time.Parse(timeLayout, ctime); err != nil {
		return nil, fmt.Errorf("parse ctime of node %s: %w", rawUUID, err)
	}
	if n.MTime, err = time.Parse(timeLayout, mtime); err != nil {
		return nil, fmt.Errorf("parse mtime of node %s: %w", rawUUID, err)
	}
	n.Sealed = sealed != 0
	n.FinishedOK = okay != 0

	if uEmail.Valid {
		n.User = &User{FirstName: uFirst.String, LastName: uLast.String, Email: uEmail.String, Institution: uInst.String}
	}
	if cLabel.Valid {
		n.Computer = &Computer{Label: cLabel.String, Hostname: cHost.String, SchedulerType: cSched.String, TransportType: cTrans.String}
	}

	return &n, nil
}

// HasIncoming reports whether the node has at least one incoming link of the
// given types. Used to distinguish top-level processes from sub-processes.
func (s *Store) HasIncoming(ctx context.Context, id uuid.UUID, types ...LinkType) (bool, error) {
	links, err := s.IncomingLinks(ctx, id, types...)
	if err != nil {
		return false, err
	}
	return len(links) > 0, nil
}

// Groups returns all groups in the store ordered by label.
func (s *Store) Groups(ctx context.Context) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT pk, uuid, label FROM groups ORDER BY label ASC, pk ASC")
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// GroupByUUID fetches a single group by identity.
func (s *Store) GroupByUUID(ctx context.Context, id uuid.UUID) (*Group, error) {
	row := s.db.QueryRowContext(ctx, "SELECT pk, uuid, label FROM groups WHERE uuid = ?", id.String())
	group, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	return group, err
}

// GroupByLabel fetches a single group by its current label.
func (s *Store) GroupByLabel(ctx context.Context, label string) (*Group, error) {
	row := s.db.QueryRowContext(ctx, "SELECT pk, uuid, label FROM groups WHERE label = ?", label)
	group, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %q: %w", label, ErrNotFound)
	}
	return group, err
}

func scanGroup(row rowScanner) (*Group, error) {
	var (
		g       Group
		rawUUID string
	)
	if err := row.Scan(&g.PK, &rawUUID, &g.Label); err != nil {
		return nil, err
	}
	var err error
	if g.UUID, err = uuid.Parse(rawUUID); err != nil {
		return nil, fmt.Errorf("parse group uuid %q: %w", rawUUID, err)
	}
	return &g, nil
}

// GroupMemberships returns the current group -> member-identities snapshot
// for every group, including empty groups.
func (s *Store) GroupMemberships(ctx context.Context) ([]GroupMembership, error) {
	groups, err := s.Groups(ctx)
	if err != nil {
		return nil, err
	}

	memberships := make([]GroupMembership, 0, len(groups))
	for _, group := range groups {
		rows, err := s.db.QueryContext(ctx,
			"SELECT node_uuid FROM group_nodes WHERE group_uuid = ? ORDER BY node_uuid ASC", group.UUID.String())
		if err != nil {
			return nil, fmt.Errorf("query members of group %s: %w", group.UUID, err)
		}

		var members []uuid.UUID
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan member of group %s: %w", group.UUID, err)
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("parse member uuid %q: %w", raw, err)
			}
			members = append(members, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate members of group %s: %w", group.UUID, err)
		}
		rows.Close()

		memberships = append(memberships, GroupMembership{Group: group, Members: members})
	}
	return memberships, nil
}

// Attributes returns a node's free-form attributes.
func (s *Store) Attributes(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	return s.jsonColumn(ctx, id, "attributes")
}

// Extras returns a node's free-form extras.
func (s *Store) Extras(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	return s.jsonColumn(ctx, id, "extras")
}

func (s *Store) jsonColumn(ctx context.Context, id uuid.UUID, column string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT "+column+" FROM nodes WHERE uuid = ?", id.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s of node %s: %w", column, id, err)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode %s of node %s: %w", column, id, err)
	}
	return out, nil
}
