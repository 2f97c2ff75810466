package orm

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ListRepoFiles returns the relative paths of a node's repository files,
// sorted for deterministic layout. An empty result is not an error: nodes
// with empty repositories are legal and are skipped by the content layer.
func (s *Store) ListRepoFiles(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path FROM repo_files WHERE node_uuid = ? ORDER BY path ASC", id.String())
	if err != nil {
		return nil, fmt.Errorf("list repository of node %s: %w", id, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan repository path of node %s: %w", id, err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repository of node %s: %w", id, err)
	}
	return paths, nil
}

// CopyRepoTree materializes a node's full repository under dest, creating
// intermediate directories as needed. Copying an empty repository is a no-op;
// dest is not created in that case.
func (s *Store) CopyRepoTree(ctx context.Context, id uuid.UUID, dest string) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, content FROM repo_files WHERE node_uuid = ? ORDER BY path ASC", id.String())
	if err != nil {
		return fmt.Errorf("read repository of node %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rel     string
			content []byte
		)
		if err := rows.Scan(&rel, &content); err != nil {
			return fmt.Errorf("scan repository file of node %s: %w", id, err)
		}

		target := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create repository directory for %s: %w", target, err)
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return fmt.Errorf("write repository file %s: %w", target, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate repository of node %s: %w", id, err)
	}
	return nil
}

// ReadRepoFile returns the content of a single repository file.
func (s *Store) ReadRepoFile(ctx context.Context, id uuid.UUID, path string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT content FROM repo_files WHERE node_uuid = ? AND path = ?", id.String(), path).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repository file %s of node %s: %w", path, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read repository file %s of node %s: %w", path, id, err)
	}
	return content, nil
}
