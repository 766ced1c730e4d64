package db

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshotRecord is one JSONL line. Only canonical fields are exported;
// derived stats are recomputed from the tree after import.
type snapshotRecord struct {
	RecordType string     `json:"record_type"`
	ID         string     `json:"id,omitempty"`
	Title      string     `json:"title,omitempty"`
	ParentID   *string    `json:"parent_id,omitempty"`
	Site       string     `json:"site,omitempty"`
	Status     string     `json:"status,omitempty"`
	Progress   int        `json:"progress,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	Position   float64    `json:"position,omitempty"`
	CreatedBy  string     `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitzero"`
	UpdatedAt  time.Time  `json:"updated_at,omitzero"`

	// meta fields
	Version    int        `json:"version,omitempty"`
	ExportedAt *time.Time `json:"exported_at,omitempty"`
}

// EnableAutoSnapshot sets up a hook that automatically exports a snapshot
// to the given path after every successful write operation.
func (db *DB) EnableAutoSnapshot(path string) {
	db.SetOnChange(func(ctx context.Context) {
		// Hooks are best-effort; a failed export must not fail the write.
		_ = db.ExportSnapshot(ctx, path)
	})
}

// ExportSnapshot writes all tasks to the given path as JSONL, atomically via
// a temporary file. Roots are written before children so a fresh import can
// restore parent references in one pass.
func (db *DB) ExportSnapshot(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
		}
	}()

	rows, err := db.QueryContext(ctx, `
		SELECT id, title, parent_id, site, status, progress, deadline,
		       position, created_by, created_at, updated_at
		FROM tasks
		ORDER BY (parent_id IS NOT NULL) ASC, position ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query snapshot rows: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	meta := snapshotRecord{RecordType: "meta", Version: 1, ExportedAt: &now}
	enc := json.NewEncoder(tempFile)
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("failed to write meta record: %w", err)
	}

	for rows.Next() {
		rec := snapshotRecord{RecordType: "task"}
		err := rows.Scan(
			&rec.ID, &rec.Title, &rec.ParentID, &rec.Site, &rec.Status, &rec.Progress,
			&rec.Deadline, &rec.Position, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to write snapshot line: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	filename := tempFile.Name()
	tempFile = nil // Prevent defer from removing it

	if err := os.Rename(filename, path); err != nil {
		os.Remove(filename)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ImportSnapshot reads a JSONL snapshot and syncs it into the database.
// Tasks are matched by id: existing ones are updated, missing ones inserted.
// Everything happens in one transaction.
func (db *DB) ImportSnapshot(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing := make(map[string]bool)
	err = func() error {
		rows, err := tx.QueryContext(ctx, "SELECT id FROM tasks")
		if err != nil {
			return fmt.Errorf("failed to query tasks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			existing[id] = true
		}
		return rows.Err()
	}()
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec snapshotRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot record: %w", err)
		}

		switch rec.RecordType {
		case "meta":
			// Skip meta
		case "task":
			if rec.ID == "" {
				return fmt.Errorf("snapshot task %q has no id", rec.Title)
			}
			if existing[rec.ID] {
				_, err = tx.ExecContext(ctx, `
					UPDATE tasks
					SET title = ?, parent_id = ?, site = ?, status = ?, progress = ?,
					    deadline = ?, position = ?, created_by = ?, created_at = ?, updated_at = ?
					WHERE id = ?`,
					rec.Title, rec.ParentID, rec.Site, rec.Status, rec.Progress,
					rec.Deadline, rec.Position, rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt, rec.ID)
			} else {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO tasks (id, title, parent_id, site, status, progress,
					                   deadline, position, created_by, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					rec.ID, rec.Title, rec.ParentID, rec.Site, rec.Status, rec.Progress,
					rec.Deadline, rec.Position, rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt)
			}
			if err != nil {
				return fmt.Errorf("failed to sync task %q: %w", rec.Title, err)
			}
			existing[rec.ID] = true
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}
