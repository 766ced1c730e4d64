package db

import (
	"context"
	"fmt"
)

// CommitBatch applies all staged drafts for a session in one transaction.
// Drafts are created in staged order, so a root staged before its children
// can be referenced by title via ParentTitle. Any guard failure aborts the
// whole batch; the store is left unchanged and the session stays cleared.
func (db *DB) CommitBatch(ctx context.Context, sessionID string) error {
	items := db.Staging.GetAndClear(sessionID)
	if items == nil || len(items.Tasks) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Staged root title -> assigned id, for children staged in the same batch.
	rootIDs := make(map[string]string)

	for _, t := range items.Tasks {
		if t.ParentID == nil && t.ParentTitle != "" {
			if id, ok := rootIDs[t.ParentTitle]; ok {
				pid := id
				t.ParentID = &pid
			} else {
				existing, err := db.getRootTaskByTitle(ctx, tx, t.ParentTitle)
				if err != nil {
					return fmt.Errorf("failed to resolve parent %q for staged task %q: %w", t.ParentTitle, t.Title, err)
				}
				if existing == nil {
					return fmt.Errorf("%w: parent task %q not found for staged task %q", ErrValidation, t.ParentTitle, t.Title)
				}
				pid := existing.ID
				t.ParentID = &pid
			}
		}

		if err := db.createTask(ctx, tx, t); err != nil {
			return fmt.Errorf("failed to create staged task %q: %w", t.Title, err)
		}
		if t.IsRoot() {
			rootIDs[t.Title] = t.ID
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}
