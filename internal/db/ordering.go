package db

import (
	"context"
	"fmt"

	"github.com/ldi/sitetask/pkg/models"
)

// minPositionGap is the smallest gap the midpoint strategy will split.
// Repeated insertion at the same point halves the gap each time; once it
// drops below this the whole scope is renumbered to evenly spaced integers.
const minPositionGap = 1e-9

// ReorderTask moves a task so it sorts immediately after the given sibling,
// or first in its scope when afterID is nil. The guard check and the position
// writes share one transaction: a rejected reorder writes nothing.
func (db *DB) ReorderTask(ctx context.Context, id string, afterID *string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	moved, err := db.getTask(ctx, tx, id)
	if err != nil {
		return err
	}
	if moved == nil {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}

	var after *models.Task
	if afterID != nil {
		after, err = db.getTask(ctx, tx, *afterID)
		if err != nil {
			return err
		}
		if after == nil {
			return fmt.Errorf("%w: task %s", ErrNotFound, *afterID)
		}
	}

	if err := validateReorder(moved, after); err != nil {
		return err
	}

	siblings, err := db.scopeOrder(ctx, tx, moved.ParentID, moved.ID)
	if err != nil {
		return err
	}
	if len(siblings) == 0 {
		// Only task in its scope; nothing to move past.
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}

	newPos, ok := midpointAfter(siblings, after)
	if ok {
		_, err = tx.ExecContext(ctx, `UPDATE tasks SET position = ? WHERE id = ?`, newPos, moved.ID)
		if err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}
	} else {
		// Precision exhausted: renumber the scope to 1..n with the moved
		// task slotted in. Relative order is all callers can observe.
		if err := renumberScope(ctx, tx, siblings, moved, after); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}

type scopeEntry struct {
	id       string
	position float64
}

// scopeOrder returns the ordered siblings of a scope, excluding the moved task.
func (db *DB) scopeOrder(ctx context.Context, exec executor, parentID *string, excludeID string) ([]scopeEntry, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT id, position
		FROM tasks
		WHERE parent_id IS ? AND id != ?
		ORDER BY position ASC, id ASC
	`, parentID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sibling order: %w", err)
	}
	defer rows.Close()

	var entries []scopeEntry
	for rows.Next() {
		var e scopeEntry
		if err := rows.Scan(&e.id, &e.position); err != nil {
			return nil, fmt.Errorf("failed to scan sibling: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return entries, nil
}

// midpointAfter computes the position that sorts the moved task immediately
// after the given sibling. The second return value is false when the
// surrounding gap is too small to split.
func midpointAfter(siblings []scopeEntry, after *models.Task) (float64, bool) {
	if after == nil {
		// Move to the front of the scope.
		return siblings[0].position - 1, true
	}

	idx := -1
	for i, s := range siblings {
		if s.id == after.ID {
			idx = i
			break
		}
	}
	if idx == len(siblings)-1 {
		// After the last sibling: append beyond it.
		return siblings[idx].position + 1, true
	}

	lo := siblings[idx].position
	hi := siblings[idx+1].position
	if hi-lo <= minPositionGap {
		return 0, false
	}
	return lo + (hi-lo)/2, true
}

func renumberScope(ctx context.Context, exec executor, siblings []scopeEntry, moved *models.Task, after *models.Task) error {
	order := make([]string, 0, len(siblings)+1)
	if after == nil {
		order = append(order, moved.ID)
	}
	for _, s := range siblings {
		order = append(order, s.id)
		if after != nil && s.id == after.ID {
			order = append(order, moved.ID)
		}
	}

	for i, taskID := range order {
		if _, err := exec.ExecContext(ctx,
			`UPDATE tasks SET position = ? WHERE id = ?`, float64(i+1), taskID,
		); err != nil {
			return fmt.Errorf("failed to renumber scope: %w", err)
		}
	}
	return nil
}
