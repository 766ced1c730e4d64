package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ldi/sitetask/pkg/models"
)

// Guard checks run before a mutation commits. They only read store state;
// callers run the check and the mutation inside one transaction, so a failed
// check leaves the store byte-for-byte unchanged.

func validateCreate(ctx context.Context, exec executor, t *models.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, t.Status)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("%w: progress must be between 0 and 100, got %d", ErrValidation, t.Progress)
	}

	if t.ParentID == nil {
		// A root task represents a work site.
		if strings.TrimSpace(t.Site) == "" {
			return fmt.Errorf("%w: site is required for a root task", ErrValidation)
		}
		return nil
	}

	if t.Site != "" {
		return fmt.Errorf("%w: a child task cannot carry its own site", ErrValidation)
	}

	var parentParentID *string
	var childCount int
	query := `
		SELECT p.parent_id, (SELECT COUNT(*) FROM tasks c WHERE c.parent_id = p.id)
		FROM tasks p
		WHERE p.id = ?
	`
	err := exec.QueryRowContext(ctx, query, *t.ParentID).Scan(&parentParentID, &childCount)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: parent task %s not found", ErrValidation, *t.ParentID)
	}
	if err != nil {
		return fmt.Errorf("failed to check parent task: %w", err)
	}

	// Depth is capped at 1: a parent must itself be a root task.
	if parentParentID != nil {
		return fmt.Errorf("%w: parent task %s is not a root task", ErrValidation, *t.ParentID)
	}
	if childCount >= models.MaxChildren {
		return fmt.Errorf("%w: parent task %s already has %d children", ErrCapacity, *t.ParentID, models.MaxChildren)
	}
	return nil
}

func validateDelete(ctx context.Context, exec executor, id string) error {
	var exists, childCount int
	query := `
		SELECT COUNT(*), (SELECT COUNT(*) FROM tasks c WHERE c.parent_id = ?)
		FROM tasks
		WHERE id = ?
	`
	err := exec.QueryRowContext(ctx, query, id, id).Scan(&exists, &childCount)
	if err != nil {
		return fmt.Errorf("failed to check task for delete: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if childCount > 0 {
		return fmt.Errorf("%w: task %s has %d children, delete them first", ErrConflict, id, childCount)
	}
	return nil
}

// validateReorder requires the reference sibling to live in the same parent
// scope as the moved task. The root scope (parent_id null) counts as a scope.
func validateReorder(moved, after *models.Task) error {
	if after == nil {
		return nil
	}
	if after.ID == moved.ID {
		return fmt.Errorf("%w: cannot reorder task %s after itself", ErrConflict, moved.ID)
	}
	if !sameScope(moved.ParentID, after.ParentID) {
		return fmt.Errorf("%w: task %s and task %s are not siblings", ErrConflict, moved.ID, after.ID)
	}
	return nil
}

func validatePatch(p *models.TaskPatch) error {
	if p == nil {
		return fmt.Errorf("%w: empty patch", ErrValidation)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrValidation)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, *p.Status)
	}
	if p.Progress != nil && (*p.Progress < 0 || *p.Progress > 100) {
		return fmt.Errorf("%w: progress must be between 0 and 100, got %d", ErrValidation, *p.Progress)
	}
	return nil
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
