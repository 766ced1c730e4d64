package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/ldi/sitetask/pkg/models"
)

// TaskFilter selects and orders a projection of the store. All predicates
// combine with AND; the status set uses OR membership internally.
type TaskFilter struct {
	Site        string
	Statuses    []models.TaskStatus
	ProgressMin *int
	ProgressMax *int
	ParentsOnly bool
	OrderBy     string // "deadline", "progress" or "created_at"; empty sorts by position
	Desc        bool
}

// ListTasks returns a filtered, sorted view over all tasks. The progress
// range applies to the derived progress_percent, so a parent is matched by
// its rollup, not its stored progress field.
func (db *DB) ListTasks(ctx context.Context, f *TaskFilter) ([]*models.Task, error) {
	if f == nil {
		f = &TaskFilter{}
	}

	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN v_task_stats s ON s.task_id = t.id
		LEFT JOIN tasks p ON t.parent_id = p.id
		WHERE 1=1
	`
	args := []any{}

	if f.Site != "" {
		// A child has no site of its own; its visibility follows its root.
		query += " AND COALESCE(p.site, t.site) = ?"
		args = append(args, f.Site)
	}

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			if !s.Valid() {
				return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, s)
			}
			placeholders[i] = "?"
			args = append(args, s)
		}
		query += " AND t.status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	if f.ProgressMin != nil {
		query += " AND s.progress_percent >= ?"
		args = append(args, *f.ProgressMin)
	}
	if f.ProgressMax != nil {
		query += " AND s.progress_percent <= ?"
		args = append(args, *f.ProgressMax)
	}

	if f.ParentsOnly {
		query += " AND t.parent_id IS NULL"
	}

	order, err := orderClause(f.OrderBy, f.Desc)
	if err != nil {
		return nil, err
	}
	query += order

	return db.queryTasks(ctx, db.DB, query, args...)
}

// orderClause builds the ORDER BY for a whitelisted sort key. Tasks without a
// deadline always sort after all dated tasks, in either direction; ties break
// by position then id so the order is deterministic.
func orderClause(orderBy string, desc bool) (string, error) {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}

	const ties = "t.position ASC, t.id ASC"

	switch orderBy {
	case "":
		return " ORDER BY " + ties, nil
	case "deadline":
		return " ORDER BY (t.deadline IS NULL) ASC, t.deadline " + dir + ", " + ties, nil
	case "progress":
		return " ORDER BY s.progress_percent " + dir + ", " + ties, nil
	case "created_at":
		return " ORDER BY t.created_at " + dir + ", " + ties, nil
	default:
		return "", fmt.Errorf("%w: unknown order key %q", ErrValidation, orderBy)
	}
}
