package db

import (
	"context"

	"github.com/ldi/sitetask/pkg/models"
)

// PriorityTasks returns incomplete tasks ranked by nearest deadline. Tasks
// without a deadline are excluded: a task that cannot be scheduled is never
// urgent. Parents whose work is carried by their children are excluded too;
// their children appear instead.
func (db *DB) PriorityTasks(ctx context.Context) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN v_task_stats s ON s.task_id = t.id
		WHERE t.status != 'completed'
		  AND t.deadline IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM tasks c WHERE c.parent_id = t.id)
		ORDER BY t.deadline ASC, t.position ASC, t.id ASC
	`
	return db.queryTasks(ctx, db.DB, query)
}
