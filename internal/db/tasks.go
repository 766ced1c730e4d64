package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldi/sitetask/pkg/models"
)

// taskColumns is the canonical select list: stored fields plus the derived
// rollup columns from v_task_stats. Every read goes through this join so the
// derived numbers always reflect the current tree.
const taskColumns = `
	t.id, t.title, t.parent_id, t.site, t.status, t.progress, t.deadline,
	t.position, t.created_by, t.created_at, t.updated_at,
	s.children_count, s.children_done_count, s.grandchildren_count, s.progress_percent
`

func taskScanDest(t *models.Task) []any {
	return []any{
		&t.ID, &t.Title, &t.ParentID, &t.Site, &t.Status, &t.Progress, &t.Deadline,
		&t.Position, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
		&t.ChildrenCount, &t.ChildrenDoneCount, &t.GrandchildrenCount, &t.ProgressPercent,
	}
}

// CreateTask validates and inserts a new task. The guard check and the insert
// share one transaction, so a concurrent create against the same parent can
// never slip past the fan-out cap.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := db.createTask(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) createTask(ctx context.Context, exec executor, t *models.Task) error {
	if err := validateCreate(ctx, exec, t); err != nil {
		return err
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusNotStarted
	}
	if t.CreatedBy == "" {
		t.CreatedBy = "api"
	}

	// New tasks sort after all current siblings in their scope.
	var maxPos sql.NullFloat64
	err := exec.QueryRowContext(ctx,
		`SELECT MAX(position) FROM tasks WHERE parent_id IS ?`, t.ParentID,
	).Scan(&maxPos)
	if err != nil {
		return fmt.Errorf("failed to read sibling positions: %w", err)
	}
	t.Position = maxPos.Float64 + 1

	query := `
		INSERT INTO tasks (id, title, parent_id, site, status, progress, deadline, position, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING created_at, updated_at
	`
	err = exec.QueryRowContext(ctx, query,
		t.ID, t.Title, t.ParentID, t.Site, t.Status, t.Progress, t.Deadline, t.Position, t.CreatedBy,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by its ID. Returns nil if the task does not exist.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return db.getTask(ctx, db.DB, id)
}

func (db *DB) getTask(ctx context.Context, exec executor, id string) (*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN v_task_stats s ON s.task_id = t.id
		WHERE t.id = ?
	`
	t := &models.Task{}
	err := exec.QueryRowContext(ctx, query, id).Scan(taskScanDest(t)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// GetTaskDetail retrieves a task together with its children in sibling order.
// The fan-out cap bounds the preview, so "first MaxChildren" is all of them.
func (db *DB) GetTaskDetail(ctx context.Context, id string) (*models.Task, error) {
	t, err := db.GetTask(ctx, id)
	if err != nil || t == nil {
		return t, err
	}

	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN v_task_stats s ON s.task_id = t.id
		WHERE t.parent_id = ?
		ORDER BY t.position ASC, t.id ASC
	`
	children, err := db.queryTasks(ctx, db.DB, query, id)
	if err != nil {
		return nil, err
	}
	t.ChildrenPreview = children
	return t, nil
}

func (db *DB) getRootTaskByTitle(ctx context.Context, exec executor, title string) (*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN v_task_stats s ON s.task_id = t.id
		WHERE t.parent_id IS NULL AND t.title = ?
	`
	t := &models.Task{}
	err := exec.QueryRowContext(ctx, query, title).Scan(taskScanDest(t)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get root task by title: %w", err)
	}
	return t, nil
}

// queryTasks is a helper to execute a query that returns a list of tasks.
func (db *DB) queryTasks(ctx context.Context, exec executor, query string, args ...any) ([]*models.Task, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t := &models.Task{}
		if err := rows.Scan(taskScanDest(t)...); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tasks, nil
}

// UpdateTask merges a partial patch into an existing task and returns the
// updated record. Provenance and hierarchy fields are not patchable.
func (db *DB) UpdateTask(ctx context.Context, id string, patch *models.TaskPatch) (*models.Task, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := db.getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}

	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Progress != nil {
		t.Progress = *patch.Progress
	}
	if patch.Deadline != nil {
		t.Deadline = patch.Deadline
	}
	if patch.ClearDeadline {
		t.Deadline = nil
	}

	query := `
		UPDATE tasks
		SET title = ?, status = ?, progress = ?, deadline = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING updated_at
	`
	err = tx.QueryRowContext(ctx, query, t.Title, t.Status, t.Progress, t.Deadline, t.ID).Scan(&t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	// A leaf's own progress feeds its parent's rollup; reread so the caller
	// sees the post-write derived numbers.
	return db.GetTask(ctx, t.ID)
}

// ToggleTask flips completion: completed tasks go back to not_started, any
// other status becomes completed. All other fields are preserved.
func (db *DB) ToggleTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := db.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}

	status := models.TaskStatusCompleted
	if t.Status == models.TaskStatusCompleted {
		status = models.TaskStatusNotStarted
	}
	return db.UpdateTask(ctx, id, &models.TaskPatch{Status: &status})
}

// DeleteTask deletes a task by its ID. Deleting a task that still has
// children is refused, never cascaded.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := validateDelete(ctx, tx, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}
