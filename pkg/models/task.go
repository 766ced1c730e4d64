package models

import "time"

type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "not_started"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusNotStarted, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}
	return false
}

// MaxChildren is the fan-out cap: a root task holds at most this many children.
const MaxChildren = 4

type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	ParentID  *string    `json:"parent_id"`
	Site      string     `json:"site,omitempty"`
	Status    TaskStatus `json:"status"`
	Progress  int        `json:"progress"`
	Deadline  *time.Time `json:"deadline"`
	Position  float64    `json:"position"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Derived rollup fields, joined from v_task_stats on every read.
	ChildrenCount      int `json:"children_count"`
	ChildrenDoneCount  int `json:"children_done_count"`
	GrandchildrenCount int `json:"grandchildren_count"`
	ProgressPercent    int `json:"progress_percent"`

	// ChildrenPreview is populated on detail reads only.
	ChildrenPreview []*Task `json:"children_preview,omitempty"`

	// ParentTitle is a helper field for staged batches: a staged child can
	// name a parent that was staged in the same session and has no ID yet.
	ParentTitle string `json:"parent_title,omitempty"`
}

// IsRoot reports whether the task is a root (site-level) task.
func (t *Task) IsRoot() bool {
	return t.ParentID == nil
}

// TaskPatch is a partial update. Nil fields are left unchanged.
// ClearDeadline removes the deadline; a nil Deadline alone means "not sent".
type TaskPatch struct {
	Title         *string     `json:"title"`
	Status        *TaskStatus `json:"status"`
	Progress      *int        `json:"progress"`
	Deadline      *time.Time  `json:"deadline"`
	ClearDeadline bool        `json:"clear_deadline,omitempty"`
}
