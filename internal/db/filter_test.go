package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ldi/sitetask/pkg/models"
)

func markCompleted(t *testing.T, db *DB, id string) {
	t.Helper()
	status := models.TaskStatusCompleted
	if _, err := db.UpdateTask(context.Background(), id, &models.TaskPatch{Status: &status}); err != nil {
		t.Fatalf("Failed to complete task %s: %v", id, err)
	}
}

func TestListTasksSiteFilter(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	north := createRoot(t, db, "North root", "north-yard")
	createChild(t, db, north.ID, "North child")
	createRoot(t, db, "East root", "east-wing")

	// A site filter matches roots at that site and their children
	tasks, err := db.ListTasks(ctx, &TaskFilter{Site: "north-yard"})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks at north-yard, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.ID != north.ID && (task.ParentID == nil || *task.ParentID != north.ID) {
			t.Errorf("Task %s does not belong to north-yard", task.ID)
		}
	}

	tasks, err = db.ListTasks(ctx, &TaskFilter{Site: "nowhere"})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("Expected no tasks at unknown site, got %d", len(tasks))
	}
}

func TestListTasksStatusFilter(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := createRoot(t, db, "A", "site-a")
	b := createRoot(t, db, "B", "site-a")
	createRoot(t, db, "C", "site-a")
	markCompleted(t, db, a.ID)
	inProgress := models.TaskStatusInProgress
	if _, err := db.UpdateTask(ctx, b.ID, &models.TaskPatch{Status: &inProgress}); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}

	// Statuses combine with OR membership
	tasks, err := db.ListTasks(ctx, &TaskFilter{
		Statuses: []models.TaskStatus{models.TaskStatusCompleted, models.TaskStatusInProgress},
	})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("Expected 2 tasks for completed+in_progress, got %d", len(tasks))
	}

	// An unknown status is rejected, not silently ignored
	_, err = db.ListTasks(ctx, &TaskFilter{Statuses: []models.TaskStatus{"archived"}})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown status filter, got %v", err)
	}
}

func TestListTasksProgressFilter(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// A parent with 1 of 2 children done rolls up to 50
	p := createRoot(t, db, "Parent", "site-a")
	c1 := createChild(t, db, p.ID, "Child 1")
	createChild(t, db, p.ID, "Child 2")
	markCompleted(t, db, c1.ID)

	// A leaf with stored progress 50
	leaf := createRoot(t, db, "Leaf", "site-b")
	fifty := 50
	if _, err := db.UpdateTask(ctx, leaf.ID, &models.TaskPatch{Progress: &fifty}); err != nil {
		t.Fatalf("Failed to set progress: %v", err)
	}

	// The range applies to the derived percent, so both the rolled-up
	// parent and the stored-progress leaf match an exact-50 band.
	tasks, err := db.ListTasks(ctx, &TaskFilter{ProgressMin: &fifty, ProgressMax: &fifty})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected parent and leaf at exactly 50%%, got %d tasks", len(tasks))
	}
	for _, task := range tasks {
		if task.ProgressPercent != 50 {
			t.Errorf("Task %s has progress_percent %d, expected 50", task.ID, task.ProgressPercent)
		}
	}
}

func TestListTasksParentsOnly(t *testing.T) {
	db := testDB(t)

	p := createRoot(t, db, "Parent", "site-a")
	createChild(t, db, p.ID, "Child")
	createRoot(t, db, "Standalone", "site-b")

	tasks, err := db.ListTasks(context.Background(), &TaskFilter{ParentsOnly: true})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 root tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.ParentID != nil {
			t.Errorf("Expected only roots, got child %s", task.ID)
		}
	}
}

func TestListTasksDeadlineOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	day := func(d int) *time.Time {
		ts := time.Date(2026, 9, d, 0, 0, 0, 0, time.UTC)
		return &ts
	}

	late := &models.Task{Title: "Late", Site: "site-a", Deadline: day(20)}
	early := &models.Task{Title: "Early", Site: "site-a", Deadline: day(5)}
	undated := &models.Task{Title: "Undated", Site: "site-a"}
	for _, task := range []*models.Task{late, early, undated} {
		if err := db.CreateTask(ctx, task); err != nil {
			t.Fatalf("Failed to create task: %v", err)
		}
	}

	// Ascending: dated tasks first by deadline, undated last
	tasks, err := db.ListTasks(ctx, &TaskFilter{OrderBy: "deadline"})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if tasks[0].ID != early.ID || tasks[1].ID != late.ID || tasks[2].ID != undated.ID {
		t.Errorf("Expected [Early Late Undated], got [%s %s %s]",
			tasks[0].Title, tasks[1].Title, tasks[2].Title)
	}

	// Descending flips the dated tasks but the undated one stays last
	tasks, err = db.ListTasks(ctx, &TaskFilter{OrderBy: "deadline", Desc: true})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if tasks[0].ID != late.ID || tasks[1].ID != early.ID || tasks[2].ID != undated.ID {
		t.Errorf("Expected [Late Early Undated], got [%s %s %s]",
			tasks[0].Title, tasks[1].Title, tasks[2].Title)
	}

	// Unknown sort keys are rejected
	if _, err := db.ListTasks(ctx, &TaskFilter{OrderBy: "title"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown order key, got %v", err)
	}
}

func TestTaskStatsRollup(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p := createRoot(t, db, "Parent", "site-a")
	c1 := createChild(t, db, p.ID, "Child 1")
	createChild(t, db, p.ID, "Child 2")
	createChild(t, db, p.ID, "Child 3")

	detail, err := db.GetTaskDetail(ctx, p.ID)
	if err != nil {
		t.Fatalf("Failed to get detail: %v", err)
	}
	if detail.ChildrenCount != 3 || detail.ChildrenDoneCount != 0 {
		t.Errorf("Expected 3 children none done, got %d/%d", detail.ChildrenDoneCount, detail.ChildrenCount)
	}
	if detail.ProgressPercent != 0 {
		t.Errorf("Expected 0%% with no children done, got %d", detail.ProgressPercent)
	}

	// Completing one of three children rolls the parent up to round(100/3)
	markCompleted(t, db, c1.ID)
	detail, err = db.GetTaskDetail(ctx, p.ID)
	if err != nil {
		t.Fatalf("Failed to get detail: %v", err)
	}
	if detail.ChildrenDoneCount != 1 {
		t.Errorf("Expected 1 child done, got %d", detail.ChildrenDoneCount)
	}
	if detail.ProgressPercent != 33 {
		t.Errorf("Expected 33%% rollup, got %d", detail.ProgressPercent)
	}

	// A parent's stored progress is ignored once it has children
	ninety := 90
	updated, err := db.UpdateTask(ctx, p.ID, &models.TaskPatch{Progress: &ninety})
	if err != nil {
		t.Fatalf("Failed to update parent progress: %v", err)
	}
	if updated.ProgressPercent != 33 {
		t.Errorf("Expected rollup to override stored progress, got %d", updated.ProgressPercent)
	}

	// Grandchildren stay at zero while depth is capped
	if detail.GrandchildrenCount != 0 {
		t.Errorf("Expected 0 grandchildren, got %d", detail.GrandchildrenCount)
	}
}

func TestPriorityTasks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	day := func(d int) *time.Time {
		ts := time.Date(2026, 9, d, 0, 0, 0, 0, time.UTC)
		return &ts
	}

	// 1. A parent with children carries no work of its own: its dated
	// children surface instead.
	p := &models.Task{Title: "Parent", Site: "site-a", Deadline: day(1)}
	if err := db.CreateTask(ctx, p); err != nil {
		t.Fatalf("Failed to create parent: %v", err)
	}
	cLate := &models.Task{Title: "Child late", ParentID: &p.ID, Deadline: day(12)}
	cSoon := &models.Task{Title: "Child soon", ParentID: &p.ID, Deadline: day(3)}
	cDone := &models.Task{Title: "Child done", ParentID: &p.ID, Deadline: day(2)}
	undated := &models.Task{Title: "Undated leaf", Site: "site-b"}
	for _, task := range []*models.Task{cLate, cSoon, cDone, undated} {
		if err := db.CreateTask(ctx, task); err != nil {
			t.Fatalf("Failed to create task: %v", err)
		}
	}
	markCompleted(t, db, cDone.ID)

	tasks, err := db.PriorityTasks(ctx)
	if err != nil {
		t.Fatalf("Failed to get priority tasks: %v", err)
	}

	// Completed, undated and parent tasks are all excluded; the rest rank
	// by nearest deadline.
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 priority tasks, got %d", len(tasks))
	}
	if tasks[0].ID != cSoon.ID || tasks[1].ID != cLate.ID {
		t.Errorf("Expected [Child soon, Child late], got [%s %s]", tasks[0].Title, tasks[1].Title)
	}

	// 2. Completing a task removes it from the view immediately
	markCompleted(t, db, cSoon.ID)
	tasks, err = db.PriorityTasks(ctx)
	if err != nil {
		t.Fatalf("Failed to get priority tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != cLate.ID {
		t.Errorf("Expected only Child late after completion, got %d tasks", len(tasks))
	}
}
