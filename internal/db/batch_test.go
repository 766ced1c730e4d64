package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ldi/sitetask/pkg/models"
)

func TestStagingManager(t *testing.T) {
	sm := NewStagingManager()

	sm.AddTask("session-1", &models.Task{Title: "Task 1", Site: "site-a"})
	sm.AddTask("session-1", &models.Task{Title: "Task 2", Site: "site-a"})
	sm.AddTask("session-2", &models.Task{Title: "Other", Site: "site-b"})

	// Peek does not consume
	if n := len(sm.Peek("session-1").Tasks); n != 2 {
		t.Errorf("Expected 2 staged tasks, got %d", n)
	}
	if n := len(sm.Peek("session-1").Tasks); n != 2 {
		t.Errorf("Expected peek to leave staged tasks, got %d", n)
	}

	// GetAndClear consumes, per session
	items := sm.GetAndClear("session-1")
	if len(items.Tasks) != 2 {
		t.Errorf("Expected 2 staged tasks, got %d", len(items.Tasks))
	}
	if n := len(sm.Peek("session-1").Tasks); n != 0 {
		t.Errorf("Expected session cleared, got %d tasks", n)
	}
	if n := len(sm.Peek("session-2").Tasks); n != 1 {
		t.Errorf("Expected other session untouched, got %d tasks", n)
	}

	// Unknown sessions yield an empty batch
	if items := sm.GetAndClear("no-such-session"); len(items.Tasks) != 0 {
		t.Errorf("Expected empty batch for unknown session, got %d", len(items.Tasks))
	}
}

func TestCommitBatch(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// Stage a root and two children referencing it by title
	db.Staging.AddTask("s1", &models.Task{Title: "Frame walls", Site: "north-yard", CreatedBy: "mcp"})
	db.Staging.AddTask("s1", &models.Task{Title: "Cut studs", ParentTitle: "Frame walls", CreatedBy: "mcp"})
	db.Staging.AddTask("s1", &models.Task{Title: "Raise panels", ParentTitle: "Frame walls", CreatedBy: "mcp"})

	if err := db.CommitBatch(ctx, "s1"); err != nil {
		t.Fatalf("Failed to commit batch: %v", err)
	}

	root, err := db.getRootTaskByTitle(ctx, db.DB, "Frame walls")
	if err != nil || root == nil {
		t.Fatalf("Expected root task created, got %v, %v", root, err)
	}
	detail, err := db.GetTaskDetail(ctx, root.ID)
	if err != nil {
		t.Fatalf("Failed to get detail: %v", err)
	}
	if detail.ChildrenCount != 2 {
		t.Errorf("Expected 2 children, got %d", detail.ChildrenCount)
	}
	if detail.CreatedBy != "mcp" {
		t.Errorf("Expected created_by mcp, got %s", detail.CreatedBy)
	}

	// A committed session is cleared
	if n := len(db.Staging.Peek("s1").Tasks); n != 0 {
		t.Errorf("Expected staging cleared after commit, got %d", n)
	}
}

func TestCommitBatchResolvesExistingRoot(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	root := createRoot(t, db, "Existing root", "site-a")

	db.Staging.AddTask("s1", &models.Task{Title: "New child", ParentTitle: "Existing root"})
	if err := db.CommitBatch(ctx, "s1"); err != nil {
		t.Fatalf("Failed to commit batch: %v", err)
	}

	detail, err := db.GetTaskDetail(ctx, root.ID)
	if err != nil {
		t.Fatalf("Failed to get detail: %v", err)
	}
	if detail.ChildrenCount != 1 {
		t.Errorf("Expected child attached to existing root, got %d children", detail.ChildrenCount)
	}
}

func TestCommitBatchAllOrNothing(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p := createRoot(t, db, "Parent", "site-a")
	for i := 1; i <= models.MaxChildren-1; i++ {
		createChild(t, db, p.ID, fmt.Sprintf("Child %d", i))
	}

	// Two staged children, but only one slot left: the batch must fail as
	// a whole and create neither.
	db.Staging.AddTask("s1", &models.Task{Title: "Fits", ParentTitle: "Parent"})
	db.Staging.AddTask("s1", &models.Task{Title: "Does not fit", ParentTitle: "Parent"})

	err := db.CommitBatch(ctx, "s1")
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("Expected ErrCapacity, got %v", err)
	}

	detail, err := db.GetTaskDetail(ctx, p.ID)
	if err != nil {
		t.Fatalf("Failed to get detail: %v", err)
	}
	if detail.ChildrenCount != models.MaxChildren-1 {
		t.Errorf("Expected children unchanged at %d, got %d", models.MaxChildren-1, detail.ChildrenCount)
	}

	// An unresolvable parent title also aborts the batch
	db.Staging.AddTask("s2", &models.Task{Title: "Orphan", ParentTitle: "No such root"})
	if err := db.CommitBatch(ctx, "s2"); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown parent title, got %v", err)
	}
}
