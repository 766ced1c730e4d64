package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ldi/sitetask/internal/db"
	"github.com/ldi/sitetask/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server over the task store.
func NewServer(database *db.DB) *server.MCPServer {
	s := server.NewMCPServer("Sitetask", "0.1.0")

	s.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Propose a new task. Changes are staged and must be committed to take effect. Root tasks require a site; child tasks name a parent instead."),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("site", mcp.Description("Work site (required for root tasks, forbidden for children)")),
		mcp.WithString("parent_id", mcp.Description("Parent task ID for a child task")),
		mcp.WithString("parent_title", mcp.Description("Parent task title, for a parent staged in the same session")),
		mcp.WithString("status", mcp.Description("Initial status (not_started|in_progress|completed)")),
		mcp.WithNumber("progress", mcp.Description("Progress (0-100)")),
		mcp.WithString("deadline", mcp.Description("Deadline as RFC3339 timestamp")),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default').")),
	), createTaskHandler(database))

	s.AddTool(mcp.NewTool("update_task",
		mcp.WithDescription("Update an existing task (title, status, progress, deadline)."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("status", mcp.Description("New status (not_started|in_progress|completed)")),
		mcp.WithNumber("progress", mcp.Description("New progress (0-100)")),
		mcp.WithString("deadline", mcp.Description("New deadline as RFC3339 timestamp")),
		mcp.WithBoolean("clear_deadline", mcp.Description("Remove the deadline")),
	), updateTaskHandler(database))

	s.AddTool(mcp.NewTool("toggle_task",
		mcp.WithDescription("Toggle completion: completed goes back to not_started, anything else becomes completed."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
	), toggleTaskHandler(database))

	s.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task. Refused while the task still has children."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
	), deleteTaskHandler(database))

	s.AddTool(mcp.NewTool("reorder_task",
		mcp.WithDescription("Move a task so it sorts immediately after a sibling, or first in its scope."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("after_id", mcp.Description("Sibling to sort after (omit to move first)")),
	), reorderTaskHandler(database))

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks with optional filters."),
		mcp.WithString("site", mcp.Description("Filter by work site")),
		mcp.WithString("status", mcp.Description("Filter by status")),
		mcp.WithBoolean("parents_only", mcp.Description("Only root tasks")),
		mcp.WithString("order_by", mcp.Description("Sort key (deadline|progress|created_at)")),
		mcp.WithString("dir", mcp.Description("Sort direction (asc|desc)")),
	), listTasksHandler(database))

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a single task with its children and rollup stats."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
	), getTaskHandler(database))

	s.AddTool(mcp.NewTool("priority_tasks",
		mcp.WithDescription("Get incomplete tasks ranked by nearest deadline."),
	), priorityTasksHandler(database))

	// Staging Management
	s.AddTool(mcp.NewTool("commit_staged_changes",
		mcp.WithDescription("Commit all staged tasks for a session in one transaction."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), commitStagedChangesHandler(database))

	s.AddTool(mcp.NewTool("list_staged_changes",
		mcp.WithDescription("List all staged tasks for a session. Use this to review a proposed plan before committing."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), listStagedChangesHandler(database))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func createTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title := mcp.ParseString(request, "title", "")
		site := mcp.ParseString(request, "site", "")
		status := mcp.ParseString(request, "status", "")
		progress := mcp.ParseInt(request, "progress", 0)
		sessionID := mcp.ParseString(request, "session_id", "default")

		t := &models.Task{
			Title:     title,
			Site:      site,
			Status:    models.TaskStatus(status),
			Progress:  progress,
			CreatedBy: "mcp",
		}

		if parentID := mcp.ParseString(request, "parent_id", ""); parentID != "" {
			t.ParentID = &parentID
		}
		t.ParentTitle = mcp.ParseString(request, "parent_title", "")

		if raw := mcp.ParseString(request, "deadline", ""); raw != "" {
			deadline, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid deadline: %v", err)), nil
			}
			t.Deadline = &deadline
		}

		database.Staging.AddTask(sessionID, t)
		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' staged for session '%s'. Propose another or call 'commit_staged_changes' to apply.", title, sessionID)), nil
	}
}

func updateTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")

		patch := &models.TaskPatch{}
		args, _ := request.Params.Arguments.(map[string]any)
		if title, ok := args["title"].(string); ok {
			patch.Title = &title
		}
		if status, ok := args["status"].(string); ok {
			ts := models.TaskStatus(status)
			patch.Status = &ts
		}
		if progress, ok := args["progress"].(float64); ok {
			p := int(progress)
			patch.Progress = &p
		}
		if raw, ok := args["deadline"].(string); ok {
			deadline, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid deadline: %v", err)), nil
			}
			patch.Deadline = &deadline
		}
		patch.ClearDeadline = mcp.ParseBoolean(request, "clear_deadline", false)

		t, err := database.UpdateTask(ctx, id, patch)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(t)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func toggleTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")

		t, err := database.ToggleTask(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' is now %s", t.Title, t.Status)), nil
	}
}

func deleteTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")

		if err := database.DeleteTask(ctx, id); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText("Task deleted successfully"), nil
	}
}

func reorderTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")

		var afterID *string
		if after := mcp.ParseString(request, "after_id", ""); after != "" {
			afterID = &after
		}

		if err := database.ReorderTask(ctx, id, afterID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText("Task reordered successfully"), nil
	}
}

func listTasksHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := &db.TaskFilter{
			Site:        mcp.ParseString(request, "site", ""),
			ParentsOnly: mcp.ParseBoolean(request, "parents_only", false),
			OrderBy:     mcp.ParseString(request, "order_by", ""),
			Desc:        mcp.ParseString(request, "dir", "asc") == "desc",
		}
		if status := mcp.ParseString(request, "status", ""); status != "" {
			f.Statuses = []models.TaskStatus{models.TaskStatus(status)}
		}

		tasks, err := database.ListTasks(ctx, f)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"tasks": tasks})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func getTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")

		t, err := database.GetTaskDetail(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if t == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Task with id '%s' not found", id)), nil
		}

		data, err := json.Marshal(t)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func priorityTasksHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := database.PriorityTasks(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"tasks": tasks})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func commitStagedChangesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")
		if err := database.CommitBatch(ctx, sessionID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Staged changes for session '%s' committed successfully", sessionID)), nil
	}
}

func listStagedChangesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")

		items := database.Staging.Peek(sessionID)
		data, err := json.Marshal(items)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}
