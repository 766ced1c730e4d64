package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ldi/sitetask/internal/db"
	"github.com/ldi/sitetask/internal/mcp"
	"github.com/ldi/sitetask/internal/server"
	"github.com/ldi/sitetask/internal/ui"
	"github.com/ldi/sitetask/pkg/models"
)

var (
	dbPath       string
	snapshotPath string
)

func main() {
	flag.StringVar(&dbPath, "db-path", ".sitetask/sitetask.db", "Path to database file")
	flag.StringVar(&snapshotPath, "snapshot-path", ".sitetask/snapshot.jsonl", "Path to snapshot file")
	flag.Parse()

	var command string
	var args []string

	if flag.NArg() == 0 {
		selected, err := ui.RunMenu()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error running menu: %v\n", err)
			os.Exit(1)
		}
		if selected == "" {
			os.Exit(0)
		}
		command = selected
		args = []string{}
	} else {
		command = flag.Arg(0)
		args = flag.Args()[1:]
	}

	if err := run(command, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	switch command {
	case "init":
		return runInit(args)
	case "mcp":
		return runMCP(args)
	case "serve":
		return runServe(args)
	case "list-tasks":
		return runListTasks(args)
	case "status":
		return runStatus(args)
	case "db":
		return runDB(args)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runInit(args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	dotDir := filepath.Join(targetDir, ".sitetask")
	if err := os.MkdirAll(dotDir, 0755); err != nil {
		return fmt.Errorf("failed to create .sitetask directory: %w", err)
	}
	fmt.Println("✓ Created .sitetask/ directory")

	gitignorePath := filepath.Join(dotDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("sitetask.db*\n"), 0644); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	fmt.Println("✓ Created .sitetask/.gitignore")

	// Default paths if not overridden by flags
	finalDBPath := dbPath
	if dbPath == ".sitetask/sitetask.db" {
		finalDBPath = filepath.Join(dotDir, "sitetask.db")
	}

	finalSnapshotPath := snapshotPath
	if snapshotPath == ".sitetask/snapshot.jsonl" {
		finalSnapshotPath = filepath.Join(dotDir, "snapshot.jsonl")
	}

	database, err := db.Open(finalDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	fmt.Printf("✓ Initialized database at %s\n", finalDBPath)

	// Restore from an existing snapshot if there is one
	if _, err := os.Stat(finalSnapshotPath); err == nil {
		if err := database.ImportSnapshot(ctx, finalSnapshotPath); err != nil {
			return fmt.Errorf("failed to import snapshot: %w", err)
		}
		fmt.Printf("✓ Imported snapshot from %s\n", finalSnapshotPath)
	}

	fmt.Println("✓ Sitetask initialized successfully")
	return nil
}

func runMCP(args []string) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Init(ctx); err != nil {
		return err
	}

	database.EnableAutoSnapshot(snapshotPath)

	s := mcp.NewServer(database)
	return mcp.Serve(s)
}

func runServe(args []string) error {
	serveFlags := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := serveFlags.String("port", "8000", "Port to listen on")
	if err := serveFlags.Parse(args); err != nil {
		return err
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Init(ctx); err != nil {
		return err
	}

	database.EnableAutoSnapshot(snapshotPath)

	srv := server.NewServer(database)
	fmt.Printf("Listening on http://localhost:%s\n", *port)
	return srv.Start(fmt.Sprintf(":%s", *port))
}

func runDB(args []string) error {
	if len(args) == 0 {
		fmt.Println("Usage: sitetask db <command> [arguments]")
		fmt.Println("\nCommands:")
		fmt.Println("  status    Show database status")
		return nil
	}

	command := args[0]
	subArgs := args[1:]

	switch command {
	case "status":
		return runStatus(subArgs)
	default:
		return fmt.Errorf("unknown db command: %s", command)
	}
}

func runListTasks(args []string) error {
	taskFlags := flag.NewFlagSet("list-tasks", flag.ContinueOnError)
	siteFilter := taskFlags.String("site", "", "Filter by work site")
	statusFilter := taskFlags.String("status", "", "Filter by status (not_started, in_progress, completed)")
	parentsOnly := taskFlags.Bool("parents-only", false, "Only show root tasks")
	if err := taskFlags.Parse(args); err != nil {
		return err
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Init(ctx); err != nil {
		return err
	}

	f := &db.TaskFilter{
		Site:        *siteFilter,
		ParentsOnly: *parentsOnly,
	}
	if *statusFilter != "" {
		f.Statuses = []models.TaskStatus{models.TaskStatus(*statusFilter)}
	}

	tasks, err := database.ListTasks(ctx, f)
	if err != nil {
		return err
	}

	fmt.Printf("%-30s %-15s %-12s %-10s %s\n", "TITLE", "SITE", "STATUS", "PROGRESS", "DEADLINE")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, t := range tasks {
		title := t.Title
		if !t.IsRoot() {
			title = "  └ " + title
		}
		deadline := "-"
		if t.Deadline != nil {
			deadline = t.Deadline.Format("2006-01-02")
		}
		fmt.Printf("%-30s %-15s %-12s %-10s %s\n",
			title, t.Site, t.Status, fmt.Sprintf("%d%%", t.ProgressPercent), deadline)
	}
	return nil
}

func runStatus(args []string) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Init(ctx); err != nil {
		return err
	}

	tasks, err := database.ListTasks(ctx, nil)
	if err != nil {
		return err
	}

	priority, err := database.PriorityTasks(ctx)
	if err != nil {
		return err
	}

	statusCounts := make(map[models.TaskStatus]int)
	roots := 0
	overdue := 0
	now := time.Now()
	for _, t := range tasks {
		statusCounts[t.Status]++
		if t.IsRoot() {
			roots++
		}
		if t.Deadline != nil && t.Deadline.Before(now) && t.Status != models.TaskStatusCompleted {
			overdue++
		}
	}

	fmt.Println("Sitetask Status")
	fmt.Println("===============")
	fmt.Printf("Total Tasks: %d\n", len(tasks))
	fmt.Printf("Root Tasks:  %d\n", roots)
	fmt.Printf("Overdue:     %d\n", overdue)

	fmt.Println("\nTask Breakdown:")
	fmt.Printf("  Not Started: %d\n", statusCounts[models.TaskStatusNotStarted])
	fmt.Printf("  In Progress: %d\n", statusCounts[models.TaskStatusInProgress])
	fmt.Printf("  Completed:   %d\n", statusCounts[models.TaskStatusCompleted])

	if len(priority) > 0 {
		fmt.Println("\nNext Deadlines:")
		for i, t := range priority {
			if i >= 5 {
				break
			}
			fmt.Printf("  - %s (due %s)\n", t.Title, t.Deadline.Format("2006-01-02"))
		}
	}

	return nil
}
