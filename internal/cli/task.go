package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tasksync/internal/core"
	"tasksync/pkg/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks (add, list, update, done, delete)",
	Long: `Unified task management commands.

All mutations apply to the local store immediately and are pushed to the
server in the background, so they work offline. Tasks created offline are
marked pending until the server confirms them.`,
}

// --- task add ---

var (
	taskAddDescription string
	taskAddPriority    string
	taskAddDue         string
)

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a new task",
	Long: `Add a new task with the given title.

The task appears in listings immediately under a temporary identifier and
is created on the server by the next sync cycle. The server's AI labeler
classifies it asynchronously; labels show up in listings as they finish.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("sync engine not initialized")
		}

		input := core.CreateTaskInput{
			Title:       args[0],
			Description: taskAddDescription,
		}
		if taskAddPriority != "" {
			p := models.Priority(taskAddPriority)
			if !p.Valid() {
				return fmt.Errorf("invalid priority %q (use low, medium, high, or urgent)", taskAddPriority)
			}
			input.Priority = p
		}
		if taskAddDue != "" {
			due, err := parseDueDate(taskAddDue)
			if err != nil {
				return err
			}
			input.DueDate = &due
		}

		task, err := Engine.CreateTask(input)
		if err != nil {
			return fmt.Errorf("adding task: %w", err)
		}

		fmt.Printf("Added task %s\n", task.ID)
		fmt.Printf("  Title:    %s\n", task.Title)
		fmt.Printf("  Priority: %s\n", task.Priority)
		if task.DueDate != nil {
			fmt.Printf("  Due:      %s\n", task.DueDate.Format("2006-01-02"))
		}
		fmt.Println("  Sync:     pending (pushed by the next sync cycle)")
		return nil
	},
}

// --- task list ---

var (
	taskListAll    bool
	taskListOutput string
)

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks from the local store",
	Long: `List tasks from the local store.

Completed tasks are hidden unless --all is given. When the local data is
older than the freshness window, it is shown immediately and refreshed in
the background; a notice marks the listing as stale.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("sync engine not initialized")
		}

		result, err := Engine.GetTasks(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}

		tasks := result.Tasks
		if !taskListAll {
			kept := tasks[:0]
			for _, t := range tasks {
				if !t.Completed {
					kept = append(kept, t)
				}
			}
			tasks = kept
		}
		sortTasks(tasks)

		switch taskListOutput {
		case "yaml":
			data, err := yaml.Marshal(tasks)
			if err != nil {
				return fmt.Errorf("formatting tasks as YAML: %w", err)
			}
			fmt.Print(string(data))
		case "text", "":
			printTaskTable(tasks)
		default:
			return fmt.Errorf("unsupported output format %q (use text or yaml)", taskListOutput)
		}

		if result.Stale {
			fmt.Println("\n(data may be out of date; refreshing in the background)")
		}
		return nil
	},
}

// --- task update ---

var (
	taskUpdateTitle       string
	taskUpdateDescription string
	taskUpdatePriority    string
	taskUpdateDue         string
)

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Update a task's title, description, priority, or due date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("sync engine not initialized")
		}

		var patch models.TaskPatch
		if cmd.Flags().Changed("title") {
			patch.Title = &taskUpdateTitle
		}
		if cmd.Flags().Changed("description") {
			patch.Description = &taskUpdateDescription
		}
		if cmd.Flags().Changed("priority") {
			p := models.Priority(taskUpdatePriority)
			if !p.Valid() {
				return fmt.Errorf("invalid priority %q (use low, medium, high, or urgent)", taskUpdatePriority)
			}
			patch.Priority = &p
		}
		if cmd.Flags().Changed("due") {
			due, err := parseDueDate(taskUpdateDue)
			if err != nil {
				return err
			}
			patch.DueDate = &due
		}
		if patch == (models.TaskPatch{}) {
			return fmt.Errorf("nothing to update: pass at least one of --title, --description, --priority, --due")
		}

		task, err := Engine.UpdateTask(args[0], patch)
		if err != nil {
			return fmt.Errorf("updating task %s: %w", args[0], err)
		}

		fmt.Printf("Updated task %s\n", task.ID)
		fmt.Printf("  Title:    %s\n", task.Title)
		fmt.Printf("  Priority: %s\n", task.Priority)
		return nil
	},
}

// --- task done / reopen ---

var taskDoneCmd = &cobra.Command{
	Use:   "done <task-id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCompleted(args[0], true)
	},
}

var taskReopenCmd = &cobra.Command{
	Use:   "reopen <task-id>",
	Short: "Reopen a completed task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCompleted(args[0], false)
	},
}

func setCompleted(id string, completed bool) error {
	if Engine == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	task, err := Engine.UpdateTask(id, models.TaskPatch{Completed: &completed})
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}

	if completed {
		fmt.Printf("Completed task %s: %s\n", task.ID, task.Title)
	} else {
		fmt.Printf("Reopened task %s: %s\n", task.ID, task.Title)
	}
	return nil
}

// --- task delete ---

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task",
	Long: `Delete a task. The task disappears from listings immediately and is
removed on the server by the next sync cycle.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("sync engine not initialized")
		}

		if err := Engine.DeleteTask(args[0]); err != nil {
			return fmt.Errorf("deleting task %s: %w", args[0], err)
		}
		fmt.Printf("Deleted task %s\n", args[0])
		return nil
	},
}

// --- helpers ---

// parseDueDate accepts a date or a full RFC 3339 timestamp.
func parseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q (use 2006-01-02 or RFC 3339)", s)
	}
	return t, nil
}

var priorityOrder = map[models.Priority]int{
	models.PriorityUrgent: 0,
	models.PriorityHigh:   1,
	models.PriorityMedium: 2,
	models.PriorityLow:    3,
}

func sortTasks(tasks []models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Completed != tasks[j].Completed {
			return !tasks[i].Completed
		}
		if pi, pj := priorityOrder[tasks[i].Priority], priorityOrder[tasks[j].Priority]; pi != pj {
			return pi < pj
		}
		return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
	})
}

func printTaskTable(tasks []models.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return
	}

	for _, t := range tasks {
		marker := " "
		if t.Completed {
			marker = "x"
		}
		pending := ""
		if t.HasTempID() {
			pending = " (pending sync)"
		}
		fmt.Printf("[%s] %-12s %-8s %s%s\n", marker, t.ID, t.Priority, t.Title, pending)

		if t.DueDate != nil {
			fmt.Printf("      due %s\n", t.DueDate.Format("2006-01-02"))
		}
		switch {
		case len(t.Labels) > 0:
			fmt.Printf("      labels: %s\n", formatLabels(t.Labels))
		case !t.LabelingStatus.Terminal():
			fmt.Printf("      labels: %s...\n", t.LabelingStatus)
		}
	}
}

func formatLabels(labels []models.Label) string {
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		if l.Primary {
			parts = append(parts, l.Name+"*")
		} else {
			parts = append(parts, l.Name)
		}
	}
	return strings.Join(parts, ", ")
}

func init() {
	taskAddCmd.Flags().StringVar(&taskAddDescription, "description", "", "Longer free-form description")
	taskAddCmd.Flags().StringVar(&taskAddPriority, "priority", "", "Task priority (low, medium, high, urgent)")
	taskAddCmd.Flags().StringVar(&taskAddDue, "due", "", "Due date (2006-01-02 or RFC 3339)")

	taskListCmd.Flags().BoolVar(&taskListAll, "all", false, "Include completed tasks")
	taskListCmd.Flags().StringVarP(&taskListOutput, "output", "o", "text", "Output format (text, yaml)")

	taskUpdateCmd.Flags().StringVar(&taskUpdateTitle, "title", "", "New title")
	taskUpdateCmd.Flags().StringVar(&taskUpdateDescription, "description", "", "New description")
	taskUpdateCmd.Flags().StringVar(&taskUpdatePriority, "priority", "", "New priority (low, medium, high, urgent)")
	taskUpdateCmd.Flags().StringVar(&taskUpdateDue, "due", "", "New due date (2006-01-02 or RFC 3339)")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskDoneCmd)
	taskCmd.AddCommand(taskReopenCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}
