package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List persisted execution tasks",
	Long: `Reads the task snapshot for the configured account and prints every
task with its fill and hedge progress. The snapshot is the same file
the bot persists to, so this works while the bot is running or after
it has stopped.

Examples:
  crossarb tasks
  crossarb tasks --status active
  crossarb tasks --status COMPLETED --json`,
	Args: cobra.NoArgs,
	RunE: runTasks,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.Flags().String("status", "", "Filter by status, or 'active' / 'terminal'")
	tasksCmd.Flags().BoolP("json", "j", false, "Output tasks as JSON")
}

func runTasks(cmd *cobra.Command, args []string) error {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLoggerFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := tasks.New(&tasks.Config{
		Logger: logger,
		Path:   cfg.TaskFilePath(),
	})
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	statusFilter, _ := cmd.Flags().GetString("status")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	list := filterTasks(store.List(), statusFilter)

	if jsonOutput {
		out, merr := json.MarshalIndent(list, "", "  ")
		if merr != nil {
			return fmt.Errorf("marshal tasks: %w", merr)
		}
		fmt.Println(string(out))
		return nil
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	displayTasksTable(list)
	return nil
}

// filterTasks keeps tasks matching the status filter. Empty matches
// everything; "active" and "terminal" select by lifecycle instead of
// by exact status.
func filterTasks(list []*tasks.Task, status string) []*tasks.Task {
	if status == "" {
		return list
	}

	out := make([]*tasks.Task, 0, len(list))
	for _, t := range list {
		switch strings.ToLower(status) {
		case "active":
			if t.Active() {
				out = append(out, t)
			}
		case "terminal":
			if t.Status.Terminal() {
				out = append(out, t)
			}
		default:
			if strings.EqualFold(string(t.Status), status) {
				out = append(out, t)
			}
		}
	}
	return out
}

func displayTasksTable(list []*tasks.Task) {
	fmt.Println("\n=============================================================")
	fmt.Println("Execution Tasks")
	fmt.Println("=============================================================")
	fmt.Printf("%-18s %-18s %-5s %-7s %-28s %-14s %-9s %-9s %-8s\n",
		"ID", "Status", "Side", "Strat", "Market", "Filled", "Hedged", "Profit", "Age")
	fmt.Println("-------------------------------------------------------------")

	counts := make(map[tasks.Status]int)
	for _, t := range list {
		counts[t.Status]++
		fmt.Printf("%-18s %-18s %-5s %-7s %-28s %6.1f/%-6.1f %-9.1f $%-8.2f %-8s\n",
			t.ID,
			t.Status,
			t.Type,
			t.Strategy,
			truncate(taskTitle(t), 28),
			t.PredictFilledQty,
			t.TotalQuantity,
			t.HedgedQty,
			t.ActualProfit,
			taskAge(t, time.Now()))
	}

	fmt.Printf("\nTotal: %d task(s)", len(list))
	for status, n := range counts {
		fmt.Printf("  %s=%d", status, n)
	}
	fmt.Println()
}

func taskTitle(t *tasks.Task) string {
	if t.Title != "" {
		return t.Title
	}
	return t.MarketID
}

// taskAge renders how long ago the task was created, coarsened to the
// largest useful unit.
func taskAge(t *tasks.Task, now time.Time) string {
	age := now.Sub(t.CreatedAt)
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%.1fh", age.Hours())
	default:
		return fmt.Sprintf("%.1fd", age.Hours()/24)
	}
}
