package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tasktide/pkg/lifecycle"
	"tasktide/pkg/report"
	"tasktide/pkg/task"
)

// startLayouts are accepted by --start, tried in order.
var startLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04"}

func parseStart(s string) (time.Time, error) {
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("start %q: want RFC3339 or \"YYYY-MM-DD HH:MM\"", s)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func addCmd() *cobra.Command {
	var t task.Task
	var start string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a new task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if start != "" {
				st, err := parseStart(start)
				if err != nil {
					return err
				}
				t.StartTime = st
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.tasks.Insert(ctx, &t); err != nil {
					return fmt.Errorf("add task: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	cmd.Flags().StringVarP(&t.ShortName, "name", "n", "", "short name")
	cmd.Flags().StringVarP(&t.Description, "description", "d", "", "description")
	cmd.Flags().StringVarP(&start, "start", "s", "", `start time, RFC3339 or "YYYY-MM-DD HH:MM" local`)
	cmd.Flags().IntVar(&t.DurationHours, "hours", 1, "duration in hours")
	cmd.Flags().StringVarP(&t.Location, "location", "l", "", "location")
	return cmd
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.engine(a.audit).Complete(ctx, id)
				if err != nil {
					return fmt.Errorf("complete task %d: %w", id, err)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func editCmd() *cobra.Command {
	var d task.Details
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's name, description or location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				cur, err := a.tasks.Get(ctx, id)
				if err != nil {
					return fmt.Errorf("edit task %d: %w", id, err)
				}
				t, err := a.tasks.UpdateDetails(ctx, id, mergeDetails(cmd.Flags(), cur.Details(), d))
				if err != nil {
					return fmt.Errorf("edit task %d: %w", id, err)
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	cmd.Flags().StringVarP(&d.ShortName, "name", "n", "", "new short name")
	cmd.Flags().StringVarP(&d.Description, "description", "d", "", "new description")
	cmd.Flags().StringVarP(&d.Location, "location", "l", "", "new location (empty clears it)")
	return cmd
}

// mergeDetails overlays the flags that were set on cur.
func mergeDetails(flags *pflag.FlagSet, cur, set task.Details) task.Details {
	if flags.Changed("name") {
		cur.ShortName = set.ShortName
	}
	if flags.Changed("description") {
		cur.Description = set.Description
	}
	if flags.Changed("location") {
		cur.Location = set.Location
	}
	return cur
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.tasks.Delete(ctx, id)
				if err != nil {
					return fmt.Errorf("delete task %d: %w", id, err)
				}
				if n == 0 {
					return fmt.Errorf("delete task %d: %w", id, task.ErrNotFound)
				}
				fmt.Printf("deleted task %d\n", id)
				return nil
			})
		},
	}
}

func listCmd() *cobra.Command {
	var (
		status string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st task.Status
			if status != "" {
				var err error
				if st, err = task.ParseStatus(status); err != nil {
					return err
				}
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				tasks, err := a.tasks.List(ctx, st, limit)
				if err != nil {
					return fmt.Errorf("list tasks: %w", err)
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), tasks)
				}
				printTasks(os.Stdout, tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum results")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func printTasks(w io.Writer, tasks []task.Task) {
	for _, t := range tasks {
		start := "-"
		if !t.StartTime.IsZero() {
			start = t.StartTime.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%-5d %-12s %-16s %3dh  %s\n", t.ID, t.Status, start, t.DurationHours, t.ShortName)
	}
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export incomplete tasks as an HTML report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				tasks, err := a.tasks.ListNonTerminal(ctx)
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}
				now := time.Now()
				if out == "" {
					out = report.FileName(now)
				}
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}
				if err := report.WriteHTML(f, tasks, now); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("export: %w", err)
				}
				fmt.Printf("exported %d tasks to %s\n", len(tasks), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default incomplete_tasks_<ms>.html)")
	return cmd
}

func sweepCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep now and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rep, err := a.engine(a.audit).Sweep(ctx, time.Now())
				if err != nil {
					return err
				}
				if !verbose {
					rep.Results = onlyChanges(rep.Results)
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include skipped tasks in the report")
	return cmd
}

func onlyChanges(results []lifecycle.Result) []lifecycle.Result {
	var out []lifecycle.Result
	for _, r := range results {
		if r.Outcome != lifecycle.OutcomeSkipped {
			out = append(out, r)
		}
	}
	return out
}
