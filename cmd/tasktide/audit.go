package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tasktide/pkg/audit"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the transition audit log",
	}
	cmd.AddCommand(auditRecentCmd())
	cmd.AddCommand(auditVerifyCmd())
	return cmd
}

func auditRecentCmd() *cobra.Command {
	var (
		taskID int64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show recent transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var (
					entries []audit.Entry
					err     error
				)
				if taskID > 0 {
					entries, err = a.audit.ByTask(ctx, taskID, limit)
				} else {
					entries, err = a.audit.Recent(ctx, limit)
				}
				if err != nil {
					return fmt.Errorf("audit: %w", err)
				}
				for _, e := range entries {
					fmt.Printf("%s  task %-5d %-11s -> %-11s %s\n",
						e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.TaskID, e.OldStatus, e.NewStatus, e.Source)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&taskID, "task", 0, "only this task's history")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	return cmd
}

func auditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.audit.VerifyChain(ctx); err != nil {
					return fmt.Errorf("chain verification failed: %w", err)
				}
				n, err := a.audit.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("hash chain verified (%d entries)\n", n)
				return nil
			})
		},
	}
}
