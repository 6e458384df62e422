package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/interviewer/internal/queue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay queued answers",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueDrainCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	var configPath, sessionID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List answers waiting for delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(cmd, configPath, sessionID)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "only this session")
	return cmd
}

func runQueueList(cmd *cobra.Command, configPath, sessionID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	q := queue.New(gormDB)
	ctx := context.Background()

	entries, err := q.All(ctx)
	if sessionID != "" {
		entries, err = q.Pending(ctx, sessionID)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		return nil
	}
	fmt.Fprintf(out, "%-6s %-24s %-6s %-36s %-8s %s\n", "ID", "SESSION", "TURN", "SUBMISSION", "ATTEMPTS", "QUEUED")
	for _, e := range entries {
		turn := "-"
		if e.TurnID != nil {
			turn = fmt.Sprintf("%d", *e.TurnID)
		}
		fmt.Fprintf(out, "%-6d %-24s %-6s %-36s %-8d %s\n",
			e.ID, truncate(e.SessionID, 24), turn, e.SubmissionID, e.Attempts, e.EnqueuedAt.Format(time.RFC3339))
		if e.LastError != "" {
			fmt.Fprintf(out, "       last error: %s\n", truncate(e.LastError, 100))
		}
	}
	return nil
}

func newQueueDrainCmd() *cobra.Command {
	var configPath, sessionID string

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay queued answers to the interview service",
		Long:  "Replays queued answers directly over HTTP in enqueue order. Delivered entries are removed; failures stay queued.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueDrain(cmd, configPath, sessionID)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "only this session")
	return cmd
}

func runQueueDrain(cmd *cobra.Command, configPath, sessionID string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	sub, err := queue.NewSubmitter(queue.SubmitterOpts{
		Queue:     queue.New(gormDB),
		Remote:    client,
		Attempts:  cfg.Queue.RetryAttempts,
		RetryBase: cfg.RetryBase(),
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	results := make(map[string]queue.DrainResult)
	if sessionID != "" {
		r, err := sub.Drain(ctx, sessionID)
		if err != nil {
			return err
		}
		results[sessionID] = r
	} else {
		results, err = sub.DrainAll(ctx)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		return nil
	}
	failed := 0
	for id, r := range results {
		fmt.Fprintf(out, "%s: %d delivered, %d still queued\n", id, r.Delivered, r.Failed)
		failed += r.Failed
	}
	if failed > 0 {
		return fmt.Errorf("%d answer(s) could not be delivered", failed)
	}
	return nil
}
