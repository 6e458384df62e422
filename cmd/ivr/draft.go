package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/interviewer/internal/draft"
)

func newDraftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Inspect saved interview drafts",
	}

	cmd.AddCommand(newDraftListCmd())
	cmd.AddCommand(newDraftShowCmd())
	cmd.AddCommand(newDraftClearCmd())
	return cmd
}

func newDraftListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions with a saved draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDraftList(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDraftList(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	keys, err := draft.NewSQLBackend(gormDB).Keys(context.Background())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	n := 0
	for _, k := range keys {
		if id, ok := draft.SessionFromKey(k); ok {
			fmt.Fprintln(out, id)
			n++
		}
	}
	if n == 0 {
		fmt.Fprintln(out, "No saved drafts.")
	}
	return nil
}

func newDraftShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the saved draft for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDraftShow(cmd, configPath, args[0])
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDraftShow(cmd *cobra.Command, configPath, sessionID string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	mgr, err := newDraftManager(cfg, gormDB)
	if err != nil {
		return err
	}
	state, err := mgr.Load(context.Background(), sessionID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if state == nil {
		fmt.Fprintf(out, "No draft for session %s.\n", sessionID)
		return nil
	}

	fmt.Fprintf(out, "Session:  %s\n", state.SessionID)
	fmt.Fprintf(out, "Saved:    %s\n", state.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "Mode:     %s\n", state.Mode)
	fmt.Fprintf(out, "Turns:    %d\n", len(state.Turns))
	for _, t := range state.Turns {
		mark := " "
		if t.Answered() {
			mark = "x"
		}
		fmt.Fprintf(out, "  [%s] %d. %s\n", mark, t.Number, truncate(t.Question, 70))
	}
	if state.CurrentAnswer != "" {
		fmt.Fprintf(out, "Answer:   %s\n", truncate(state.CurrentAnswer, 70))
	}
	return nil
}

func newDraftClearCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Delete the saved draft for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDraftClear(cmd, configPath, args[0])
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDraftClear(cmd *cobra.Command, configPath, sessionID string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	mgr, err := newDraftManager(cfg, gormDB)
	if err != nil {
		return err
	}
	if err := mgr.Clear(context.Background(), sessionID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Draft for %s cleared.\n", sessionID)
	return nil
}

// truncate shortens s to at most n runes for single-line display.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
