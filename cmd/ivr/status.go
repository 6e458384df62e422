package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/interviewer/internal/api"
	"github.com/zulandar/interviewer/internal/models"
	"github.com/zulandar/interviewer/internal/queue"
	"github.com/zulandar/interviewer/internal/tabs"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show session status",
		Long:  "Displays the remote session status together with local state: queued answers, saved draft and the tab lease holder.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, args[0])
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStatus(cmd *cobra.Command, configPath, sessionID string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	out := cmd.OutOrStdout()

	sess, err := client.GetSession(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(out, "Remote:   unavailable (%v)\n", err)
	} else {
		printSession(out, sess)
	}

	depth, err := queue.New(gormDB).Count(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Queued:   %d answer(s)\n", depth)

	mgr, err := newDraftManager(cfg, gormDB)
	if err != nil {
		return err
	}
	if st, err := mgr.Load(ctx, sessionID); err == nil && st != nil {
		fmt.Fprintf(out, "Draft:    saved %s, %d turn(s)\n", st.Timestamp.Format(time.RFC3339), len(st.Turns))
	} else {
		fmt.Fprintln(out, "Draft:    none")
	}

	if cfg.Tabs.Lease {
		holder, err := tabs.NewLease(gormDB, cfg.LeaseTimeout()).Holder(ctx, sessionID)
		switch {
		case err != nil:
			return err
		case holder == nil:
			fmt.Fprintln(out, "Lease:    free")
		default:
			fmt.Fprintf(out, "Lease:    held by %s (last beat %s)\n", holder.TabID, holder.LastHeartbeat.Format(time.RFC3339))
		}
	}
	return nil
}

func printSession(out io.Writer, s *models.Session) {
	fmt.Fprintf(out, "Session:  %s\n", s.SessionID)
	fmt.Fprintf(out, "Status:   %s\n", s.Status)
	if s.CandidateName != "" {
		fmt.Fprintf(out, "Candidate: %s\n", s.CandidateName)
	}
	if s.JobTitle != "" {
		fmt.Fprintf(out, "Role:     %s\n", s.JobTitle)
	}
	fmt.Fprintf(out, "Turns:    %d\n", s.TotalTurns)
}

func newPauseCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "pause <session-id>",
		Short: "Pause a session's clock on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPauseResume(cmd, configPath, args[0], (*api.Client).Pause)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func newResumeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPauseResume(cmd, configPath, args[0], (*api.Client).Resume)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runPauseResume(cmd *cobra.Command, configPath, sessionID string,
	op func(*api.Client, context.Context, string) (*models.Session, error)) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	sess, err := op(client, context.Background(), sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s is now %s.\n", sess.SessionID, sess.Status)
	return nil
}
