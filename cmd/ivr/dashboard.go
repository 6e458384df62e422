package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/interviewer/internal/api"
	"github.com/zulandar/interviewer/internal/dashboard"
	"github.com/zulandar/interviewer/internal/interview"
	"github.com/zulandar/interviewer/internal/metrics"
	"github.com/zulandar/interviewer/internal/queue"
)

func newDashboardCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Start the read-only status dashboard",
		Long:  "Serves the local status dashboard for a session without running it: remote status, queued answers and metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, configPath, sessionID, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to report on")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	cmd.MarkFlagRequired("session")
	return cmd
}

func runDashboard(cmd *cobra.Command, configPath, sessionID string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	if port <= 0 {
		port = cfg.Dashboard.Port
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	q := queue.New(gormDB)
	return dashboard.Start(ctx, dashboard.StartOpts{
		Source:  &remoteSource{client: client, queue: q, sessionID: sessionID},
		Queue:   q,
		Metrics: metrics.NewCollector(),
		Port:    port,
		Out:     cmd.OutOrStdout(),
	})
}

// remoteSource builds snapshots from the interview service and the local
// queue for a session that is not running in this process.
type remoteSource struct {
	client    *api.Client
	queue     *queue.Queue
	sessionID string
}

func (r *remoteSource) Snapshot() interview.Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := interview.Snapshot{Transport: "detached"}
	snap.Session.SessionID = r.sessionID
	if sess, err := r.client.GetSession(ctx, r.sessionID); err != nil {
		log.Printf("dashboard: fetch %s: %v", r.sessionID, err)
		snap.Warnings = append(snap.Warnings, err.Error())
	} else {
		snap.Session = *sess
		snap.Turns = sess.TotalTurns
		snap.Completed = sess.Status.Terminal()
	}
	if n, err := r.queue.Count(ctx, r.sessionID); err == nil {
		snap.QueueDepth = n
	}
	return snap
}
