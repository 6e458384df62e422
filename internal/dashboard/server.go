// Package dashboard serves a local status view of a running interview:
// a JSON snapshot, a server-sent event stream of state changes, the
// offline queue and the Prometheus metrics.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/interviewer/internal/interview"
	"github.com/zulandar/interviewer/internal/metrics"
	"github.com/zulandar/interviewer/internal/queue"
)

// DefaultPort is used when StartOpts.Port is unset.
const DefaultPort = 8099

// StatusSource provides the snapshot served on /api/status.
// *interview.Session satisfies it.
type StatusSource interface {
	Snapshot() interview.Snapshot
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Source  StatusSource
	Hub     *Hub
	Queue   *queue.Queue       // optional
	Metrics *metrics.Collector // optional
	Port    int
	Out     io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Source == nil {
		return fmt.Errorf("dashboard: status source is required")
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the Gin engine with every dashboard route registered.
func NewRouter(opts StartOpts) *gin.Engine {
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}
