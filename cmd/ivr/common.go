package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/interviewer/internal/api"
	"github.com/zulandar/interviewer/internal/config"
	"github.com/zulandar/interviewer/internal/db"
	"github.com/zulandar/interviewer/internal/draft"
	"github.com/zulandar/interviewer/internal/tabs"
	"gorm.io/gorm"
)

const defaultConfigPath = "interviewer.yaml"

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to Interviewer config file")
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// connectFromConfig loads the config and opens the local store.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Open(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return cfg, gormDB, nil
}

func newAPIClient(cfg *config.Config) (*api.Client, error) {
	client, err := api.New(api.Options{
		BaseURL: cfg.Server.APIURL,
		Token:   cfg.Server.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}
	return client, nil
}

// newDraftManager builds the tiered draft store: the durable SQL tier
// first, then the in-process tier bounded by the configured quota.
func newDraftManager(cfg *config.Config, gormDB *gorm.DB) (*draft.Manager, error) {
	return draft.NewManager(draft.ManagerOpts{
		Backends: []draft.Backend{
			draft.NewSQLBackend(gormDB),
			draft.NewMemoryBackend(cfg.Storage.MemoryQuotaBytes),
		},
		TTL: cfg.DraftTTL(),
	})
}

// newTabBus returns the bus tabs of one session gossip over. The SQL bus
// reaches other ivr processes sharing the store; the memory bus only
// reaches tabs inside this process.
func newTabBus(cfg *config.Config, gormDB *gorm.DB) tabs.Bus {
	if cfg.Tabs.Bus == "memory" {
		return tabs.NewMemoryBus()
	}
	return tabs.NewSQLBus(gormDB, tabs.SQLBusOpts{PollInterval: cfg.PollInterval()})
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
