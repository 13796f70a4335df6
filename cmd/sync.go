package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/incidentbridge/internal/config"
	"github.com/incidentbridge/internal/database"
	"github.com/incidentbridge/internal/jira"
	"github.com/incidentbridge/internal/ledger"
	"github.com/incidentbridge/internal/sync"
	"github.com/incidentbridge/internal/topdesk"
)

// SyncCommand returns the sync command
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Mirror Topdesk incidents into Jira",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single reconciliation cycle and exit",
			},
			&cli.IntFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Seconds between cycles, overrides the config file",
			},
		},
		Action: runSync,
	}
}

func runSync(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	interval := time.Duration(cfg.Sync.IntervalSeconds) * time.Second
	if override := c.Int("interval"); override > 0 {
		interval = time.Duration(override) * time.Second
	}

	db, err := database.NewDB("")
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := ledger.New(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	source := topdesk.NewClient(cfg.Topdesk.URL, cfg.Topdesk.Username, cfg.Topdesk.Password, cfg.Sync.PageSize)
	sink := jira.NewClient(cfg.Jira.URL, cfg.Jira.Username, cfg.Jira.Password, cfg.Jira.IssueType)

	engine := sync.NewEngine(source, sink, store, cfg.Jira.ProjectKey, cfg.Jira.ExternalReferenceField)

	if c.Bool("once") {
		return engine.RunCycle(ctx)
	}

	err = sync.NewScheduler(engine, interval).Run(ctx)
	if errors.Is(err, context.Canceled) {
		// Normal shutdown path via SIGINT/SIGTERM
		return nil
	}
	return err
}
