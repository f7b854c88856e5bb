// Command scout runs one region's scout pipeline to completion and
// exits (§6 "run-once CLI collaborator"): a scheduler (cron, a
// Kubernetes CronJob) invokes it once per region per interval rather
// than scout holding its own timer loop, mirroring how the teacher's
// own cmd/ binaries are each a single batch operation over already-
// running Postgres/Neo4j rather than a long-lived server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fourthplaces/rootsignal-sub002/internal/archive"
	"github.com/fourthplaces/rootsignal-sub002/internal/cache"
	"github.com/fourthplaces/rootsignal-sub002/internal/config"
	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/embed"
	"github.com/fourthplaces/rootsignal-sub002/internal/errors"
	"github.com/fourthplaces/rootsignal-sub002/internal/graph"
	"github.com/fourthplaces/rootsignal-sub002/internal/investigate"
	"github.com/fourthplaces/rootsignal-sub002/internal/llm"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
	"github.com/fourthplaces/rootsignal-sub002/internal/pipeline"
)

// exit codes per §6.
const (
	exitSuccess       = 0
	exitFatalConfig   = 1
	exitCancelled     = 2
	exitBudgetNoYield = 3
)

// lockTTL must exceed the interval between scheduled invocations by a
// safety margin so a crashed run's lock expires before the next
// scheduled one would otherwise skip the region entirely.
var lockTTL time.Duration

var rootCmd = &cobra.Command{
	Use:           "scout",
	Short:         "Run one civic-signal scout pass for a region and exit",
	RunE:          runScout,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().DurationVar(&lockTTL, "lock-ttl", 30*time.Minute, "scout lock TTL, should exceed the scheduling interval")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFromError(err))
	}
}

func runScout(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("config load failed")
		return exitErr{exitFatalConfig, err}
	}

	runner, cleanup, err := buildRunner(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to construct pipeline collaborators")
		return exitErr{exitFatalConfig, err}
	}
	defer cleanup()

	region := models.Region{
		CenterLat: cfg.Region.Lat,
		CenterLng: cfg.Region.Lng,
		RadiusKM:  cfg.Region.RadiusKM,
		Name:      cfg.Region.Name,
	}

	result, runErr := runner.Run(ctx, region, cfg.Budget.DailyBudgetCents, lockTTL)
	log.WithFields(logrus.Fields{"run_id": result.RunID, "stats": result.Stats}).Info("scout run finished")

	if result.Cancelled {
		return exitErr{exitCancelled, fmt.Errorf("run cancelled")}
	}
	if runErr != nil {
		if errors.GetType(runErr) == errors.ErrorTypeFatal {
			return exitErr{exitFatalConfig, runErr}
		}
		return exitErr{exitBudgetNoYield, runErr}
	}
	if result.Stats["signals_created"] == 0 && result.Stats["signals_refreshed"] == 0 && result.Stats["signals_corroborated"] == 0 {
		return exitErr{exitBudgetNoYield, fmt.Errorf("run produced no signals")}
	}

	return nil
}

// exitErr carries the exit code a failure should produce alongside the
// underlying error, so main can map it after cobra's own error
// printing without cobra swallowing the distinction between a fatal
// config error and a merely-unproductive run.
type exitErr struct {
	code int
	err  error
}

func (e exitErr) Error() string { return e.err.Error() }

func exitFromError(err error) int {
	if ee, ok := err.(exitErr); ok {
		return ee.code
	}
	return exitFatalConfig
}

// buildRunner wires every pipeline.Runner collaborator from config,
// selecting the page backend per cfg.Browser.UseRemote() and omitting
// the social backend entirely when no Apify key is configured (§4.2).
func buildRunner(ctx context.Context, cfg *config.Config) (*pipeline.Runner, func(), error) {
	db, err := database.NewPostgresStore(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	g, err := graph.NewClientWithDatabase(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, cfg.Neo4j.Database)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect neo4j: %w", err)
	}

	c, err := cache.NewClient(ctx, cfg.Cache.RedisHost, cfg.Cache.RedisPort, cfg.Cache.RedisPassword)
	if err != nil {
		db.Close()
		_ = g.Close(ctx)
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	cleanup := func() {
		_ = c.Close()
		_ = g.Close(ctx)
		db.Close()
	}

	var pageBackend archive.PageBackend
	if cfg.Browser.UseRemote() {
		pageBackend = archive.NewBrowserlessPageBackend(cfg.Browser.BrowserlessURL, cfg.Browser.BrowserlessToken)
	} else {
		pageBackend = archive.NewChromePageBackend()
	}

	searchClient := investigate.NewSearchClient(cfg.Search.SerperAPIKey)
	var searchBackend archive.SearchBackend
	if searchClient.IsEnabled() {
		searchBackend = archive.NewSerperSearchBackend(searchClient)
	}

	var socialBackend archive.SocialBackend
	if cfg.Apify.APIKey != "" {
		socialBackend = archive.NewApifySocialBackend(cfg.Apify.APIKey)
	}

	a := archive.New(db, pageBackend, archive.NewGofeedBackend(), searchBackend, socialBackend)

	llmClient := llm.NewClient(cfg.Anthropic.APIKey, "")
	embedClient := embed.NewClient(cfg.Voyage.APIKey)

	runner := pipeline.NewRunner(db, g, c, a, llmClient, embedClient, searchClient)
	return runner, cleanup, nil
}
