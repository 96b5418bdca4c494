package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/crm"
	"github.com/david/deal-pulse/internal/logging"
	"github.com/david/deal-pulse/internal/notify"
	"github.com/david/deal-pulse/internal/pipeline"
)

// dry_run scores a CRM snapshot and runs a scan against an in-memory
// notification store. Nothing is written to the database.
func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("PIPELINE_CONFIG"), "pipeline config file (embedded default when empty)")
	fixture := flag.String("fixture", "internal/crm/testdata/deals.yaml", "YAML fixture to score")
	accessToken := flag.String("access-token", "", "score live HubSpot data with this access token instead of the fixture")
	flag.Parse()

	logger := logging.Must()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	scorer, err := pipeline.NewScorer(cfg.Scoring)
	if err != nil {
		logger.Fatal("invalid scoring config", zap.Error(err))
	}

	var source pipeline.DealSource
	if *accessToken != "" {
		tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: *accessToken, TokenType: "Bearer"})
		source = crm.NewHubSpotClient(crm.StaticTokens(tokens), cfg.CRM, logger)
	} else {
		fs, err := crm.LoadFixture(*fixture, cfg.CRM.PageSize)
		if err != nil {
			logger.Fatal("failed to load fixture", zap.Error(err))
		}
		source = fs
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Scan.Timeout())
	defer cancel()

	store := notify.NewMemoryStore(cfg.Alerts.Cooldown())
	emitter := notify.NewEmitter(store, cfg.Alerts, logger)
	scanner := pipeline.NewScanner(source, pipeline.NewMapper(scorer), emitter, pipeline.ScanOptions{
		Concurrency:          cfg.Scan.NotifyConcurrency,
		MaxPages:             cfg.Scan.MaxPages,
		ZombieCountThreshold: cfg.Alerts.ZombieCountThreshold,
		Logger:               logger,
	})

	snap, err := scanner.Snapshot(ctx)
	if err != nil {
		logger.Fatal("snapshot failed", zap.Error(err))
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Name", "Owner", "Amount", "Age", "Idle", "Score", "Status"})
	for _, d := range snap.Deals {
		t.AppendRow(table.Row{d.ID, d.Name, d.OwnerName, int64(d.Amount), d.DealAgeDays, d.DaysSinceLastActivity, d.HealthScore, d.Status})
	}
	m := snap.Metrics
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d deals", m.TotalDeals), "", int64(m.TotalValue), m.AvgDealAge, "", m.AvgHealthScore, fmt.Sprintf("%d zombie", m.ZombieDeals)})
	t.Render()

	owners := table.NewWriter()
	owners.SetOutputMirror(os.Stdout)
	owners.AppendHeader(table.Row{"Owner", "Deals", "Healthy", "At risk", "Zombie", "Revenue at risk", "Avg score"})
	for _, r := range pipeline.RollupByOwner(snap.Deals) {
		owners.AppendRow(table.Row{r.OwnerName, r.TotalDeals, r.HealthyDeals, r.AtRiskDeals, r.ZombieDeals, int64(r.RevenueAtRisk), r.AvgHealthScore})
	}
	owners.Render()

	for _, sk := range snap.Skipped {
		fmt.Printf("skipped %s: %s\n", sk.DealID, sk.Reason)
	}

	userID := uuid.New()
	start := time.Now()
	res, err := scanner.Run(ctx, userID)
	if err != nil {
		logger.Fatal("scan failed", zap.Error(err))
	}

	fmt.Printf("\nScan %s in %s: %d zombies, %d alerts created, revenue at risk %.2f\n",
		res.Outcome, time.Since(start).Round(time.Millisecond), res.ZombieCount, res.NotificationsCreated, res.Metrics.RevenueAtRisk)
	for _, n := range store.List(userID, true) {
		fmt.Printf("  [%s] %s\n        %s\n", n.Level, n.Title, n.Message)
	}
}
