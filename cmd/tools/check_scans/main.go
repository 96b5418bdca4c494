package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"

	"github.com/david/deal-pulse/internal/db"
)

func main() {
	_ = godotenv.Load()
	limit := flag.Int("limit", 10, "number of runs to show")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	runs, err := db.NewStore(pool).RecentScanRuns(ctx, *limit)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"User", "Status", "Deals", "Skipped", "Zombies", "Created", "Deduped", "Failed", "At Risk", "Duration", "Started At"})

	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			r.UserID.String()[:8], r.Status, r.TotalDeals, r.SkippedRecords, r.ZombieCount,
			r.NotificationsCreated, r.NotificationsDeduplicated, r.NotificationsFailed,
			int64(r.RevenueAtRisk), duration, r.StartedAt.Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}
