package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/david/deal-pulse/internal/db"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	var users, connections, open, dismissed, runs int
	err = pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM users),
			(SELECT count(*) FROM crm_connections),
			(SELECT count(*) FROM notifications WHERE is_read = FALSE AND is_dismissed = FALSE),
			(SELECT count(*) FROM notifications WHERE is_dismissed = TRUE),
			(SELECT count(*) FROM scan_runs)
	`).Scan(&users, &connections, &open, &dismissed, &runs)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	var duplicates int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT user_id, fingerprint FROM notifications
			WHERE fingerprint IS NOT NULL AND is_read = FALSE AND is_dismissed = FALSE
			GROUP BY user_id, fingerprint HAVING count(*) > 1
		) d
	`).Scan(&duplicates)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("Users: %d\n", users)
	fmt.Printf("CRM connections: %d\n", connections)
	fmt.Printf("Open notifications: %d\n", open)
	fmt.Printf("Dismissed notifications: %d\n", dismissed)
	fmt.Printf("Scan runs: %d\n", runs)
	fmt.Printf("Duplicate open alerts: %d\n", duplicates)
}
