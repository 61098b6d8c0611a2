package main

import (
	"fmt"
	"log"
	"os"

	"straddle-core/pkg/db"
)

// verify_schema checks that a database file carries every table and column the
// straddle core reads. Migrations are applied first, so it also upgrades old files.
//
// Usage:
//   go run ./scripts/verify_schema [path]

var required = map[string][]string{
	"straddle_configs": {"id", "strategy_name", "exit_status", "exit_reason", "data", "updated_at"},
	"orders":           {"id", "strategy_id", "venue_order_id", "status"},
	"venue_orders":     {"order_id", "exch_order_id", "status", "trade_date"},
	"venue_trades":     {"order_id", "fill_id", "filled_qty", "filled_price"},
	"venue_positions":  {"exchange", "token", "net_qty"},
	"candles":          {"exchange", "token", "ts", "high", "low"},
}

func main() {
	dbPath := "./data/straddle.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	database, err := db.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	missing := 0
	for table, columns := range required {
		cols, err := db.TableColumns(database, table)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		if len(cols) == 0 {
			fmt.Printf("❌ %s table MISSING\n", table)
			missing++
			continue
		}
		for _, c := range columns {
			if !cols[c] {
				fmt.Printf("❌ %s.%s column MISSING\n", table, c)
				missing++
			}
		}
		fmt.Printf("✓ %s checked\n", table)
	}
	if missing > 0 {
		os.Exit(1)
	}
}
