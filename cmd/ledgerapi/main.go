package main

import (
	"log"
	"os"

	"github.com/rawblock/ledgercore/internal/attribution"
	"github.com/rawblock/ledgercore/internal/flowregistry"
	"github.com/rawblock/ledgercore/internal/ledgerapi"
	"github.com/rawblock/ledgercore/internal/ledgerstore"
	"github.com/rawblock/ledgercore/internal/recharge"
)

func main() {
	log.Println("Starting RawBlock Ledger Core (revenue accounting reference stack)...")

	// ─── Optional Environment Variables ──────────────────────────────────
	// DATABASE_URL enables the Postgres mirror; without it the stack runs
	// entirely in-memory, which is a fully supported mode.
	// ───────────────────────────────────────────────────────────────────────

	var store *ledgerstore.Store
	if dbUrl := os.Getenv("DATABASE_URL"); dbUrl != "" {
		s, err := ledgerstore.Connect(dbUrl)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without mirroring. Error: %v", err)
		} else {
			store = s
			defer store.Close()
			if err := store.InitSchema(); err != nil {
				log.Printf("Warning: ledger mirror schema init failed: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set — running with in-memory registries only")
	}

	flows := flowregistry.New()
	recharges := recharge.New()
	rules := attribution.NewRegistry()

	wsHub := ledgerapi.NewHub()
	go wsHub.Run()

	handler := ledgerapi.NewHandler(flows, recharges, rules, wsHub, store)
	r := ledgerapi.SetupRouter(handler)

	port := getEnvOrDefault("PORT", "5340")

	log.Printf("Ledger API running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
