// Command purge-expired removes expired pending verifications.
// The API purges lazily during enrollment; this exists for operators who
// want a cron-driven sweep on quiet deployments.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/optin/optin/internal/repository"
)

type output struct {
	Purged int64     `json:"purged"`
	AsOf   time.Time `json:"as_of"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	now := time.Now().UTC()
	purged, err := repo.PurgeExpired(ctx, now)
	if err != nil {
		fmt.Fprintln(os.Stderr, "purge expired:", err)
		os.Exit(1)
	}

	if *format == "json" {
		out := output{Purged: purged, AsOf: now}
		if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
			fmt.Fprintln(os.Stderr, "encode output:", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("purged %d expired pending verifications\n", purged)
}
