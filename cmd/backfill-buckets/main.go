// backfill-buckets enqueues River classification jobs for feature requests that have no bucket,
// e.g. requests created before classification was enabled or orphaned by a bucket delete.
// Workers in the API process run the jobs.
//
// Environment variables:
//   - DATABASE_URL: PostgreSQL connection string (required)
//   - BACKFILL_TENANT_ID: restrict to one tenant (default: all tenants)
//   - BACKFILL_MAX_REQUESTS: upper bound on requests enqueued in one run (default: 100000)
//   - CLASSIFICATION_MAX_ATTEMPTS: River attempts per job (default: 3)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/formbricks/buckets/internal/jobs"
	"github.com/formbricks/buckets/internal/observability"
	"github.com/formbricks/buckets/internal/repository"
	"github.com/formbricks/buckets/pkg/database"
)

const (
	defaultMaxRequests               = 100000
	defaultClassificationMaxAttempts = 3
	exitSuccess                      = 0
	exitFailure                      = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env for consistency with the main API server (godotenv.Load() there).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	slog.SetDefault(observability.NewLogger(os.Stdout, os.Getenv("LOG_LEVEL")))

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		slog.Error("DATABASE_URL is required")

		return exitFailure
	}

	maxRequests := getEnvAsInt("BACKFILL_MAX_REQUESTS", defaultMaxRequests)
	if maxRequests <= 0 {
		maxRequests = defaultMaxRequests
	}

	maxAttempts := getEnvAsInt("CLASSIFICATION_MAX_ATTEMPTS", defaultClassificationMaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = defaultClassificationMaxAttempts
	}

	tenantID := os.Getenv("BACKFILL_TENANT_ID")

	ctx := context.Background()

	db, err := database.NewPostgresPool(ctx, databaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)

		return exitFailure
	}
	defer db.Close()

	// Insert-only client: no queues or workers are started here.
	riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)

		return exitFailure
	}

	enqueuer := jobs.NewClassificationEnqueuer(riverClient, jobs.ClassificationEnqueuerConfig{
		MaxAttempts: maxAttempts,
	})

	stats, err := jobs.BackfillUnbucketed(ctx, repository.NewFeatureRequestsRepository(db), enqueuer, tenantID, maxRequests)
	if err != nil {
		slog.Error("Backfill failed", "error", err)

		if stats != nil {
			fmt.Printf("Enqueued %d of %d classification job(s) before failing.\n", stats.Enqueued, stats.Listed)
		}

		return exitFailure
	}

	slog.Info("Backfill complete", "listed", stats.Listed, "enqueued", stats.Enqueued, "tenant_id", tenantID)

	fmt.Printf("Enqueued %d classification job(s) for %d unbucketed request(s).\n", stats.Enqueued, stats.Listed)

	return exitSuccess
}

func getEnvAsInt(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}

	return n
}
