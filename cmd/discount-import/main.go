// Command discount-import loads per-user discount codes from gzip-compressed
// CSV files (user_id,code,percentage,expires_at) into the discount ledger.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/mernshop/checkout/internal/repository"
)

func main() {
	var (
		pattern     string
		databaseURL string
		workers     int
		migrate     bool
	)

	flag.StringVar(&pattern, "files", "data/discounts*.csv.gz", "glob of gzip-compressed CSV files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 4, "files read concurrently")
	flag.BoolVar(&migrate, "migrate", true, "apply schema migrations first")
	flag.Parse()

	_ = godotenv.Load()
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, workers, migrate); err != nil {
		slog.Error("discount import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("discount import completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, workers int, migrate bool) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "glob %s", pattern)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", pattern)
	}

	pool, err := repository.NewPool(ctx, databaseURL, repository.PoolConfig{MaxConns: int32(max(workers, 1))})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if migrate {
		version, err := repository.RunMigrations(pool, repository.MigrationsTable)
		if err != nil {
			return errors.Wrap(err, "run migrations")
		}
		slog.Info("schema ready", slog.Uint64("version", uint64(version)))
	}

	imp := &importer{
		codes:   repository.NewDiscountRepository(pool),
		workers: workers,
	}
	stats, err := imp.importFiles(ctx, files)
	if err != nil {
		return err
	}
	slog.Info("import summary",
		slog.Int("files", len(files)),
		slog.Int64("imported", stats.imported.Load()),
		slog.Int64("skipped", stats.skipped.Load()),
	)
	return nil
}
