// Command seed-db prepares a development database: it applies migrations,
// gives a demo user a discount code and prints an access token for that user.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/mernshop/checkout/internal/auth"
	"github.com/mernshop/checkout/internal/domain/discount"
	"github.com/mernshop/checkout/internal/repository"
)

type seedOptions struct {
	userID     string
	code       string
	percentage int
	validFor   time.Duration
	tokenTTL   time.Duration
	jwtSecret  string
}

func main() {
	var (
		databaseURL string
		opts        seedOptions
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.userID, "user", "demo-user", "user id to seed")
	flag.StringVar(&opts.code, "code", "WELCOME10", "discount code to give the user")
	flag.IntVar(&opts.percentage, "percentage", 10, "discount percentage")
	flag.DurationVar(&opts.validFor, "valid-for", 30*24*time.Hour, "discount code lifetime")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "access token lifetime")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "access token secret (or ACCESS_TOKEN_SECRET env)")
	flag.Parse()

	_ = godotenv.Load()
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.jwtSecret == "" {
		opts.jwtSecret = os.Getenv("ACCESS_TOKEN_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, opts seedOptions) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL, repository.PoolConfig{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if _, err := repository.RunMigrations(pool, repository.MigrationsTable); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	code, err := seedDiscount(ctx, repository.NewDiscountRepository(pool), opts, time.Now())
	if err != nil {
		return errors.Wrap(err, "seed discount code")
	}
	slog.Info("discount code seeded",
		slog.String("user", code.UserID),
		slog.String("code", code.Code),
		slog.Int("percentage", code.Percentage),
	)

	if opts.jwtSecret == "" {
		slog.Warn("no jwt secret given, skipping access token")
		return nil
	}
	token, err := auth.NewJWT(opts.jwtSecret, 0).Issue(opts.userID, opts.tokenTTL)
	if err != nil {
		return errors.Wrap(err, "issue access token")
	}
	fmt.Println(token)
	return nil
}

type discountWriter interface {
	Upsert(ctx context.Context, c *discount.Code) error
}

func seedDiscount(ctx context.Context, w discountWriter, opts seedOptions, now time.Time) (*discount.Code, error) {
	if opts.percentage < 0 || opts.percentage > 100 {
		return nil, errors.Errorf("percentage %d out of range", opts.percentage)
	}
	c := &discount.Code{
		Code:       discount.NormalizeCode(opts.code),
		UserID:     opts.userID,
		Percentage: opts.percentage,
		Active:     true,
		ExpiresAt:  now.Add(opts.validFor).UTC(),
		CreatedAt:  now.UTC(),
	}
	if err := w.Upsert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
