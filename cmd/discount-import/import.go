package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/mernshop/checkout/internal/domain/discount"
)

const progressEvery = 10_000

// upserter is implemented by *repository.DiscountRepository.
type upserter interface {
	Upsert(ctx context.Context, c *discount.Code) error
}

type importStats struct {
	imported atomic.Int64
	skipped  atomic.Int64
}

type importer struct {
	codes   upserter
	workers int
	now     func() time.Time
}

// importFiles reads files concurrently. A malformed row is logged and
// skipped; a storage error aborts the import.
func (imp *importer) importFiles(ctx context.Context, files []string) (*importStats, error) {
	stats := &importStats{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(imp.workers, 1))
	for _, f := range files {
		g.Go(func() error {
			return imp.importFile(ctx, f, stats)
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (imp *importer) importFile(ctx context.Context, path string, stats *importStats) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return imp.importCSV(ctx, path, gz, stats)
}

func (imp *importer) importCSV(ctx context.Context, name string, r io.Reader, stats *importStats) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	now := time.Now
	if imp.now != nil {
		now = imp.now
	}

	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				slog.Warn("skipping malformed row", slog.String("file", name), slog.Int("line", line), slog.String("error", err.Error()))
				stats.skipped.Add(1)
				continue
			}
			return errors.Wrapf(err, "read %s", name)
		}
		if line == 1 && strings.EqualFold(rec[0], "user_id") {
			continue
		}

		code, err := parseRecord(rec, now())
		if err != nil {
			slog.Warn("skipping invalid row", slog.String("file", name), slog.Int("line", line), slog.String("error", err.Error()))
			stats.skipped.Add(1)
			continue
		}
		if err := imp.codes.Upsert(ctx, code); err != nil {
			return errors.Wrapf(err, "upsert %s:%d", name, line)
		}
		if n := stats.imported.Add(1); n%progressEvery == 0 {
			slog.Info("import progress", slog.Int64("imported", n))
		}
	}
	return nil
}

// parseRecord converts user_id,code,percentage,expires_at into an active code.
// expires_at is RFC 3339 or a plain date; a date expires at the end of that
// day in UTC.
func parseRecord(rec []string, now time.Time) (*discount.Code, error) {
	userID := strings.TrimSpace(rec[0])
	code := discount.NormalizeCode(rec[1])
	switch {
	case userID == "":
		return nil, errors.New("missing user id")
	case code == "":
		return nil, errors.New("missing code")
	}

	pct, err := strconv.Atoi(strings.TrimSpace(rec[2]))
	if err != nil {
		return nil, errors.Wrap(err, "parse percentage")
	}
	if pct < 0 || pct > 100 {
		return nil, errors.Errorf("percentage %d out of range", pct)
	}

	expires, err := parseExpiry(strings.TrimSpace(rec[3]))
	if err != nil {
		return nil, err
	}

	return &discount.Code{
		Code:       code,
		UserID:     userID,
		Percentage: pct,
		Active:     true,
		ExpiresAt:  expires,
		CreatedAt:  now.UTC(),
	}, nil
}

func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Errorf("parse expires_at %q", s)
	}
	return d.Add(24*time.Hour - time.Nanosecond), nil
}
