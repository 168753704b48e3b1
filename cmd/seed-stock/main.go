// Command seed-stock loads inventory levels from a CSV file (sku,quantity
// per line, optionally gzip-compressed) into the database.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/checkout-service/internal/domain/order"
	"github.com/xenking/checkout-service/internal/storage/postgres"
)

const progressEvery = 10_000

type stockRow struct {
	sku      order.SKU
	quantity int
}

func main() {
	var (
		file        string
		databaseURL string
		workers     int
	)

	flag.StringVar(&file, "file", "stock.csv", "CSV file with sku,quantity rows (.gz supported)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 4, "concurrent upsert workers")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, file, databaseURL, workers); err != nil {
		slog.Error("stock seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("stock seed completed successfully")
}

func run(ctx context.Context, file, databaseURL string, workers int) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	inventory := postgres.NewInventory(pool)
	rows := make(chan stockRow, workers*2)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(rows)
		return streamStockFile(ctx, file, rows)
	})
	for range workers {
		g.Go(func() error {
			for row := range rows {
				if err := inventory.SetStock(ctx, row.sku, row.quantity); err != nil {
					return errors.Wrapf(err, "set stock for %s", row.sku)
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// streamStockFile parses the CSV file line by line and sends rows to out.
func streamStockFile(ctx context.Context, path string, out chan<- stockRow) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var count uint64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sku, qty, ok := strings.Cut(line, ",")
		if !ok {
			return errors.Errorf("malformed row %q", line)
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil || n < 0 {
			return errors.Errorf("invalid quantity in row %q", line)
		}

		select {
		case out <- stockRow{sku: order.SKU(strings.TrimSpace(sku)), quantity: n}:
		case <-ctx.Done():
			return ctx.Err()
		}

		count++
		if count%progressEvery == 0 {
			slog.Info("seed progress", slog.Uint64("rows", count))
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
