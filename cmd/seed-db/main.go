package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/secondhand-orders/internal/domain/buyer"
	"github.com/xenking/secondhand-orders/internal/domain/product"
	"github.com/xenking/secondhand-orders/internal/repository"
)

type productJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type buyerJSON struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Avatar string `json:"avatar"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		buyersFile   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&buyersFile, "buyers-file", "db/seed/buyers.json", "path to buyers JSON file")
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

	if err := run(ctx, databaseURL, productsFile, buyersFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, buyersFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedBuyers(ctx, repository.NewBuyerRepository(pool), buyersFile); err != nil {
		return errors.Wrap(err, "seed buyers")
	}

	return nil
}

func readJSON(path string, v any) error {
	slog.Info("reading seed file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, path string) error {
	var products []productJSON
	if err := readJSON(path, &products); err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, product.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Quantity: p.Quantity,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedBuyers(ctx context.Context, repo *repository.BuyerRepository, path string) error {
	var buyers []buyerJSON
	if err := readJSON(path, &buyers); err != nil {
		return err
	}

	slog.Info("upserting buyers", slog.Int("count", len(buyers)))

	for _, b := range buyers {
		if err := repo.Upsert(ctx, buyer.Profile(b)); err != nil {
			return errors.Wrapf(err, "upsert buyer %s", b.ID)
		}

		slog.Info("upserted buyer", slog.String("id", b.ID), slog.String("name", b.Name))
	}

	return nil
}
