package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/secondhand-orders/internal/domain/order"
	"github.com/xenking/secondhand-orders/internal/repository"
)

func main() {
	var (
		databaseURL string
		outDir      string
		minorUnits  int64
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&outDir, "out", "export", "directory for the exported files")
	flag.Int64Var(&minorUnits, "minor-units", 1, "stored minor units per reported currency unit")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if minorUnits <= 0 {
		slog.Error("minor-units must be positive")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, outDir, minorUnits); err != nil {
		slog.Error("export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("export completed successfully", slog.String("dir", outDir))
}

func run(ctx context.Context, databaseURL, outDir string, minorUnits int64) error {
	start := time.Now()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := repository.NewOrderRepository(pool)

	// One gzip JSONL file per state, written concurrently.
	g, gctx := errgroup.WithContext(ctx)
	for _, state := range order.States {
		g.Go(exportState(gctx, repo, state, outDir))
	}
	if err := g.Wait(); err != nil {
		return err
	}

	summary, err := repo.Summarize(ctx)
	if err != nil {
		return errors.Wrap(err, "summarize orders")
	}
	if err := writeSummary(filepath.Join(outDir, "summary.json"), summary, decimal.NewFromInt(minorUnits)); err != nil {
		return errors.Wrap(err, "write summary")
	}

	slog.Info("export finished", slog.Duration("elapsed", time.Since(start)))
	return nil
}

func exportState(ctx context.Context, repo *repository.OrderRepository, state order.State, outDir string) func() error {
	return func() error {
		orders, err := repo.ListByState(ctx, state)
		if err != nil {
			return errors.Wrapf(err, "list %s orders", state)
		}

		path := filepath.Join(outDir, fmt.Sprintf("orders_%s.jsonl.gz", state))
		if err := writeGzipJSONL(path, orders); err != nil {
			return errors.Wrapf(err, "write %s", path)
		}

		slog.Info("state exported",
			slog.String("state", string(state)),
			slog.Int("orders", len(orders)),
			slog.String("path", path),
		)
		return nil
	}
}

// writeGzipJSONL writes one JSON object per order, gzip-compressed.
func writeGzipJSONL(path string, orders []order.Order) (rerr error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = err
		}
	}()

	gz := pgzip.NewWriter(f)
	bw := bufio.NewWriter(gz)

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	for i := range orders {
		e.Reset()
		encodeLine(e, &orders[i])
		if _, err := bw.Write(e.Bytes()); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	return gz.Close()
}

func encodeLine(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("orderCode")
	e.Str(o.OrderCode)
	e.FieldStart("state")
	e.Str(string(o.State))
	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	e.FieldStart("paymentState")
	e.Bool(o.PaymentState)
	e.FieldStart("totalPrice")
	e.Int64(o.TotalPrice)
	e.FieldStart("buyerId")
	e.Str(o.BuyerID)
	if o.Buyer != nil {
		e.FieldStart("buyerName")
		e.Str(o.Buyer.Name)
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, li := range o.LineItems {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(li.ProductID)
		if li.Product != nil {
			e.FieldStart("productName")
			e.Str(li.Product.Name)
		}
		e.FieldStart("price")
		e.Int64(li.UnitPrice)
		e.FieldStart("quantity")
		e.Int(li.Quantity)
		e.FieldStart("useInsurance")
		e.Bool(li.UsesInsurance)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}

// writeSummary writes per-state counts and revenue. Revenue is reported in
// currency units: the stored minor-unit sum divided by minorUnits.
func writeSummary(path string, summary []order.StateSummary, minorUnits decimal.Decimal) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	var orders, paid int64
	total := decimal.Zero

	e.ObjStart()
	e.FieldStart("states")
	e.ArrStart()
	for _, s := range summary {
		revenue := s.TotalPrice.Div(minorUnits)
		orders += s.Orders
		paid += s.Paid
		total = total.Add(revenue)

		e.ObjStart()
		e.FieldStart("state")
		e.Str(string(s.State))
		e.FieldStart("orders")
		e.Int64(s.Orders)
		e.FieldStart("paid")
		e.Int64(s.Paid)
		e.FieldStart("totalPrice")
		e.Str(revenue.StringFixed(2))
		e.ObjEnd()

		slog.Info("state summary",
			slog.String("state", string(s.State)),
			slog.Int64("orders", s.Orders),
			slog.Int64("paid", s.Paid),
			slog.String("total", revenue.StringFixed(2)),
		)
	}
	e.ArrEnd()
	e.FieldStart("orders")
	e.Int64(orders)
	e.FieldStart("paid")
	e.Int64(paid)
	e.FieldStart("totalPrice")
	e.Str(total.StringFixed(2))
	e.ObjEnd()

	return os.WriteFile(path, e.Bytes(), 0o644)
}
