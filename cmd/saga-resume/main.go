package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-orders/internal/domain/order"
	"github.com/xenking/secondhand-orders/internal/domain/stock"
	"github.com/xenking/secondhand-orders/internal/events"
	"github.com/xenking/secondhand-orders/internal/ordercode"
	"github.com/xenking/secondhand-orders/internal/repository"
)

func main() {
	var (
		databaseURL string
		olderThan   time.Duration
		limit       int
		concurrency int
		brokers     string
		topic       string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.DurationVar(&olderThan, "older-than", 5*time.Minute, "only resume orders created before now minus this age")
	flag.IntVar(&limit, "limit", 500, "maximum orders resumed per run")
	flag.IntVar(&concurrency, "concurrency", stock.DefaultConcurrency, "concurrent sold quantity updates per order")
	flag.StringVar(&brokers, "kafka-broker", "", "Kafka broker for order events; empty disables events")
	flag.StringVar(&topic, "kafka-topic", "order-events", "order events topic")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		if databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}

		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		var publisher events.Publisher = events.Nop{}
		if brokers != "" {
			p, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: []string{brokers}, Topic: topic})
			if err != nil {
				return errors.Wrap(err, "create event publisher")
			}
			defer func() { _ = p.Close() }()
			publisher = p
		}

		products := repository.NewProductRepository(pool)
		svc, err := order.NewService(
			repository.NewOrderRepository(pool),
			products,
			stock.NewWorker(products, concurrency),
			ordercode.NewIssuer(ordercode.IssuerConfig{}),
			publisher,
			order.Options{
				TracerProvider: m.TracerProvider(),
				MeterProvider:  m.MeterProvider(),
			},
		)
		if err != nil {
			return errors.Wrap(err, "create order service")
		}

		report, err := svc.ResumePending(ctx, olderThan, limit)
		if err != nil {
			return errors.Wrap(err, "resume pending orders")
		}
		lg.Info("Resume finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("resumed", report.Resumed),
			zap.Int("failed", report.Failed),
		)
		if report.Failed > 0 {
			return errors.Errorf("%d orders could not be resumed", report.Failed)
		}
		return nil
	})
}
