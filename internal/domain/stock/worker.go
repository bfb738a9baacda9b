// Package stock applies sold-quantity increments for placed orders.
package stock

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/secondhand-orders/internal/domain/product"
)

// DefaultConcurrency bounds in-flight increments per call.
const DefaultConcurrency = 8

// ErrInvalidDelta is returned for a line with a non-positive quantity. Sold
// quantities never decrease.
var ErrInvalidDelta = errors.New("sold quantity delta must be positive")

// Line is one increment to apply.
type Line struct {
	ProductID string
	Quantity  int
}

// LineFailure records why a single line was not applied.
type LineFailure struct {
	Index     int
	ProductID string
	Err       error
}

// PartialFailureError reports lines that failed while others were committed.
// Committed increments are not rolled back.
type PartialFailureError struct {
	Failures []LineFailure
	// Applied holds the indexes of lines whose increment committed.
	Applied []int
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.ProductID, f.Err)
	}
	return fmt.Sprintf("stock reconciliation failed for %d of %d lines: %s",
		len(e.Failures), len(e.Failures)+len(e.Applied), strings.Join(parts, "; "))
}

// Unwrap exposes the individual line errors to errors.Is / errors.As.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Worker increments product sold quantities through the catalog gateway.
type Worker struct {
	products    product.Repository
	concurrency int
}

// NewWorker creates a Worker. A non-positive concurrency uses DefaultConcurrency.
func NewWorker(products product.Repository, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Worker{products: products, concurrency: concurrency}
}

// ApplySoldQuantities increments every line concurrently. A failing line does
// not cancel its siblings; the result is nil or *PartialFailureError.
func (w *Worker) ApplySoldQuantities(ctx context.Context, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}

	errs := make([]error, len(lines))

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i, line := range lines {
		g.Go(func() error {
			errs[i] = w.apply(ctx, line)
			return nil
		})
	}
	_ = g.Wait()

	perr := &PartialFailureError{}
	for i, err := range errs {
		if err != nil {
			perr.Failures = append(perr.Failures, LineFailure{
				Index:     i,
				ProductID: lines[i].ProductID,
				Err:       err,
			})
			continue
		}
		perr.Applied = append(perr.Applied, i)
	}
	if len(perr.Failures) == 0 {
		return nil
	}

	zctx.From(ctx).Warn("Stock reconciliation incomplete",
		zap.Int("failed", len(perr.Failures)),
		zap.Int("applied", len(perr.Applied)),
	)
	return perr
}

func (w *Worker) apply(ctx context.Context, line Line) error {
	if line.Quantity <= 0 {
		return ErrInvalidDelta
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := w.products.IncrementSold(ctx, line.ProductID, int64(line.Quantity))
	if err != nil {
		return errors.Wrapf(err, "increment sold for %s", line.ProductID)
	}

	zctx.From(ctx).Debug("Sold quantity incremented",
		zap.String("product_id", p.ID),
		zap.Int("delta", line.Quantity),
		zap.Int64("sold_quantity", p.SoldQuantity),
	)
	return nil
}
