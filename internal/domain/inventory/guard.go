package inventory

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

const lookupParallelism = 8

// StockStore reads and atomically adjusts live product stock.
type StockStore interface {
	Get(ctx context.Context, id string) (*product.Product, error)
	AdjustStock(ctx context.Context, id string, delta int) (int, error)
}

// Guard checks cart lines against live stock and applies the decrement
// when an order is committed.
type Guard struct {
	stock StockStore
}

// NewGuard creates a Guard.
func NewGuard(stock StockStore) *Guard {
	return &Guard{stock: stock}
}

// ValidateAndReserve re-reads the stock of every physical line and fails
// with the first line, in cart order, whose quantity exceeds it. Digital
// lines are not checked. Nothing is held: CommitDecrement re-checks
// atomically.
func (g *Guard) ValidateAndReserve(ctx context.Context, items []cart.LineItem) error {
	live := make([]*product.Product, len(items))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(lookupParallelism)
	for i, item := range items {
		if !item.IsPhysical() {
			continue
		}
		grp.Go(func() error {
			p, err := g.stock.Get(gctx, item.ProductID)
			if err != nil {
				return errors.Wrapf(err, "get product %s", item.ProductID)
			}
			live[i] = p
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}

	for i, item := range items {
		p := live[i]
		if p == nil {
			continue
		}
		if item.Quantity > p.Stock {
			return &product.InsufficientStockError{
				ProductID: item.ProductID,
				Name:      item.Name,
				Requested: item.Quantity,
				Available: p.Stock,
			}
		}
	}
	return nil
}

// CommitDecrement takes each physical line's quantity out of stock. Every
// decrement is a conditional update, so concurrent checkouts for the last
// units cannot both succeed. If any line fails, the lines already taken are
// put back.
func (g *Guard) CommitDecrement(ctx context.Context, items []cart.LineItem) error {
	done := make([]cart.LineItem, 0, len(items))
	for _, item := range items {
		if !item.IsPhysical() {
			continue
		}
		_, err := g.stock.AdjustStock(ctx, item.ProductID, -item.Quantity)
		if err == nil {
			done = append(done, item)
			continue
		}

		if errors.Is(err, product.ErrOutOfStock) {
			err = g.insufficient(ctx, item)
		} else {
			err = errors.Wrapf(err, "decrement stock of %s", item.ProductID)
		}
		if rbErr := g.Restore(ctx, done); rbErr != nil {
			zctx.From(ctx).Error("Roll back stock decrement", zap.Error(rbErr))
		}
		return err
	}
	return nil
}

// Restore returns the quantities of physical lines to stock.
func (g *Guard) Restore(ctx context.Context, items []cart.LineItem) error {
	var errs error
	for _, item := range items {
		if !item.IsPhysical() {
			continue
		}
		if _, err := g.stock.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "restore stock of %s", item.ProductID))
		}
	}
	return errs
}

func (g *Guard) insufficient(ctx context.Context, item cart.LineItem) error {
	stockErr := &product.InsufficientStockError{
		ProductID: item.ProductID,
		Name:      item.Name,
		Requested: item.Quantity,
	}
	if p, err := g.stock.Get(ctx, item.ProductID); err == nil {
		stockErr.Available = p.Stock
	}
	return stockErr
}
