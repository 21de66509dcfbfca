package handler

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/domain/session"
)

// unavailable is implemented by store errors that signal a backend outage.
type unavailable interface {
	Unavailable() bool
}

// mapError converts domain errors to huma status errors. Unclassified
// errors are logged and reported as 500 without detail.
func mapError(ctx context.Context, err error) error {
	var (
		stockErr      *product.InsufficientStockError
		invalidErr    *product.InvalidError
		validationErr *order.ValidationError
		transitionErr *order.IllegalTransitionError
		outage        unavailable
	)

	switch {
	case errors.As(err, &stockErr):
		return huma.Error409Conflict(stockErr.Error(), &huma.ErrorDetail{
			Message:  "insufficient stock",
			Location: "items",
			Value:    stockErr.ProductID,
		})
	case errors.Is(err, session.ErrUnauthenticated):
		return huma.Error401Unauthorized("sign in required")
	case errors.Is(err, order.ErrForbidden):
		return huma.Error403Forbidden("admin role required")
	case errors.Is(err, product.ErrNotFound):
		return huma.Error404NotFound("product not found")
	case errors.Is(err, order.ErrNotFound):
		return huma.Error404NotFound("order not found")
	case errors.Is(err, order.ErrEmptyCart):
		return huma.Error422UnprocessableEntity("cart is empty")
	case errors.As(err, &validationErr):
		details := make([]error, 0, len(validationErr.Fields))
		for _, f := range validationErr.Fields {
			details = append(details, &huma.ErrorDetail{Message: "missing or invalid", Location: f})
		}
		return huma.Error422UnprocessableEntity(validationErr.Error(), details...)
	case errors.As(err, &invalidErr):
		return huma.Error422UnprocessableEntity(invalidErr.Error(), &huma.ErrorDetail{
			Message:  invalidErr.Reason,
			Location: invalidErr.Field,
		})
	case errors.Is(err, cart.ErrInvalidQuantity):
		return huma.Error422UnprocessableEntity(cart.ErrInvalidQuantity.Error())
	case errors.As(err, &transitionErr):
		return huma.Error409Conflict(transitionErr.Error())
	case errors.Is(err, order.ErrCheckoutInProgress):
		return huma.Error409Conflict("checkout already in progress")
	case errors.Is(err, cart.ErrConflict), errors.Is(err, order.ErrConflict):
		return huma.Error409Conflict("resource was modified concurrently, retry")
	case errors.As(err, &outage) && outage.Unavailable():
		zctx.From(ctx).Warn("Store unavailable", zap.Error(err))
		return huma.Error503ServiceUnavailable("storage temporarily unavailable")
	}

	zctx.From(ctx).Error("Request failed", zap.Error(err))
	return huma.Error500InternalServerError("internal error")
}
