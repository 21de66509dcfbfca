package order

import (
	"context"

	"github.com/shopspring/decimal"
)

var (
	freeShippingOver = decimal.RequireFromString("50.00")
	flatShipping     = decimal.RequireFromString("5.99")
)

// ShippingFor returns the shipping charge for a subtotal: free strictly
// above 50.00, a flat 5.99 otherwise.
func ShippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThan(freeShippingOver) {
		return decimal.Zero
	}
	return flatShipping
}

// TaxCalculator computes tax owed on an order.
type TaxCalculator interface {
	Tax(ctx context.Context, subtotal decimal.Decimal, to ShippingInfo) (decimal.Decimal, error)
}

// NoTax charges nothing.
type NoTax struct{}

// Tax returns zero.
func (NoTax) Tax(context.Context, decimal.Decimal, ShippingInfo) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
