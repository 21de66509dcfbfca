package product

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for catalogue access.
var (
	ErrNotFound = errors.New("product not found")
	// ErrOutOfStock is returned by Repository.AdjustStock when the adjustment
	// would take stock below zero.
	ErrOutOfStock = errors.New("stock would go negative")
	// ErrInsufficientStock matches every *InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// PlaceholderImage is the line item image used when a product has none.
const PlaceholderImage = "/assets/images/placeholder.jpg"

// Type distinguishes stock-tracked goods from downloads.
type Type string

// Product types.
const (
	Physical Type = "physical"
	Digital  Type = "digital"
)

// Valid reports whether t is a known product type.
func (t Type) Valid() bool {
	return t == Physical || t == Digital
}

// Product represents a catalogue item available for purchase.
type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Category       string          `json:"category,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Discount       int             `json:"discount"`
	FinalPrice     decimal.Decimal `json:"finalPrice"`
	Stock          int             `json:"stock"`
	Type           Type            `json:"productType"`
	Images         []string        `json:"images"`
	DigitalFileURL string          `json:"digitalFileURL,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ComputeFinalPrice returns price reduced by discount percent, rounded to
// cents.
func ComputeFinalPrice(price decimal.Decimal, discount int) decimal.Decimal {
	off := price.Mul(decimal.NewFromInt(int64(discount))).Div(decimal.NewFromInt(100))
	return price.Sub(off).Round(2)
}

// EffectivePrice is the price a shopper pays for one unit.
func (p *Product) EffectivePrice() decimal.Decimal {
	return ComputeFinalPrice(p.Price, p.Discount)
}

// IsPhysical reports whether the product's stock is tracked.
func (p *Product) IsPhysical() bool {
	return p.Type != Digital
}

// PrimaryImage returns the first image or the placeholder.
func (p *Product) PrimaryImage() string {
	if len(p.Images) == 0 || p.Images[0] == "" {
		return PlaceholderImage
	}
	return p.Images[0]
}

// InsufficientStockError reports a requested quantity that live stock
// cannot cover.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("not enough stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InvalidError reports a product that cannot be saved.
type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid product %s: %s", e.Field, e.Reason)
}

// Validate checks the invariants of a product before it is written.
func (p *Product) Validate() error {
	switch {
	case p.Name == "":
		return &InvalidError{Field: "name", Reason: "required"}
	case p.Price.IsNegative():
		return &InvalidError{Field: "price", Reason: "must not be negative"}
	case p.Discount < 0 || p.Discount > 100:
		return &InvalidError{Field: "discount", Reason: "must be between 0 and 100"}
	case p.Stock < 0:
		return &InvalidError{Field: "stock", Reason: "must not be negative"}
	case !p.Type.Valid():
		return &InvalidError{Field: "productType", Reason: "must be physical or digital"}
	}
	return nil
}

// Filter narrows a catalogue listing. Zero fields match everything.
type Filter struct {
	Category string
	Type     Type
	// Query matches name, description or category, ignoring case.
	Query string
	Limit int
}

// Matches reports whether query occurs in the name, description or category
// of p, ignoring case. An empty query matches every product.
func (p *Product) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, field := range []string{p.Name, p.Description, p.Category} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Category is a named catalogue section.
type Category struct {
	ID   string `json:"-"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// CategoryRepository stores catalogue sections.
type CategoryRepository interface {
	List(ctx context.Context) ([]Category, error)
	Save(ctx context.Context, c *Category) error
}

// Repository defines persistence operations for the catalogue.
type Repository interface {
	Get(ctx context.Context, id string) (*Product, error)
	List(ctx context.Context, f Filter) ([]Product, error)
	Save(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id string) error
	// AdjustStock atomically adds delta to the product stock and returns the
	// new level. It fails with ErrOutOfStock instead of going below zero.
	AdjustStock(ctx context.Context, id string, delta int) (int, error)
}

// ObjectStore holds uploaded product media.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte) error
	PublicURL(ctx context.Context, path string) (string, error)
	// Delete removes the object addressed by a path or by its public URL.
	Delete(ctx context.Context, ref string) error
}
