package cart

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/product"
)

// LineItem is one product in a cart with its price snapshot taken when the
// product was first added.
type LineItem struct {
	ProductID      string          `json:"productId"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"price"`
	OriginalPrice  decimal.Decimal `json:"originalPrice"`
	Image          string          `json:"image"`
	Quantity       int             `json:"quantity"`
	ProductType    product.Type    `json:"productType"`
	MaxStock       *int            `json:"maxStock,omitempty"`
	DigitalFileURL string          `json:"digitalFileURL,omitempty"`
}

// Subtotal is UnitPrice × Quantity.
func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// IsPhysical reports whether the line is stock-tracked.
func (l LineItem) IsPhysical() bool {
	return l.ProductType != product.Digital
}

// NewLineItem snapshots p for a cart line of qty units.
func NewLineItem(p *product.Product, qty int) LineItem {
	item := LineItem{
		ProductID:     p.ID,
		Name:          p.Name,
		UnitPrice:     p.EffectivePrice(),
		OriginalPrice: p.Price,
		Image:         p.PrimaryImage(),
		Quantity:      qty,
		ProductType:   p.Type,
	}
	if item.ProductType == "" {
		item.ProductType = product.Physical
	}
	if p.IsPhysical() {
		stock := p.Stock
		item.MaxStock = &stock
	} else {
		item.DigitalFileURL = p.DigitalFileURL
	}
	return item
}

// Cart is the set of line items of one scope. Version is the optimistic
// concurrency counter of the remote copy; zero means never persisted.
type Cart struct {
	OwnerID   string          `json:"userId,omitempty"`
	Items     []LineItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Version   int64           `json:"-"`
}

// New returns an empty cart.
func New(ownerID string, now time.Time) *Cart {
	return &Cart{
		OwnerID:   ownerID,
		Items:     []LineItem{},
		Total:     decimal.Zero,
		UpdatedAt: now,
	}
}

// Subtotal sums the line subtotals of items.
func Subtotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// IsEmpty reports whether the cart holds no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ItemCount is the number of lines in the cart.
func (c *Cart) ItemCount() int {
	return len(c.Items)
}

// UnitCount sums the quantities of every line.
func (c *Cart) UnitCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// Find returns the line for productID or nil.
func (c *Cart) Find(productID string) *LineItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// Add appends item, or adds its quantity onto the existing line for the same
// product keeping that line's price snapshot.
func (c *Cart) Add(item LineItem) {
	if existing := c.Find(item.ProductID); existing != nil {
		existing.Quantity += item.Quantity
		return
	}
	c.Items = append(c.Items, item)
}

// Remove drops the line for productID and reports whether one existed.
func (c *Cart) Remove(productID string) bool {
	n := len(c.Items)
	c.Items = slices.DeleteFunc(c.Items, func(l LineItem) bool {
		return l.ProductID == productID
	})
	return len(c.Items) != n
}

// Merge folds every line of other into c.
func (c *Cart) Merge(other *Cart) {
	if other == nil {
		return
	}
	for _, item := range other.Items {
		c.Add(cloneLine(item))
	}
}

// Recalculate derives Total from the lines.
func (c *Cart) Recalculate() {
	c.Total = Subtotal(c.Items).Round(2)
}

// Normalize drops lines without a positive quantity and derives Total from
// what remains. Stored carts are normalized on every load.
func (c *Cart) Normalize() {
	if c.Items == nil {
		c.Items = []LineItem{}
	}
	c.Items = slices.DeleteFunc(c.Items, func(l LineItem) bool {
		return l.Quantity < 1
	})
	c.Recalculate()
}

// Clone returns a deep copy of c.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = CloneItems(c.Items)
	return &cp
}

// CloneItems deep-copies a line slice.
func CloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	for i, item := range items {
		out[i] = cloneLine(item)
	}
	return out
}

func cloneLine(item LineItem) LineItem {
	if item.MaxStock != nil {
		v := *item.MaxStock
		item.MaxStock = &v
	}
	return item
}
