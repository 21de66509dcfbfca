package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

// money renders an amount as a JSON number rounded to cents. Amounts stay
// decimal in the domain and in storage; only views carry floats.
func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// ProductView is the public representation of a product.
type ProductView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Price       float64   `json:"price"`
	Discount    int       `json:"discount"`
	FinalPrice  float64   `json:"finalPrice"`
	Stock       int       `json:"stock"`
	ProductType string    `json:"productType"`
	Images      []string  `json:"images"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AdminProductView adds fields hidden from shoppers.
type AdminProductView struct {
	ProductView
	DigitalFileURL string `json:"digitalFileURL,omitempty"`
}

func productView(p *product.Product) ProductView {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	return ProductView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       money(p.Price),
		Discount:    p.Discount,
		FinalPrice:  money(p.EffectivePrice()),
		Stock:       p.Stock,
		ProductType: string(p.Type),
		Images:      images,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func adminProductView(p *product.Product) AdminProductView {
	return AdminProductView{ProductView: productView(p), DigitalFileURL: p.DigitalFileURL}
}

// LineItemView is one cart or order line.
type LineItemView struct {
	ProductID     string  `json:"productId"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	OriginalPrice float64 `json:"originalPrice"`
	Image         string  `json:"image"`
	Quantity      int     `json:"quantity"`
	ProductType   string  `json:"productType"`
	MaxStock      *int    `json:"maxStock,omitempty"`
	Subtotal      float64 `json:"subtotal"`
	DownloadURL   string  `json:"downloadURL,omitempty"`
}

func lineItemView(it cart.LineItem) LineItemView {
	return LineItemView{
		ProductID:     it.ProductID,
		Name:          it.Name,
		Price:         money(it.UnitPrice),
		OriginalPrice: money(it.OriginalPrice),
		Image:         it.Image,
		Quantity:      it.Quantity,
		ProductType:   string(it.ProductType),
		MaxStock:      it.MaxStock,
		Subtotal:      money(it.Subtotal()),
	}
}

// CartView is a cart with the badge count and the checkout estimate.
type CartView struct {
	Items          []LineItemView `json:"items"`
	ItemCount      int            `json:"itemCount" doc:"Number of lines, shown on the cart badge"`
	UnitCount      int            `json:"unitCount" doc:"Units across all lines"`
	Subtotal       float64        `json:"subtotal"`
	Shipping       float64        `json:"shipping"`
	EstimatedTotal float64        `json:"estimatedTotal"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func cartView(c *cart.Cart) CartView {
	v := CartView{
		Items:     make([]LineItemView, 0, len(c.Items)),
		ItemCount: c.ItemCount(),
		UnitCount: c.UnitCount(),
		UpdatedAt: c.UpdatedAt,
	}
	for _, it := range c.Items {
		v.Items = append(v.Items, lineItemView(it))
	}
	subtotal := cart.Subtotal(c.Items)
	shipping := decimal.Zero
	if !c.IsEmpty() {
		shipping = order.ShippingFor(subtotal)
	}
	v.Subtotal = money(subtotal)
	v.Shipping = money(shipping)
	v.EstimatedTotal = money(subtotal.Add(shipping))
	return v
}

// ShippingInfoBody is the delivery contact of a checkout. Blank fields are
// reported together by checkout validation.
type ShippingInfoBody struct {
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Zip      string `json:"zip,omitempty"`
	Country  string `json:"country,omitempty"`
}

func (b ShippingInfoBody) toDomain() order.ShippingInfo {
	return order.ShippingInfo(b)
}

// OrderView is an order as shown to its owner or an admin.
type OrderView struct {
	OrderID       string           `json:"orderId"`
	UserID        string           `json:"userId"`
	UserEmail     string           `json:"userEmail"`
	UserName      string           `json:"userName"`
	Items         []LineItemView   `json:"items"`
	Subtotal      float64          `json:"subtotal"`
	Shipping      float64          `json:"shipping"`
	Tax           float64          `json:"tax"`
	TotalAmount   float64          `json:"totalAmount"`
	PaymentMethod string           `json:"paymentMethod"`
	Status        string           `json:"status"`
	ShippingInfo  ShippingInfoBody `json:"shippingInfo"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

func orderView(o *order.Order) OrderView {
	v := OrderView{
		OrderID:       o.OrderID,
		UserID:        o.UserID,
		UserEmail:     o.UserEmail,
		UserName:      o.UserName,
		Items:         make([]LineItemView, 0, len(o.Items)),
		Subtotal:      money(o.Subtotal),
		Shipping:      money(o.Shipping),
		Tax:           money(o.Tax),
		TotalAmount:   money(o.TotalAmount),
		PaymentMethod: o.PaymentMethod,
		Status:        string(o.Status),
		ShippingInfo:  ShippingInfoBody(o.ShippingInfo),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, it := range o.Items {
		line := lineItemView(it)
		line.MaxStock = nil
		line.DownloadURL = o.DownloadURL(it)
		v.Items = append(v.Items, line)
	}
	return v
}

func orderViews(orders []order.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for i := range orders {
		out = append(out, orderView(&orders[i]))
	}
	return out
}
