package order

import (
	"context"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/cart"
)

// Sentinel errors for order placement and lookup.
var (
	ErrNotFound  = errors.New("order not found")
	ErrEmptyCart = errors.New("cart is empty")
	// ErrConflict is returned when an order changed between read and write.
	ErrConflict = errors.New("order was modified concurrently")
	// ErrCheckoutInProgress is returned for a repeated idempotency key whose
	// first checkout has not finished.
	ErrCheckoutInProgress = errors.New("checkout already in progress")
)

// PaymentCOD is the only payment method: cash on delivery.
const PaymentCOD = "COD"

// Status is the fulfilment state of an order.
type Status string

// Order statuses.
const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusDelivered, StatusCancelled},
}

// ParseStatus converts s to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusDelivered, StatusCancelled:
		return st, nil
	}
	return "", &ValidationError{Fields: []string{"status"}}
}

// CanTransitionTo reports whether an order in s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// IllegalTransitionError reports a status change the order graph forbids.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order cannot move from %s to %s", e.From, e.To)
}

// ValidationError lists the fields of a request that are missing or
// malformed.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid " + strings.Join(e.Fields, ", ")
}

// ShippingInfo is the delivery address captured at checkout.
type ShippingInfo struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
}

// Validate reports every blank field and a malformed email.
func (s ShippingInfo) Validate() error {
	var fields []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			fields = append(fields, name)
		}
	}
	check("fullName", s.FullName)
	if strings.TrimSpace(s.Email) == "" {
		fields = append(fields, "email")
	} else if addr, err := mail.ParseAddress(s.Email); err != nil || addr.Address != strings.TrimSpace(s.Email) {
		fields = append(fields, "email")
	}
	check("phone", s.Phone)
	check("address", s.Address)
	check("city", s.City)
	check("state", s.State)
	check("zip", s.Zip)
	check("country", s.Country)

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Order is an immutable snapshot of a cart at checkout. Only Status and
// UpdatedAt change afterwards. ID is the storage id, OrderID the reference
// shown to shoppers.
type Order struct {
	ID             string          `json:"-"`
	OrderID        string          `json:"orderId"`
	UserID         string          `json:"userId"`
	UserEmail      string          `json:"userEmail"`
	UserName       string          `json:"userName"`
	Items          []cart.LineItem `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Shipping       decimal.Decimal `json:"shipping"`
	Tax            decimal.Decimal `json:"tax"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	PaymentMethod  string          `json:"paymentMethod"`
	Status         Status          `json:"status"`
	ShippingInfo   ShippingInfo    `json:"shippingInfo"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Version        int64           `json:"-"`
}

// DownloadURL returns the digital file of item once the order is delivered.
func (o *Order) DownloadURL(item cart.LineItem) string {
	if o.Status != StatusDelivered || item.IsPhysical() {
		return ""
	}
	return item.DigitalFileURL
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores a new order; an existing ID is an error.
	Create(ctx context.Context, o *Order) error
	GetByOrderID(ctx context.Context, orderID string) (*Order, error)
	// ListByUser returns the orders of userID, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// List returns all orders, newest first.
	List(ctx context.Context, limit int) ([]Order, error)
	// Update writes o if its Version is still current, else ErrConflict.
	Update(ctx context.Context, o *Order) error
}

// Revenue summarizes non-cancelled orders.
type Revenue struct {
	Orders int64
	Total  decimal.Decimal
}

// RevenueReporter aggregates order totals.
type RevenueReporter interface {
	Revenue(ctx context.Context) (Revenue, error)
}

// ClaimStore records idempotency keys of checkouts.
type ClaimStore interface {
	// Claim reserves key. claimed is false when the key exists; orderID is
	// then the order it produced, or empty while that checkout runs.
	Claim(ctx context.Context, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

// Publisher announces placed orders.
type Publisher interface {
	OrderPlaced(ctx context.Context, o *Order) error
}
