package handler

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/session"
)

// CheckoutInput places the caller's cart as an order.
type CheckoutInput struct {
	IdempotencyKey string `header:"Idempotency-Key" maxLength:"128" doc:"Repeating a key returns the order it placed"`
	Body           struct {
		ShippingInfo ShippingInfoBody `json:"shippingInfo"`
	}
}

// OrderOutput is one order.
type OrderOutput struct {
	Body OrderView
}

// ListOrdersInput bounds an order listing.
type ListOrdersInput struct {
	Limit int `query:"limit" minimum:"0" maximum:"500" doc:"Maximum number of orders"`
}

// ListOrdersOutput is a list of orders, newest first.
type ListOrdersOutput struct {
	Body []OrderView
}

// OrderIDInput addresses one order by its reference.
type OrderIDInput struct {
	OrderID string `path:"orderId" doc:"Order reference"`
}

// UpdateOrderStatusInput moves an order to a new status.
type UpdateOrderStatusInput struct {
	OrderID string `path:"orderId" doc:"Order reference"`
	Body    struct {
		Status string `json:"status" enum:"Pending,Processing,Delivered,Cancelled"`
	}
}

// RevenueOutput summarizes placed orders.
type RevenueOutput struct {
	Body struct {
		Orders       int64   `json:"orders"`
		TotalRevenue float64 `json:"totalRevenue"`
	}
}

func (h *Handler) registerOrders(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "checkout",
		Summary:       "Place order",
		Description:   "Places a cash-on-delivery order from the cart of the signed-in identity",
		Method:        http.MethodPost,
		Path:          "/api/checkout",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"Orders"},
	}, h.Checkout)

	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Summary:     "Order history",
		Method:      http.MethodGet,
		Path:        "/api/orders",
		Tags:        []string{"Orders"},
	}, h.ListOrders)

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Summary:     "Get order",
		Method:      http.MethodGet,
		Path:        "/api/orders/{orderId}",
		Tags:        []string{"Orders"},
	}, h.GetOrder)
}

func (h *Handler) registerAdmin(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "admin-save-product",
		Summary:     "Create or update product",
		Method:      http.MethodPut,
		Path:        "/api/admin/products/{id}",
		Tags:        []string{"Admin"},
	}, h.SaveProduct)

	huma.Register(api, huma.Operation{
		OperationID:   "admin-delete-product",
		Summary:       "Delete product",
		Method:        http.MethodDelete,
		Path:          "/api/admin/products/{id}",
		DefaultStatus: http.StatusNoContent,
		Tags:          []string{"Admin"},
	}, h.DeleteProduct)

	huma.Register(api, huma.Operation{
		OperationID: "admin-save-category",
		Summary:     "Create or update category",
		Method:      http.MethodPut,
		Path:        "/api/admin/categories/{id}",
		Tags:        []string{"Admin"},
	}, h.SaveCategory)

	huma.Register(api, huma.Operation{
		OperationID:  "admin-upload-image",
		Summary:      "Upload product image",
		Method:       http.MethodPost,
		Path:         "/api/admin/products/{id}/images",
		MaxBodyBytes: maxImageBytes,
		Tags:         []string{"Admin"},
	}, h.UploadImage)

	huma.Register(api, huma.Operation{
		OperationID: "admin-remove-image",
		Summary:     "Remove product image",
		Method:      http.MethodDelete,
		Path:        "/api/admin/products/{id}/images",
		Tags:        []string{"Admin"},
	}, h.RemoveImage)

	huma.Register(api, huma.Operation{
		OperationID: "admin-list-orders",
		Summary:     "List all orders",
		Method:      http.MethodGet,
		Path:        "/api/admin/orders",
		Tags:        []string{"Admin"},
	}, h.ListAllOrders)

	huma.Register(api, huma.Operation{
		OperationID: "admin-update-order-status",
		Summary:     "Update order status",
		Method:      http.MethodPut,
		Path:        "/api/admin/orders/{orderId}/status",
		Tags:        []string{"Admin"},
	}, h.UpdateOrderStatus)

	huma.Register(api, huma.Operation{
		OperationID: "admin-revenue",
		Summary:     "Revenue summary",
		Method:      http.MethodGet,
		Path:        "/api/admin/revenue",
		Tags:        []string{"Admin"},
	}, h.Revenue)
}

// Checkout handles POST /api/checkout.
func (h *Handler) Checkout(ctx context.Context, in *CheckoutInput) (*OrderOutput, error) {
	if _, err := requireIdentity(ctx); err != nil {
		return nil, err
	}
	o, err := h.checkout.PlaceOrder(ctx, order.PlaceOrderRequest{
		Scope:          session.ScopeFrom(ctx),
		Shipping:       in.Body.ShippingInfo.toDomain(),
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &OrderOutput{Body: orderView(o)}, nil
}

// ListOrders handles GET /api/orders.
func (h *Handler) ListOrders(ctx context.Context, in *ListOrdersInput) (*ListOrdersOutput, error) {
	id, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := h.orders.ListForUser(ctx, id, in.Limit)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &ListOrdersOutput{Body: orderViews(orders)}, nil
}

// GetOrder handles GET /api/orders/{orderId}.
func (h *Handler) GetOrder(ctx context.Context, in *OrderIDInput) (*OrderOutput, error) {
	id, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	o, err := h.orders.Get(ctx, id, in.OrderID)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &OrderOutput{Body: orderView(o)}, nil
}

// ListAllOrders handles GET /api/admin/orders.
func (h *Handler) ListAllOrders(ctx context.Context, in *ListOrdersInput) (*ListOrdersOutput, error) {
	id, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := h.orders.ListAll(ctx, id, in.Limit)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &ListOrdersOutput{Body: orderViews(orders)}, nil
}

// UpdateOrderStatus handles PUT /api/admin/orders/{orderId}/status.
func (h *Handler) UpdateOrderStatus(ctx context.Context, in *UpdateOrderStatusInput) (*OrderOutput, error) {
	id, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	next, err := order.ParseStatus(in.Body.Status)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	o, err := h.orders.UpdateStatus(ctx, id, in.OrderID, next)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &OrderOutput{Body: orderView(o)}, nil
}

// Revenue handles GET /api/admin/revenue.
func (h *Handler) Revenue(ctx context.Context, _ *struct{}) (*RevenueOutput, error) {
	id, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	r, err := h.orders.Revenue(ctx, id)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	out := &RevenueOutput{}
	out.Body.Orders = r.Orders
	out.Body.TotalRevenue = money(r.Total)
	return out, nil
}
