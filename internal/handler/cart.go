package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/session"
)

// CartOutput is the caller's cart.
type CartOutput struct {
	Body CartView
}

// AddCartItemInput adds units of a product to the cart.
type AddCartItemInput struct {
	Body struct {
		ProductID string `json:"productId" minLength:"1"`
		Quantity  int    `json:"quantity,omitempty" minimum:"1" default:"1"`
	}
}

// UpdateCartItemInput sets the quantity of a cart line.
type UpdateCartItemInput struct {
	ProductID string `path:"productId" doc:"Product ID"`
	Body      struct {
		Quantity int `json:"quantity" doc:"New quantity; zero or less removes the line"`
	}
}

// CartItemInput addresses one cart line.
type CartItemInput struct {
	ProductID string `path:"productId" doc:"Product ID"`
}

// AcquireSessionInput reports a sign-in so the guest cart is merged.
type AcquireSessionInput struct {
	Authorization string `header:"Authorization" doc:"Bearer token of the signed-in identity"`
}

func (h *Handler) registerCart(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-cart",
		Summary:     "Get cart",
		Description: "Returns the cart of the signed-in identity or of the guest id",
		Method:      http.MethodGet,
		Path:        "/api/cart",
		Tags:        []string{"Cart"},
	}, h.GetCart)

	huma.Register(api, huma.Operation{
		OperationID: "add-cart-item",
		Summary:     "Add item",
		Method:      http.MethodPost,
		Path:        "/api/cart/items",
		Tags:        []string{"Cart"},
	}, h.AddCartItem)

	huma.Register(api, huma.Operation{
		OperationID: "update-cart-item",
		Summary:     "Set item quantity",
		Method:      http.MethodPut,
		Path:        "/api/cart/items/{productId}",
		Tags:        []string{"Cart"},
	}, h.UpdateCartItem)

	huma.Register(api, huma.Operation{
		OperationID: "remove-cart-item",
		Summary:     "Remove item",
		Method:      http.MethodDelete,
		Path:        "/api/cart/items/{productId}",
		Tags:        []string{"Cart"},
	}, h.RemoveCartItem)

	huma.Register(api, huma.Operation{
		OperationID: "clear-cart",
		Summary:     "Clear cart",
		Method:      http.MethodDelete,
		Path:        "/api/cart",
		Tags:        []string{"Cart"},
	}, h.ClearCart)

	huma.Register(api, huma.Operation{
		OperationID: "acquire-session",
		Summary:     "Sign in",
		Description: "Signals that the guest holding X-Guest-ID signed in; merges the guest cart into the identity cart",
		Method:      http.MethodPost,
		Path:        "/api/session/acquire",
		Tags:        []string{"Session"},
	}, h.AcquireSession)
}

// GetCart handles GET /api/cart.
func (h *Handler) GetCart(ctx context.Context, _ *struct{}) (*CartOutput, error) {
	c := h.carts.Get(ctx, session.ScopeFrom(ctx))
	return &CartOutput{Body: cartView(c)}, nil
}

// AddCartItem handles POST /api/cart/items.
func (h *Handler) AddCartItem(ctx context.Context, in *AddCartItemInput) (*CartOutput, error) {
	qty := in.Body.Quantity
	if qty == 0 {
		qty = 1
	}
	c, err := h.carts.AddItem(ctx, session.ScopeFrom(ctx), in.Body.ProductID, qty)
	return cartResponse(ctx, c, err)
}

// UpdateCartItem handles PUT /api/cart/items/{productId}.
func (h *Handler) UpdateCartItem(ctx context.Context, in *UpdateCartItemInput) (*CartOutput, error) {
	c, err := h.carts.UpdateQuantity(ctx, session.ScopeFrom(ctx), in.ProductID, in.Body.Quantity)
	return cartResponse(ctx, c, err)
}

// RemoveCartItem handles DELETE /api/cart/items/{productId}.
func (h *Handler) RemoveCartItem(ctx context.Context, in *CartItemInput) (*CartOutput, error) {
	c, err := h.carts.RemoveItem(ctx, session.ScopeFrom(ctx), in.ProductID)
	return cartResponse(ctx, c, err)
}

// ClearCart handles DELETE /api/cart.
func (h *Handler) ClearCart(ctx context.Context, _ *struct{}) (*CartOutput, error) {
	c, err := h.carts.Clear(ctx, session.ScopeFrom(ctx))
	return cartResponse(ctx, c, err)
}

// AcquireSession handles POST /api/session/acquire.
func (h *Handler) AcquireSession(ctx context.Context, in *AcquireSessionInput) (*CartOutput, error) {
	if _, err := requireIdentity(ctx); err != nil {
		return nil, err
	}
	scope := session.ScopeFrom(ctx)
	token := strings.TrimSpace(in.Authorization)

	id, err := h.sessions.SignIn(ctx, token, scope.GuestID)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	c := h.carts.Get(ctx, session.User(*id))
	return &CartOutput{Body: cartView(c)}, nil
}

func cartResponse(ctx context.Context, c *cart.Cart, err error) (*CartOutput, error) {
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &CartOutput{Body: cartView(c)}, nil
}
