// Package handler exposes the storefront over HTTP as huma operations.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/domain/session"
)

// HeaderGuestID carries the anonymous cart id between client and server.
const HeaderGuestID = "X-Guest-ID"

// Catalog reads and manages products.
type Catalog interface {
	Get(ctx context.Context, id string) (*product.Product, error)
	List(ctx context.Context, f product.Filter) ([]product.Product, error)
	Save(ctx context.Context, p *product.Product) error
	AttachImage(ctx context.Context, id, filename string, data []byte) (*product.Product, error)
	RemoveImage(ctx context.Context, id, url string) (*product.Product, error)
	Delete(ctx context.Context, id string) error
	Categories(ctx context.Context) ([]product.Category, error)
	SaveCategory(ctx context.Context, c *product.Category) error
}

// Carts reads and mutates the cart of a scope.
type Carts interface {
	Get(ctx context.Context, scope session.Scope) *cart.Cart
	AddItem(ctx context.Context, scope session.Scope, productID string, qty int) (*cart.Cart, error)
	UpdateQuantity(ctx context.Context, scope session.Scope, productID string, qty int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, scope session.Scope, productID string) (*cart.Cart, error)
	Clear(ctx context.Context, scope session.Scope) (*cart.Cart, error)
}

// Checkout places orders.
type Checkout interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
}

// Orders serves order history and admin order management.
type Orders interface {
	ListForUser(ctx context.Context, id *session.Identity, limit int) ([]order.Order, error)
	Get(ctx context.Context, id *session.Identity, orderID string) (*order.Order, error)
	ListAll(ctx context.Context, id *session.Identity, limit int) ([]order.Order, error)
	UpdateStatus(ctx context.Context, id *session.Identity, orderID string, next order.Status) (*order.Order, error)
	Revenue(ctx context.Context, id *session.Identity) (order.Revenue, error)
}

// Sessions resolves bearer tokens and reports sign-ins.
type Sessions interface {
	Identify(ctx context.Context, token string) (*session.Identity, error)
	SignIn(ctx context.Context, token, guestID string) (*session.Identity, error)
}

// Deps holds the services behind the API.
type Deps struct {
	Catalog  Catalog
	Carts    Carts
	Checkout Checkout
	Orders   Orders
	Sessions Sessions
}

// Handler implements the storefront operations.
type Handler struct {
	catalog  Catalog
	carts    Carts
	checkout Checkout
	orders   Orders
	sessions Sessions
}

// New creates a Handler.
func New(deps Deps) *Handler {
	return &Handler{
		catalog:  deps.Catalog,
		carts:    deps.Carts,
		checkout: deps.Checkout,
		orders:   deps.Orders,
		sessions: deps.Sessions,
	}
}

// Register installs the session middleware and every operation on api.
func (h *Handler) Register(api huma.API) {
	api.UseMiddleware(h.sessionMiddleware(api))

	h.registerCatalog(api)
	h.registerCart(api)
	h.registerOrders(api)
	h.registerAdmin(api)
}

// sessionMiddleware resolves the request scope: the bearer identity when an
// Authorization header is present, plus the guest id, minted for anonymous
// callers that have none. The guest id is echoed in the response.
func (h *Handler) sessionMiddleware(api huma.API) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		scope := session.Scope{GuestID: normalizeGuestID(ctx.Header(HeaderGuestID))}

		if authz := ctx.Header("Authorization"); authz != "" {
			id, err := h.sessions.Identify(ctx.Context(), authz)
			if err != nil {
				_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid session token")
				return
			}
			scope.Identity = id
		}
		if !scope.Authenticated() && scope.GuestID == "" {
			scope.GuestID = uuid.NewString()
		}
		if scope.GuestID != "" {
			ctx.SetHeader(HeaderGuestID, scope.GuestID)
		}

		next(huma.WithContext(ctx, session.WithScope(ctx.Context(), scope)))
	}
}

// normalizeGuestID accepts only UUIDs so client input never shapes store
// keys.
func normalizeGuestID(raw string) string {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return id.String()
}

func requireIdentity(ctx context.Context) (*session.Identity, error) {
	id, err := session.CurrentIdentity(ctx)
	if err != nil {
		return nil, huma.Error401Unauthorized("sign in required")
	}
	return id, nil
}

func requireAdmin(ctx context.Context) (*session.Identity, error) {
	id, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if !id.IsAdmin() {
		return nil, huma.Error403Forbidden("admin role required")
	}
	return id, nil
}
