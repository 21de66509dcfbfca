package handler

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/product"
)

const maxImageBytes = 5 << 20

// ListProductsInput narrows GET /api/products.
type ListProductsInput struct {
	Category string `query:"category" doc:"Only products of this category"`
	Type     string `query:"type" doc:"physical or digital"`
	Query    string `query:"q" maxLength:"100" doc:"Case-insensitive text matched against name, description and category"`
	Limit    int    `query:"limit" minimum:"0" maximum:"200" doc:"Maximum number of products"`
}

// ListProductsOutput is a page of the catalogue.
type ListProductsOutput struct {
	Body []ProductView
}

// ProductIDInput addresses one product.
type ProductIDInput struct {
	ID string `path:"id" doc:"Product ID"`
}

// ProductOutput is one product as shoppers see it.
type ProductOutput struct {
	Body ProductView
}

// SaveProductInput creates or replaces a product.
type SaveProductInput struct {
	ID   string `path:"id" doc:"Product ID"`
	Body struct {
		Name           string  `json:"name" minLength:"1"`
		Description    string  `json:"description,omitempty"`
		Category       string  `json:"category,omitempty"`
		Price          float64 `json:"price" minimum:"0"`
		Discount       int     `json:"discount,omitempty" minimum:"0" maximum:"100" doc:"Percent off the price"`
		Stock          int     `json:"stock,omitempty" minimum:"0"`
		ProductType    string  `json:"productType,omitempty" enum:"physical,digital"`
		DigitalFileURL string  `json:"digitalFileURL,omitempty"`
	}
}

// AdminProductOutput is one product with its admin-only fields.
type AdminProductOutput struct {
	Body AdminProductView
}

// UploadImageInput carries raw image bytes for a product.
type UploadImageInput struct {
	ID       string `path:"id" doc:"Product ID"`
	Filename string `query:"filename" required:"true" doc:"Original file name"`
	RawBody  []byte
}

// RemoveImageInput names the image to detach from a product.
type RemoveImageInput struct {
	ID  string `path:"id" doc:"Product ID"`
	URL string `query:"url" required:"true" doc:"Public URL of the image"`
}

// CategoryView is one catalogue section.
type CategoryView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// ListCategoriesOutput lists the catalogue sections by name.
type ListCategoriesOutput struct {
	Body []CategoryView
}

// SaveCategoryInput creates or replaces a catalogue section.
type SaveCategoryInput struct {
	ID   string `path:"id" doc:"Category ID"`
	Body struct {
		Name string `json:"name" minLength:"1"`
		Icon string `json:"icon,omitempty" maxLength:"16"`
	}
}

// CategoryOutput is one catalogue section.
type CategoryOutput struct {
	Body CategoryView
}

func (h *Handler) registerCatalog(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-products",
		Summary:     "List products",
		Description: "Lists the catalogue, newest first",
		Method:      http.MethodGet,
		Path:        "/api/products",
		Tags:        []string{"Products"},
	}, h.ListProducts)

	huma.Register(api, huma.Operation{
		OperationID: "get-product",
		Summary:     "Get product",
		Method:      http.MethodGet,
		Path:        "/api/products/{id}",
		Tags:        []string{"Products"},
	}, h.GetProduct)

	huma.Register(api, huma.Operation{
		OperationID: "list-categories",
		Summary:     "List categories",
		Method:      http.MethodGet,
		Path:        "/api/categories",
		Tags:        []string{"Products"},
	}, h.ListCategories)
}

// ListProducts handles GET /api/products.
func (h *Handler) ListProducts(ctx context.Context, in *ListProductsInput) (*ListProductsOutput, error) {
	f := product.Filter{Category: in.Category, Query: in.Query, Limit: in.Limit}
	if in.Type != "" {
		f.Type = product.Type(in.Type)
		if !f.Type.Valid() {
			return nil, huma.Error422UnprocessableEntity("type must be physical or digital")
		}
	}
	products, err := h.catalog.List(ctx, f)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	out := &ListProductsOutput{Body: make([]ProductView, 0, len(products))}
	for i := range products {
		out.Body = append(out.Body, productView(&products[i]))
	}
	return out, nil
}

// GetProduct handles GET /api/products/{id}.
func (h *Handler) GetProduct(ctx context.Context, in *ProductIDInput) (*ProductOutput, error) {
	p, err := h.catalog.Get(ctx, in.ID)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &ProductOutput{Body: productView(p)}, nil
}

// ListCategories handles GET /api/categories.
func (h *Handler) ListCategories(ctx context.Context, _ *struct{}) (*ListCategoriesOutput, error) {
	categories, err := h.catalog.Categories(ctx)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	out := &ListCategoriesOutput{Body: make([]CategoryView, 0, len(categories))}
	for _, c := range categories {
		out.Body = append(out.Body, CategoryView(c))
	}
	return out, nil
}

// SaveCategory handles PUT /api/admin/categories/{id}.
func (h *Handler) SaveCategory(ctx context.Context, in *SaveCategoryInput) (*CategoryOutput, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	c := &product.Category{ID: in.ID, Name: in.Body.Name, Icon: in.Body.Icon}
	if err := h.catalog.SaveCategory(ctx, c); err != nil {
		return nil, mapError(ctx, err)
	}
	return &CategoryOutput{Body: CategoryView(*c)}, nil
}

// SaveProduct handles PUT /api/admin/products/{id}. Images of an existing
// product are kept; they change through the image endpoints only.
func (h *Handler) SaveProduct(ctx context.Context, in *SaveProductInput) (*AdminProductOutput, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	p := &product.Product{ID: in.ID}
	existing, err := h.catalog.Get(ctx, in.ID)
	switch {
	case err == nil:
		p.CreatedAt = existing.CreatedAt
		p.Images = existing.Images
	case errors.Is(err, product.ErrNotFound):
	default:
		return nil, mapError(ctx, err)
	}

	p.Name = in.Body.Name
	p.Description = in.Body.Description
	p.Category = in.Body.Category
	p.Price = decimal.NewFromFloat(in.Body.Price).Round(2)
	p.Discount = in.Body.Discount
	p.Stock = in.Body.Stock
	p.Type = product.Type(in.Body.ProductType)
	p.DigitalFileURL = in.Body.DigitalFileURL

	if err := h.catalog.Save(ctx, p); err != nil {
		return nil, mapError(ctx, err)
	}
	return &AdminProductOutput{Body: adminProductView(p)}, nil
}

// DeleteProduct handles DELETE /api/admin/products/{id}.
func (h *Handler) DeleteProduct(ctx context.Context, in *ProductIDInput) (*struct{}, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := h.catalog.Delete(ctx, in.ID); err != nil {
		return nil, mapError(ctx, err)
	}
	return &struct{}{}, nil
}

// UploadImage handles POST /api/admin/products/{id}/images.
func (h *Handler) UploadImage(ctx context.Context, in *UploadImageInput) (*AdminProductOutput, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	p, err := h.catalog.AttachImage(ctx, in.ID, in.Filename, in.RawBody)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &AdminProductOutput{Body: adminProductView(p)}, nil
}

// RemoveImage handles DELETE /api/admin/products/{id}/images.
func (h *Handler) RemoveImage(ctx context.Context, in *RemoveImageInput) (*AdminProductOutput, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	p, err := h.catalog.RemoveImage(ctx, in.ID, in.URL)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &AdminProductOutput{Body: adminProductView(p)}, nil
}
