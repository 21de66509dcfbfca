// Package documents implements the domain repositories on a
// docstore.Store.
package documents

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/storage/docstore"
)

// Collection names.
const (
	ProductsCollection   = "products"
	CategoriesCollection = "categories"
	CartsCollection      = "carts"
	OrdersCollection     = "orders"
	CheckoutsCollection  = "checkouts"
)

var (
	_ product.Repository         = (*ProductRepository)(nil)
	_ product.CategoryRepository = (*CategoryRepository)(nil)
)

// ProductRepository implements product.Repository.
type ProductRepository struct {
	store docstore.Store
}

// NewProductRepository returns a ProductRepository on store.
func NewProductRepository(store docstore.Store) *ProductRepository {
	return &ProductRepository{store: store}
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*product.Product, error) {
	doc, err := r.store.Get(ctx, ProductsCollection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return decodeProduct(doc)
}

func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, error) {
	q := docstore.Query{OrderBy: "createdAt", Desc: true, Limit: f.Limit}
	if f.Category != "" {
		q.Filters = append(q.Filters, docstore.Filter{Field: "category", Value: f.Category})
	}
	if f.Type != "" {
		q.Filters = append(q.Filters, docstore.Filter{Field: "productType", Value: string(f.Type)})
	}

	docs, err := r.store.Query(ctx, ProductsCollection, q)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	products := make([]product.Product, 0, len(docs))
	for i := range docs {
		p, err := decodeProduct(&docs[i])
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, nil
}

func (r *ProductRepository) Save(ctx context.Context, p *product.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encode product")
	}
	if _, err := r.store.Put(ctx, ProductsCollection, p.ID, data); err != nil {
		return errors.Wrapf(err, "put product %q", p.ID)
	}
	return nil
}

func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, ProductsCollection, id); err != nil {
		return errors.Wrapf(err, "delete product %q", id)
	}
	return nil
}

func (r *ProductRepository) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	v, err := r.store.Increment(ctx, ProductsCollection, id, "stock", int64(delta))
	switch {
	case err == nil:
		return int(v), nil
	case errors.Is(err, docstore.ErrNotFound):
		return 0, product.ErrNotFound
	case errors.Is(err, docstore.ErrConditionFailed):
		return 0, product.ErrOutOfStock
	default:
		return 0, errors.Wrapf(err, "adjust stock of %q", id)
	}
}

func decodeProduct(doc *docstore.Document) (*product.Product, error) {
	var p product.Product
	if err := json.Unmarshal(doc.Data, &p); err != nil {
		return nil, errors.Wrapf(err, "decode product %q", doc.ID)
	}
	p.ID = doc.ID
	if p.Type == "" {
		p.Type = product.Physical
	}
	return &p, nil
}

// CategoryRepository implements product.CategoryRepository.
type CategoryRepository struct {
	store docstore.Store
}

// NewCategoryRepository returns a CategoryRepository on store.
func NewCategoryRepository(store docstore.Store) *CategoryRepository {
	return &CategoryRepository{store: store}
}

func (r *CategoryRepository) List(ctx context.Context) ([]product.Category, error) {
	docs, err := r.store.Query(ctx, CategoriesCollection, docstore.Query{OrderBy: "name"})
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	categories := make([]product.Category, 0, len(docs))
	for _, doc := range docs {
		var c product.Category
		if err := json.Unmarshal(doc.Data, &c); err != nil {
			return nil, errors.Wrapf(err, "decode category %q", doc.ID)
		}
		c.ID = doc.ID
		categories = append(categories, c)
	}
	return categories, nil
}

func (r *CategoryRepository) Save(ctx context.Context, c *product.Category) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode category")
	}
	if _, err := r.store.Put(ctx, CategoriesCollection, c.ID, data); err != nil {
		return errors.Wrapf(err, "put category %q", c.ID)
	}
	return nil
}
