package product

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service encapsulates catalogue writes and media handling.
type Service struct {
	products   Repository
	categories CategoryRepository
	media      ObjectStore
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCategories stores catalogue sections in repo.
func WithCategories(repo CategoryRepository) ServiceOption {
	return func(s *Service) { s.categories = repo }
}

// NewService creates a product Service.
func NewService(products Repository, media ObjectStore, opts ...ServiceOption) *Service {
	s := &Service{
		products: products,
		media:    media,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the product with id.
func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	return s.products.Get(ctx, id)
}

// List returns the catalogue, newest first. The limit applies after the
// text query.
func (s *Service) List(ctx context.Context, f Filter) ([]Product, error) {
	if strings.TrimSpace(f.Query) == "" {
		return s.products.List(ctx, f)
	}

	limit := f.Limit
	f.Limit = 0
	all, err := s.products.List(ctx, f)
	if err != nil {
		return nil, err
	}
	matched := slices.DeleteFunc(all, func(p Product) bool {
		return !p.Matches(f.Query)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Categories lists the stored catalogue sections by name. Categories used by
// products but never stored are included without an icon.
func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	var out []Category
	seen := make(map[string]struct{})
	if s.categories != nil {
		stored, err := s.categories.List(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list categories")
		}
		for _, c := range stored {
			seen[strings.ToLower(c.Name)] = struct{}{}
			out = append(out, c)
		}
	}

	products, err := s.products.List(ctx, Filter{})
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	for _, p := range products {
		key := strings.ToLower(p.Category)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Category{ID: categoryID(p.Category), Name: p.Category})
	}

	slices.SortFunc(out, func(a, b Category) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	if out == nil {
		out = []Category{}
	}
	return out, nil
}

// SaveCategory writes c. A blank ID is derived from the name.
func (s *Service) SaveCategory(ctx context.Context, c *Category) error {
	if s.categories == nil {
		return errors.New("categories are not stored")
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return &InvalidError{Field: "name", Reason: "required"}
	}
	if c.ID == "" {
		c.ID = categoryID(c.Name)
	}
	return s.categories.Save(ctx, c)
}

func categoryID(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// Save validates p, recomputes its final price and writes it. A blank ID
// creates a new product.
func (s *Service) Save(ctx context.Context, p *Product) error {
	if p.Type == "" {
		p.Type = Physical
	}
	if err := p.Validate(); err != nil {
		return err
	}

	now := s.now().UTC().Truncate(time.Second)
	if p.ID == "" {
		p.ID = uuid.New().String()
		p.CreatedAt = now
	} else if p.CreatedAt.IsZero() {
		existing, err := s.products.Get(ctx, p.ID)
		switch {
		case err == nil:
			p.CreatedAt = existing.CreatedAt
		case errors.Is(err, ErrNotFound):
			p.CreatedAt = now
		default:
			return errors.Wrap(err, "get product")
		}
	}
	p.UpdatedAt = now
	p.FinalPrice = p.EffectivePrice()
	if p.Images == nil {
		p.Images = []string{}
	}
	if !p.IsPhysical() {
		p.Stock = 0
	}

	if err := s.products.Save(ctx, p); err != nil {
		return errors.Wrap(err, "save product")
	}
	return nil
}

// AttachImage uploads data as a new product image and appends its public
// URL to the product.
func (s *Service) AttachImage(ctx context.Context, id, filename string, data []byte) (*Product, error) {
	p, err := s.products.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &InvalidError{Field: "image", Reason: "empty upload"}
	}

	key := mediaPath("products", filename, s.now())
	if err := s.media.Put(ctx, key, data); err != nil {
		return nil, errors.Wrap(err, "upload image")
	}
	url, err := s.media.PublicURL(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "image url")
	}

	p.Images = append(p.Images, url)
	if err := s.Save(ctx, p); err != nil {
		if delErr := s.media.Delete(ctx, key); delErr != nil {
			zctx.From(ctx).Warn("Orphaned product image", zap.String("path", key), zap.Error(delErr))
		}
		return nil, err
	}
	return p, nil
}

// RemoveImage deletes the image with url from storage and from the product.
func (s *Service) RemoveImage(ctx context.Context, id, url string) (*Product, error) {
	p, err := s.products.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	idx := slices.Index(p.Images, url)
	if idx < 0 {
		return nil, &InvalidError{Field: "image", Reason: "not attached to product"}
	}
	if err := s.media.Delete(ctx, url); err != nil {
		return nil, errors.Wrap(err, "delete image")
	}
	p.Images = slices.Delete(p.Images, idx, idx+1)
	if err := s.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a product and, best effort, its images.
func (s *Service) Delete(ctx context.Context, id string) error {
	p, err := s.products.Get(ctx, id)
	if err != nil {
		return err
	}
	for _, img := range p.Images {
		if err := s.media.Delete(ctx, img); err != nil {
			zctx.From(ctx).Warn("Delete product image", zap.String("url", img), zap.Error(err))
		}
	}
	return s.products.Delete(ctx, id)
}

// mediaPath builds "<dir>/<unix millis>_<name>" with the name reduced to a
// safe base name.
func mediaPath(dir, filename string, now time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." || name == ".." || name == "_" {
		name = "upload"
	}
	return fmt.Sprintf("%s/%d_%s", dir, now.UnixMilli(), name)
}
