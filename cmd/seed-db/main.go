package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	appkg "github.com/xenking/kart-storefront/internal/app"
	"github.com/xenking/kart-storefront/internal/auth"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/domain/session"
	"github.com/xenking/kart-storefront/internal/storage/documents"
)

type productJSON struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Price          decimal.Decimal `json:"price"`
	Discount       int             `json:"discount"`
	Stock          int             `json:"stock"`
	Type           product.Type    `json:"productType"`
	Images         []string        `json:"images"`
	DigitalFileURL string          `json:"digitalFileURL"`
}

type options struct {
	store        appkg.StoreConfig
	productsFile string
	adminEmail   string
	secret       string
	issuer       string
}

func main() {
	var opts options

	flag.StringVar(&opts.store.Driver, "store", appkg.DriverPostgres, "document store driver: postgres or mongo")
	flag.StringVar(&opts.store.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.store.MongoURI, "mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	flag.StringVar(&opts.store.MongoDB, "mongo-db", "kart", "MongoDB database name")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file, optionally gzipped (.gz)")
	flag.StringVar(&opts.adminEmail, "admin-email", "", "print an admin session token for this email")
	flag.StringVar(&opts.issuer, "issuer", "kart", "session token issuer")
	flag.Parse()

	if opts.store.DatabaseURL == "" {
		opts.store.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.store.Driver == appkg.DriverPostgres && opts.store.DatabaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	opts.secret = os.Getenv("KART_SESSION_SECRET")
	if opts.adminEmail != "" && opts.secret == "" {
		slog.Error("KART_SESSION_SECRET is required to issue an admin token")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to document store", slog.String("driver", opts.store.Driver))

	docs, release, err := appkg.OpenDocuments(ctx, opts.store)
	if err != nil {
		return errors.Wrap(err, "open document store")
	}
	defer release()

	catalog := product.NewService(documents.NewProductRepository(docs), nil)
	if err := seedProducts(ctx, catalog, opts.productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if opts.adminEmail != "" {
		if err := printAdminToken(opts); err != nil {
			return errors.Wrap(err, "issue admin token")
		}
	}
	return nil
}

func seedProducts(ctx context.Context, catalog *product.Service, path string) error {
	slog.Info("reading products file", slog.String("path", path))

	products, err := readProducts(path)
	if err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		entry := &product.Product{
			ID:             p.ID,
			Name:           p.Name,
			Description:    p.Description,
			Category:       p.Category,
			Price:          p.Price,
			Discount:       p.Discount,
			Stock:          p.Stock,
			Type:           p.Type,
			Images:         p.Images,
			DigitalFileURL: p.DigitalFileURL,
		}
		if err := catalog.Save(ctx, entry); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product",
			slog.String("id", entry.ID),
			slog.String("name", entry.Name),
			slog.String("final_price", entry.FinalPrice.StringFixed(2)),
		)
	}

	return nil
}

func readProducts(path string) ([]productJSON, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var products []productJSON
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	return products, nil
}

func printAdminToken(opts options) error {
	tokens, err := auth.NewJWTProvider([]byte(opts.secret), opts.issuer, 30*24*time.Hour)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(session.Identity{
		ID:    "admin:" + opts.adminEmail,
		Email: opts.adminEmail,
		Name:  "Administrator",
		Role:  session.RoleAdmin,
	})
	if err != nil {
		return err
	}

	slog.Info("issued admin token", slog.String("email", opts.adminEmail))
	_, err = os.Stdout.WriteString(token + "\n")
	return err
}
