// Command seed-db loads development accounts, catalog, carts and API keys.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/internal/domain/cart"
	"github.com/xenking/retail-orders/internal/domain/product"
	"github.com/xenking/retail-orders/internal/domain/user"
	"github.com/xenking/retail-orders/internal/handler"
	"github.com/xenking/retail-orders/internal/storage/postgres"
)

type seedFile struct {
	Users    []userJSON    `json:"users"`
	Products []productJSON `json:"products"`
	Carts    []cartJSON    `json:"carts"`
	APIKeys  []apiKeyJSON  `json:"apiKeys"`
}

type userJSON struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Active    *bool  `json:"active"`
}

type productJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Category  string          `json:"category"`
	Available *bool           `json:"available"`
	Image     struct {
		Thumbnail string `json:"thumbnail"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

type cartJSON struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type apiKeyJSON struct {
	ID     string   `json:"id"`
	Key    string   `json:"key"`
	UserID string   `json:"userId"`
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type options struct {
	databaseURL string
	seedFile    string
	apiKey      string
	apiKeyUser  string
	pepper      string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.seedFile, "seed-file", "db/seed/seed.json", "path to seed JSON file, gzip compressed when it ends in .gz")
	flag.StringVar(&opts.apiKey, "api-key", "", "extra admin API key to seed (or RETAIL_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyUser, "api-key-user", "", "user owning the extra API key, defaults to the first seeded user")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or RETAIL_API_KEY_PEPPER env)")
	flag.Parse()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.apiKey = orEnv(opts.apiKey, "RETAIL_SEED_API_KEY")
	opts.pepper = orEnv(opts.pepper, "RETAIL_API_KEY_PEPPER")

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if opts.databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		if err := run(ctx, lg, opts); err != nil {
			return errors.Wrap(err, "seed")
		}
		lg.Info("Seed completed")
		return nil
	})
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return os.Getenv(env)
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	data, err := readSeed(opts.seedFile)
	if err != nil {
		return err
	}
	lg.Info("Seed file loaded",
		zap.String("path", opts.seedFile),
		zap.Int("users", len(data.Users)),
		zap.Int("products", len(data.Products)),
		zap.Int("cart_lines", len(data.Carts)),
		zap.Int("api_keys", len(data.APIKeys)),
	)

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	s := postgres.NewSeeder(pool)

	// Users and products are independent; carts and keys reference users.
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, u := range data.Users {
		g.Go(func() error {
			return s.UpsertUser(gCtx, user.User{
				ID:        u.ID,
				Email:     u.Email,
				FirstName: u.FirstName,
				LastName:  u.LastName,
				Active:    u.Active == nil || *u.Active,
			})
		})
	}
	for _, p := range data.Products {
		g.Go(func() error {
			return s.UpsertProduct(gCtx, product.Product{
				ID:        p.ID,
				Name:      p.Name,
				Price:     p.Price,
				Category:  p.Category,
				Available: p.Available == nil || *p.Available,
				Image:     product.Image{Thumbnail: p.Image.Thumbnail, Desktop: p.Image.Desktop},
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, c := range data.Carts {
		if err := s.UpsertCartLine(ctx, cart.Line(c)); err != nil {
			return err
		}
	}

	keys := data.APIKeys
	if opts.apiKey != "" {
		owner := opts.apiKeyUser
		if owner == "" && len(data.Users) > 0 {
			owner = data.Users[0].ID
		}
		if owner == "" {
			return errors.New("--api-key needs --api-key-user when the seed has no users")
		}
		keys = append(keys, apiKeyJSON{
			ID:     "default",
			Key:    opts.apiKey,
			UserID: owner,
			Name:   "Default admin key",
			Scopes: []string{auth.ScopeAdmin},
		})
	}
	for _, k := range keys {
		if k.Key == "" {
			return errors.Errorf("api key %q has no key", k.ID)
		}
		info := auth.APIKeyInfo{
			ID:      k.ID,
			KeyHash: handler.HashKey([]byte(opts.pepper), k.Key),
			UserID:  k.UserID,
			Scopes:  k.Scopes,
		}
		if info.Scopes == nil {
			info.Scopes = []string{}
		}
		if err := s.UpsertAPIKey(ctx, info, k.Name); err != nil {
			return err
		}
		lg.Info("API key seeded", zap.String("id", k.ID), zap.String("user_id", k.UserID), zap.Strings("scopes", k.Scopes))
	}
	return nil
}

func readSeed(path string) (*seedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open seed file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	var data seedFile
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, errors.Wrap(err, "parse seed file")
	}
	return &data, nil
}
