// Command seed-db prepares a development database: it runs migrations, seeds
// a handful of sample coupons, and registers an API key for the checkout and
// admin surfaces.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/kanvei/coupon-service/internal/auth"
	"github.com/kanvei/coupon-service/internal/coupon"
	"github.com/kanvei/coupon-service/internal/repository"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or KANVEI_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KANVEI_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("KANVEI_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or KANVEI_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("KANVEI_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCoupons(ctx, repository.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *repository.CouponRepository) error {
	slog.Info("seeding sample coupons")

	now := time.Now()
	year := now.AddDate(1, 0, 0)
	usageLimit := 1000

	specs := []coupon.Spec{
		{
			Code:           "WELCOME10",
			Description:    "Welcome: 10% off your first order",
			Kind:           coupon.DiscountPercentage,
			Value:          decimal.NewFromInt(10),
			UserUsageLimit: 1,
			ValidFrom:      now,
			ValidTo:        year,
			Active:         true,
			CreatedBy:      "seed-db",
		},
		{
			Code:              "SAVE20",
			Description:       "20% off orders over 50, capped at 30",
			Kind:              coupon.DiscountPercentage,
			Value:             decimal.NewFromInt(20),
			MinOrderAmount:    decimal.NewFromInt(50),
			MaxDiscountAmount: ptr(decimal.NewFromInt(30)),
			UsageLimit:        &usageLimit,
			UserUsageLimit:    3,
			ValidFrom:         now,
			ValidTo:           year,
			Active:            true,
			CreatedBy:         "seed-db",
		},
		{
			Code:           "DESSERT5",
			Description:    "5 off desserts",
			Kind:           coupon.DiscountFixed,
			Value:          decimal.NewFromInt(5),
			UserUsageLimit: 1,
			ValidFrom:      now,
			ValidTo:        year,
			Active:         true,
			Scope: coupon.Scope{
				Categories: coupon.RestrictTo("dessert"),
			},
			CreatedBy: "seed-db",
		},
	}

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return errors.Wrapf(err, "validate coupon %s", spec.Code)
		}
		c := spec.Materialize(now)
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	info := &auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Default test key",
		Scopes:  []string{"redeem_coupon", "manage_coupons"},
	}
	if err := repo.Upsert(ctx, info, true); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}

func ptr[T any](v T) *T { return &v }
