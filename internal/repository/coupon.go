package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kanvei/coupon-service/internal/coupon"
)

const couponColumns = `id, code, description, discount_kind, discount_value,
	min_order_amount, max_discount_amount, usage_limit, used_count, user_usage_limit,
	valid_from, valid_to, active,
	categories, excluded_categories, products, excluded_products,
	created_by, created_at, updated_at`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = $1 AND active = TRUE`

	getCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE id = $1`

	lockCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE id = $1 FOR UPDATE`

	insertCouponSQL = `INSERT INTO coupons (
		id, code, description, discount_kind, discount_value,
		min_order_amount, max_discount_amount, usage_limit, used_count, user_usage_limit,
		valid_from, valid_to, active,
		categories, excluded_categories, products, excluded_products,
		created_by, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	updateCouponSQL = `UPDATE coupons SET
		code = $2, description = $3, discount_kind = $4, discount_value = $5,
		min_order_amount = $6, max_discount_amount = $7, usage_limit = $8,
		user_usage_limit = $9, valid_from = $10, valid_to = $11, active = $12,
		categories = $13, excluded_categories = $14, products = $15, excluded_products = $16,
		updated_at = $17
		WHERE id = $1`

	setCouponActiveSQL = `UPDATE coupons SET active = $2, updated_at = now() WHERE id = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1 AND used_count = 0`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`

	userUsageCountSQL = `SELECT COUNT(*) FROM coupon_redemptions
		WHERE coupon_id = $1 AND user_id = $2`

	insertRedemptionSQL = `INSERT INTO coupon_redemptions (id, coupon_id, user_id, order_amount, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	// The usage_limit guard repeats the check made under the row lock so the
	// counter can never pass the cap even if the surrounding logic regresses.
	incrementUsedCountSQL = `UPDATE coupons
		SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	upsertCouponSQL = `INSERT INTO coupons (
		id, code, description, discount_kind, discount_value,
		min_order_amount, max_discount_amount, usage_limit, used_count, user_usage_limit,
		valid_from, valid_to, active,
		categories, excluded_categories, products, excluded_products,
		created_by, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	ON CONFLICT ((UPPER(code))) DO UPDATE SET
		description = EXCLUDED.description,
		discount_kind = EXCLUDED.discount_kind,
		discount_value = EXCLUDED.discount_value,
		min_order_amount = EXCLUDED.min_order_amount,
		max_discount_amount = EXCLUDED.max_discount_amount,
		usage_limit = EXCLUDED.usage_limit,
		user_usage_limit = EXCLUDED.user_usage_limit,
		valid_from = EXCLUDED.valid_from,
		valid_to = EXCLUDED.valid_to,
		active = EXCLUDED.active,
		categories = EXCLUDED.categories,
		excluded_categories = EXCLUDED.excluded_categories,
		products = EXCLUDED.products,
		excluded_products = EXCLUDED.excluded_products,
		updated_at = now()`

	listUsagesSQL = `SELECT id, coupon_id, user_id, order_amount, discount_amount, used_at
		FROM coupon_redemptions WHERE coupon_id = $1
		ORDER BY used_at DESC LIMIT $2 OFFSET $3`

	countUsagesSQL = `SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its normalized code. Inactive
// coupons are filtered here, so an unknown and a disabled code are
// indistinguishable to the caller: both return coupon.ErrNotFound.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return c, nil
}

// FindByID looks up a coupon by its identifier, regardless of active state.
func (r *CouponRepository) FindByID(ctx context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %s: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %s: %w", id, err)
	}
	return c, nil
}

// Create persists a new coupon. A case-insensitive code collision maps to
// coupon.ErrDuplicateCode via the unique index on UPPER(code).
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, insertCouponSQL,
		c.ID, c.Code, c.Description, string(c.Kind), c.Value,
		c.MinOrderAmount, c.MaxDiscountAmount, c.UsageLimit, c.UsedCount, c.UserUsageLimit,
		c.ValidFrom, c.ValidTo, c.Active,
		c.Scope.Categories.Values(), c.Scope.ExcludedCategories.Values(),
		c.Scope.Products.Values(), c.Scope.ExcludedProducts.Values(),
		c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Upsert inserts a coupon or, on a case-insensitive code collision, replaces
// the existing coupon's rule while preserving its identity and usage counter.
// Used by bulk imports; the interactive admin path goes through Create/Update.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.ID, c.Code, c.Description, string(c.Kind), c.Value,
		c.MinOrderAmount, c.MaxDiscountAmount, c.UsageLimit, c.UsedCount, c.UserUsageLimit,
		c.ValidFrom, c.ValidTo, c.Active,
		c.Scope.Categories.Values(), c.Scope.ExcludedCategories.Values(),
		c.Scope.Products.Values(), c.Scope.ExcludedProducts.Values(),
		c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update replaces the administrative fields of an existing coupon.
// used_count, created_by, and created_at are deliberately not in the SET list.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.ID, c.Code, c.Description, string(c.Kind), c.Value,
		c.MinOrderAmount, c.MaxDiscountAmount, c.UsageLimit,
		c.UserUsageLimit, c.ValidFrom, c.ValidTo, c.Active,
		c.Scope.Categories.Values(), c.Scope.ExcludedCategories.Values(),
		c.Scope.Products.Values(), c.Scope.ExcludedProducts.Values(),
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("updating coupon %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// SetActive flips the manual kill switch.
func (r *CouponRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, setCouponActiveSQL, id, active)
	if err != nil {
		return fmt.Errorf("setting coupon %s active=%t: %w", id, active, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Delete removes a coupon that has never been redeemed. A coupon with ledger
// entries returns coupon.ErrHasRedemptions; the admin deactivates it instead.
func (r *CouponRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, couponExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking coupon %s: %w", id, err)
	}
	if exists {
		return coupon.ErrHasRedemptions
	}
	return coupon.ErrNotFound
}

// List returns coupons matching the filter plus the total match count.
func (r *CouponRepository) List(ctx context.Context, f coupon.ListFilter) ([]*coupon.Coupon, int, error) {
	var (
		where []string
		args  []any
	)

	switch f.Status {
	case "active":
		where = append(where, "active = TRUE AND now() BETWEEN valid_from AND valid_to")
	case "expired":
		where = append(where, "now() > valid_to")
	case "upcoming":
		where = append(where, "now() < valid_from")
	case "inactive":
		where = append(where, "active = FALSE")
	}

	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		where = append(where, fmt.Sprintf(
			"(LOWER(code) LIKE $%d OR LOWER(description) LIKE $%d)", len(args), len(args)))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM coupons %s", whereSQL)
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting coupons: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	listSQL := fmt.Sprintf("SELECT %s FROM coupons %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		couponColumns, whereSQL, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing coupons: %w", err)
	}
	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, 0, fmt.Errorf("listing coupons: %w", err)
	}
	return coupons, total, nil
}

// UserUsageCount counts a user's redemptions of the given coupon.
func (r *CouponRepository) UserUsageCount(ctx context.Context, couponID uuid.UUID, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, userUsageCountSQL, couponID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting redemptions of %s by %q: %w", couponID, userID, err)
	}
	return count, nil
}

// Usages returns a page of the coupon's redemption ledger, newest first.
func (r *CouponRepository) Usages(ctx context.Context, couponID uuid.UUID, page, limit int) ([]*coupon.Redemption, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countUsagesSQL, couponID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting redemptions of %s: %w", couponID, err)
	}

	rows, err := r.pool.Query(ctx, listUsagesSQL, couponID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing redemptions of %s: %w", couponID, err)
	}
	usages, err := pgx.CollectRows(rows, scanRedemption)
	if err != nil {
		return nil, 0, fmt.Errorf("listing redemptions of %s: %w", couponID, err)
	}
	return usages, total, nil
}

// Redeem commits one redemption atomically. The coupon row is locked FOR
// UPDATE, all eligibility guards are re-checked on the locked row, the ledger
// entry is appended, and used_count is incremented under a usage_limit guard.
// Concurrent redemptions of the same coupon serialize on the row lock, so a
// usage_limit of N yields at most N successes, never more.
func (r *CouponRepository) Redeem(ctx context.Context, red *coupon.Redemption) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning redemption tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, lockCouponByIDSQL, red.CouponID)
	if err != nil {
		return fmt.Errorf("locking coupon %s: %w", red.CouponID, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrNotFound
		}
		return fmt.Errorf("locking coupon %s: %w", red.CouponID, err)
	}

	var userUses int
	if err = tx.QueryRow(ctx, userUsageCountSQL, red.CouponID, red.UserID).Scan(&userUses); err != nil {
		return fmt.Errorf("counting redemptions of %s by %q: %w", red.CouponID, red.UserID, err)
	}

	if err = c.CheckRedeemable(red.UsedAt, userUses); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, insertRedemptionSQL,
		red.ID, red.CouponID, red.UserID, red.OrderAmount, red.DiscountAmount, red.UsedAt,
	); err != nil {
		return fmt.Errorf("appending redemption for coupon %s: %w", red.CouponID, err)
	}

	tag, err := tx.Exec(ctx, incrementUsedCountSQL, red.CouponID)
	if err != nil {
		return fmt.Errorf("incrementing used_count for coupon %s: %w", red.CouponID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUsageLimitReached
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing redemption for coupon %s: %w", red.CouponID, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (*coupon.Coupon, error) {
	var (
		c                coupon.Coupon
		kind             string
		maxDiscount      *decimal.Decimal
		usageLimit       *int
		categories       []string
		excludedCats     []string
		products         []string
		excludedProducts []string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &kind, &c.Value,
		&c.MinOrderAmount, &maxDiscount, &usageLimit, &c.UsedCount, &c.UserUsageLimit,
		&c.ValidFrom, &c.ValidTo, &c.Active,
		&categories, &excludedCats, &products, &excludedProducts,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Kind = coupon.DiscountKind(kind)
	c.MaxDiscountAmount = maxDiscount
	c.UsageLimit = usageLimit
	c.Scope = coupon.Scope{
		Categories:         coupon.FilterFromValues(categories),
		ExcludedCategories: coupon.FilterFromValues(excludedCats),
		Products:           coupon.FilterFromValues(products),
		ExcludedProducts:   coupon.FilterFromValues(excludedProducts),
	}
	return &c, nil
}

func scanRedemption(row pgx.CollectableRow) (*coupon.Redemption, error) {
	var red coupon.Redemption
	err := row.Scan(&red.ID, &red.CouponID, &red.UserID, &red.OrderAmount, &red.DiscountAmount, &red.UsedAt)
	if err != nil {
		return nil, err
	}
	return &red, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
