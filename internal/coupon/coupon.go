// Package coupon implements the Kanvei coupon engine: redemption eligibility
// checks, discount quoting against a cart snapshot, and usage bookkeeping.
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kanvei/coupon-service/internal/cart"
)

// DiscountKind enumerates the supported coupon discount strategies.
type DiscountKind string

const (
	// DiscountPercentage applies a percentage-based discount to the eligible amount.
	DiscountPercentage DiscountKind = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the eligible amount.
	DiscountFixed DiscountKind = "fixed"
)

// Redemption reason errors. These are expected, user-facing outcomes and are
// returned as values, never panics; callers map them to responses.
var (
	// ErrNotFound is returned when no active coupon matches the normalized code.
	ErrNotFound = errors.New("invalid coupon code")
	// ErrNotYetActive is returned when the current time is before the validity window.
	ErrNotYetActive = errors.New("coupon is not yet active")
	// ErrExpired is returned when the current time is past the validity window.
	ErrExpired = errors.New("coupon has expired")
	// ErrUsageLimitReached is returned when the global redemption cap is exhausted.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrUserLimitReached is returned when the requesting user has exhausted
	// their per-user redemption cap.
	ErrUserLimitReached = errors.New("coupon already used maximum allowed times")
	// ErrNotApplicable is returned when category/product restrictions exclude
	// every line in the cart.
	ErrNotApplicable = errors.New("coupon not applicable to any items in cart")
	// ErrDuplicateCode is returned on creation when the normalized code
	// collides with an existing coupon.
	ErrDuplicateCode = errors.New("coupon code already exists")
	// ErrUserRequired is returned when redemption is attempted without a user.
	ErrUserRequired = errors.New("user required to redeem coupon")
	// ErrHasRedemptions is returned when deleting a coupon that has ledger
	// entries; such coupons are deactivated, not deleted.
	ErrHasRedemptions = errors.New("coupon has redemptions and cannot be deleted")
)

// BelowMinimumError is returned when the order amount is short of the
// coupon's minimum. It carries the minimum so callers can show it.
type BelowMinimumError struct {
	Minimum decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return "minimum order amount of " + e.Minimum.StringFixed(2) + " required"
}

// Coupon is a promotional rule identified by a unique, case-insensitive code.
//
// UsedCount and the redemption ledger are mutated only by the redemption flow;
// administrative edits never touch them.
type Coupon struct {
	ID          uuid.UUID
	Code        string
	Description string

	Kind              DiscountKind
	Value             decimal.Decimal
	MinOrderAmount    decimal.Decimal
	MaxDiscountAmount *decimal.Decimal

	UsageLimit     *int
	UsedCount      int
	UserUsageLimit int

	ValidFrom time.Time
	ValidTo   time.Time
	Active    bool

	Scope Scope

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Redemption is one entry in a coupon's append-only usage ledger.
type Redemption struct {
	ID             uuid.UUID
	CouponID       uuid.UUID
	UserID         string
	OrderAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	UsedAt         time.Time
}

// NormalizeCode canonicalizes a raw coupon code for lookup and storage:
// surrounding whitespace is trimmed and the result upper-cased. Idempotent.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CurrentlyValid reports whether the coupon can be redeemed at the given time,
// ignoring per-user limits: active, inside the validity window (inclusive at
// both ends), and with global uses remaining.
func (c *Coupon) CurrentlyValid(now time.Time) bool {
	return c.Active &&
		!now.Before(c.ValidFrom) &&
		!now.After(c.ValidTo) &&
		(c.UsageLimit == nil || c.UsedCount < *c.UsageLimit)
}

// CheckRedeemable runs the ordered eligibility checks for a redemption
// attempt and returns the first failing reason, or nil. The order matters for
// error-message specificity: window before global cap before per-user cap.
//
// userUses is the requesting user's prior redemption count for this coupon;
// pass -1 when no user is known (anonymous preview) to skip the per-user check.
func (c *Coupon) CheckRedeemable(now time.Time, userUses int) error {
	// Inactive coupons are filtered at the storage layer; treat one that
	// slipped through the same as an unknown code.
	if !c.Active {
		return ErrNotFound
	}
	if now.Before(c.ValidFrom) {
		return ErrNotYetActive
	}
	if now.After(c.ValidTo) {
		return ErrExpired
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ErrUsageLimitReached
	}
	if userUses >= 0 && userUses >= c.UserUsageLimit {
		return ErrUserLimitReached
	}
	return nil
}

// Repository provides persistence for coupons and their redemption ledger.
//
// Redeem must be atomic with respect to concurrent redemptions of the same
// coupon: the guard checks and the increment-and-append happen under a single
// row lock, so two simultaneous checkouts can never both pass a usage_limit
// boundary.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter) ([]*Coupon, int, error)

	UserUsageCount(ctx context.Context, couponID uuid.UUID, userID string) (int, error)
	Usages(ctx context.Context, couponID uuid.UUID, page, limit int) ([]*Redemption, int, error)

	Redeem(ctx context.Context, r *Redemption) error
}

// ListFilter narrows and paginates admin coupon listings.
type ListFilter struct {
	// Status is one of "", "active", "expired", "upcoming", "inactive".
	Status string
	// Search matches code or description, case-insensitively.
	Search string
	Page   int
	Limit  int
}

// lineAmount is price times quantity for a single cart line.
func lineAmount(l cart.Line) decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
