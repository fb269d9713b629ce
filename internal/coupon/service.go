package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kanvei/coupon-service/internal/cart"
)

// Service orchestrates the coupon engine over a Repository. Validation and
// quoting are pure; only Redeem mutates the ledger, and that mutation happens
// inside the repository's atomic commit.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a Service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// PreviewRequest is the input for a read-only validation + quote.
type PreviewRequest struct {
	Code string
	// UserID is optional; anonymous previews skip the per-user check.
	UserID      string
	OrderAmount decimal.Decimal
	Lines       []cart.Line
}

// Preview looks up the coupon by normalized code, runs the eligibility
// checks, and computes the discount. No side effects: the usage ledger is
// untouched, so checkout can show the discount before the order is placed.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*Coupon, Quote, error) {
	c, err := s.lookup(ctx, req.Code)
	if err != nil {
		return nil, Quote{}, err
	}

	userUses := -1
	if req.UserID != "" {
		userUses, err = s.repo.UserUsageCount(ctx, c.ID, req.UserID)
		if err != nil {
			return nil, Quote{}, errors.Wrap(err, "count user redemptions")
		}
	}

	if err := c.CheckRedeemable(s.now(), userUses); err != nil {
		return nil, Quote{}, err
	}

	q, err := ComputeQuote(c, req.OrderAmount, req.Lines)
	if err != nil {
		return nil, Quote{}, err
	}
	return c, q, nil
}

// RedeemRequest commits a previously quoted discount against the ledger.
// OrderAmount is the original checkout amount as presented, not the narrowed
// base; DiscountAmount comes from the preceding quote.
type RedeemRequest struct {
	CouponID       uuid.UUID
	UserID         string
	OrderAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
}

// Redeem appends one redemption to the coupon's ledger and increments the
// usage counter. The repository re-checks eligibility under a row lock, so a
// limit reached between quote and commit surfaces as the specific reason
// error rather than a silent over-redemption.
//
// Redeem does not re-run the quote; the caller owns idempotent retry
// avoidance (one redemption per order, not per request).
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*Redemption, error) {
	if req.UserID == "" {
		return nil, ErrUserRequired
	}

	r := &Redemption{
		ID:             uuid.New(),
		CouponID:       req.CouponID,
		UserID:         req.UserID,
		OrderAmount:    req.OrderAmount,
		DiscountAmount: req.DiscountAmount,
		UsedAt:         s.now(),
	}
	if err := s.repo.Redeem(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Create validates the spec and persists a new coupon. A code colliding
// case-insensitively with an existing coupon fails with ErrDuplicateCode.
func (s *Service) Create(ctx context.Context, spec Spec) (*Coupon, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	c := spec.Materialize(s.now())
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Update replaces a coupon's administrative fields. The ledger (UsedCount and
// redemption history) is never touched by an update.
func (s *Service) Update(ctx context.Context, id uuid.UUID, spec Spec) (*Coupon, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	spec.Apply(c, s.now())
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SetActive flips the manual kill switch, independent of the time window.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}

// Delete removes a coupon that has never been redeemed. Coupons with ledger
// entries must be deactivated instead, keeping the redemption history intact.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Get returns a coupon by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns coupons matching the filter plus the total match count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Coupon, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	return s.repo.List(ctx, f)
}

// Usages returns a page of the coupon's redemption ledger, newest first.
func (s *Service) Usages(ctx context.Context, id uuid.UUID, page, limit int) ([]*Redemption, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.Usages(ctx, id, page, limit)
}

// lookup fetches by normalized code. The repository filters inactive coupons,
// so an inactive or unknown code both come back as ErrNotFound.
func (s *Service) lookup(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	return c, nil
}
