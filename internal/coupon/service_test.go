package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanvei/coupon-service/internal/cart"
)

// mockRepo is an in-memory Repository for service tests. Redeem applies the
// same guards the real store applies under its row lock.
type mockRepo struct {
	coupons     map[string]*Coupon // keyed by normalized code
	userUses    map[string]int     // couponID|userID -> count
	redemptions []*Redemption

	findErr   error
	redeemErr error
}

func newMockRepo(coupons ...*Coupon) *mockRepo {
	m := &mockRepo{
		coupons:  make(map[string]*Coupon),
		userUses: make(map[string]int),
	}
	for _, c := range coupons {
		m.coupons[c.Code] = c
	}
	return m
}

func (m *mockRepo) usesKey(id uuid.UUID, user string) string {
	return id.String() + "|" + user
}

func (m *mockRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	c, ok := m.coupons[code]
	if !ok || !c.Active {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockRepo) FindByID(_ context.Context, id uuid.UUID) (*Coupon, error) {
	for _, c := range m.coupons {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Create(_ context.Context, c *Coupon) error {
	if _, ok := m.coupons[c.Code]; ok {
		return ErrDuplicateCode
	}
	m.coupons[c.Code] = c
	return nil
}

func (m *mockRepo) Update(_ context.Context, c *Coupon) error {
	m.coupons[c.Code] = c
	return nil
}

func (m *mockRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	c, err := m.FindByID(context.Background(), id)
	if err != nil {
		return err
	}
	c.Active = active
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	c, err := m.FindByID(context.Background(), id)
	if err != nil {
		return err
	}
	if c.UsedCount > 0 {
		return ErrHasRedemptions
	}
	delete(m.coupons, c.Code)
	return nil
}

func (m *mockRepo) List(_ context.Context, _ ListFilter) ([]*Coupon, int, error) {
	var out []*Coupon
	for _, c := range m.coupons {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (m *mockRepo) UserUsageCount(_ context.Context, couponID uuid.UUID, userID string) (int, error) {
	return m.userUses[m.usesKey(couponID, userID)], nil
}

func (m *mockRepo) Usages(_ context.Context, couponID uuid.UUID, _, _ int) ([]*Redemption, int, error) {
	var out []*Redemption
	for _, r := range m.redemptions {
		if r.CouponID == couponID {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) Redeem(ctx context.Context, r *Redemption) error {
	if m.redeemErr != nil {
		return m.redeemErr
	}
	c, err := m.FindByID(ctx, r.CouponID)
	if err != nil {
		return err
	}
	if err := c.CheckRedeemable(r.UsedAt, m.userUses[m.usesKey(r.CouponID, r.UserID)]); err != nil {
		return err
	}
	c.UsedCount++
	m.userUses[m.usesKey(r.CouponID, r.UserID)]++
	m.redemptions = append(m.redemptions, r)
	return nil
}

func testCoupon(now time.Time) *Coupon {
	return &Coupon{
		ID:             uuid.New(),
		Code:           "SAVE10",
		Kind:           DiscountPercentage,
		Value:          dec("10"),
		UserUsageLimit: 1,
		ValidFrom:      now.Add(-time.Hour),
		ValidTo:        now.Add(time.Hour),
		Active:         true,
	}
}

func newTestService(repo Repository, now time.Time) *Service {
	svc := NewService(repo)
	svc.now = func() time.Time { return now }
	return svc
}

func TestServicePreview(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("quotes without side effects", func(t *testing.T) {
		c := testCoupon(now)
		repo := newMockRepo(c)
		svc := newTestService(repo, now)

		got, q, err := svc.Preview(context.Background(), PreviewRequest{
			Code:        "  save10 ",
			UserID:      "u1",
			OrderAmount: dec("200"),
		})
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.True(t, dec("20").Equal(q.DiscountAmount))
		assert.True(t, dec("180").Equal(q.FinalAmount))

		// Previewing twice keeps quoting; nothing was consumed.
		_, _, err = svc.Preview(context.Background(), PreviewRequest{
			Code: "SAVE10", UserID: "u1", OrderAmount: dec("200"),
		})
		require.NoError(t, err)
		assert.Empty(t, repo.redemptions)
		assert.Zero(t, c.UsedCount)
	})

	t.Run("unknown code", func(t *testing.T) {
		svc := newTestService(newMockRepo(), now)

		_, _, err := svc.Preview(context.Background(), PreviewRequest{
			Code: "BOGUS", OrderAmount: dec("100"),
		})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("per-user limit enforced when user known", func(t *testing.T) {
		c := testCoupon(now)
		repo := newMockRepo(c)
		repo.userUses[repo.usesKey(c.ID, "u1")] = 1
		svc := newTestService(repo, now)

		_, _, err := svc.Preview(context.Background(), PreviewRequest{
			Code: "SAVE10", UserID: "u1", OrderAmount: dec("100"),
		})
		require.ErrorIs(t, err, ErrUserLimitReached)
	})

	t.Run("anonymous preview skips per-user limit", func(t *testing.T) {
		c := testCoupon(now)
		repo := newMockRepo(c)
		repo.userUses[repo.usesKey(c.ID, "u1")] = 1
		svc := newTestService(repo, now)

		_, _, err := svc.Preview(context.Background(), PreviewRequest{
			Code: "SAVE10", OrderAmount: dec("100"),
		})
		require.NoError(t, err)
	})

	t.Run("scope narrows quote through cart lines", func(t *testing.T) {
		c := testCoupon(now)
		c.Scope = Scope{Categories: RestrictTo("dessert")}
		svc := newTestService(newMockRepo(c), now)

		_, q, err := svc.Preview(context.Background(), PreviewRequest{
			Code:        "SAVE10",
			OrderAmount: dec("100"),
			Lines: []cart.Line{
				{ProductID: "p1", Category: "dessert", Price: dec("40"), Quantity: 1},
				{ProductID: "p2", Category: "main", Price: dec("60"), Quantity: 1},
			},
		})
		require.NoError(t, err)
		assert.True(t, dec("40").Equal(q.Base))
		assert.True(t, dec("4").Equal(q.DiscountAmount))
	})
}

func TestServiceRedeem(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("appends ledger entry", func(t *testing.T) {
		c := testCoupon(now)
		repo := newMockRepo(c)
		svc := newTestService(repo, now)

		red, err := svc.Redeem(context.Background(), RedeemRequest{
			CouponID:       c.ID,
			UserID:         "u1",
			OrderAmount:    dec("200"),
			DiscountAmount: dec("20"),
		})
		require.NoError(t, err)
		assert.Equal(t, c.ID, red.CouponID)
		assert.Equal(t, now, red.UsedAt)
		assert.Equal(t, 1, c.UsedCount)
		require.Len(t, repo.redemptions, 1)
	})

	t.Run("requires a user", func(t *testing.T) {
		c := testCoupon(now)
		svc := newTestService(newMockRepo(c), now)

		_, err := svc.Redeem(context.Background(), RedeemRequest{
			CouponID: c.ID, OrderAmount: dec("200"), DiscountAmount: dec("20"),
		})
		require.ErrorIs(t, err, ErrUserRequired)
	})

	t.Run("second redemption by same user fails", func(t *testing.T) {
		c := testCoupon(now)
		svc := newTestService(newMockRepo(c), now)

		req := RedeemRequest{
			CouponID: c.ID, UserID: "u1",
			OrderAmount: dec("200"), DiscountAmount: dec("20"),
		}
		_, err := svc.Redeem(context.Background(), req)
		require.NoError(t, err)

		_, err = svc.Redeem(context.Background(), req)
		require.ErrorIs(t, err, ErrUserLimitReached)
	})

	t.Run("commit-time expiry surfaces as reason", func(t *testing.T) {
		c := testCoupon(now)
		c.ValidTo = now.Add(-time.Minute)
		svc := newTestService(newMockRepo(c), now)

		_, err := svc.Redeem(context.Background(), RedeemRequest{
			CouponID: c.ID, UserID: "u1",
			OrderAmount: dec("200"), DiscountAmount: dec("20"),
		})
		require.ErrorIs(t, err, ErrExpired)
	})
}

func TestServiceCreate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("validates then persists", func(t *testing.T) {
		repo := newMockRepo()
		svc := newTestService(repo, now)

		c, err := svc.Create(context.Background(), validSpec())
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", c.Code)
		assert.Contains(t, repo.coupons, "SAVE10")
	})

	t.Run("rejects invalid configuration before touching the repo", func(t *testing.T) {
		repo := newMockRepo()
		svc := newTestService(repo, now)

		s := validSpec()
		s.Value = dec("150")
		_, err := svc.Create(context.Background(), s)
		require.ErrorIs(t, err, ErrInvalidConfiguration)
		assert.Empty(t, repo.coupons)
	})

	t.Run("duplicate code", func(t *testing.T) {
		repo := newMockRepo()
		svc := newTestService(repo, now)

		_, err := svc.Create(context.Background(), validSpec())
		require.NoError(t, err)

		s := validSpec()
		s.Code = " save10 " // same code after normalization
		_, err = svc.Create(context.Background(), s)
		require.ErrorIs(t, err, ErrDuplicateCode)
	})
}

func TestServiceUpdate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("edits never touch the ledger", func(t *testing.T) {
		repo := newMockRepo()
		svc := newTestService(repo, now)

		c, err := svc.Create(context.Background(), validSpec())
		require.NoError(t, err)
		c.UsedCount = 7

		s := validSpec()
		s.Description = "updated"
		got, err := svc.Update(context.Background(), c.ID, s)
		require.NoError(t, err)
		assert.Equal(t, "updated", got.Description)
		assert.Equal(t, 7, got.UsedCount)
	})

	t.Run("missing coupon", func(t *testing.T) {
		svc := newTestService(newMockRepo(), now)

		_, err := svc.Update(context.Background(), uuid.New(), validSpec())
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestServiceListDefaults(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	repo := newMockRepo(testCoupon(now))
	svc := newTestService(repo, now)

	_, total, err := svc.List(context.Background(), ListFilter{Page: -3, Limit: 100000})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
