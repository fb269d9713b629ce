package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanvei/coupon-service/internal/auth"
	"github.com/kanvei/coupon-service/internal/coupon"
)

const (
	testPepper = "test-pepper"
	testAPIKey = "test-key"
)

// stubCouponRepo is an in-memory coupon.Repository for handler tests.
type stubCouponRepo struct {
	coupons  map[string]*coupon.Coupon
	userUses map[string]int
}

func newStubCouponRepo(coupons ...*coupon.Coupon) *stubCouponRepo {
	r := &stubCouponRepo{
		coupons:  make(map[string]*coupon.Coupon),
		userUses: make(map[string]int),
	}
	for _, c := range coupons {
		r.coupons[c.Code] = c
	}
	return r
}

func (r *stubCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := r.coupons[code]
	if !ok || !c.Active {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (r *stubCouponRepo) FindByID(_ context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	for _, c := range r.coupons {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (r *stubCouponRepo) Create(_ context.Context, c *coupon.Coupon) error {
	if _, ok := r.coupons[c.Code]; ok {
		return coupon.ErrDuplicateCode
	}
	r.coupons[c.Code] = c
	return nil
}

func (r *stubCouponRepo) Update(_ context.Context, c *coupon.Coupon) error {
	r.coupons[c.Code] = c
	return nil
}

func (r *stubCouponRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	c, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	c.Active = active
	return nil
}

func (r *stubCouponRepo) Delete(ctx context.Context, id uuid.UUID) error {
	c, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if c.UsedCount > 0 {
		return coupon.ErrHasRedemptions
	}
	delete(r.coupons, c.Code)
	return nil
}

func (r *stubCouponRepo) List(_ context.Context, _ coupon.ListFilter) ([]*coupon.Coupon, int, error) {
	var out []*coupon.Coupon
	for _, c := range r.coupons {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (r *stubCouponRepo) UserUsageCount(_ context.Context, couponID uuid.UUID, userID string) (int, error) {
	return r.userUses[couponID.String()+"|"+userID], nil
}

func (r *stubCouponRepo) Usages(_ context.Context, _ uuid.UUID, _, _ int) ([]*coupon.Redemption, int, error) {
	return nil, 0, nil
}

func (r *stubCouponRepo) Redeem(ctx context.Context, red *coupon.Redemption) error {
	c, err := r.FindByID(ctx, red.CouponID)
	if err != nil {
		return err
	}
	key := red.CouponID.String() + "|" + red.UserID
	if err := c.CheckRedeemable(red.UsedAt, r.userUses[key]); err != nil {
		return err
	}
	c.UsedCount++
	r.userUses[key]++
	return nil
}

// stubKeyRepo holds a single valid API key hash.
type stubKeyRepo struct {
	hash string
}

func (r *stubKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if hash != r.hash {
		return nil, auth.ErrUnauthorized
	}
	return &auth.APIKeyInfo{ID: "test", KeyHash: r.hash, Name: "test"}, nil
}

func newTestServer(repo *stubCouponRepo) *httptest.Server {
	verifier := auth.NewVerifier(
		&stubKeyRepo{hash: auth.HashKey([]byte(testPepper), testAPIKey)},
		[]byte(testPepper),
	)
	h := NewHandler(coupon.NewService(repo), verifier)
	return httptest.NewServer(h.Routes())
}

func activeCoupon() *coupon.Coupon {
	now := time.Now()
	return &coupon.Coupon{
		ID:             uuid.New(),
		Code:           "SAVE10",
		Kind:           coupon.DiscountPercentage,
		Value:          decimal.NewFromInt(10),
		UserUsageLimit: 1,
		ValidFrom:      now.Add(-time.Hour),
		ValidTo:        now.Add(time.Hour),
		Active:         true,
	}
}

func doJSON(t *testing.T, method, url string, body any, apiKey string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(apiKeyHeader, apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func TestPreviewCoupon(t *testing.T) {
	t.Run("valid code quotes the discount", func(t *testing.T) {
		srv := newTestServer(newStubCouponRepo(activeCoupon()))
		defer srv.Close()

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/coupons/preview", map[string]any{
			"code":         " save10 ",
			"order_amount": "200",
		}, "")

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, "20", body["discount_amount"])
		assert.Equal(t, "180", body["final_amount"])
	})

	t.Run("unknown code is 404", func(t *testing.T) {
		srv := newTestServer(newStubCouponRepo())
		defer srv.Close()

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/coupons/preview", map[string]any{
			"code":         "BOGUS",
			"order_amount": "100",
		}, "")

		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, float64(404), body["code"])
	})

	t.Run("expired code is 422", func(t *testing.T) {
		c := activeCoupon()
		c.ValidTo = time.Now().Add(-time.Minute)
		srv := newTestServer(newStubCouponRepo(c))
		defer srv.Close()

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/coupons/preview", map[string]any{
			"code":         "SAVE10",
			"order_amount": "100",
		}, "")

		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("below minimum order is 422", func(t *testing.T) {
		c := activeCoupon()
		c.MinOrderAmount = decimal.NewFromInt(50)
		srv := newTestServer(newStubCouponRepo(c))
		defer srv.Close()

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/coupons/preview", map[string]any{
			"code":         "SAVE10",
			"order_amount": "10",
		}, "")

		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Contains(t, body["message"], "minimum order amount")
	})

	t.Run("missing code is 400", func(t *testing.T) {
		srv := newTestServer(newStubCouponRepo())
		defer srv.Close()

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/coupons/preview", map[string]any{
			"order_amount": "100",
		}, "")

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRedeemCoupon(t *testing.T) {
	t.Run("requires an API key", func(t *testing.T) {
		c := activeCoupon()
		srv := newTestServer(newStubCouponRepo(c))
		defer srv.Close()

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/coupons/redeem", map[string]any{
			"coupon_id": c.ID, "user_id": "u1",
			"order_amount": "200", "discount_amount": "20",
		}, "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, _ = doJSON(t, http.MethodPost, srv.URL+"/coupons/redeem", map[string]any{
			"coupon_id": c.ID, "user_id": "u1",
			"order_amount": "200", "discount_amount": "20",
		}, "wrong-key")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("commits one redemption", func(t *testing.T) {
		c := activeCoupon()
		repo := newStubCouponRepo(c)
		srv := newTestServer(repo)
		defer srv.Close()

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/coupons/redeem", map[string]any{
			"coupon_id": c.ID, "user_id": "u1",
			"order_amount": "200", "discount_amount": "20",
		}, testAPIKey)

		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.NotEmpty(t, body["redemption_id"])
		assert.Equal(t, 1, c.UsedCount)

		// The same user cannot redeem twice.
		resp, _ = doJSON(t, http.MethodPost, srv.URL+"/coupons/redeem", map[string]any{
			"coupon_id": c.ID, "user_id": "u1",
			"order_amount": "200", "discount_amount": "20",
		}, testAPIKey)
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("missing user is 400", func(t *testing.T) {
		c := activeCoupon()
		srv := newTestServer(newStubCouponRepo(c))
		defer srv.Close()

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/coupons/redeem", map[string]any{
			"coupon_id":    c.ID,
			"order_amount": "200", "discount_amount": "20",
		}, testAPIKey)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func adminPayload() map[string]any {
	return map[string]any{
		"code":        "NEW15",
		"description": "15% off",
		"kind":        "percentage",
		"value":       "15",
		"valid_from":  time.Now().Format(time.RFC3339),
		"valid_to":    time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"active":      true,
		"created_by":  "admin@kanvei.test",
	}
}

func TestAdminCoupons(t *testing.T) {
	t.Run("create requires an API key", func(t *testing.T) {
		srv := newTestServer(newStubCouponRepo())
		defer srv.Close()

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/admin/coupons", adminPayload(), "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("create then fetch", func(t *testing.T) {
		srv := newTestServer(newStubCouponRepo())
		defer srv.Close()

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/admin/coupons", adminPayload(), testAPIKey)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "NEW15", body["code"])
		// Omitted user_usage_limit defaults to one per user.
		assert.Equal(t, float64(1), body["user_usage_limit"])

		id := body["id"].(string)
		resp, body = doJSON(t, http.MethodGet, srv.URL+"/admin/coupons/"+id, nil, testAPIKey)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "NEW15", body["code"])
	})

	t.Run("duplicate code is 409", func(t *testing.T) {
		srv := newTestServer(newStubCouponRepo())
		defer srv.Close()

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/admin/coupons", adminPayload(), testAPIKey)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		payload := adminPayload()
		payload["code"] = " new15 " // collides after normalization
		resp, _ = doJSON(t, http.MethodPost, srv.URL+"/admin/coupons", payload, testAPIKey)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("invalid configuration is 400", func(t *testing.T) {
		srv := newTestServer(newStubCouponRepo())
		defer srv.Close()

		payload := adminPayload()
		payload["value"] = "150" // percentage over 100
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/admin/coupons", payload, testAPIKey)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("kill switch", func(t *testing.T) {
		c := activeCoupon()
		repo := newStubCouponRepo(c)
		srv := newTestServer(repo)
		defer srv.Close()

		resp, _ := doJSON(t, http.MethodPatch, srv.URL+"/admin/coupons/"+c.ID.String()+"/active",
			map[string]any{"active": false}, testAPIKey)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.False(t, c.Active)

		// Deactivated coupons are invisible to preview.
		resp, _ = doJSON(t, http.MethodPost, srv.URL+"/coupons/preview", map[string]any{
			"code": "SAVE10", "order_amount": "100",
		}, "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("delete refuses redeemed coupons", func(t *testing.T) {
		c := activeCoupon()
		c.UsedCount = 1
		srv := newTestServer(newStubCouponRepo(c))
		defer srv.Close()

		resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/admin/coupons/"+c.ID.String(), nil, testAPIKey)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("delete removes unredeemed coupons", func(t *testing.T) {
		c := activeCoupon()
		repo := newStubCouponRepo(c)
		srv := newTestServer(repo)
		defer srv.Close()

		resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/admin/coupons/"+c.ID.String(), nil, testAPIKey)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Empty(t, repo.coupons)
	})

	t.Run("invalid id is 400", func(t *testing.T) {
		srv := newTestServer(newStubCouponRepo())
		defer srv.Close()

		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/admin/coupons/not-a-uuid", nil, testAPIKey)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
