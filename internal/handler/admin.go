package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kanvei/coupon-service/internal/coupon"
)

// couponPayload is the admin create/update body. Scope lists distinguish
// absent (unrestricted) from present-but-empty (restricted to nothing), so
// they decode through nil-vs-non-nil slices.
type couponPayload struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`

	Kind              string           `json:"kind"`
	Value             decimal.Decimal  `json:"value"`
	MinOrderAmount    decimal.Decimal  `json:"min_order_amount"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`

	UsageLimit *int `json:"usage_limit,omitempty"`
	// UserUsageLimit defaults to 1 when omitted: one redemption per user.
	UserUsageLimit *int `json:"user_usage_limit,omitempty"`

	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`
	Active    bool      `json:"active"`

	Categories         []string `json:"categories,omitempty"`
	ExcludedCategories []string `json:"excluded_categories,omitempty"`
	Products           []string `json:"products,omitempty"`
	ExcludedProducts   []string `json:"excluded_products,omitempty"`

	CreatedBy string `json:"created_by"`
}

func (p couponPayload) toSpec() coupon.Spec {
	userLimit := 1
	if p.UserUsageLimit != nil {
		userLimit = *p.UserUsageLimit
	}
	return coupon.Spec{
		Code:              p.Code,
		Description:       p.Description,
		Kind:              coupon.DiscountKind(p.Kind),
		Value:             p.Value,
		MinOrderAmount:    p.MinOrderAmount,
		MaxDiscountAmount: p.MaxDiscountAmount,
		UsageLimit:        p.UsageLimit,
		UserUsageLimit:    userLimit,
		ValidFrom:         p.ValidFrom,
		ValidTo:           p.ValidTo,
		Active:            p.Active,
		Scope: coupon.Scope{
			Categories:         coupon.FilterFromValues(p.Categories),
			ExcludedCategories: coupon.FilterFromValues(p.ExcludedCategories),
			Products:           coupon.FilterFromValues(p.Products),
			ExcludedProducts:   coupon.FilterFromValues(p.ExcludedProducts),
		},
		CreatedBy: p.CreatedBy,
	}
}

// couponView is the full admin representation, counters and audit fields
// included.
type couponView struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`

	Kind              string           `json:"kind"`
	Value             decimal.Decimal  `json:"value"`
	MinOrderAmount    decimal.Decimal  `json:"min_order_amount"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`

	UsageLimit     *int `json:"usage_limit,omitempty"`
	UsedCount      int  `json:"used_count"`
	UserUsageLimit int  `json:"user_usage_limit"`

	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`
	Active    bool      `json:"active"`

	Categories         []string `json:"categories,omitempty"`
	ExcludedCategories []string `json:"excluded_categories,omitempty"`
	Products           []string `json:"products,omitempty"`
	ExcludedProducts   []string `json:"excluded_products,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toCouponView(c *coupon.Coupon) couponView {
	return couponView{
		ID:                 c.ID,
		Code:               c.Code,
		Description:        c.Description,
		Kind:               string(c.Kind),
		Value:              c.Value,
		MinOrderAmount:     c.MinOrderAmount,
		MaxDiscountAmount:  c.MaxDiscountAmount,
		UsageLimit:         c.UsageLimit,
		UsedCount:          c.UsedCount,
		UserUsageLimit:     c.UserUsageLimit,
		ValidFrom:          c.ValidFrom,
		ValidTo:            c.ValidTo,
		Active:             c.Active,
		Categories:         c.Scope.Categories.Values(),
		ExcludedCategories: c.Scope.ExcludedCategories.Values(),
		Products:           c.Scope.Products.Values(),
		ExcludedProducts:   c.Scope.ExcludedProducts.Values(),
		CreatedBy:          c.CreatedBy,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

// CreateCoupon handles POST /api/admin/coupons.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var payload couponPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.coupons.Create(r.Context(), payload.toSpec())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouponView(c))
}

// listResponse wraps a coupon page with its pagination envelope.
type listResponse struct {
	Coupons []couponView `json:"coupons"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	Limit   int          `json:"limit"`
}

// ListCoupons handles GET /api/admin/coupons with optional status, search,
// page, and limit query parameters.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := coupon.ListFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
		Page:   pageParam(q.Get("page")),
		Limit:  limitParam(q.Get("limit")),
	}

	coupons, total, err := h.coupons.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	views := make([]couponView, len(coupons))
	for i, c := range coupons {
		views[i] = toCouponView(c)
	}
	writeJSON(w, http.StatusOK, listResponse{
		Coupons: views,
		Total:   total,
		Page:    f.Page,
		Limit:   f.Limit,
	})
}

// GetCoupon handles GET /api/admin/coupons/{id}.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.coupons.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponView(c))
}

// UpdateCoupon handles PUT /api/admin/coupons/{id}. Usage counters and the
// redemption ledger are never editable; last write wins on everything else.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var payload couponPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.coupons.Update(r.Context(), id, payload.toSpec())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponView(c))
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetCouponActive handles PATCH /api/admin/coupons/{id}/active, the manual
// kill switch.
func (h *Handler) SetCouponActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.coupons.SetActive(r.Context(), id, req.Active); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCoupon handles DELETE /api/admin/coupons/{id}. Coupons with
// redemptions cannot be deleted, only deactivated.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.coupons.Delete(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type redemptionView struct {
	ID             uuid.UUID       `json:"id"`
	UserID         string          `json:"user_id"`
	OrderAmount    decimal.Decimal `json:"order_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	UsedAt         time.Time       `json:"used_at"`
}

type usagesResponse struct {
	Usages []redemptionView `json:"usages"`
	Total  int              `json:"total"`
	Page   int              `json:"page"`
	Limit  int              `json:"limit"`
}

// CouponUsages handles GET /api/admin/coupons/{id}/usages: the redemption
// ledger, newest first.
func (h *Handler) CouponUsages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page := pageParam(q.Get("page"))
	limit := limitParam(q.Get("limit"))

	usages, total, err := h.coupons.Usages(r.Context(), id, page, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	views := make([]redemptionView, len(usages))
	for i, u := range usages {
		views[i] = redemptionView{
			ID:             u.ID,
			UserID:         u.UserID,
			OrderAmount:    u.OrderAmount,
			DiscountAmount: u.DiscountAmount,
			UsedAt:         u.UsedAt,
		}
	}
	writeJSON(w, http.StatusOK, usagesResponse{
		Usages: views,
		Total:  total,
		Page:   page,
		Limit:  limit,
	})
}

// pathID parses the {id} route parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid coupon id")
		return uuid.Nil, false
	}
	return id, true
}

// pageParam and limitParam mirror the service's pagination bounds so the
// response envelope reports the values actually applied.
func pageParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func limitParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 100 {
		return 20
	}
	return n
}
