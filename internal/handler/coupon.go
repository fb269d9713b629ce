package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kanvei/coupon-service/internal/cart"
	"github.com/kanvei/coupon-service/internal/coupon"
)

// cartLine is the wire form of one cart line. Prices come as JSON strings or
// numbers; decimal.Decimal accepts both.
type cartLine struct {
	ProductID string          `json:"product_id"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

func toCartLines(in []cartLine) []cart.Line {
	if len(in) == 0 {
		return nil
	}
	lines := make([]cart.Line, len(in))
	for i, l := range in {
		lines[i] = cart.Line{
			ProductID: l.ProductID,
			Category:  l.Category,
			Price:     l.Price,
			Quantity:  l.Quantity,
		}
	}
	return lines
}

type previewRequest struct {
	Code string `json:"code"`
	// UserID is optional; anonymous previews skip the per-user limit check.
	UserID      string          `json:"user_id,omitempty"`
	OrderAmount decimal.Decimal `json:"order_amount"`
	Items       []cartLine      `json:"items,omitempty"`
}

// couponSummary is the redacted coupon view shown to storefront clients.
// Usage counters, scope internals, and audit fields stay server-side.
type couponSummary struct {
	Code        string          `json:"code"`
	Description string          `json:"description,omitempty"`
	Kind        string          `json:"kind"`
	Value       decimal.Decimal `json:"value"`
}

type previewResponse struct {
	Valid          bool            `json:"valid"`
	Coupon         couponSummary   `json:"coupon"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
}

// PreviewCoupon handles POST /api/coupons/preview: validate a code against an
// order and quote the discount, without consuming a use.
func (h *Handler) PreviewCoupon(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	c, q, err := h.coupons.Preview(r.Context(), coupon.PreviewRequest{
		Code:        req.Code,
		UserID:      req.UserID,
		OrderAmount: req.OrderAmount,
		Lines:       toCartLines(req.Items),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{
		Valid: true,
		Coupon: couponSummary{
			Code:        c.Code,
			Description: c.Description,
			Kind:        string(c.Kind),
			Value:       c.Value,
		},
		BaseAmount:     q.Base,
		DiscountAmount: q.DiscountAmount,
		FinalAmount:    q.FinalAmount,
	})
}

type redeemRequest struct {
	CouponID       uuid.UUID       `json:"coupon_id"`
	UserID         string          `json:"user_id"`
	OrderAmount    decimal.Decimal `json:"order_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

type redeemResponse struct {
	RedemptionID   uuid.UUID       `json:"redemption_id"`
	CouponID       uuid.UUID       `json:"coupon_id"`
	UserID         string          `json:"user_id"`
	OrderAmount    decimal.Decimal `json:"order_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	UsedAt         time.Time       `json:"used_at"`
}

// RedeemCoupon handles POST /api/coupons/redeem: commit one redemption
// against the ledger. Eligibility is re-checked atomically at commit, so a
// quote that went stale between preview and checkout fails here with the
// specific reason.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CouponID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "coupon_id is required")
		return
	}

	red, err := h.coupons.Redeem(r.Context(), coupon.RedeemRequest{
		CouponID:       req.CouponID,
		UserID:         req.UserID,
		OrderAmount:    req.OrderAmount,
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, redeemResponse{
		RedemptionID:   red.ID,
		CouponID:       red.CouponID,
		UserID:         red.UserID,
		OrderAmount:    red.OrderAmount,
		DiscountAmount: red.DiscountAmount,
		UsedAt:         red.UsedAt,
	})
}
