// Package handler exposes the coupon engine over HTTP: a public preview
// endpoint, an API-key protected redemption endpoint for checkout, and the
// admin CRUD surface.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/kanvei/coupon-service/internal/auth"
	"github.com/kanvei/coupon-service/internal/coupon"
)

// Handler holds the HTTP endpoints, delegating business logic to the coupon
// service.
type Handler struct {
	coupons  *coupon.Service
	verifier *auth.Verifier
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(coupons *coupon.Service, verifier *auth.Verifier) *Handler {
	return &Handler{
		coupons:  coupons,
		verifier: verifier,
	}
}

// Routes builds the router. Preview is public; redemption and admin require
// an API key.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/coupons/preview", h.PreviewCoupon)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAPIKey)

		r.Post("/coupons/redeem", h.RedeemCoupon)

		r.Route("/admin/coupons", func(r chi.Router) {
			r.Post("/", h.CreateCoupon)
			r.Get("/", h.ListCoupons)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCoupon)
				r.Put("/", h.UpdateCoupon)
				r.Patch("/active", h.SetCouponActive)
				r.Delete("/", h.DeleteCoupon)
				r.Get("/usages", h.CouponUsages)
			})
		})
	})

	return r
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// writeDomainError maps coupon engine errors to HTTP responses. Reason errors
// become client-visible statuses; anything unrecognized is a 500 with the
// detail kept out of the body.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, coupon.ErrDuplicateCode):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, coupon.ErrHasRedemptions):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, coupon.ErrInvalidConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, coupon.ErrUserRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case isReasonError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		zctx.From(r.Context()).Error("Internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// isReasonError reports whether err is one of the expected redemption
// outcomes a client can act on.
func isReasonError(err error) bool {
	var belowMin *coupon.BelowMinimumError
	return errors.Is(err, coupon.ErrNotYetActive) ||
		errors.Is(err, coupon.ErrExpired) ||
		errors.Is(err, coupon.ErrUsageLimitReached) ||
		errors.Is(err, coupon.ErrUserLimitReached) ||
		errors.Is(err, coupon.ErrNotApplicable) ||
		errors.As(err, &belowMin)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}
