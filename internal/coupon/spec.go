package coupon

import (
	"time"

	"github.com/go-faster/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Spec is the administrative input for creating or replacing a coupon.
// It covers every field except the usage ledger, which only the redemption
// flow mutates.
type Spec struct {
	Code        string
	Description string

	Kind              DiscountKind
	Value             decimal.Decimal
	MinOrderAmount    decimal.Decimal
	MaxDiscountAmount *decimal.Decimal

	UsageLimit     *int
	UserUsageLimit int

	ValidFrom time.Time
	ValidTo   time.Time
	Active    bool

	Scope Scope

	CreatedBy string
}

// ErrInvalidConfiguration wraps all creation/edit-time configuration
// failures. These are administrative errors, rejected before a coupon ever
// reaches the redemption path.
var ErrInvalidConfiguration = errors.New("invalid coupon configuration")

// Validate checks the spec's internal consistency. Violations return
// ErrInvalidConfiguration wrapped with the specific field failures.
func (s Spec) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Code,
			validation.By(normalizedCodeRule),
		),
		validation.Field(&s.Description,
			validation.Length(0, 200),
		),
		validation.Field(&s.Kind,
			validation.Required,
			validation.In(DiscountPercentage, DiscountFixed),
		),
		validation.Field(&s.UserUsageLimit,
			validation.Min(1),
		),
		validation.Field(&s.CreatedBy,
			validation.Required,
		),
	)
	if err != nil {
		return errors.Wrap(ErrInvalidConfiguration, err.Error())
	}

	if s.Value.IsNegative() {
		return errors.Wrap(ErrInvalidConfiguration, "discount value must not be negative")
	}
	if s.Kind == DiscountPercentage && s.Value.GreaterThan(hundred) {
		return errors.Wrap(ErrInvalidConfiguration, "percentage discount cannot exceed 100")
	}
	if s.MinOrderAmount.IsNegative() {
		return errors.Wrap(ErrInvalidConfiguration, "minimum order amount must not be negative")
	}
	if s.MaxDiscountAmount != nil && s.MaxDiscountAmount.IsNegative() {
		return errors.Wrap(ErrInvalidConfiguration, "maximum discount amount must not be negative")
	}
	if s.UsageLimit != nil && *s.UsageLimit < 1 {
		return errors.Wrap(ErrInvalidConfiguration, "usage limit must be at least 1")
	}
	if !s.ValidFrom.Before(s.ValidTo) {
		return errors.Wrap(ErrInvalidConfiguration, "valid_from must be before valid_to")
	}
	return nil
}

// normalizedCodeRule validates the code after normalization: 3-20 characters.
func normalizedCodeRule(value any) error {
	code, _ := value.(string)
	code = NormalizeCode(code)
	if len(code) < 3 || len(code) > 20 {
		return errors.New("must be between 3 and 20 characters")
	}
	return nil
}

// Materialize builds a Coupon from a validated spec. The code is normalized,
// the ledger starts empty, and a fresh ID is assigned.
func (s Spec) Materialize(now time.Time) *Coupon {
	return &Coupon{
		ID:                uuid.New(),
		Code:              NormalizeCode(s.Code),
		Description:       s.Description,
		Kind:              s.Kind,
		Value:             s.Value,
		MinOrderAmount:    s.MinOrderAmount,
		MaxDiscountAmount: s.MaxDiscountAmount,
		UsageLimit:        s.UsageLimit,
		UsedCount:         0,
		UserUsageLimit:    s.UserUsageLimit,
		ValidFrom:         s.ValidFrom,
		ValidTo:           s.ValidTo,
		Active:            s.Active,
		Scope:             s.Scope,
		CreatedBy:         s.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Apply copies the spec's fields onto an existing coupon, leaving the
// identity, ledger counters, and creation metadata untouched.
func (s Spec) Apply(c *Coupon, now time.Time) {
	c.Code = NormalizeCode(s.Code)
	c.Description = s.Description
	c.Kind = s.Kind
	c.Value = s.Value
	c.MinOrderAmount = s.MinOrderAmount
	c.MaxDiscountAmount = s.MaxDiscountAmount
	c.UsageLimit = s.UsageLimit
	c.UserUsageLimit = s.UserUsageLimit
	c.ValidFrom = s.ValidFrom
	c.ValidTo = s.ValidTo
	c.Active = s.Active
	c.Scope = s.Scope
	c.UpdatedAt = now
}
