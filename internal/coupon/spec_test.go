package coupon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() Spec {
	return Spec{
		Code:           "SAVE10",
		Description:    "10% off",
		Kind:           DiscountPercentage,
		Value:          dec("10"),
		UserUsageLimit: 1,
		ValidFrom:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:        time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		Active:         true,
		CreatedBy:      "admin@kanvei.test",
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
		valid  bool
	}{
		{
			name:  "valid spec",
			valid: true,
		},
		{
			name:   "code normalized before length check",
			mutate: func(s *Spec) { s.Code = "  ok1  " },
			valid:  true,
		},
		{
			name:   "code too short",
			mutate: func(s *Spec) { s.Code = "ab" },
		},
		{
			name:   "code too long",
			mutate: func(s *Spec) { s.Code = "ABCDEFGHIJKLMNOPQRSTU" },
		},
		{
			name:   "description too long",
			mutate: func(s *Spec) { s.Description = string(make([]byte, 201)) },
		},
		{
			name:   "unknown kind",
			mutate: func(s *Spec) { s.Kind = DiscountKind("bogo") },
		},
		{
			name:   "missing kind",
			mutate: func(s *Spec) { s.Kind = "" },
		},
		{
			name:   "negative value",
			mutate: func(s *Spec) { s.Value = dec("-1") },
		},
		{
			name:   "percentage over 100",
			mutate: func(s *Spec) { s.Value = dec("101") },
		},
		{
			name: "fixed over 100 is fine",
			mutate: func(s *Spec) {
				s.Kind = DiscountFixed
				s.Value = dec("500")
			},
			valid: true,
		},
		{
			name:   "negative minimum order",
			mutate: func(s *Spec) { s.MinOrderAmount = dec("-5") },
		},
		{
			name:   "negative max discount",
			mutate: func(s *Spec) { s.MaxDiscountAmount = decPtr("-5") },
		},
		{
			name: "zero usage limit",
			mutate: func(s *Spec) {
				zero := 0
				s.UsageLimit = &zero
			},
		},
		{
			name:   "zero per-user limit",
			mutate: func(s *Spec) { s.UserUsageLimit = 0 },
		},
		{
			name:   "window start equals end",
			mutate: func(s *Spec) { s.ValidTo = s.ValidFrom },
		},
		{
			name: "window reversed",
			mutate: func(s *Spec) {
				s.ValidFrom, s.ValidTo = s.ValidTo, s.ValidFrom
			},
		},
		{
			name:   "missing created by",
			mutate: func(s *Spec) { s.CreatedBy = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSpec()
			if tt.mutate != nil {
				tt.mutate(&s)
			}

			err := s.Validate()
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestSpecMaterialize(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	s := validSpec()
	s.Code = "  save10  "
	c := s.Materialize(now)

	assert.NotZero(t, c.ID)
	assert.Equal(t, "SAVE10", c.Code)
	assert.Zero(t, c.UsedCount)
	assert.Equal(t, now, c.CreatedAt)
	assert.Equal(t, now, c.UpdatedAt)

	// Fresh IDs per materialization.
	c2 := s.Materialize(now)
	assert.NotEqual(t, c.ID, c2.ID)
}

func TestSpecApply(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	orig := validSpec().Materialize(created)
	orig.UsedCount = 42

	s := validSpec()
	s.Code = "newcode"
	s.Description = "changed"
	s.Apply(orig, updated)

	assert.Equal(t, "NEWCODE", orig.Code)
	assert.Equal(t, "changed", orig.Description)

	// Identity, ledger, and creation metadata survive edits.
	assert.Equal(t, 42, orig.UsedCount)
	assert.Equal(t, created, orig.CreatedAt)
	assert.Equal(t, updated, orig.UpdatedAt)
}
