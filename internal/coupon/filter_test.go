package coupon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kanvei/coupon-service/internal/cart"
)

func TestFilter(t *testing.T) {
	t.Run("zero value is unrestricted", func(t *testing.T) {
		var f Filter
		assert.False(t, f.Restricted())
		assert.Nil(t, f.Values())
	})

	t.Run("restriction to empty set admits nothing", func(t *testing.T) {
		f := RestrictTo()
		assert.True(t, f.Restricted())
		assert.False(t, f.Contains("anything"))
		assert.NotNil(t, f.Values())
		assert.Empty(t, f.Values())
	})

	t.Run("values are sorted", func(t *testing.T) {
		f := RestrictTo("c", "a", "b")
		assert.Equal(t, []string{"a", "b", "c"}, f.Values())
	})

	t.Run("round trip through stored values", func(t *testing.T) {
		for _, f := range []Filter{
			Unrestricted(),
			RestrictTo(),
			RestrictTo("x", "y"),
		} {
			got := FilterFromValues(f.Values())
			assert.Equal(t, f.Restricted(), got.Restricted())
			assert.Equal(t, f.Values(), got.Values())
		}
	})
}

func TestScopeApplies(t *testing.T) {
	line := func(product, category string) cart.Line {
		return cart.Line{ProductID: product, Category: category, Price: dec("10"), Quantity: 1}
	}

	tests := []struct {
		name  string
		scope Scope
		line  cart.Line
		want  bool
	}{
		{
			name: "unrestricted admits everything",
			line: line("p1", "main"),
			want: true,
		},
		{
			name:  "category include match",
			scope: Scope{Categories: RestrictTo("dessert")},
			line:  line("p1", "dessert"),
			want:  true,
		},
		{
			name:  "category include miss",
			scope: Scope{Categories: RestrictTo("dessert")},
			line:  line("p1", "main"),
			want:  false,
		},
		{
			name:  "category exclusion wins over include",
			scope: Scope{Categories: RestrictTo("dessert"), ExcludedCategories: RestrictTo("dessert")},
			line:  line("p1", "dessert"),
			want:  false,
		},
		{
			name:  "product include and category exclude are both checked",
			scope: Scope{Products: RestrictTo("p1"), ExcludedCategories: RestrictTo("main")},
			line:  line("p1", "main"),
			want:  false,
		},
		{
			name:  "excluded product",
			scope: Scope{ExcludedProducts: RestrictTo("p1")},
			line:  line("p1", "dessert"),
			want:  false,
		},
		{
			name:  "empty include set admits nothing",
			scope: Scope{Products: RestrictTo()},
			line:  line("p1", "dessert"),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scope.Applies(tt.line))
		})
	}
}

func TestScopeRestricted(t *testing.T) {
	assert.False(t, Scope{}.Restricted())
	assert.True(t, Scope{Categories: RestrictTo("a")}.Restricted())
	assert.True(t, Scope{ExcludedCategories: RestrictTo("a")}.Restricted())
	assert.True(t, Scope{Products: RestrictTo("a")}.Restricted())
	assert.True(t, Scope{ExcludedProducts: RestrictTo("a")}.Restricted())
}
