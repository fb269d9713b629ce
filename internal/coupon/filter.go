package coupon

import (
	"sort"

	"github.com/kanvei/coupon-service/internal/cart"
)

// Filter is a set of identifiers that a coupon restricts itself to (or
// excludes). The zero value is unrestricted, which is distinct from a
// restriction to an empty set: an unrestricted include filter admits every
// identifier, while RestrictTo() with no members admits none.
type Filter struct {
	restricted bool
	ids        map[string]struct{}
}

// RestrictTo builds a Filter restricted to exactly the given identifiers.
func RestrictTo(ids ...string) Filter {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Filter{restricted: true, ids: set}
}

// Unrestricted returns the filter that admits everything.
func Unrestricted() Filter {
	return Filter{}
}

// Restricted reports whether the filter carries a restriction set.
func (f Filter) Restricted() bool {
	return f.restricted
}

// Contains reports whether id is in the restriction set. It is only
// meaningful when Restricted returns true.
func (f Filter) Contains(id string) bool {
	_, ok := f.ids[id]
	return ok
}

// Values returns the restriction set in sorted order, or nil when
// unrestricted. The nil/non-nil distinction round-trips through storage.
func (f Filter) Values() []string {
	if !f.restricted {
		return nil
	}
	out := make([]string, 0, len(f.ids))
	for id := range f.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FilterFromValues rebuilds a Filter from its stored representation:
// nil means unrestricted, any non-nil slice (including empty) is a restriction.
func FilterFromValues(ids []string) Filter {
	if ids == nil {
		return Unrestricted()
	}
	return RestrictTo(ids...)
}

// Scope bundles a coupon's category and product eligibility filters.
// Category and product restrictions are AND'd: a line must pass all four.
type Scope struct {
	Categories         Filter
	ExcludedCategories Filter
	Products           Filter
	ExcludedProducts   Filter
}

// Restricted reports whether any of the four filters narrows eligibility.
func (s Scope) Restricted() bool {
	return s.Categories.Restricted() ||
		s.ExcludedCategories.Restricted() ||
		s.Products.Restricted() ||
		s.ExcludedProducts.Restricted()
}

// Applies reports whether the given cart line is eligible under the scope.
func (s Scope) Applies(l cart.Line) bool {
	if s.Categories.Restricted() && !s.Categories.Contains(l.Category) {
		return false
	}
	if s.ExcludedCategories.Restricted() && s.ExcludedCategories.Contains(l.Category) {
		return false
	}
	if s.Products.Restricted() && !s.Products.Contains(l.ProductID) {
		return false
	}
	if s.ExcludedProducts.Restricted() && s.ExcludedProducts.Contains(l.ProductID) {
		return false
	}
	return true
}
