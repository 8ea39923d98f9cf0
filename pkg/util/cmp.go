package util

import (
	"fmt"
	"slices"
	"strings"
)

// EqualSlices compares a and b element-wise with equal. With ignoreOrder the
// slices are compared as multisets, ordered by their printed form.
func EqualSlices[T any](a, b []T, equal func(x, y T) bool, ignoreOrder bool) bool {
	if len(a) != len(b) {
		return false
	}

	if ignoreOrder {
		byPrint := func(x, y T) int {
			return strings.Compare(fmt.Sprint(x), fmt.Sprint(y))
		}
		a = slices.Clone(a)
		b = slices.Clone(b)
		slices.SortStableFunc(a, byPrint)
		slices.SortStableFunc(b, byPrint)
	}

	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
