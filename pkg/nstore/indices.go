package nstore

import "sort"

// Indices returns a minimal set of permutations of 0..n-1 such that every
// subset of positions is the prefix set of at least one permutation. A
// pattern with k bound positions can then be answered by a prefix scan on
// the permutation whose first k positions are exactly the bound ones.
//
// The set is built from the Greene-Kleitman symmetric chain decomposition
// of the subsets of n, so it has C(n, n/2) members.
func Indices(n int) [][]int {
	var out [][]int
	for mask := 0; mask < 1<<n; mask++ {
		var stack, openers, closers, free []int
		for i := 0; i < n; i++ {
			switch {
			case mask>>i&1 == 1:
				stack = append(stack, i)
			case len(stack) > 0:
				openers = append(openers, stack[len(stack)-1])
				stack = stack[:len(stack)-1]
				closers = append(closers, i)
			default:
				free = append(free, i)
			}
		}
		// Only the bottom subset of each chain starts a permutation.
		if len(stack) > 0 {
			continue
		}
		sort.Ints(openers)
		perm := make([]int, 0, n)
		perm = append(perm, openers...)
		for i := len(free) - 1; i >= 0; i-- {
			perm = append(perm, free[i])
		}
		perm = append(perm, closers...)
		out = append(out, perm)
	}
	return out
}
