// Package fdr adjusts families of p-values for multiple comparisons.
package fdr

import (
	"math"
	"sort"
)

// BenjaminiHochberg returns the step-up adjusted q-values of p in input
// order. NaN entries stay NaN and take no part in the ranking, so n is the
// number of non-NaN p-values.
func BenjaminiHochberg(p []float64) []float64 {
	q := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for i, v := range p {
		if math.IsNaN(v) {
			q[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	n := len(idx)
	if n == 0 {
		return q
	}

	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })

	adjusted := make([]float64, n)
	for r, i := range idx {
		adjusted[r] = math.Min(1, p[i]*float64(n)/float64(r+1))
	}
	for r := n - 2; r >= 0; r-- {
		if adjusted[r+1] < adjusted[r] {
			adjusted[r] = adjusted[r+1]
		}
	}
	for r, i := range idx {
		q[i] = adjusted[r]
	}
	return q
}

// Reject marks the hypotheses whose q-value is at most alpha. NaN is never rejected.
func Reject(q []float64, alpha float64) []bool {
	out := make([]bool, len(q))
	for i, v := range q {
		out[i] = !math.IsNaN(v) && v <= alpha
	}
	return out
}
