package fdr

import (
	"math"
	"math/rand"
	"sort"
	"testing"
)

func TestBenjaminiHochbergKnownValues(t *testing.T) {
	p := []float64{0.01, 0.04, 0.03, 0.20}
	want := []float64{0.04, 0.04 * 4 / 3, 0.04 * 4 / 3, 0.20}
	// rank 3 (0.04) gives 0.0533, rank 2 (0.03) gives 0.06 -> min 0.0533
	q := BenjaminiHochberg(p)
	if len(q) != len(p) {
		t.Fatalf("Expected %d q-values, got %d", len(p), len(q))
	}
	for i := range want {
		if math.Abs(q[i]-want[i]) > 1e-12 {
			t.Errorf("q[%d]: expected %f, got %f", i, want[i], q[i])
		}
	}
}

func TestBenjaminiHochbergEmpty(t *testing.T) {
	q := BenjaminiHochberg(nil)
	if len(q) != 0 {
		t.Errorf("Expected empty output, got %v", q)
	}
}

func TestBenjaminiHochbergNaN(t *testing.T) {
	p := []float64{0.02, math.NaN(), 0.01}
	q := BenjaminiHochberg(p)
	if !math.IsNaN(q[1]) {
		t.Errorf("Expected NaN at position 1, got %f", q[1])
	}
	// n counts only the two finite p-values
	if math.Abs(q[0]-0.02) > 1e-12 || math.Abs(q[2]-0.02) > 1e-12 {
		t.Errorf("Expected [0.02 NaN 0.02], got %v", q)
	}

	all := BenjaminiHochberg([]float64{math.NaN(), math.NaN()})
	for i, v := range all {
		if !math.IsNaN(v) {
			t.Errorf("Expected NaN at %d, got %f", i, v)
		}
	}
}

func TestBenjaminiHochbergClampsAtOne(t *testing.T) {
	q := BenjaminiHochberg([]float64{0.9, 0.8, 0.95})
	for i, v := range q {
		if v > 1 {
			t.Errorf("q[%d] = %f exceeds 1", i, v)
		}
	}
}

func TestBenjaminiHochbergMonotone(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(30)
		p := make([]float64, n)
		for i := range p {
			p[i] = rng.Float64()
		}
		q := BenjaminiHochberg(p)

		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })
		for r := 1; r < n; r++ {
			if q[idx[r]] < q[idx[r-1]] {
				t.Fatalf("trial %d: q not monotone in p at rank %d", trial, r)
			}
		}
		for i := range p {
			if q[i] < p[i]-1e-15 {
				t.Fatalf("trial %d: q[%d]=%f below p=%f", trial, i, q[i], p[i])
			}
		}
	}
}

func TestReject(t *testing.T) {
	got := Reject([]float64{0.01, 0.05, 0.2, math.NaN()}, 0.05)
	want := []bool{true, true, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Reject[%d]: expected %v, got %v", i, want[i], got[i])
		}
	}
}
