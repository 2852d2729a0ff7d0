// Package stats keeps sliding-window mean and standard deviation over
// integer samples. Running sums are held in big.Int: with nanosecond
// samples the sum of squares overflows int64 after a handful of
// entries.
package stats

import (
	"math/big"

	"github.com/ddirect/container/fifo"
	"golang.org/x/exp/constraints"
)

type Window[T constraints.Signed] struct {
	capacity int
	samples  fifo.Fifo[T]
	sum      big.Int
	sum2     big.Int
	t1       big.Int
	t2       big.Int
	t3       big.Int
}

// New creates a window holding up to capacity samples; older samples
// are evicted as new ones arrive. capacity <= 0 keeps all samples.
func New[T constraints.Signed](capacity int) *Window[T] {
	return &Window[T]{capacity: capacity}
}

// Push adds a sample, evicting the oldest one when the window is full.
func (w *Window[T]) Push(x T) {
	if w.capacity > 0 && w.samples.Len() >= w.capacity {
		if old, ok := w.samples.Dequeue(); ok {
			t := w.t1.SetInt64(int64(old))
			w.sum.Sub(&w.sum, t)
			w.sum2.Sub(&w.sum2, t.Mul(t, t))
		}
	}
	t := w.t1.SetInt64(int64(x))
	w.sum.Add(&w.sum, t)
	w.sum2.Add(&w.sum2, t.Mul(t, t))
	w.samples.Enqueue(x)
}

func (w *Window[T]) Len() int {
	return w.samples.Len()
}

func (w *Window[T]) Mean() T {
	n := w.samples.Len()
	if n < 1 {
		return 0
	}
	return T(w.t2.Div(&w.sum, w.t1.SetUint64(uint64(n))).Int64())
}

// StdDev is the sample standard deviation of the current window,
// truncated to T. Zero for fewer than two samples.
func (w *Window[T]) StdDev() T {
	n := uint64(w.samples.Len())
	if n < 2 {
		return 0
	}
	// Sqrt((n*sum2 - sum*sum) / (n*(n-1)))
	t1 := &w.t1
	t2 := &w.t2
	t3 := &w.t3

	t1.SetUint64(n)
	t2.Sub(t2.Mul(t1, &w.sum2), t3.Mul(&w.sum, &w.sum))
	t3.Mul(t1, t3.SetUint64(n-1))

	return T(t2.Div(t2, t3).Sqrt(t2).Uint64())
}
