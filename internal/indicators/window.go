// Package indicators provides windowed technical indicator calculations.
//
// All functions take oldest-first input and return one value per input
// element. A windowed value is undefined until its window is full.
package indicators

import (
	"math"

	"github.com/bobmcallan/eodscan/internal/models"
)

// SMA calculates the trailing simple moving average for the given period
func SMA(xs []float64, period int) []models.Value {
	out := make([]models.Value, len(xs))
	if period <= 0 {
		return out
	}

	var sum compensatedSum
	for i, x := range xs {
		sum.add(x)
		if i >= period {
			sum.add(-xs[i-period])
		}
		if i >= period-1 {
			out[i] = models.Defined(sum.value() / float64(period))
		}
	}
	return out
}

// compensatedSum is a Neumaier running sum; c carries the low-order bits
// lost from sum.
type compensatedSum struct {
	sum, c float64
}

func (s *compensatedSum) add(x float64) {
	t := s.sum + x
	if math.Abs(s.sum) >= math.Abs(x) {
		s.c += (s.sum - t) + x
	} else {
		s.c += (x - t) + s.sum
	}
	s.sum = t
}

func (s *compensatedSum) value() float64 {
	return s.sum + s.c
}

// EMA calculates the exponential moving average with alpha = 2/(span+1).
// The first value is the simple mean of the first span inputs.
func EMA(xs []float64, span int) []models.Value {
	out := make([]models.Value, len(xs))
	if span <= 0 || len(xs) < span {
		return out
	}

	alpha := 2.0 / float64(span+1)

	sum := 0.0
	for i := 0; i < span; i++ {
		sum += xs[i]
	}
	ema := sum / float64(span)
	out[span-1] = models.Defined(ema)

	for i := span; i < len(xs); i++ {
		ema += alpha * (xs[i] - ema)
		out[i] = models.Defined(ema)
	}
	return out
}

// RollingMax returns the trailing maximum over the given window
func RollingMax(xs []float64, period int) []models.Value {
	return rollingExtreme(xs, period, func(back, x float64) bool { return back <= x })
}

// RollingMin returns the trailing minimum over the given window
func RollingMin(xs []float64, period int) []models.Value {
	return rollingExtreme(xs, period, func(back, x float64) bool { return back >= x })
}

// rollingExtreme keeps a monotonic deque of indices; evict reports whether
// the element at the back can never be the extreme again once x arrives.
func rollingExtreme(xs []float64, period int, evict func(back, x float64) bool) []models.Value {
	out := make([]models.Value, len(xs))
	if period <= 0 {
		return out
	}

	deque := make([]int, 0, period)
	for i, x := range xs {
		for len(deque) > 0 && evict(xs[deque[len(deque)-1]], x) {
			deque = deque[:len(deque)-1]
		}
		deque = append(deque, i)
		if deque[0] <= i-period {
			deque = deque[1:]
		}
		if i >= period-1 {
			out[i] = models.Defined(xs[deque[0]])
		}
	}
	return out
}

// PctChange returns (x / x[-1] - 1) * 100, undefined on the first element
func PctChange(xs []float64) []models.Value {
	out := make([]models.Value, len(xs))
	for i := 1; i < len(xs); i++ {
		if xs[i-1] == 0 {
			continue
		}
		out[i] = models.Defined((xs[i]/xs[i-1] - 1) * 100)
	}
	return out
}

// Ratio divides a by b element-wise. The result is undefined where either
// side is undefined or the divisor is zero.
func Ratio(a, b []models.Value) []models.Value {
	out := make([]models.Value, len(a))
	for i := range a {
		if i >= len(b) {
			break
		}
		out[i] = Divide(a[i], b[i])
	}
	return out
}

// Divide returns a/b, undefined when either side is undefined or b is zero.
func Divide(a, b models.Value) models.Value {
	x, ok := a.Float()
	if !ok {
		return models.Undefined()
	}
	y, ok := b.Float()
	if !ok || y == 0 {
		return models.Undefined()
	}
	return models.Defined(x / y)
}

// Values wraps every input as a defined value
func Values(xs []float64) []models.Value {
	out := make([]models.Value, len(xs))
	for i, x := range xs {
		out[i] = models.Defined(x)
	}
	return out
}
