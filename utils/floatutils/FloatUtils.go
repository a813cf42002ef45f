// Package floatutils provides utilities for working with floats
package floatutils

import "math"

func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// Normalize scales x in place so that it sums to 1. If the sum of x is
// too small to divide by, x is set to the uniform distribution instead.
func Normalize(x []float64) {
	var sum float64
	for _, v := range x {
		sum += v
	}
	if sum <= math.SmallestNonzeroFloat64 {
		uniform := 1.0 / float64(len(x))
		for i := range x {
			x[i] = uniform
		}
		return
	}
	for i := range x {
		x[i] /= sum
	}
}

// ArgMax returns the index of the maximum value in x. For ties, the
// lowest index wins.
func ArgMax(x []float64) int {
	argMax := 0
	for i, v := range x {
		if v > x[argMax] {
			argMax = i
		}
	}
	return argMax
}
