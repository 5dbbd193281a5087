// Package util contains misc internal utilities.
package util

import "math"

// Clamp limits the input to the range [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	}
	if input > high {
		return high
	}
	return input
}

// Round rounds x to the given number of decimal places
func Round(x float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(x*p) / p
}
