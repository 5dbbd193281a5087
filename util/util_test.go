package util_test

import (
	"fmt"
	"testing"

	"github.com/nasa-jpl/heaterchar/util"
)

func ExampleRound() {
	v := 2.0
	for i := 0; i < 3; i++ {
		v += 0.1
	}
	fmt.Println(v, util.Round(v, 2))
	// Output: 2.3000000000000003 2.3
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 24.
		input = 24.1
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 24.
		input = -0.3
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, low, clamped)
	}
}

func TestClampInRange(t *testing.T) {
	if out := util.Clamp(12, 0, 24); out != 12 {
		t.Errorf("expected in-range value to pass through, got %f", out)
	}
}
