// Package temperature holds temperature units and rise rates
package temperature

import (
	"fmt"
	"time"
)

type (
	// Celsius is a temperature in C
	Celsius float64

	// Kelvin is a temperature in K
	Kelvin float64

	// Rate is a rate of temperature change in C per second
	Rate float64
)

// String prints the temperature to hundredths of a degree
func (c Celsius) String() string {
	return fmt.Sprintf("%.2f°C", float64(c))
}

// String prints the rate to hundredths of a degree per second
func (r Rate) String() string {
	return fmt.Sprintf("%.2f°C/s", float64(r))
}

// C2K converts a temp in Celsius to Kelvin
func C2K(c Celsius) Kelvin {
	return Kelvin(c + 273.15)
}

// K2C converts a temp in Kelvin to Celsius
func K2C(k Kelvin) Celsius {
	return Celsius(k - 273.15)
}

// Max returns the larger of two temperatures
func Max(a, b Celsius) Celsius {
	if b > a {
		return b
	}
	return a
}

// RateOf is the average rate of change going from a to b over dt.
// A non-positive dt yields a zero rate.
func RateOf(a, b Celsius, dt time.Duration) Rate {
	if dt <= 0 {
		return 0
	}
	return Rate(float64(b-a) / dt.Seconds())
}
