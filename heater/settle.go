package heater

import (
	"context"

	"github.com/nasa-jpl/heaterchar/temperature"
)

// Settle finds the true peak of a burst after the output is cut.  The
// element keeps warming the sensor for a while, so temperature is read for
// as long as every reading is strictly above the one before it.  At least one
// reading is always taken; the first that is not higher ends the search.
//
// lastKnown is the last reading taken while heating, runningPeak the peak so
// far.  The returned peak is never below runningPeak.
func (s *Sweep) Settle(ctx context.Context, lastKnown, runningPeak temperature.Celsius) (temperature.Celsius, error) {
	prev := lastKnown
	peak := runningPeak
	for {
		if err := ctx.Err(); err != nil {
			return peak, err
		}
		t, err := s.readTemperature()
		if err != nil {
			return peak, err
		}
		if t > peak {
			peak = t
		}
		if t <= prev {
			return peak, nil
		}
		prev = t
	}
}
