/*Package heater characterizes the resistance of a heater element against its
temperature.

A Sweep drives a programmable supply in short heating bursts, each one
raising the element a few degrees above the previous peak at a governed
rate.  After every burst the output is cut, the true peak is found once
thermal lag has played out, and the resistance V/I measured at the end of the
burst is recorded against that peak.  The sweep runs from ambient to a safety
ceiling and yields an ordered list of Samples which can be written as CSV.

Errors fall in three groups:
	- transport faults from the instruments abort the sweep and are returned
	- malformed numeric replies (*scpi.ParseError) read as zero and are logged,
	  unless Config.StrictParse is set, in which case they are fatal
	- ErrCeilingReached marks a reading above the safety ceiling; Run treats
	  it as the normal end of the sweep
*/
package heater

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/nasa-jpl/heaterchar/scpi"
	"github.com/nasa-jpl/heaterchar/temperature"
)

// ErrCeilingReached is returned by HeatToNextPeak when a reading exceeds
// Config.Ceiling
var ErrCeilingReached = errors.New("temperature above safety ceiling")

// Thermometer reads the temperature of the element
type Thermometer interface {
	Identify() (string, error)
	ReadTemperature() (temperature.Celsius, error)
}

// PowerSource is a single channel of a programmable supply
type PowerSource interface {
	Identify() (string, error)
	SetVoltage(float64) error
	OutputOn() error
	OutputOff() error
	MeasureCurrent() (float64, error)
	MeasureVoltage() (float64, error)
}

// Clock supplies time to the rate governor, the poll pacing and the enable
// delay.  The zero Sweep uses wall time.
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

// Monitor observes a running sweep
type Monitor interface {
	// Reading is called for every polled reading while heating
	Reading(r Reading, setpoint float64)
	// Peak is called whenever the running peak temperature changes
	Peak(t temperature.Celsius)
	// Sample is called for every recorded sample
	Sample(s Sample)
	// ParseError is called for every malformed reply tolerated as zero
	ParseError(err *scpi.ParseError)
}

// Reading is one poll of the three instrument values
type Reading struct {
	Temperature temperature.Celsius `json:"temperature"`
	Current     float64             `json:"current"`
	Voltage     float64             `json:"voltage"`
}

// Sample is a resistance recorded at a settled peak
type Sample struct {
	Temperature temperature.Celsius `json:"temperature"`
	Resistance  float64             `json:"resistance"`
}

// Result is the outcome of a sweep, ready for export
type Result struct {
	ThermometerID    string
	SupplyID         string
	StartTemperature temperature.Celsius
	Samples          []Sample
}

// Resistance is V/I.  ok is false when there is no positive current to
// divide by or the quotient is not a finite number, in which case no sample
// should be recorded.
func Resistance(voltage, current float64) (ohms float64, ok bool) {
	if !(current > 0) {
		return 0, false
	}
	ohms = voltage / current
	if math.IsNaN(ohms) || math.IsInf(ohms, 0) {
		return 0, false
	}
	return ohms, true
}

// Config holds the tuning of a sweep
type Config struct {
	// Ceiling is the safety limit; the sweep ends when the peak reaches it
	// and a heating burst is aborted when any reading exceeds it
	Ceiling temperature.Celsius

	// Step is the rise above the previous peak each burst heats to
	Step temperature.Celsius

	// RateWindow is the interval the rise rate is measured over
	RateWindow time.Duration

	// RateLow and RateHigh bound the acceptable rise rate
	RateLow, RateHigh temperature.Rate

	// StepUp and StepDown are the setpoint adjustments in volts for a rate
	// below RateLow and above RateHigh
	StepUp, StepDown float64

	// MaxVoltage and StartVoltage bound and seed the voltage setpoint
	MaxVoltage, StartVoltage float64

	// EnableDelay is waited after switching the output on, before the first
	// reading of a burst
	EnableDelay time.Duration

	// PollInterval is the minimum period between polls while heating.
	// Zero polls as fast as the instruments answer.
	PollInterval time.Duration

	// StrictParse makes malformed numeric replies fatal
	StrictParse bool
}

// DefaultConfig returns the tuning used for filament heater cartridges:
// a 2 C climb per burst at 0.5 to 1 C/s, from 2 V up to 24 V, to 320 C
func DefaultConfig() Config {
	return Config{
		Ceiling:      320,
		Step:         2,
		RateWindow:   2 * time.Second,
		RateLow:      0.5,
		RateHigh:     1.0,
		StepUp:       0.2,
		StepDown:     0.5,
		MaxVoltage:   24,
		StartVoltage: 2,
		EnableDelay:  500 * time.Millisecond,
	}
}

// contextSleeper is a Clock whose sleep can be cut short
type contextSleeper interface {
	SleepContext(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

func (wallClock) Now() time.Time        { return time.Now() }
func (wallClock) Sleep(d time.Duration) { time.Sleep(d) }

func (wallClock) SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopMonitor struct{}

func (nopMonitor) Reading(Reading, float64)    {}
func (nopMonitor) Peak(temperature.Celsius)    {}
func (nopMonitor) Sample(Sample)               {}
func (nopMonitor) ParseError(*scpi.ParseError) {}
