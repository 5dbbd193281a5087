/*Package sim is a simulated heater bench: a resistive element whose
resistance rises with temperature, a thermocouple that lags the element, and
a supply driving it, all advancing on a virtual clock.

Each instrument exchange advances the clock by Params.Latency, so a sweep over
the simulated bench sees the same timing structure as one over real
instruments while running far faster than wall time.
*/
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/nasa-jpl/heaterchar/temperature"
)

const integrationStep = 10 * time.Millisecond

// Params describe the simulated element and instruments
type Params struct {
	// Ambient is the temperature everything starts at and cools towards
	Ambient temperature.Celsius

	// R0 is the element resistance at Ambient, in ohms
	R0 float64

	// Alpha is the temperature coefficient of resistance, per degree C
	Alpha float64

	// HeatCapacity of the element in J/C
	HeatCapacity float64

	// Loss is the conductance to ambient in W/C
	Loss float64

	// Lag is the time constant of the thermocouple following the element
	Lag time.Duration

	// Latency is the duration of one instrument exchange
	Latency time.Duration
}

// DefaultParams model a small 24 V cartridge heater, about 4 ohm cold
func DefaultParams() Params {
	return Params{
		Ambient:      22,
		R0:           4,
		Alpha:        0.0039,
		HeatCapacity: 20,
		Loss:         0.05,
		Lag:          1500 * time.Millisecond,
		Latency:      50 * time.Millisecond,
	}
}

// Clock is a virtual clock.  It satisfies heater.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock starting at an arbitrary fixed instant
func NewClock() *Clock {
	return &Clock{now: time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the virtual time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the virtual time by d without blocking
func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Heater is the simulated element and its thermal state
type Heater struct {
	Params

	mu      sync.Mutex
	clock   *Clock
	last    time.Time
	element float64
	sensor  float64
	volts   float64
	on      bool
}

// New creates a Heater at ambient temperature, output off
func New(p Params, clock *Clock) *Heater {
	if clock == nil {
		clock = NewClock()
	}
	return &Heater{
		Params:  p,
		clock:   clock,
		last:    clock.Now(),
		element: float64(p.Ambient),
		sensor:  float64(p.Ambient),
	}
}

// Clock returns the clock the heater runs on
func (h *Heater) Clock() *Clock {
	return h.clock
}

func (h *Heater) resistance() float64 {
	return h.R0 * (1 + h.Alpha*(h.element-float64(h.Ambient)))
}

// integrate brings the thermal state up to the clock; h.mu must be held
func (h *Heater) integrate() {
	now := h.clock.Now()
	dt := now.Sub(h.last).Seconds()
	if dt <= 0 {
		return
	}
	n := int(math.Ceil(dt / integrationStep.Seconds()))
	step := dt / float64(n)
	lag := h.Lag.Seconds()
	amb := float64(h.Ambient)
	for i := 0; i < n; i++ {
		var power float64
		if h.on {
			power = h.volts * h.volts / h.resistance()
		}
		h.element += (power - h.Loss*(h.element-amb)) / h.HeatCapacity * step
		h.sensor += (h.element - h.sensor) / lag * step
	}
	h.last = now
}

// exchange models one command/response round trip and locks the state;
// the returned func unlocks it
func (h *Heater) exchange() func() {
	h.clock.Sleep(h.Latency)
	h.mu.Lock()
	h.integrate()
	return h.mu.Unlock
}

// ElementTemperature is the true element temperature, without sensor lag
func (h *Heater) ElementTemperature() temperature.Celsius {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.integrate()
	return temperature.Celsius(h.element)
}

// Thermometer returns a thermometer reading the heater's thermocouple
func (h *Heater) Thermometer() *Thermometer {
	return &Thermometer{h: h, ID: "SIM,THERMOCOUPLE,0,1.0"}
}

// Supply returns a supply channel driving the heater
func (h *Heater) Supply() *Supply {
	return &Supply{h: h, ID: "SIM,SUPPLY,0,1.0"}
}

// Thermometer is a simulated DMM in thermocouple mode
type Thermometer struct {
	h  *Heater
	ID string
}

// Identify returns the ID string
func (t *Thermometer) Identify() (string, error) {
	defer t.h.exchange()()
	return t.ID, nil
}

// ReadTemperature reads the lagged sensor temperature
func (t *Thermometer) ReadTemperature() (temperature.Celsius, error) {
	defer t.h.exchange()()
	return temperature.Celsius(t.h.sensor), nil
}

// Supply is a simulated single channel supply
type Supply struct {
	h  *Heater
	ID string
}

// Identify returns the ID string
func (s *Supply) Identify() (string, error) {
	defer s.h.exchange()()
	return s.ID, nil
}

// SetVoltage sets the voltage setpoint
func (s *Supply) SetVoltage(v float64) error {
	defer s.h.exchange()()
	s.h.volts = v
	return nil
}

// OutputOn enables the output
func (s *Supply) OutputOn() error {
	defer s.h.exchange()()
	s.h.on = true
	return nil
}

// OutputOff disables the output
func (s *Supply) OutputOff() error {
	defer s.h.exchange()()
	s.h.on = false
	return nil
}

// MeasureCurrent returns the element current, zero with the output off
func (s *Supply) MeasureCurrent() (float64, error) {
	defer s.h.exchange()()
	if !s.h.on {
		return 0, nil
	}
	return s.h.volts / s.h.resistance(), nil
}

// MeasureVoltage returns the output voltage, zero with the output off
func (s *Supply) MeasureVoltage() (float64, error) {
	defer s.h.exchange()()
	if !s.h.on {
		return 0, nil
	}
	return s.h.volts, nil
}
