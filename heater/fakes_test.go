package heater_test

import (
	"fmt"
	"sync"
	"time"

	"github.com/nasa-jpl/heaterchar/heater"
	"github.com/nasa-jpl/heaterchar/heater/sim"
	"github.com/nasa-jpl/heaterchar/scpi"
	"github.com/nasa-jpl/heaterchar/temperature"
)

// bench is a scripted thermometer and supply sharing one virtual clock.
// Every exchange advances the clock by step and is logged.
type bench struct {
	clock *sim.Clock
	step  time.Duration

	// temps are returned in order; once exhausted, tempFn is used if set,
	// else the last value repeats
	temps  []temperature.Celsius
	tempFn func(now time.Time) temperature.Celsius
	nread  int

	current, voltage float64

	// errs injects an error for the nth exchange of a command
	errs map[string]map[int]error
	seen map[string]int

	log  []string
	sets []float64
	on   bool
}

func newBench(temps ...temperature.Celsius) *bench {
	return &bench{
		clock: sim.NewClock(),
		step:  100 * time.Millisecond,
		temps: temps,
		errs:  map[string]map[int]error{},
		seen:  map[string]int{},
	}
}

func (b *bench) fail(cmd string, n int, err error) {
	if b.errs[cmd] == nil {
		b.errs[cmd] = map[int]error{}
	}
	b.errs[cmd][n] = err
}

func (b *bench) exchange(cmd string) error {
	b.clock.Sleep(b.step)
	b.log = append(b.log, cmd)
	n := b.seen[cmd]
	b.seen[cmd] = n + 1
	return b.errs[cmd][n]
}

func (b *bench) count(cmd string) int {
	return b.seen[cmd]
}

func (b *bench) Identify() (string, error) {
	return "BENCH", b.exchange("*IDN?")
}

func (b *bench) ReadTemperature() (temperature.Celsius, error) {
	if err := b.exchange("READ?"); err != nil {
		return 0, err
	}
	i := b.nread
	b.nread++
	if i < len(b.temps) {
		return b.temps[i], nil
	}
	if b.tempFn != nil {
		return b.tempFn(b.clock.Now()), nil
	}
	if len(b.temps) == 0 {
		return 0, nil
	}
	return b.temps[len(b.temps)-1], nil
}

func (b *bench) SetVoltage(v float64) error {
	b.sets = append(b.sets, v)
	return b.exchange(fmt.Sprintf("VOLT %.2f", v))
}

func (b *bench) OutputOn() error {
	b.on = true
	return b.exchange("ON")
}

func (b *bench) OutputOff() error {
	b.on = false
	return b.exchange("OFF")
}

func (b *bench) MeasureCurrent() (float64, error) {
	if err := b.exchange("CURR?"); err != nil {
		return 0, err
	}
	return b.current, nil
}

func (b *bench) MeasureVoltage() (float64, error) {
	if err := b.exchange("VOLT?"); err != nil {
		return 0, err
	}
	return b.voltage, nil
}

// malformed is what a thermometer adapter returns for a garbage reply
func malformed(cmd, resp string) error {
	return &scpi.ParseError{Cmd: cmd, Response: resp}
}

// recorder is a heater.Monitor keeping everything it is told
type recorder struct {
	mu          sync.Mutex
	clock       *sim.Clock
	times       []time.Time
	readings    []heater.Reading
	setpoints   []float64
	peaks       []temperature.Celsius
	samples     []heater.Sample
	parseErrors int
}

func (r *recorder) Reading(rd heater.Reading, setpoint float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clock != nil {
		r.times = append(r.times, r.clock.Now())
	}
	r.readings = append(r.readings, rd)
	r.setpoints = append(r.setpoints, setpoint)
}

func (r *recorder) Peak(t temperature.Celsius) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peaks = append(r.peaks, t)
}

func (r *recorder) Sample(s heater.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recorder) ParseError(*scpi.ParseError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parseErrors++
}

// fastConfig is DefaultConfig without the enable delay
func fastConfig() heater.Config {
	cfg := heater.DefaultConfig()
	cfg.EnableDelay = 0
	return cfg
}
