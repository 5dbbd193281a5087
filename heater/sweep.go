package heater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/heaterchar/scpi"
	"github.com/nasa-jpl/heaterchar/temperature"
)

// Sweep is a characterization run.  It owns the voltage setpoint, the
// running peak and the recorded samples; none of it is safe for concurrent
// use, observe a running sweep through a Monitor instead.
type Sweep struct {
	Config

	therm  Thermometer
	supply PowerSource

	clock   Clock
	monitor Monitor
	log     *zap.SugaredLogger
	limiter *rate.Limiter

	setpoint float64
	peak     temperature.Celsius
	samples  []Sample
}

// Option configures a Sweep
type Option func(*Sweep)

// WithLogger sets the logger; the default discards everything
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Sweep) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMonitor sets the observer of readings and samples
func WithMonitor(m Monitor) Option {
	return func(s *Sweep) {
		if m != nil {
			s.monitor = m
		}
	}
}

// WithClock replaces wall time, e.g. with a simulation clock
func WithClock(c Clock) Option {
	return func(s *Sweep) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates a Sweep over the given instruments.  The voltage setpoint
// starts at cfg.StartVoltage.
func New(cfg Config, therm Thermometer, supply PowerSource, opts ...Option) *Sweep {
	s := &Sweep{
		Config:   cfg,
		therm:    therm,
		supply:   supply,
		clock:    wallClock{},
		monitor:  nopMonitor{},
		log:      zap.NewNop().Sugar(),
		setpoint: cfg.StartVoltage,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.PollInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.PollInterval), 1)
	} else {
		s.limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return s
}

// Setpoint returns the voltage setpoint last computed
func (s *Sweep) Setpoint() float64 {
	return s.setpoint
}

// Peak returns the highest settled temperature seen so far
func (s *Sweep) Peak() temperature.Celsius {
	return s.peak
}

// Samples returns a copy of the samples recorded so far
func (s *Sweep) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Run performs the full sweep from ambient to the ceiling.
//
// The returned Result holds every sample recorded, also when err != nil, so a
// sweep cut short by a transport fault or a cancelled context can still be
// saved.  Reaching the ceiling is not an error.
func (s *Sweep) Run(ctx context.Context) (Result, error) {
	var (
		res Result
		err error
	)
	if res.ThermometerID, err = s.therm.Identify(); err != nil {
		return res, fmt.Errorf("identifying thermometer: %w", err)
	}
	if res.SupplyID, err = s.supply.Identify(); err != nil {
		return res, fmt.Errorf("identifying power source: %w", err)
	}
	s.log.Infow("instruments", "thermometer", res.ThermometerID, "supply", res.SupplyID)

	start, err := s.readTemperature()
	if err != nil {
		return res, err
	}
	res.StartTemperature = start
	s.setpoint = s.StartVoltage
	if err = s.supply.SetVoltage(s.setpoint); err != nil {
		return res, fmt.Errorf("setting start voltage: %w", err)
	}
	// one degree below ambient so the first burst targets just above it
	s.setPeak(start - 1)
	s.log.Infow("sweep starting", "ambient", start, "ceiling", s.Ceiling, "setpoint", s.setpoint)

	for s.peak < s.Ceiling {
		if err = ctx.Err(); err != nil {
			break
		}
		err = s.cycle(ctx)
		if errors.Is(err, ErrCeilingReached) {
			s.log.Warnw("safety ceiling exceeded mid-burst, ending sweep", "peak", s.peak, "ceiling", s.Ceiling)
			err = nil
			break
		}
		if err != nil {
			break
		}
	}
	res.Samples = s.Samples()
	if err != nil {
		return res, err
	}
	s.log.Infow("sweep complete", "samples", len(res.Samples), "peak", s.peak)
	return res, nil
}

// cycle heats to the next peak, settles, and records a sample
func (s *Sweep) cycle(ctx context.Context) error {
	r, err := s.HeatToNextPeak(ctx, s.peak)
	tripped := errors.Is(err, ErrCeilingReached)
	if err != nil && !tripped {
		return err
	}
	s.setPeak(temperature.Max(s.peak, r.Temperature))

	// HeatToNextPeak switched the output off already; repeat it so every
	// exit path leaves the element unpowered
	if offErr := s.supply.OutputOff(); offErr != nil {
		return fmt.Errorf("disabling output: %w", offErr)
	}
	if tripped {
		return err
	}

	peak, err := s.Settle(ctx, r.Temperature, s.peak)
	if err != nil {
		return err
	}
	s.setPeak(temperature.Max(s.peak, peak))

	ohms, ok := Resistance(r.Voltage, r.Current)
	if !ok {
		s.log.Debugw("no current at end of burst, no sample", "peak", s.peak, "current", r.Current)
		return nil
	}
	sample := Sample{Temperature: s.peak, Resistance: ohms}
	s.samples = append(s.samples, sample)
	s.monitor.Sample(sample)
	s.log.Infow("sample",
		"temperature", fmt.Sprintf("%.2f", float64(sample.Temperature)),
		"resistance", fmt.Sprintf("%.4f", sample.Resistance),
		"setpoint", s.setpoint)
	return nil
}

// sleep waits d on the sweep clock.  A clock without SleepContext is only
// checked for cancellation before and after.
func (s *Sweep) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cs, ok := s.clock.(contextSleeper); ok {
		return cs.SleepContext(ctx, d)
	}
	if d > 0 {
		s.clock.Sleep(d)
	}
	return ctx.Err()
}

// pace waits out PollInterval since the previous poll, on the sweep clock
func (s *Sweep) pace(ctx context.Context) error {
	now := s.clock.Now()
	return s.sleep(ctx, s.limiter.ReserveN(now, 1).DelayFrom(now))
}

func (s *Sweep) setPeak(t temperature.Celsius) {
	if t != s.peak {
		s.peak = t
		s.monitor.Peak(t)
	}
}

// tolerate swallows malformed replies unless StrictParse is set
func (s *Sweep) tolerate(err error) error {
	var perr *scpi.ParseError
	if err == nil || s.StrictParse || !errors.As(err, &perr) {
		return err
	}
	s.log.Warnw("malformed reply read as 0", "cmd", perr.Cmd, "response", perr.Response)
	s.monitor.ParseError(perr)
	return nil
}

func (s *Sweep) readTemperature() (temperature.Celsius, error) {
	t, err := s.therm.ReadTemperature()
	if err = s.tolerate(err); err != nil {
		return 0, fmt.Errorf("reading temperature: %w", err)
	}
	return t, nil
}

// poll reads current, voltage, then temperature, one exchange each
func (s *Sweep) poll() (Reading, error) {
	var r Reading
	i, err := s.supply.MeasureCurrent()
	if err = s.tolerate(err); err != nil {
		return r, fmt.Errorf("measuring current: %w", err)
	}
	v, err := s.supply.MeasureVoltage()
	if err = s.tolerate(err); err != nil {
		return r, fmt.Errorf("measuring voltage: %w", err)
	}
	t, err := s.readTemperature()
	if err != nil {
		return r, err
	}
	r.Current, r.Voltage, r.Temperature = i, v, t
	return r, nil
}
