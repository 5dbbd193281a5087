package heater

import (
	"context"
	"fmt"
	"time"

	"github.com/nasa-jpl/heaterchar/temperature"
	"github.com/nasa-jpl/heaterchar/util"
)

// rateWindow is the interval the rise rate is measured over.  The first
// window of a burst only records a baseline.
type rateWindow struct {
	start  time.Time
	base   temperature.Celsius
	primed bool
}

// HeatToNextPeak powers the element until it reads at least Step above
// previousPeak, governing the voltage so the rise rate stays between
// RateLow and RateHigh.  The output is on only for the duration of the call.
//
// The last reading is returned.  If a reading exceeds the Ceiling the burst
// stops at once and the error is ErrCeilingReached.
func (s *Sweep) HeatToNextPeak(ctx context.Context, previousPeak temperature.Celsius) (r Reading, err error) {
	if err = s.supply.OutputOn(); err != nil {
		return r, fmt.Errorf("enabling output: %w", err)
	}
	defer func() {
		if offErr := s.supply.OutputOff(); offErr != nil && err == nil {
			err = fmt.Errorf("disabling output: %w", offErr)
		}
	}()
	if err = s.sleep(ctx, s.EnableDelay); err != nil {
		return r, err
	}

	target := previousPeak + s.Step
	win := rateWindow{start: s.clock.Now()}
	r.Temperature = previousPeak
	for {
		if err = s.pace(ctx); err != nil {
			return r, err
		}
		if r, err = s.poll(); err != nil {
			return r, err
		}
		s.monitor.Reading(r, s.setpoint)

		if r.Temperature > s.Ceiling {
			return r, ErrCeilingReached
		}
		if r.Temperature >= target {
			return r, nil
		}
		if err = s.governRate(&win, r.Temperature); err != nil {
			return r, err
		}
	}
}

// governRate adjusts the setpoint once per elapsed window.  Too slow pushes
// up by StepUp, too fast backs off by the larger StepDown.  The setpoint stays
// within [0, MaxVoltage] and no increase is attempted once it is at the max.
func (s *Sweep) governRate(w *rateWindow, t temperature.Celsius) error {
	now := s.clock.Now()
	elapsed := now.Sub(w.start)
	if elapsed < s.RateWindow {
		return nil
	}
	if !w.primed {
		*w = rateWindow{start: now, base: t, primed: true}
		return nil
	}

	rise := temperature.RateOf(w.base, t, elapsed)
	next := s.setpoint
	switch {
	case rise < s.RateLow:
		if s.setpoint >= s.MaxVoltage {
			*w = rateWindow{start: now}
			return nil
		}
		next += s.StepUp
	case rise > s.RateHigh:
		next -= s.StepDown
	}
	s.setpoint = util.Round(util.Clamp(next, 0, s.MaxVoltage), 2)
	s.log.Debugw("rate window", "rate", rise, "setpoint", s.setpoint)
	if err := s.supply.SetVoltage(s.setpoint); err != nil {
		return fmt.Errorf("setting voltage: %w", err)
	}
	*w = rateWindow{start: now}
	return nil
}
