// Package config loads the configuration of heaterchar.
//
// Values are layered: built-in defaults, then the YAML file, then environment
// variables prefixed HEATERCHAR_, e.g. HEATERCHAR_SWEEP_CEILING=300 or
// HEATERCHAR_STATUS_ADDR=:8000.  A missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/heaterchar/heater"
	"github.com/nasa-jpl/heaterchar/logger"
	"github.com/nasa-jpl/heaterchar/temperature"
)

const (
	// FileName is the default configuration file
	FileName = "heaterchar.yml"

	// EnvPrefix prefixes environment overrides
	EnvPrefix = "HEATERCHAR_"
)

// Duration is a time.Duration written as "2s" rather than nanoseconds
type Duration time.Duration

// MarshalYAML writes the duration in time.Duration notation
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalText parses time.Duration notation
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Thermometer is the connection to the DMM
type Thermometer struct {
	// Addr is host:port for TCP, or a device such as /dev/ttyUSB0 when Serial
	Addr         string   `koanf:"addr" yaml:"addr"`
	Serial       bool     `koanf:"serial" yaml:"serial"`
	Baud         int      `koanf:"baud" yaml:"baud"`
	Timeout      Duration `koanf:"timeout" yaml:"timeout"`
	Thermocouple string   `koanf:"thermocouple" yaml:"thermocouple"`
}

// Supply is the connection to the power supply
type Supply struct {
	Addr        string   `koanf:"addr" yaml:"addr"`
	Serial      bool     `koanf:"serial" yaml:"serial"`
	Baud        int      `koanf:"baud" yaml:"baud"`
	Timeout     Duration `koanf:"timeout" yaml:"timeout"`
	Channel     int      `koanf:"channel" yaml:"channel"`
	Handshaking bool     `koanf:"handshaking" yaml:"handshaking"`
}

// Sweep mirrors heater.Config in file-friendly units
type Sweep struct {
	Ceiling      float64  `koanf:"ceiling" yaml:"ceiling"`
	Step         float64  `koanf:"step" yaml:"step"`
	RateWindow   Duration `koanf:"rate_window" yaml:"rate_window"`
	RateLow      float64  `koanf:"rate_low" yaml:"rate_low"`
	RateHigh     float64  `koanf:"rate_high" yaml:"rate_high"`
	StepUp       float64  `koanf:"step_up" yaml:"step_up"`
	StepDown     float64  `koanf:"step_down" yaml:"step_down"`
	MaxVoltage   float64  `koanf:"max_voltage" yaml:"max_voltage"`
	StartVoltage float64  `koanf:"start_voltage" yaml:"start_voltage"`
	EnableDelay  Duration `koanf:"enable_delay" yaml:"enable_delay"`
	PollInterval Duration `koanf:"poll_interval" yaml:"poll_interval"`
	StrictParse  bool     `koanf:"strict_parse" yaml:"strict_parse"`
}

// Config is the full configuration
type Config struct {
	Thermometer Thermometer `koanf:"thermometer" yaml:"thermometer"`
	Supply      Supply      `koanf:"supply" yaml:"supply"`
	Sweep       Sweep       `koanf:"sweep" yaml:"sweep"`

	// Output is the CSV file written at the end of the sweep
	Output string `koanf:"output" yaml:"output"`

	// StatusAddr is the listen address of the status server; empty disables it
	StatusAddr string `koanf:"status_addr" yaml:"status_addr"`

	LogLevel string `koanf:"log_level" yaml:"log_level"`
}

// Default returns the built-in configuration
func Default() Config {
	h := heater.DefaultConfig()
	return Config{
		Thermometer: Thermometer{
			Addr:         "192.168.100.10:5025",
			Baud:         9600,
			Timeout:      Duration(3 * time.Second),
			Thermocouple: "K",
		},
		Supply: Supply{
			Addr:    "192.168.100.11:5555",
			Baud:    9600,
			Timeout: Duration(3 * time.Second),
			Channel: 1,
		},
		Sweep: Sweep{
			Ceiling:      float64(h.Ceiling),
			Step:         float64(h.Step),
			RateWindow:   Duration(h.RateWindow),
			RateLow:      float64(h.RateLow),
			RateHigh:     float64(h.RateHigh),
			StepUp:       h.StepUp,
			StepDown:     h.StepDown,
			MaxVoltage:   h.MaxVoltage,
			StartVoltage: h.StartVoltage,
			EnableDelay:  Duration(h.EnableDelay),
			PollInterval: Duration(h.PollInterval),
			StrictParse:  h.StrictParse,
		},
		Output:   "heater.csv",
		LogLevel: logger.InfoLevel,
	}
}

// envKey maps HEATERCHAR_SWEEP_RATE_LOW to sweep.rate_low
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range []string{"thermometer_", "supply_", "sweep_"} {
		if strings.HasPrefix(s, section) {
			return strings.Replace(s, "_", ".", 1)
		}
	}
	return s
}

// Load reads the configuration at path over the defaults, then applies the
// environment.  The result is not validated.
func Load(path string) (Config, error) {
	var c Config
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return c, fmt.Errorf("loading defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return c, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return c, fmt.Errorf("loading environment: %w", err)
	}
	if err := k.Unmarshal("", &c); err != nil {
		return c, fmt.Errorf("decoding configuration: %w", err)
	}
	return c, nil
}

// Validate reports the first incoherent value
func (c Config) Validate() error {
	s := c.Sweep
	switch {
	case c.Thermometer.Addr == "":
		return errors.New("thermometer.addr is empty")
	case c.Supply.Addr == "":
		return errors.New("supply.addr is empty")
	case c.Supply.Channel < 1:
		return fmt.Errorf("supply.channel %d must be 1 or more", c.Supply.Channel)
	case s.Step <= 0:
		return fmt.Errorf("sweep.step %v must be positive", s.Step)
	case s.RateWindow <= 0:
		return fmt.Errorf("sweep.rate_window %v must be positive", time.Duration(s.RateWindow))
	case s.RateLow >= s.RateHigh:
		return fmt.Errorf("sweep.rate_low %v must be below sweep.rate_high %v", s.RateLow, s.RateHigh)
	case s.StepUp <= 0 || s.StepDown <= 0:
		return errors.New("sweep.step_up and sweep.step_down must be positive")
	case s.MaxVoltage <= 0:
		return fmt.Errorf("sweep.max_voltage %v must be positive", s.MaxVoltage)
	case s.StartVoltage < 0 || s.StartVoltage > s.MaxVoltage:
		return fmt.Errorf("sweep.start_voltage %v outside [0, %v]", s.StartVoltage, s.MaxVoltage)
	case s.EnableDelay < 0 || s.PollInterval < 0:
		return errors.New("sweep.enable_delay and sweep.poll_interval cannot be negative")
	case c.Output == "":
		return errors.New("output is empty")
	}
	return nil
}

// Heater converts the sweep section for heater.New
func (c Config) Heater() heater.Config {
	s := c.Sweep
	return heater.Config{
		Ceiling:      temperature.Celsius(s.Ceiling),
		Step:         temperature.Celsius(s.Step),
		RateWindow:   time.Duration(s.RateWindow),
		RateLow:      temperature.Rate(s.RateLow),
		RateHigh:     temperature.Rate(s.RateHigh),
		StepUp:       s.StepUp,
		StepDown:     s.StepDown,
		MaxVoltage:   s.MaxVoltage,
		StartVoltage: s.StartVoltage,
		EnableDelay:  time.Duration(s.EnableDelay),
		PollInterval: time.Duration(s.PollInterval),
		StrictParse:  s.StrictParse,
	}
}

// Write encodes c as YAML
func (c Config) Write(w io.Writer) error {
	enc := yml.NewEncoder(w)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// WriteFile writes c to path, replacing any existing file
func (c Config) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = c.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
