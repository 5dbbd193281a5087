package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nasa-jpl/heaterchar/config"
	"github.com/nasa-jpl/heaterchar/heater"
)

func TestDefaultsMatchHeater(t *testing.T) {
	c, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if got, exp := c.Heater(), heater.DefaultConfig(); got != exp {
		t.Errorf("expected %+v\ngot %+v", exp, got)
	}
}

func TestMissingFileIsTolerated(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Errorf("a missing file should fall back to defaults, got %v", err)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)
	contents := `
supply:
  addr: 10.0.0.5:5555
  channel: 2
sweep:
  ceiling: 250
  rate_window: 3s
  strict_parse: true
output: run1.csv
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Supply.Addr != "10.0.0.5:5555" || c.Supply.Channel != 2 {
		t.Errorf("supply not read from file: %+v", c.Supply)
	}
	h := c.Heater()
	if h.Ceiling != 250 || h.RateWindow != 3*time.Second || !h.StrictParse {
		t.Errorf("sweep not read from file: %+v", h)
	}
	if c.Output != "run1.csv" {
		t.Errorf("output not read from file: %q", c.Output)
	}
	// untouched keys keep their default
	if c.Thermometer.Thermocouple != "K" || h.StepDown != 0.5 {
		t.Errorf("defaults lost: %+v %+v", c.Thermometer, h)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)
	if err := os.WriteFile(path, []byte("sweep:\n  ceiling: 250\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HEATERCHAR_SWEEP_CEILING", "200")
	t.Setenv("HEATERCHAR_SWEEP_POLL_INTERVAL", "250ms")
	t.Setenv("HEATERCHAR_STATUS_ADDR", ":8000")
	c, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Sweep.Ceiling != 200 {
		t.Errorf("expected env ceiling 200, got %v", c.Sweep.Ceiling)
	}
	if time.Duration(c.Sweep.PollInterval) != 250*time.Millisecond {
		t.Errorf("expected 250ms poll interval, got %v", time.Duration(c.Sweep.PollInterval))
	}
	if c.StatusAddr != ":8000" {
		t.Errorf("expected status address from env, got %q", c.StatusAddr)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*config.Config){
		"inverted band":          func(c *config.Config) { c.Sweep.RateLow, c.Sweep.RateHigh = 1, 0.5 },
		"zero step":              func(c *config.Config) { c.Sweep.Step = 0 },
		"zero window":            func(c *config.Config) { c.Sweep.RateWindow = 0 },
		"start above max":        func(c *config.Config) { c.Sweep.StartVoltage = 30 },
		"negative start":         func(c *config.Config) { c.Sweep.StartVoltage = -1 },
		"no thermometer":         func(c *config.Config) { c.Thermometer.Addr = "" },
		"channel zero":           func(c *config.Config) { c.Supply.Channel = 0 },
		"negative poll":          func(c *config.Config) { c.Sweep.PollInterval = config.Duration(-time.Second) },
		"no output":              func(c *config.Config) { c.Output = "" },
		"non-positive step down": func(c *config.Config) { c.Sweep.StepDown = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := config.Default()
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	c := config.Default()
	c.Sweep.Ceiling = 280
	c.Sweep.RateWindow = config.Duration(4 * time.Second)

	buf := &bytes.Buffer{}
	if err := c.Write(buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "rate_window: 4s") {
		t.Errorf("durations should be written readable:\n%s", buf)
	}

	path := filepath.Join(t.TempDir(), config.FileName)
	if err := c.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	back, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if back != c {
		t.Errorf("expected %+v\ngot %+v", c, back)
	}
}
