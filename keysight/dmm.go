// Package keysight provides access to Keysight digital multimeters in Go
package keysight

import (
	"fmt"
	"time"

	"github.com/nasa-jpl/heaterchar/comm"
	"github.com/nasa-jpl/heaterchar/scpi"
	"github.com/nasa-jpl/heaterchar/temperature"
)

// DefaultThermocouple is the type of probe assumed when none is configured
const DefaultThermocouple = "K"

// DMM is a remote interface to the 34465A and other Truevolt DMMs with the same
// SCPI interface, used as a thermocouple thermometer
type DMM struct {
	scpi.SCPI
}

// NewDMM creates a new DMM instance.  The connection is not opened.
func NewDMM(addr string, serial bool, timeout time.Duration) *DMM {
	rd := comm.NewRemoteDevice(addr, serial, &comm.LineFeed)
	if timeout > 0 {
		rd.Timeout = timeout
	}
	return &DMM{scpi.SCPI{RemoteDevice: rd}}
}

// ConfigureThermocouple puts the meter in temperature mode for a thermocouple
// of the given type (J, K, T, ...)
func (d *DMM) ConfigureThermocouple(kind string) error {
	if kind == "" {
		kind = DefaultThermocouple
	}
	return d.Write(fmt.Sprintf("CONF:TEMP TC,%s", kind))
}

// ReadTemperature triggers a reading and returns it in Celsius
func (d *DMM) ReadTemperature() (temperature.Celsius, error) {
	f, err := d.ReadFloat("READ?")
	return temperature.Celsius(f), err
}
