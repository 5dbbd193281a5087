/*Package rigol provides access to Rigol DP800 series programmable DC power supplies.

Only a single channel is driven by a DP800 value; create one per channel if
more are needed.  All commands are sent over the instrument's raw socket
(port 5555) or its RS-232 port.
*/
package rigol

import (
	"fmt"
	"time"

	"github.com/nasa-jpl/heaterchar/comm"
	"github.com/nasa-jpl/heaterchar/scpi"
)

// DP800 is one channel of a DP811/DP821/DP831/DP832 supply
type DP800 struct {
	scpi.SCPI

	Channel int
}

// NewDP800 creates a new DP800 instance bound to channel.  The connection is
// not opened.
func NewDP800(addr string, serial bool, timeout time.Duration, channel int) *DP800 {
	rd := comm.NewRemoteDevice(addr, serial, &comm.LineFeed)
	if timeout > 0 {
		rd.Timeout = timeout
	}
	if channel < 1 {
		channel = 1
	}
	return &DP800{SCPI: scpi.SCPI{RemoteDevice: rd}, Channel: channel}
}

// SetVoltage sets the voltage setpoint of the channel in volts
func (p *DP800) SetVoltage(v float64) error {
	return p.Write(fmt.Sprintf("SOUR%d:VOLT %.2f", p.Channel, v))
}

// OutputOn enables the channel output
func (p *DP800) OutputOn() error {
	return p.Write(fmt.Sprintf("OUTP CH%d,ON", p.Channel))
}

// OutputOff disables the channel output
func (p *DP800) OutputOff() error {
	return p.Write(fmt.Sprintf("OUTP CH%d,OFF", p.Channel))
}

// MeasureCurrent returns the output current in amps
func (p *DP800) MeasureCurrent() (float64, error) {
	return p.ReadFloat(fmt.Sprintf("MEAS:CURR? CH%d", p.Channel))
}

// MeasureVoltage returns the output voltage in volts
func (p *DP800) MeasureVoltage() (float64, error) {
	return p.ReadFloat(fmt.Sprintf("MEAS:VOLT? CH%d", p.Channel))
}
