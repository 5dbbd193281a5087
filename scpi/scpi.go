// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nasa-jpl/heaterchar/comm"
)

// ErrMalformedResponse is wrapped by every ParseError
var ErrMalformedResponse = errors.New("malformed numeric response")

// ParseError is returned when a query response cannot be read as a number.
// It is distinct from a transport failure: the exchange with the device
// completed, only the payload was unusable.
type ParseError struct {
	Cmd      string
	Response string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q from %s", ErrMalformedResponse, e.Response, e.Cmd)
}

// Unwrap allows errors.Is(err, ErrMalformedResponse)
func (e *ParseError) Unwrap() error {
	return ErrMalformedResponse
}

// DeviceError is an error reported by the instrument's error queue
type DeviceError struct {
	Msg string
}

func (e DeviceError) Error() string {
	return "device reported error: " + e.Msg
}

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	*comm.RemoteDevice

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every write
	// to ensure the device accepted the input
	Handshaking bool
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	str := strings.Join(cmds, " ")
	if !s.Handshaking {
		return s.Send([]byte(str))
	}
	resp, err := s.SendRecv([]byte(str + ";:SYSTem:ERRor?"))
	if err != nil {
		return err
	}
	return checkErrorQueue(string(resp))
}

// ReadString sends a command to the device, then reads the response
// and returns it as a decoded ASCII string with surrounding space trimmed
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.SendRecv([]byte(strings.Join(cmds, " ")))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp)), nil
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value.  A response that is
// not a number yields 0 and a *ParseError.
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	f, err := ParseFloat(resp)
	if err != nil {
		return 0, &ParseError{Cmd: strings.Join(cmds, " "), Response: resp}
	}
	return f, nil
}

// Identify returns the *IDN? string of the device
func (s *SCPI) Identify() (string, error) {
	return s.ReadString("*IDN?")
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Send([]byte(str))
}

// ParseFloat parses an instrument numeric reply.  The format is independent
// of locale: '.' is the only decimal separator and forms such as
// "+2.345600E+01" are accepted.  Multi-value replies are not numbers, nor are
// NaN, Inf, hex floats, digit separators or values out of float64 range.
func ParseFloat(resp string) (float64, error) {
	resp = strings.TrimSpace(resp)
	if resp == "" || strings.IndexFunc(resp, notDecimal) >= 0 {
		return 0, strconv.ErrSyntax
	}
	f, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrRange
	}
	return f, nil
}

func notDecimal(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return false
	case r == '+', r == '-', r == '.', r == 'e', r == 'E':
		return false
	}
	return true
}

// checkErrorQueue inspects a SYST:ERR? reply like `+0,"No error"`
func checkErrorQueue(resp string) error {
	resp = strings.TrimSpace(resp)
	code := resp
	if i := strings.IndexByte(resp, ','); i >= 0 {
		code = resp[:i]
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(code, "+")); err == nil && n == 0 {
		return nil
	}
	return DeviceError{Msg: resp}
}
