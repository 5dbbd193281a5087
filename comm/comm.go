/*Package comm provides line-oriented communication with lab instruments.

Most usages of this package will boil down to:
	1.  create a RemoteDevice with NewRemoteDevice, giving the address and
		whether the link is RS-232 or TCP
	2.  Open it once; the connection is held for the life of the session
	3.  use SendRecv for queries and Send for commands
	4.  Close it when done

A minimal example for a meter that answers "READ?" with a number:

	rd := comm.NewRemoteDevice("10.0.0.34:5025", false, nil)
	if err := rd.Open(); err != nil {
		return err
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("READ?"))
	if err != nil {
		return err
	}
	return strconv.ParseFloat(string(resp), 64)

Every read and write carries a deadline of RemoteDevice.Timeout, so an
instrument that stops answering produces an error instead of blocking the
caller forever.
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const (
	// DefaultTimeout is used for dial, read and write when none is given
	DefaultTimeout = 3 * time.Second

	// DefaultBaud is the baud rate used for serial links when none is given
	DefaultBaud = 9600
)

var (
	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminators holds the transmit and receive termination bytes
type Terminators struct {
	Tx byte
	Rx byte
}

// LineFeed terminates both directions with \n, the SCPI-over-socket convention
var LineFeed = Terminators{Tx: '\n', Rx: '\n'}

// deadliner is satisfied by net.Conn
type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

/*RemoteDevice has an address and a single persistent connection.

If Serial is true, Addr is a port name (e.g. /dev/ttyUSB0 or COM3) and Baud
is used; otherwise Addr is a host:port pair.

RemoteDevice is safe for concurrent use; SendRecv holds a lock over the
full command/response exchange so responses are never interleaved.
*/
type RemoteDevice struct {
	sync.Mutex

	Addr    string
	Serial  bool
	Baud    int
	Timeout time.Duration
	Term    Terminators

	Conn io.ReadWriteCloser
	rdr  *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice instance.  If term is nil,
// LineFeed is used.
func NewRemoteDevice(addr string, serial bool, term *Terminators) *RemoteDevice {
	if term == nil {
		term = &LineFeed
	}
	return &RemoteDevice{
		Addr:    addr,
		Serial:  serial,
		Baud:    DefaultBaud,
		Timeout: DefaultTimeout,
		Term:    *term}
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	rd.Lock()
	defer rd.Unlock()
	if rd.Conn != nil {
		return nil
	}
	// exponential backoff; instruments coming out of a power cycle take a
	// moment before their socket server is up
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s: %w", rd.Addr, err)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.Serial {
		conn, err = serial.OpenPort(rd.SerialConf())
	} else {
		conn, err = TCPSetup(rd.Addr, rd.timeout())
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rdr = bufio.NewReader(conn)
	return nil
}

// SerialConf yields the serial configuration used when Serial is true
func (rd *RemoteDevice) SerialConf() *serial.Config {
	baud := rd.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	return &serial.Config{
		Name:        rd.Addr,
		Baud:        baud,
		ReadTimeout: rd.timeout()}
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout <= 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.Lock()
	defer rd.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.rdr = nil
	return err
}

// Send writes data to the remote after appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	rd.Lock()
	defer rd.Unlock()
	return rd.send(b)
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	if d, ok := rd.Conn.(deadliner); ok {
		d.SetWriteDeadline(time.Now().Add(rd.timeout()))
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, rd.Term.Tx)
	_, err := rd.Conn.Write(buf)
	return err
}

// Recv receives one line from the remote and strips the Rx terminator
// along with any carriage return before it
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.Lock()
	defer rd.Unlock()
	return rd.recv()
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if d, ok := rd.Conn.(deadliner); ok {
		d.SetReadDeadline(time.Now().Add(rd.timeout()))
	}
	term := rd.Term.Rx
	buf, err := rd.rdr.ReadBytes(term)
	if err != nil {
		if len(buf) > 0 && err == io.EOF {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	buf = bytes.TrimSuffix(buf, []byte{term})
	buf = bytes.TrimSuffix(buf, []byte{'\r'})
	return buf, nil
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.Lock()
	defer rd.Unlock()
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}
