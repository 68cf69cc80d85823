// Package serialport wraps the UWB device's serial line: connect at the
// fixed framing rate, read raw bytes, and issue a DTR-pulse device reset.
package serialport

import (
	"time"

	"go.bug.st/serial"

	"github.com/dynamicdevices/uwb-bridge/pkg/log"
)

const (
	baudRate       = 115200
	resetPulse     = 100 * time.Millisecond
	postOpenSettle = 500 * time.Millisecond
)

// Port is a thin wrapper over go.bug.st/serial.Port adding the
// device-specific reset sequence.
type Port struct {
	path string
	conn serial.Port
}

// Open connects to path at 115200 8N1, no flow control, with DTR held low.
func Open(path string) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	conn, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDTR(false); err != nil {
		conn.Close()
		return nil, err
	}

	time.Sleep(postOpenSettle)
	return &Port{path: path, conn: conn}, nil
}

func (p *Port) Close() error {
	return p.conn.Close()
}

// Read blocks until at least one byte is available or the port is closed.
func (p *Port) Read(buf []byte) (int, error) {
	return p.conn.Read(buf)
}

// Reset pulses DTR high for resetPulse then low again, matching the
// device's hardware reset line convention.
func (p *Port) Reset() error {
	log.Infof("serialport: resetting device on %s", p.path)
	if err := p.conn.SetDTR(true); err != nil {
		return err
	}
	time.Sleep(resetPulse)
	return p.conn.SetDTR(false)
}
