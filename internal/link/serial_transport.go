package link

import (
	"fmt"
	"time"

	serial "github.com/daedaluz/goserial"

	"github.com/agsys/atmodem/internal/sysconf"
)

// serialTransport wraps a real TTY device node as a link.Transport.
type serialTransport struct {
	port *serial.Port
}

// OpenSerial opens path at the given sysconf baud rate and puts the
// port in raw mode with no local echo or flow control, matching a
// point-to-point command UART.
func OpenSerial(path string, baud sysconf.UartBaud, readTimeout time.Duration) (Transport, error) {
	opts := serial.NewOptions().SetReadTimeout(readTimeout)
	port, err := serial.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("link: open %s: %w", path, err)
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, fmt.Errorf("link: set raw mode on %s: %w", path, err)
	}
	attrs, err := port.GetAttr()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("link: get attrs on %s: %w", path, err)
	}
	cflag, err := cflagForBaud(baud)
	if err != nil {
		port.Close()
		return nil, err
	}
	attrs.SetSpeed(cflag)
	if err := port.SetAttr(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("link: set attrs on %s: %w", path, err)
	}
	return &serialTransport{port: port}, nil
}

func cflagForBaud(baud sysconf.UartBaud) (serial.CFlag, error) {
	switch baud {
	case sysconf.Baud4800:
		return serial.B4800, nil
	case sysconf.Baud9600:
		return serial.B9600, nil
	case sysconf.Baud19200:
		return serial.B19200, nil
	case sysconf.Baud38400:
		return serial.B38400, nil
	default:
		return 0, fmt.Errorf("link: unsupported baud %d", baud)
	}
}

func (t *serialTransport) Read(p []byte) (int, error)  { return t.port.Read(p) }
func (t *serialTransport) Write(p []byte) (int, error) { return t.port.Write(p) }
func (t *serialTransport) Close() error                { return t.port.Close() }
