package serial

import (
	"time"

	"github.com/tarm/serial"
)

// Port is the byte-stream surface of the CAN adapter's UART. The ingest
// and TXWriter depend on it rather than on tarm/serial so tests can feed
// canned reads and block writes.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens the adapter's serial device. The read timeout keeps the RX
// loop responsive to shutdown; a timed-out read reports n == 0.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}
