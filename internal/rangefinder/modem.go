package rangefinder

import (
	"fmt"

	"go.bug.st/serial"
)

// ModemPort is the subset of serial.Port used to bit-bang a sensor through a
// USB-serial adapter's modem control lines.
type ModemPort interface {
	SetRTS(rts bool) error
	GetModemStatusBits() (*serial.ModemStatusBits, error)
	Close() error
}

// ModemLines wires a sensor to a serial adapter: RTS drives the trigger and
// CTS reads the echo. Adapters invert RTS/CTS at the connector, so Invert
// flips both lines when the sensor is wired directly without a level
// shifter.
type ModemLines struct {
	Port   ModemPort
	Invert bool
}

// OpenModemLines opens the serial device at path for modem line control.
func OpenModemLines(path string) (*ModemLines, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: 9600})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &ModemLines{Port: port}, nil
}

// Set drives the trigger line.
func (m *ModemLines) Set(high bool) error {
	return m.Port.SetRTS(high != m.Invert)
}

// Level reads the echo line.
func (m *ModemLines) Level() (bool, error) {
	bits, err := m.Port.GetModemStatusBits()
	if err != nil {
		return false, err
	}
	return bits.CTS != m.Invert, nil
}

// Close releases the serial device.
func (m *ModemLines) Close() error {
	return m.Port.Close()
}
