package bus

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Parity mirrors the five parity settings pyserial/go.bug.st/serial both
// support: none, even, odd, mark, space.
type Parity byte

const (
	ParityNone  Parity = 'N'
	ParityEven  Parity = 'E'
	ParityOdd   Parity = 'O'
	ParityMark  Parity = 'M'
	ParitySpace Parity = 'S'
)

// StopBits mirrors the three stop-bit counts the wire protocol allows.
type StopBits float64

const (
	OneStopBit           StopBits = 1
	OnePointFiveStopBits StopBits = 1.5
	TwoStopBits          StopBits = 2
)

// Config describes how to open and operate one shared serial port.
type Config struct {
	Port           string
	BaudRate       int
	Parity         Parity
	StopBits       StopBits
	ReadTimeout    time.Duration
	ReadChunkSize  int
	ReconnectDelay time.Duration
}

// DefaultConfig mirrors the Python SerialLinkConfig defaults.
func DefaultConfig(port string) Config {
	return Config{
		Port:           port,
		BaudRate:       115200,
		Parity:         ParityNone,
		StopBits:       OneStopBit,
		ReadTimeout:    100 * time.Millisecond,
		ReadChunkSize:  1,
		ReconnectDelay: 2 * time.Second,
	}
}

func (c Config) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: 8,
	}

	switch c.Parity {
	case ParityNone:
		mode.Parity = serial.NoParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityMark:
		mode.Parity = serial.MarkParity
	case ParitySpace:
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("bus: unknown parity %q", c.Parity)
	}

	switch c.StopBits {
	case OneStopBit:
		mode.StopBits = serial.OneStopBit
	case OnePointFiveStopBits:
		mode.StopBits = serial.OnePointFiveStopBits
	case TwoStopBits:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("bus: unknown stop bits %v", c.StopBits)
	}

	return mode, nil
}

func (c Config) chunkSize() int {
	if c.ReadChunkSize <= 0 {
		return 1
	}
	return c.ReadChunkSize
}
