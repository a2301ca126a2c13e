package feed

import (
	"bufio"
	"context"

	"go.bug.st/serial"
)

// SerialPort reads the controller's line protocol from a serial device.
type SerialPort struct {
	port  serial.Port
	lines chan string
}

// NewSerialPort opens the device at 115200 8N1.
func NewSerialPort(device string) (*SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: 1,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, err
	}
	return &SerialPort{port: port, lines: make(chan string)}, nil
}

// Lines returns the channel of raw lines read from the device.
func (p *SerialPort) Lines() <-chan string { return p.lines }

// Close closes the serial device.
func (p *SerialPort) Close() error { return p.port.Close() }

// Monitor reads from the serial port and forwards lines until the context
// is done or the device errors out.
func (p *SerialPort) Monitor(ctx context.Context) error {
	defer p.Close()
	scan := bufio.NewScanner(p.port)
	for scan.Scan() {
		select {
		case p.lines <- scan.Text():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scan.Err(); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}
