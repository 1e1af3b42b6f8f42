package kiss

import (
	"fmt"

	"go.bug.st/serial"
)

// probeSerial checks that the serial channel can be opened.
func probeSerial(path string) error {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open port %s: %w", path, err)
	}

	return port.Close()
}
