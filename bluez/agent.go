// Package bluez talks to the Bluetooth stack to discover, trust, pair and
// forget TNC devices.
package bluez

import (
	"context"
	"errors"

	"github.com/darkhz/bttnc/tnc"
)

// ErrDeviceNotFound is returned when the Bluetooth stack does not know a device.
var ErrDeviceNotFound = errors.New("device not found")

// Agent describes the Bluetooth stack operations required to pair a device.
//
// Trust and Pair return errors that carry an errorkinds kind, so that callers
// never have to inspect the stack's error text.
type Agent interface {
	// StartDiscovery puts the adapter in discovery mode. The returned scan
	// must be stopped by the caller.
	StartDiscovery(ctx context.Context) (Scan, error)

	// Devices returns all devices currently known to the adapter.
	Devices(ctx context.Context) ([]tnc.Device, error)

	// Info returns a single device. ErrDeviceNotFound is returned if the
	// device is not currently known to the adapter.
	Info(ctx context.Context, address tnc.Address) (tnc.Device, error)

	// Trust marks the device as trusted.
	Trust(ctx context.Context, address tnc.Address) error

	// Untrust removes the trusted mark from the device.
	Untrust(ctx context.Context, address tnc.Address) error

	// Pair pairs the device.
	Pair(ctx context.Context, address tnc.Address) error

	// Disconnect disconnects the device.
	Disconnect(ctx context.Context, address tnc.Address) error

	// Remove removes the device and its pairing from the adapter.
	Remove(ctx context.Context, address tnc.Address) error
}

// Scan is a running discovery scan.
type Scan interface {
	// Stop stops the scan. It is safe to call more than once.
	Stop() error
}
