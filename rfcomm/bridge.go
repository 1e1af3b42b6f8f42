// Package rfcomm binds Bluetooth serial port connections to local serial channels.
package rfcomm

import (
	"context"

	"github.com/darkhz/bttnc/tnc"
)

// Failure describes why a bind attempt did not produce the serial channel.
type Failure int

// The different bind failures.
const (
	// FailureNone means that no known failure was found; the attempt may be retried.
	FailureNone Failure = iota

	// FailureRefused means that the remote radio refused the connection.
	FailureRefused
)

// String returns the failure as string.
func (f Failure) String() string {
	if f == FailureRefused {
		return "connection refused"
	}

	return "none"
}

// Bridge describes the serial channel binding operations.
type Bridge interface {
	// Bind starts binding the channel to the device in the background.
	// The returned binder must be stopped by the caller if the channel
	// does not appear.
	Bind(ctx context.Context, channel tnc.Channel, address tnc.Address) (Binder, error)

	// Bound reports whether the channel's serial device exists.
	Bound(channel tnc.Channel) bool

	// Diagnose inspects the diagnostics of the last bind attempt on the channel.
	Diagnose(channel tnc.Channel) Failure

	// Terminate stops every process that holds the channel's serial device.
	Terminate(ctx context.Context, channel tnc.Channel) error

	// Release releases the channel.
	Release(ctx context.Context, channel tnc.Channel) error
}

// Binder is a running bind operation.
type Binder interface {
	// Stop terminates the bind operation. It is safe to call more than once.
	Stop() error
}
