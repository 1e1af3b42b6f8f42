package bluez

import (
	"errors"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/darkhz/bttnc/errorkinds"
)

// errorName returns the D-Bus error name carried by err, if any.
func errorName(err error) string {
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name
	}

	var pe *dbus.Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Name
	}

	return ""
}

// errorText returns the error name and message of err as a single string.
func errorText(err error) string {
	return errorName(err) + " " + err.Error()
}

// isUnavailable reports whether the stack could not reach the device.
func isUnavailable(err error) bool {
	text := errorText(err)

	for _, signal := range []string{
		"org.freedesktop.DBus.Error.UnknownObject",
		"org.freedesktop.DBus.Error.UnknownMethod",
		"org.bluez.Error.DoesNotExist",
		"org.bluez.Error.NotAvailable",
		"org.bluez.Error.NotReady",
		"not available",
	} {
		if strings.Contains(text, signal) {
			return true
		}
	}

	return false
}

// classifyTrustError converts a trust failure to an error kind.
func classifyTrustError(err error) error {
	if err == nil {
		return nil
	}

	if isUnavailable(err) {
		return errorkinds.New(errorkinds.ErrDeviceUnavailable, err)
	}

	return errorkinds.New(errorkinds.ErrTrustRejected, err)
}

// classifyPairError converts a pairing failure to an error kind.
// A device that is already paired is not a failure.
func classifyPairError(err error) error {
	if err == nil {
		return nil
	}

	text := errorText(err)
	switch {
	case strings.Contains(text, "org.bluez.Error.AlreadyExists"):
		return nil

	case strings.Contains(text, "Authentication"):
		return errorkinds.New(errorkinds.ErrAuthenticationFailed, err)
	}

	return errorkinds.New(errorkinds.ErrPairingRejected, err)
}
