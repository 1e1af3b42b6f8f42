package errorkinds

import (
	"errors"
	"fmt"
)

// The different failure kinds of a connection attempt.
var (
	ErrDeviceNotDiscovered  = errors.New("device was not discovered")
	ErrDeviceUnavailable    = errors.New("device is not available")
	ErrTrustRejected        = errors.New("device trust was rejected")
	ErrAuthenticationFailed = errors.New("pairing authentication failed")
	ErrPairingRejected      = errors.New("pairing was rejected")
	ErrRadioNeedsRestart    = errors.New("radio refused the serial connection")
	ErrBindExhausted        = errors.New("serial channel could not be bound")
	ErrInterfaceNotCreated  = errors.New("network interface was not created")
	ErrCallsignRequired     = errors.New("callsign is required")
	ErrInvalidCallsign      = errors.New("invalid callsign")
	ErrMissingPrerequisites = errors.New("required tools are missing")
	ErrNotPrivileged        = errors.New("root privileges are required")
	ErrInvalidAddress       = errors.New("invalid Bluetooth address")
)

var hints = map[error]string{
	ErrDeviceNotDiscovered:  "Make sure the TNC is powered on, in range and in pairing mode, then try again.",
	ErrDeviceUnavailable:    "The Bluetooth stack cannot reach the device right now. Wait a few seconds and try again.",
	ErrTrustRejected:        "The Bluetooth stack refused to trust the device. Restart the bluetooth service and try again.",
	ErrAuthenticationFailed: "Pairing was not authorized on the radio. Re-enable pairing mode on the radio, confirm the request and try again.",
	ErrPairingRejected:      "The device rejected pairing. Put the radio back in pairing mode and try again.",
	ErrRadioNeedsRestart:    "The radio refused the serial connection. Power-cycle the radio and try again.",
	ErrBindExhausted:        "The serial channel never appeared. Check that the radio is in range and not connected elsewhere.",
	ErrInterfaceNotCreated:  "The AX.25 interface did not come up. Run with --halt before retrying.",
	ErrCallsignRequired:     "Pass a callsign with --callsign.",
	ErrInvalidCallsign:      "Use a callsign like N0CALL, optionally with an SSID from 0 to 15 (N0CALL-5).",
	ErrMissingPrerequisites: "Install the bluez and ax25-tools packages.",
	ErrNotPrivileged:        "Run the command as root (for example, with sudo).",
	ErrInvalidAddress:       "Use the 11:22:33:AA:BB:CC address format.",
}

// StageError describes a failed stage of a connection attempt.
type StageError struct {
	// Kind holds one of the error kinds above.
	Kind error

	// Err holds the underlying cause, if any.
	Err error
}

// New returns a new stage error of the given kind.
func New(kind, cause error) error {
	return &StageError{Kind: kind, Err: cause}
}

// Newf returns a new stage error of the given kind, with a formatted cause.
func Newf(kind error, format string, args ...any) error {
	return &StageError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Error returns the formatted error as string.
func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}

	return e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap unwraps both the kind and the cause of this error.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// Kind returns the error kind of err, or nil if it does not carry one.
func Kind(err error) error {
	for kind := range hints {
		if errors.Is(err, kind) {
			return kind
		}
	}

	return nil
}

// Hint returns a remediation hint for err.
func Hint(err error) string {
	kind := Kind(err)
	if kind == nil {
		return ""
	}

	return hints[kind]
}

// Retryable reports whether rerunning the same command can succeed without
// operator action on the radio.
func Retryable(err error) bool {
	switch Kind(err) {
	case ErrRadioNeedsRestart, ErrMissingPrerequisites, ErrNotPrivileged,
		ErrCallsignRequired, ErrInvalidCallsign, ErrInvalidAddress:
		return false
	}

	return true
}
