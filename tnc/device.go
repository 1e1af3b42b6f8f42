// Package tnc describes Bluetooth TNC devices and the connection targets built from them.
package tnc

import (
	"net"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/darkhz/bttnc/errorkinds"
)

// Address is a Bluetooth hardware address in the 11:22:33:AA:BB:CC format.
type Address string

// ParseAddress parses and normalizes a colon-separated Bluetooth address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 17 || strings.Count(s, ":") != 5 {
		return "", errorkinds.Newf(errorkinds.ErrInvalidAddress, "%q", s)
	}

	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return "", errorkinds.Newf(errorkinds.ErrInvalidAddress, "%q", s)
	}

	return Address(strings.ToUpper(hw.String())), nil
}

// String returns the address as string.
func (a Address) String() string {
	return string(a)
}

// IsNil reports whether the address is empty.
func (a Address) IsNil() bool {
	return a == ""
}

// PairedState describes whether the Bluetooth stack holds a pairing for a device.
type PairedState int

// The different pairing states.
const (
	PairedUnknown PairedState = iota
	Paired
	NotPaired
)

var titleCase = cases.Title(language.English)

// String returns the pairing state as a label.
func (p PairedState) String() string {
	switch p {
	case Paired:
		return titleCase.String("paired")

	case NotPaired:
		return titleCase.String("not paired")
	}

	return titleCase.String("unknown")
}

// PairedStateOf converts a boolean pairing property to a pairing state.
func PairedStateOf(paired bool) PairedState {
	if paired {
		return Paired
	}

	return NotPaired
}

// Device holds the information of a device as reported by the Bluetooth stack.
type Device struct {
	Address Address
	Name    string
	Paired  PairedState

	// SerialPort indicates that the device advertises the Serial Port Profile.
	SerialPort bool

	// RSSI holds the last known signal strength, or 0 if unknown.
	RSSI int16
}

// DisplayName returns the device name, or its address if it has no name.
func (d Device) DisplayName() string {
	if d.Name == "" {
		return d.Address.String()
	}

	return d.Name
}
