package tnc

import (
	"fmt"
	"strconv"
)

// Channel is the index of a local serial channel.
// It selects the serial device path, the AX.25 port name and the network interface.
type Channel int

// ParseChannel parses a channel index.
func ParseChannel(s string) (Channel, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid channel index: %s", s)
	}

	return Channel(n), nil
}

// Path returns the serial device path of the channel.
func (c Channel) Path() string {
	return "/dev/rfcomm" + strconv.Itoa(int(c))
}

// Port returns the AX.25 port name of the channel.
func (c Channel) Port() string {
	return "tnc" + strconv.Itoa(int(c))
}

// Interface returns the network interface name of the channel.
func (c Channel) Interface() string {
	return "ax" + strconv.Itoa(int(c))
}

// String returns the channel index as string.
func (c Channel) String() string {
	return strconv.Itoa(int(c))
}

// Target describes a single connection attempt.
type Target struct {
	Address  Address
	Channel  Channel
	Callsign string

	// SkipLinkAttach stops the connection once the serial channel is bound.
	SkipLinkAttach bool
}

// OutcomeKind describes how far a successful connection went.
type OutcomeKind int

// The different outcome kinds.
const (
	LinkUp OutcomeKind = iota
	SerialOnly
)

// Outcome describes the result of a successful connection.
type Outcome struct {
	Kind      OutcomeKind
	Channel   Channel
	Interface string
}

// String returns a description of the outcome.
func (o Outcome) String() string {
	if o.Kind == SerialOnly {
		return "serial channel " + o.Channel.Path() + " is ready"
	}

	return "interface " + o.Interface + " is up"
}
