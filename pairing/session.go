// Package pairing implements the procedure that takes a device from
// "not known" to "paired": discover, clean stale pairing, trust, pair.
package pairing

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/darkhz/bttnc/bluez"
	"github.com/darkhz/bttnc/errorkinds"
	"github.com/darkhz/bttnc/poll"
	"github.com/darkhz/bttnc/tnc"
)

// State describes the state of a pairing session.
type State int

// The different pairing session states.
const (
	Idle State = iota
	Scanning
	Discovered
	Cleaned
	Trusted
	Paired
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:       "idle",
	Scanning:   "scanning",
	Discovered: "discovered",
	Cleaned:    "cleaned",
	Trusted:    "trusted",
	Paired:     "paired",
	Done:       "done",
	Failed:     "failed",
}

// String returns the state as string.
func (s State) String() string {
	return stateNames[s]
}

// The default session timings.
const (
	DefaultDiscoveryTicks = 15
	DefaultRecheckTicks   = 10
	DefaultInterval       = time.Second
)

// Options describes the session timings.
type Options struct {
	// RecheckTicks holds the number of ticks to wait for the device to
	// reappear after its stale pairing was removed.
	RecheckTicks int

	// Interval holds the duration of a single tick.
	Interval time.Duration

	// OnTick, if set, is called on every elapsed tick of a wait.
	OnTick func(state State, tick int)
}

// Session is a single pairing attempt.
type Session struct {
	agent bluez.Agent
	clock poll.Clock
	log   logrus.FieldLogger
	opts  Options

	state       State
	failedStage State
}

// NewSession returns a new pairing session.
func NewSession(agent bluez.Agent, clock poll.Clock, logger logrus.FieldLogger, opts Options) *Session {
	if opts.RecheckTicks <= 0 {
		opts.RecheckTicks = DefaultRecheckTicks
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	return &Session{
		agent: agent,
		clock: clock,
		log:   logger,
		opts:  opts,
	}
}

// State returns the current state of the session.
func (s *Session) State() State {
	return s.state
}

// FailedStage returns the stage the session failed in, if it failed.
func (s *Session) FailedStage() State {
	return s.failedStage
}

// Pair discovers, cleans, trusts and pairs the device, in that order.
// The discovery scan is stopped once the pair call returns, and on every
// failure path before that.
func (s *Session) Pair(ctx context.Context, address tnc.Address, discoveryTicks int, skipCleanup bool) error {
	if discoveryTicks <= 0 {
		discoveryTicks = DefaultDiscoveryTicks
	}

	log := s.log.WithField("address", address)

	s.enter(Scanning, log)

	scan, err := s.agent.StartDiscovery(ctx)
	if err != nil {
		return s.fail(errorkinds.New(errorkinds.ErrDeviceNotDiscovered, err))
	}

	stopScan := sync.OnceFunc(func() {
		if err := scan.Stop(); err != nil {
			log.WithError(err).Debug("Scan was not stopped")
		}
	})
	defer stopScan()

	visible, err := s.waitVisible(ctx, address, discoveryTicks)
	if err != nil {
		return s.fail(err)
	}
	if !visible {
		return s.fail(errorkinds.Newf(errorkinds.ErrDeviceNotDiscovered, "%s was not seen within %d seconds", address, discoveryTicks))
	}
	s.enter(Discovered, log)

	if !skipCleanup {
		Forget(ctx, s.agent, address, log)

		visible, err := s.waitVisible(ctx, address, s.opts.RecheckTicks)
		if err != nil {
			return s.fail(err)
		}
		if !visible {
			log.Warn("Device did not reappear after cleanup, continuing")
		}

		s.enter(Cleaned, log)
	}

	if err := s.agent.Trust(ctx, address); err != nil {
		return s.fail(classify(err, errorkinds.ErrTrustRejected))
	}
	s.enter(Trusted, log)

	err = s.agent.Pair(ctx, address)
	stopScan()
	if err != nil {
		return s.fail(classify(err, errorkinds.ErrPairingRejected))
	}

	s.enter(Paired, log)
	s.enter(Done, log)

	return nil
}

// Forget disconnects, untrusts and removes the device. These are best-effort
// operations and their failures are only logged.
func Forget(ctx context.Context, agent bluez.Agent, address tnc.Address, log logrus.FieldLogger) {
	for _, op := range []struct {
		name string
		fn   func(context.Context, tnc.Address) error
	}{
		{"disconnect", agent.Disconnect},
		{"untrust", agent.Untrust},
		{"remove", agent.Remove},
	} {
		if err := op.fn(ctx, address); err != nil {
			log.WithError(err).WithField("operation", op.name).Debug("Cleanup operation failed")
		}
	}
}

// waitVisible waits for the device to be known to the Bluetooth stack.
func (s *Session) waitVisible(ctx context.Context, address tnc.Address, ticks int) (bool, error) {
	state := s.state

	w := poll.Every(s.clock, s.opts.Interval, ticks)
	if s.opts.OnTick != nil {
		w.OnTick = func(tick int) { s.opts.OnTick(state, tick) }
	}

	return w.Until(ctx, func() bool {
		_, err := s.agent.Info(ctx, address)
		return err == nil
	})
}

func (s *Session) enter(state State, log logrus.FieldLogger) {
	s.state = state

	log.WithField("state", state).Debug("Pairing session state changed")
}

func (s *Session) fail(err error) error {
	s.failedStage = s.state
	s.state = Failed

	s.log.WithError(err).WithField("stage", s.failedStage).Debug("Pairing session failed")

	return err
}

// classify ensures that err carries an error kind, using fallback if it does not.
func classify(err, fallback error) error {
	if errorkinds.Kind(err) != nil {
		return err
	}

	return errorkinds.New(fallback, err)
}
