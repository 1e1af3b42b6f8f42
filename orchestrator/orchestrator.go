// Package orchestrator takes a TNC from "not known" to "network interface up".
//
// Every connection starts from a clean channel: processes holding the channel
// are stopped and the channel is released before the device is paired, the
// serial channel is bound and KISS framing is attached.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/darkhz/bttnc/bluez"
	"github.com/darkhz/bttnc/errorkinds"
	"github.com/darkhz/bttnc/kiss"
	"github.com/darkhz/bttnc/pairing"
	"github.com/darkhz/bttnc/poll"
	"github.com/darkhz/bttnc/rfcomm"
	"github.com/darkhz/bttnc/tnc"
)

// Stage describes a stage of a connection.
type Stage string

// The different connection stages.
const (
	StageCleanup   Stage = "Cleaning up"
	StageConfigure Stage = "Configuring"
	StageScan      Stage = "Scanning"
	StagePairing   Stage = "Pairing"
	StageBind      Stage = "Binding serial channel"
	StageAttach    Stage = "Attaching KISS"
)

// Progress receives notifications about long running stages.
type Progress interface {
	// Start is called when a stage starts.
	Start(stage Stage)

	// Tick is called on every elapsed tick of a stage.
	Tick(stage Stage, tick int)
}

// Store persists the connection configuration.
type Store interface {
	// Callsign returns the persisted callsign, or an empty string.
	Callsign() string

	// Remember persists the target's device and callsign, and configures
	// the AX.25 port of its channel.
	Remember(target tnc.Target) error
}

// Prompter asks the operator for a callsign.
type Prompter func(ctx context.Context) (string, error)

// The default orchestrator timings.
const (
	DefaultMaxAttempts  = 3
	DefaultAttemptTicks = 10
	DefaultRetryPause   = 2 * time.Second
	DefaultSettlePause  = time.Second
)

// Options describes the orchestrator timings.
type Options struct {
	// MaxAttempts holds the maximum number of bind attempts.
	MaxAttempts int

	// AttemptTicks holds the number of ticks a single bind attempt may take.
	AttemptTicks int

	// RetryPause holds the pause between two bind attempts.
	RetryPause time.Duration

	// SettlePause holds the pause after the channel was cleaned up.
	SettlePause time.Duration

	// DiscoveryTicks holds the number of ticks a discovery scan may take.
	DiscoveryTicks int

	// Interval holds the duration of a single tick.
	Interval time.Duration
}

// Deps holds the collaborators of the orchestrator.
type Deps struct {
	Agent    bluez.Agent
	Bridge   rfcomm.Bridge
	Attacher kiss.Attacher
	Store    Store

	// Prompt is optional. If it is nil, a missing callsign is an error.
	Prompt Prompter

	// Progress is optional.
	Progress Progress

	Clock  poll.Clock
	Logger logrus.FieldLogger
}

// Orchestrator sequences the connection of a TNC.
type Orchestrator struct {
	agent    bluez.Agent
	bridge   rfcomm.Bridge
	attacher kiss.Attacher
	store    Store
	prompt   Prompter
	progress Progress

	clock poll.Clock
	log   logrus.FieldLogger
	opts  Options
}

// New returns a new orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.AttemptTicks <= 0 {
		opts.AttemptTicks = DefaultAttemptTicks
	}
	if opts.RetryPause <= 0 {
		opts.RetryPause = DefaultRetryPause
	}
	if opts.SettlePause <= 0 {
		opts.SettlePause = DefaultSettlePause
	}
	if opts.DiscoveryTicks <= 0 {
		opts.DiscoveryTicks = pairing.DefaultDiscoveryTicks
	}
	if opts.Interval <= 0 {
		opts.Interval = pairing.DefaultInterval
	}

	if deps.Clock == nil {
		deps.Clock = poll.System()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Progress == nil {
		deps.Progress = noProgress{}
	}

	return &Orchestrator{
		agent:    deps.Agent,
		bridge:   deps.Bridge,
		attacher: deps.Attacher,
		store:    deps.Store,
		prompt:   deps.Prompt,
		progress: deps.Progress,
		clock:    deps.Clock,
		log:      deps.Logger,
		opts:     opts,
	}
}

// Connect connects the target's device and brings up its channel.
//
// The channel is always cleaned up first. The device is paired only if it is
// not paired already, and skipPriorCleanup skips removing its stale pairing
// before that. The serial channel is then bound, and unless the target only
// requests the serial channel, KISS framing is attached to it.
func (o *Orchestrator) Connect(ctx context.Context, target tnc.Target, skipPriorCleanup bool) (tnc.Outcome, error) {
	log := o.log.WithFields(logrus.Fields{
		"address": target.Address,
		"channel": target.Channel.Path(),
	})

	if err := o.Halt(ctx, target.Channel); err != nil {
		return tnc.Outcome{}, err
	}

	o.progress.Start(StageConfigure)
	target, err := o.resolve(ctx, target)
	if err != nil {
		return tnc.Outcome{}, err
	}

	if err := o.ensurePaired(ctx, target.Address, skipPriorCleanup, log); err != nil {
		return tnc.Outcome{}, err
	}

	o.progress.Start(StageBind)
	if err := o.bindChannel(ctx, target.Address, target.Channel); err != nil {
		return tnc.Outcome{}, err
	}
	log.Info("Serial channel is bound")

	if target.SkipLinkAttach {
		return tnc.Outcome{Kind: tnc.SerialOnly, Channel: target.Channel}, nil
	}

	o.progress.Start(StageAttach)
	iface, err := o.attacher.Attach(ctx, target.Channel, target.Channel.Port())
	if err != nil {
		return tnc.Outcome{}, err
	}

	return tnc.Outcome{Kind: tnc.LinkUp, Channel: target.Channel, Interface: iface}, nil
}

// Halt stops every process holding the channel and releases it.
// Teardown failures are only logged, so halting an idle channel succeeds.
func (o *Orchestrator) Halt(ctx context.Context, channel tnc.Channel) error {
	log := o.log.WithField("channel", channel.Path())

	o.progress.Start(StageCleanup)

	if err := o.bridge.Terminate(ctx, channel); err != nil {
		log.WithError(err).Debug("Channel processes were not terminated")
	}

	if err := o.bridge.Release(ctx, channel); err != nil {
		log.WithError(err).Debug("Channel was not released")
	}

	return poll.Sleep(ctx, o.clock, o.opts.SettlePause)
}

// resolve fills in the callsign of the target and persists the target.
func (o *Orchestrator) resolve(ctx context.Context, target tnc.Target) (tnc.Target, error) {
	target.Callsign = strings.TrimSpace(target.Callsign)
	if target.Callsign == "" {
		target.Callsign = o.store.Callsign()
	}

	if target.Callsign == "" {
		if o.prompt == nil {
			return target, errorkinds.New(errorkinds.ErrCallsignRequired, nil)
		}

		callsign, err := o.prompt(ctx)
		if err != nil {
			return target, errorkinds.New(errorkinds.ErrCallsignRequired, err)
		}

		target.Callsign = strings.TrimSpace(callsign)
		if target.Callsign == "" {
			return target, errorkinds.New(errorkinds.ErrCallsignRequired, nil)
		}
	}

	if err := o.store.Remember(target); err != nil {
		return target, fmt.Errorf("save configuration: %w", err)
	}

	return target, nil
}

// ensurePaired runs a pairing session unless the device is already paired.
func (o *Orchestrator) ensurePaired(ctx context.Context, address tnc.Address, skipCleanup bool, log logrus.FieldLogger) error {
	device, err := o.agent.Info(ctx, address)
	if err == nil && device.Paired == tnc.Paired {
		log.Info("Device is already paired")
		return nil
	}

	o.progress.Start(StagePairing)

	session := pairing.NewSession(o.agent, o.clock, o.log, pairing.Options{
		Interval: o.opts.Interval,
		OnTick: func(_ pairing.State, tick int) {
			o.progress.Tick(StagePairing, tick)
		},
	})
	if err := session.Pair(ctx, address, o.opts.DiscoveryTicks, skipCleanup); err != nil {
		return err
	}

	log.Info("Device is paired")

	return nil
}

type noProgress struct{}

func (noProgress) Start(Stage)     {}
func (noProgress) Tick(Stage, int) {}
