package orchestrator

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/darkhz/bttnc/errorkinds"
	"github.com/darkhz/bttnc/pairing"
	"github.com/darkhz/bttnc/poll"
	"github.com/darkhz/bttnc/tnc"
)

// forgetLimit bounds the number of devices that are forgotten concurrently.
const forgetLimit = 4

// Selection describes the device chosen by AutoConnect.
type Selection struct {
	// Device holds the chosen device.
	Device tnc.Device

	// Candidates holds the number of compatible devices that were found.
	Candidates int

	// Outcome holds the outcome of the connection.
	Outcome tnc.Outcome
}

// AutoConnect forgets every compatible device the adapter knows, scans for
// compatible devices and connects the first one that was found.
func (o *Orchestrator) AutoConnect(ctx context.Context, channel tnc.Channel, callsign string, skipLinkAttach bool) (Selection, error) {
	var selection Selection

	o.progress.Start(StageCleanup)
	if err := o.forgetCompatible(ctx); err != nil {
		return selection, err
	}

	devices, err := o.scan(ctx, o.opts.DiscoveryTicks, func(seen []tnc.Device) bool {
		return len(tnc.FilterCompatible(seen)) > 0
	})
	if err != nil {
		return selection, err
	}

	compatible := tnc.FilterCompatible(devices)
	if len(compatible) == 0 {
		return selection, errorkinds.Newf(errorkinds.ErrDeviceNotDiscovered, "no compatible device was seen within %d seconds", o.opts.DiscoveryTicks)
	}

	selection.Device = compatible[0]
	selection.Candidates = len(compatible)

	o.log.WithFields(logrus.Fields{
		"address":    selection.Device.Address,
		"name":       selection.Device.Name,
		"candidates": selection.Candidates,
	}).Info("Compatible device selected")

	selection.Outcome, err = o.Connect(ctx, tnc.Target{
		Address:        selection.Device.Address,
		Channel:        channel,
		Callsign:       callsign,
		SkipLinkAttach: skipLinkAttach,
	}, true)

	return selection, err
}

// Discover scans for the given number of ticks and returns every device
// that was seen, in the order they were first seen.
func (o *Orchestrator) Discover(ctx context.Context, ticks int) ([]tnc.Device, error) {
	if ticks <= 0 {
		ticks = o.opts.DiscoveryTicks
	}

	return o.scan(ctx, ticks, func([]tnc.Device) bool { return false })
}

// forgetCompatible removes the pairing of every compatible device known to the adapter.
func (o *Orchestrator) forgetCompatible(ctx context.Context) error {
	devices, err := o.agent.Devices(ctx)
	if err != nil {
		o.log.WithError(err).Debug("Known devices were not listed")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(forgetLimit)

	for _, device := range tnc.FilterCompatible(devices) {
		g.Go(func() error {
			pairing.Forget(gctx, o.agent, device.Address, o.log.WithField("address", device.Address))

			return gctx.Err()
		})
	}

	return g.Wait()
}

// scan runs a discovery scan for up to ticks ticks, or until done reports
// true for the devices seen so far.
func (o *Orchestrator) scan(ctx context.Context, ticks int, done func(seen []tnc.Device) bool) ([]tnc.Device, error) {
	o.progress.Start(StageScan)

	scan, err := o.agent.StartDiscovery(ctx)
	if err != nil {
		return nil, errorkinds.New(errorkinds.ErrDeviceNotDiscovered, err)
	}
	defer func() {
		if err := scan.Stop(); err != nil {
			o.log.WithError(err).Debug("Scan was not stopped")
		}
	}()

	seen := newSightings()

	wait := poll.Every(o.clock, o.opts.Interval, ticks)
	wait.OnTick = func(tick int) { o.progress.Tick(StageScan, tick) }

	if _, err := wait.Until(ctx, func() bool {
		devices, err := o.agent.Devices(ctx)
		if err != nil {
			o.log.WithError(err).Debug("Devices were not listed")
			return false
		}

		seen.observe(devices)

		return done(seen.list())
	}); err != nil {
		return nil, err
	}

	return seen.list(), nil
}

// sightings records devices in the order they were first seen.
type sightings struct {
	order   []tnc.Address
	devices map[tnc.Address]tnc.Device
}

func newSightings() *sightings {
	return &sightings{devices: make(map[tnc.Address]tnc.Device)}
}

func (s *sightings) observe(devices []tnc.Device) {
	for _, device := range devices {
		if _, ok := s.devices[device.Address]; !ok {
			s.order = append(s.order, device.Address)
		}

		s.devices[device.Address] = device
	}
}

func (s *sightings) list() []tnc.Device {
	devices := make([]tnc.Device, 0, len(s.order))
	for _, address := range s.order {
		devices = append(devices, s.devices[address])
	}

	return devices
}
