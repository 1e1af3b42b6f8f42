// Package bluetest provides an in-memory Bluetooth stack for tests.
package bluetest

import (
	"context"
	"slices"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"github.com/darkhz/bttnc/bluez"
	"github.com/darkhz/bttnc/tnc"
)

// Agent is an in-memory bluez.Agent.
//
// Known holds the devices the stack has cached. Advertising devices are in
// range: while a scan runs, each query promotes them into Known, in order,
// once DiscoverAfter queries have been made during that scan. Devices are
// listed in the order they became known.
type Agent struct {
	mu sync.Mutex

	Known       map[tnc.Address]tnc.Device
	Advertising []tnc.Device

	DiscoverAfter int

	StartErr error
	TrustErr error
	PairErr  error

	calls    []string
	order    []tnc.Address
	scanning bool
	queries  int

	ScanStarts atomic.Int32
	ScanStops  atomic.Int32
}

// NewAgent returns a new agent with the known devices.
func NewAgent(known ...tnc.Device) *Agent {
	a := &Agent{Known: make(map[tnc.Address]tnc.Device)}
	for _, device := range known {
		a.Known[device.Address] = device
		a.order = append(a.order, device.Address)
	}

	return a
}

// Calls returns the recorded operations, in order.
func (a *Agent) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return slices.Clone(a.calls)
}

// Count returns the number of recorded operations with the given name.
func (a *Agent) Count(op string) int {
	var n int

	for _, call := range a.Calls() {
		if call == op || strings.HasPrefix(call, op+" ") {
			n++
		}
	}

	return n
}

func (a *Agent) record(op string, address tnc.Address) {
	a.calls = append(a.calls, strings.TrimSpace(op+" "+address.String()))
}

// promote moves advertising devices into the known devices during a scan.
func (a *Agent) promote() {
	if !a.scanning {
		return
	}

	a.queries++
	if a.queries <= a.DiscoverAfter {
		return
	}

	for _, device := range a.Advertising {
		if _, ok := a.Known[device.Address]; !ok {
			device.Paired = tnc.NotPaired
			a.Known[device.Address] = device
			a.order = append(a.order, device.Address)
		}
	}
}

// StartDiscovery starts a scan.
func (a *Agent) StartDiscovery(context.Context) (bluez.Scan, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("scan", "")
	if a.StartErr != nil {
		return nil, a.StartErr
	}

	a.scanning = true
	a.queries = 0
	a.ScanStarts.Inc()

	return &scan{agent: a}, nil
}

// Devices returns the known devices in the order they became known. Devices
// added to Known directly are listed last, sorted by address.
func (a *Agent) Devices(context.Context) ([]tnc.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.promote()

	var unordered []tnc.Address
	for address := range a.Known {
		if !slices.Contains(a.order, address) {
			unordered = append(unordered, address)
		}
	}
	slices.Sort(unordered)
	a.order = append(a.order, unordered...)

	devices := make([]tnc.Device, 0, len(a.Known))
	for _, address := range a.order {
		if device, ok := a.Known[address]; ok {
			devices = append(devices, device)
		}
	}

	return devices, nil
}

// Info returns a known device.
func (a *Agent) Info(_ context.Context, address tnc.Address) (tnc.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("info", address)
	a.promote()

	device, ok := a.Known[address]
	if !ok {
		return tnc.Device{Address: address}, bluez.ErrDeviceNotFound
	}

	return device, nil
}

// Trust records a trust operation.
func (a *Agent) Trust(_ context.Context, address tnc.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("trust", address)

	return a.TrustErr
}

// Untrust records an untrust operation.
func (a *Agent) Untrust(_ context.Context, address tnc.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("untrust", address)

	return nil
}

// Pair marks a known device as paired, unless PairErr is set.
func (a *Agent) Pair(_ context.Context, address tnc.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("pair", address)
	if a.PairErr != nil {
		return a.PairErr
	}

	if device, ok := a.Known[address]; ok {
		device.Paired = tnc.Paired
		a.Known[address] = device
	}

	return nil
}

// Disconnect records a disconnect operation.
func (a *Agent) Disconnect(_ context.Context, address tnc.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("disconnect", address)

	return nil
}

// Remove forgets a known device.
func (a *Agent) Remove(_ context.Context, address tnc.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("remove", address)
	delete(a.Known, address)
	a.order = slices.DeleteFunc(a.order, func(known tnc.Address) bool { return known == address })
	a.queries = 0

	return nil
}

type scan struct {
	agent *Agent
}

func (s *scan) Stop() error {
	s.agent.mu.Lock()
	defer s.agent.mu.Unlock()

	s.agent.record("stop-scan", "")
	s.agent.scanning = false
	s.agent.ScanStops.Inc()

	return nil
}
