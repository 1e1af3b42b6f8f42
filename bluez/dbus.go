package bluez

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/darkhz/bttnc/tnc"
)

const (
	busName          = "org.bluez"
	adapterIface     = "org.bluez.Adapter1"
	deviceIface      = "org.bluez.Device1"
	agentManIface    = "org.bluez.AgentManager1"
	propsIface       = "org.freedesktop.DBus.Properties"
	objManagerIface  = "org.freedesktop.DBus.ObjectManager"
	defaultPairLimit = 60 * time.Second
)

// SerialPortUUID is the Serial Port Profile service class UUID.
var SerialPortUUID = uuid.MustParse("00001101-0000-1000-8000-00805f9b34fb")

// Options describes the D-Bus agent options.
type Options struct {
	// Adapter holds the adapter name, for example "hci0".
	Adapter string

	// PinCode is supplied to devices that require legacy PIN pairing.
	PinCode string

	// PairTimeout bounds a single pairing call.
	PairTimeout time.Duration

	Logger logrus.FieldLogger
}

// DBusAgent implements Agent on top of the BlueZ D-Bus API.
type DBusAgent struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
	pairTimeout time.Duration
	log         logrus.FieldLogger
	agent       *pairAgent

	mu      sync.Mutex
	closed  bool
	cleanup []func()

	seen    map[dbus.ObjectPath]int
	sighted int
}

// NewDBusAgent connects to the system bus, checks that the adapter exists and
// registers a pairing agent that answers PIN and passkey requests.
func NewDBusAgent(opts Options) (*DBusAgent, error) {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if opts.PairTimeout <= 0 {
		opts.PairTimeout = defaultPairLimit
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	b := &DBusAgent{
		conn:        conn,
		adapterPath: dbus.ObjectPath("/org/bluez/" + opts.Adapter),
		pairTimeout: opts.PairTimeout,
		log:         opts.Logger.WithField("adapter", opts.Adapter),
	}
	b.cleanup = append(b.cleanup, func() { conn.Close() })

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		b.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	if !slices.Contains(names, busName) {
		b.Close()
		return nil, fmt.Errorf("%s not found on system bus, is bluetooth.service running?", busName)
	}

	if _, err := b.getProp(b.adapterPath, adapterIface, "Address"); err != nil {
		b.Close()
		return nil, fmt.Errorf("%s: The adapter does not exist", opts.Adapter)
	}

	if err := b.registerPairAgent(opts.PinCode); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

// Close unregisters the pairing agent and closes the bus connection.
// It is safe to call more than once.
func (b *DBusAgent) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cleanup := b.cleanup
	b.cleanup = nil
	b.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}

	return nil
}

// StartDiscovery starts a Bluetooth Classic discovery on the adapter.
func (b *DBusAgent) StartDiscovery(ctx context.Context) (Scan, error) {
	adapter := b.conn.Object(busName, b.adapterPath)

	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("bredr"),
	}
	if err := adapter.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		b.log.WithError(err).Debug("Discovery filter not applied")
	}

	if err := adapter.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		if !strings.Contains(errorText(err), "org.bluez.Error.InProgress") {
			return nil, fmt.Errorf("start discovery: %w", err)
		}
	}

	return &discovery{adapter: adapter, log: b.log}, nil
}

// Devices returns all devices known to the adapter, in the order this agent
// first saw them. Devices first seen in the same call are sorted by address.
func (b *DBusAgent) Devices(ctx context.Context) ([]tnc.Device, error) {
	objects, err := b.managedObjects(ctx)
	if err != nil {
		return nil, err
	}

	return b.sightDevices(objects), nil
}

func (b *DBusAgent) sightDevices(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant) []tnc.Device {
	prefix := string(b.adapterPath) + "/"
	paths := make(map[tnc.Address]dbus.ObjectPath, len(objects))
	devices := make([]tnc.Device, 0, len(objects))
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}

		if device, ok := decodeDevice(props); ok {
			devices = append(devices, device)
			paths[device.Address] = path
		}
	}

	slices.SortFunc(devices, func(a, b tnc.Device) int {
		return strings.Compare(a.Address.String(), b.Address.String())
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.seen == nil {
		b.seen = make(map[dbus.ObjectPath]int)
	}
	for path := range b.seen {
		if _, ok := objects[path]; !ok {
			delete(b.seen, path)
		}
	}
	for _, device := range devices {
		if _, ok := b.seen[paths[device.Address]]; !ok {
			b.sighted++
			b.seen[paths[device.Address]] = b.sighted
		}
	}

	slices.SortStableFunc(devices, func(x, y tnc.Device) int {
		return b.seen[paths[x.Address]] - b.seen[paths[y.Address]]
	})

	return devices
}

// Info returns the properties of a single device.
func (b *DBusAgent) Info(ctx context.Context, address tnc.Address) (tnc.Device, error) {
	var props map[string]dbus.Variant

	obj := b.conn.Object(busName, b.devicePath(address))
	if err := obj.CallWithContext(ctx, propsIface+".GetAll", 0, deviceIface).Store(&props); err != nil {
		if isUnavailable(err) {
			return tnc.Device{Address: address}, fmt.Errorf("%s: %w", address, ErrDeviceNotFound)
		}

		return tnc.Device{Address: address}, err
	}

	device, ok := decodeDevice(props)
	if !ok {
		return tnc.Device{Address: address}, fmt.Errorf("%s: %w", address, ErrDeviceNotFound)
	}

	return device, nil
}

// Trust marks the device as trusted.
func (b *DBusAgent) Trust(ctx context.Context, address tnc.Address) error {
	return classifyTrustError(b.setProp(ctx, b.devicePath(address), deviceIface, "Trusted", true))
}

// Untrust removes the trusted mark from the device.
func (b *DBusAgent) Untrust(ctx context.Context, address tnc.Address) error {
	return b.setProp(ctx, b.devicePath(address), deviceIface, "Trusted", false)
}

// Pair pairs the device. While the call runs, the pairing agent registered
// by NewDBusAgent answers authentication requests from this device only.
func (b *DBusAgent) Pair(ctx context.Context, address tnc.Address) error {
	ctx, cancel := context.WithTimeout(ctx, b.pairTimeout)
	defer cancel()

	path := b.devicePath(address)
	if b.agent != nil {
		b.agent.target.Store(string(path))
		defer b.agent.target.Store("")
	}

	obj := b.conn.Object(busName, path)

	err := obj.CallWithContext(ctx, deviceIface+".Pair", 0).Err
	if err != nil && ctx.Err() != nil {
		if cerr := obj.Call(deviceIface+".CancelPairing", 0).Err; cerr != nil {
			b.log.WithError(cerr).Debug("Pairing was not cancelled")
		}
	}

	return classifyPairError(err)
}

// Disconnect disconnects the device.
func (b *DBusAgent) Disconnect(ctx context.Context, address tnc.Address) error {
	return b.conn.Object(busName, b.devicePath(address)).CallWithContext(ctx, deviceIface+".Disconnect", 0).Err
}

// Remove removes the device from the adapter.
func (b *DBusAgent) Remove(ctx context.Context, address tnc.Address) error {
	adapter := b.conn.Object(busName, b.adapterPath)

	return adapter.CallWithContext(ctx, adapterIface+".RemoveDevice", 0, b.devicePath(address)).Err
}

// devicePath converts an address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func (b *DBusAgent) devicePath(address tnc.Address) dbus.ObjectPath {
	return dbus.ObjectPath(string(b.adapterPath) + "/dev_" + strings.ReplaceAll(address.String(), ":", "_"))
}

func (b *DBusAgent) managedObjects(ctx context.Context) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

	call := b.conn.Object(busName, "/").CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("get managed objects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("decode managed objects: %w", err)
	}

	return objects, nil
}

func (b *DBusAgent) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant

	err := b.conn.Object(busName, path).Call(propsIface+".Get", 0, iface, prop).Store(&v)

	return v, err
}

func (b *DBusAgent) setProp(ctx context.Context, path dbus.ObjectPath, iface, prop string, val any) error {
	return b.conn.Object(busName, path).CallWithContext(ctx, propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

// discovery is a running adapter discovery.
type discovery struct {
	adapter dbus.BusObject
	stopped atomic.Bool
	log     logrus.FieldLogger
}

// Stop stops the discovery once.
func (d *discovery) Stop() error {
	if !d.stopped.CompareAndSwap(false, true) {
		return nil
	}

	if err := d.adapter.Call(adapterIface+".StopDiscovery", 0).Err; err != nil {
		d.log.WithError(err).Debug("Discovery was not stopped")
		return err
	}

	return nil
}

// decodeDevice converts Device1 properties to a device.
func decodeDevice(props map[string]dbus.Variant) (tnc.Device, bool) {
	var device tnc.Device

	addr, ok := variantValue[string](props, "Address")
	if !ok {
		return device, false
	}

	address, err := tnc.ParseAddress(addr)
	if err != nil {
		return device, false
	}
	device.Address = address

	device.Name, _ = variantValue[string](props, "Name")
	if device.Name == "" {
		device.Name, _ = variantValue[string](props, "Alias")
	}

	if paired, ok := variantValue[bool](props, "Paired"); ok {
		device.Paired = tnc.PairedStateOf(paired)
	}

	device.RSSI, _ = variantValue[int16](props, "RSSI")

	uuids, _ := variantValue[[]string](props, "UUIDs")
	for _, id := range uuids {
		if parsed, err := uuid.Parse(id); err == nil && parsed == SerialPortUUID {
			device.SerialPort = true
			break
		}
	}

	return device, true
}

// variantValue returns the typed value of a property.
func variantValue[T any](props map[string]dbus.Variant, name string) (T, bool) {
	var zero T

	v, ok := props[name]
	if !ok {
		return zero, false
	}

	val, ok := v.Value().(T)

	return val, ok
}
