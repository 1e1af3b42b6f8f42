package bluez

import (
	"fmt"
	"strconv"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const (
	agentIface      = "org.bluez.Agent1"
	agentPath       = dbus.ObjectPath("/org/darkhz/bttnc/agent")
	agentCapability = "KeyboardDisplay"
	defaultPinCode  = "1234"
)

// pairAgent implements org.bluez.Agent1. TNCs have no input method, so
// requests from the device being paired are answered with the configured PIN
// or accepted outright. Requests from any other device are rejected.
type pairAgent struct {
	pin    string
	target atomic.String
	log    logrus.FieldLogger
}

func rejected(reason string) *dbus.Error {
	return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []any{reason}}
}

// check rejects requests from devices that are not being paired.
func (a *pairAgent) check(device dbus.ObjectPath) *dbus.Error {
	if target := a.target.Load(); target == "" || dbus.ObjectPath(target) != device {
		a.log.WithField("device", device).Warn("Rejected request from a device that is not being paired")
		return rejected("Device is not being paired")
	}

	return nil
}

// registerPairAgent exports the pairing agent and makes it the default agent.
func (b *DBusAgent) registerPairAgent(pin string) error {
	if pin == "" {
		pin = defaultPinCode
	}

	agent := &pairAgent{pin: pin, log: b.log.WithField("agent", agentPath)}
	b.agent = agent
	if err := b.conn.Export(agent, agentPath, agentIface); err != nil {
		return fmt.Errorf("export pairing agent: %w", err)
	}

	manager := b.conn.Object(busName, "/org/bluez")
	if err := manager.Call(agentManIface+".RegisterAgent", 0, agentPath, agentCapability).Err; err != nil {
		b.conn.Export(nil, agentPath, agentIface)
		return fmt.Errorf("register pairing agent: %w", err)
	}

	b.cleanup = append(b.cleanup, func() {
		manager.Call(agentManIface+".UnregisterAgent", 0, agentPath)
		b.conn.Export(nil, agentPath, agentIface)
	})

	if err := manager.Call(agentManIface+".RequestDefaultAgent", 0, agentPath).Err; err != nil {
		b.log.WithError(err).Debug("Pairing agent is not the default agent")
	}

	return nil
}

// Release is called when the agent is unregistered.
func (a *pairAgent) Release() *dbus.Error {
	return nil
}

// RequestPinCode supplies the PIN for legacy pairing.
func (a *pairAgent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	if err := a.check(device); err != nil {
		return "", err
	}

	a.log.WithField("device", device).Debug("PIN code requested")

	return a.pin, nil
}

// DisplayPinCode is called when the remote device expects the PIN to be shown.
func (a *pairAgent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	a.log.WithFields(logrus.Fields{"device": device, "pin": pincode}).Info("Enter the PIN on the device")

	return nil
}

// RequestPasskey supplies the PIN as a numeric passkey.
func (a *pairAgent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	if err := a.check(device); err != nil {
		return 0, err
	}

	passkey, err := strconv.ParseUint(a.pin, 10, 32)
	if err != nil {
		return 0, rejected("PIN is not numeric")
	}

	a.log.WithField("device", device).Debug("Passkey requested")

	return uint32(passkey), nil
}

// DisplayPasskey is called when the remote device expects the passkey to be shown.
func (a *pairAgent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, _ uint16) *dbus.Error {
	a.log.WithFields(logrus.Fields{"device": device, "passkey": fmt.Sprintf("%06d", passkey)}).Info("Enter the passkey on the device")

	return nil
}

// RequestConfirmation accepts the passkey shown by the remote device.
func (a *pairAgent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	if err := a.check(device); err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{"device": device, "passkey": fmt.Sprintf("%06d", passkey)}).Debug("Passkey confirmed")

	return nil
}

// RequestAuthorization accepts a pairing request from the device being paired.
func (a *pairAgent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	return a.check(device)
}

// AuthorizeService rejects incoming service connections.
func (a *pairAgent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	a.log.WithFields(logrus.Fields{"device": device, "uuid": uuid}).Warn("Rejected service authorization")

	return rejected("Service authorization is not supported")
}

// Cancel is called when a request was cancelled by the stack.
func (a *pairAgent) Cancel() *dbus.Error {
	a.log.Debug("Pairing request cancelled")

	return nil
}
