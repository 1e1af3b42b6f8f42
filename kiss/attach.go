// Package kiss attaches KISS framing to a bound serial channel and brings up
// the AX.25 network interface.
package kiss

import (
	"context"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/darkhz/bttnc/errorkinds"
	"github.com/darkhz/bttnc/poll"
	"github.com/darkhz/bttnc/tnc"
)

// The commands used to attach KISS framing.
const (
	AttachCommand = "kissattach"
	ParamsCommand = "kissparms"
)

// Attacher describes the link attach operation.
type Attacher interface {
	// Attach attaches KISS framing to the channel under the given AX.25 port
	// name, and returns the name of the created network interface.
	Attach(ctx context.Context, channel tnc.Channel, port string) (string, error)
}

// Params holds the KISS parameters set on the port once it is attached.
type Params struct {
	TxDelay  int `koanf:"txdelay"`
	Persist  int `koanf:"persist"`
	SlotTime int `koanf:"slottime"`
	TxTail   int `koanf:"txtail"`
}

// DefaultParams returns the default KISS parameters.
func DefaultParams() Params {
	return Params{TxDelay: 300, Persist: 63, SlotTime: 100, TxTail: 30}
}

// args returns the kissparms arguments for the port.
func (p Params) args(port string) []string {
	args := []string{"-p", port}

	for _, param := range []struct {
		flag  string
		value int
	}{
		{"-t", p.TxDelay},
		{"-r", p.Persist},
		{"-s", p.SlotTime},
		{"-l", p.TxTail},
	} {
		if param.value > 0 {
			args = append(args, param.flag, strconv.Itoa(param.value))
		}
	}

	return args
}

// Tool implements Attacher with kissattach(8) and kissparms(8).
type Tool struct {
	Params Params

	// VerifyTicks holds the number of seconds to wait for the interface.
	VerifyTicks int

	Clock  poll.Clock
	Logger logrus.FieldLogger

	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
	probe  func(path string) error
	exists func(name string) bool
}

// NewTool returns a new KISS attacher.
func NewTool(params Params, clock poll.Clock, logger logrus.FieldLogger) *Tool {
	return &Tool{
		Params:      params,
		VerifyTicks: 3,
		Clock:       clock,
		Logger:      logger,
		run:         runCommand,
		probe:       probeSerial,
		exists:      interfaceExists,
	}
}

// Attach probes the channel, attaches KISS framing to it, sets the KISS
// parameters and verifies that the expected network interface exists.
// There are no retries: a half attached channel must be halted first.
func (t *Tool) Attach(ctx context.Context, channel tnc.Channel, port string) (string, error) {
	log := t.Logger.WithFields(logrus.Fields{"channel": channel.Path(), "port": port})

	if err := t.probe(channel.Path()); err != nil {
		return "", errorkinds.New(errorkinds.ErrInterfaceNotCreated, err)
	}

	if out, err := t.run(ctx, AttachCommand, channel.Path(), port); err != nil {
		return "", errorkinds.Newf(errorkinds.ErrInterfaceNotCreated, "%s: %w (%s)", AttachCommand, err, strings.TrimSpace(string(out)))
	}
	log.Debug("KISS attached")

	if out, err := t.run(ctx, ParamsCommand, t.Params.args(port)...); err != nil {
		log.WithError(err).WithField("output", strings.TrimSpace(string(out))).Warn("KISS parameters were not set")
	}

	iface := channel.Interface()

	ok, err := poll.Every(t.Clock, time.Second, t.VerifyTicks).Until(ctx, func() bool {
		return t.exists(iface)
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errorkinds.Newf(errorkinds.ErrInterfaceNotCreated, "%s is not present", iface)
	}

	log.WithField("interface", iface).Info("Network interface is up")

	return iface, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func interfaceExists(name string) bool {
	_, err := net.InterfaceByName(name)

	return err == nil
}
