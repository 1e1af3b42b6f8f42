package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/darkhz/bttnc/tnc"
)

const (
	// Command is the name of the rfcomm binary.
	Command = "rfcomm"

	// DefaultLogDir holds the bind diagnostics. Only root may write to it.
	DefaultLogDir = "/run/bttnc"
)

// Tool implements Bridge with the rfcomm(1) utility from BlueZ.
type Tool struct {
	// ServiceChannel holds the remote RFCOMM service channel.
	ServiceChannel int

	// LogDir holds the directory where bind diagnostics are written.
	LogDir string

	// ProcRoot holds the process filesystem root.
	ProcRoot string

	Logger logrus.FieldLogger
}

// NewTool returns a new rfcomm bridge.
func NewTool(logger logrus.FieldLogger) *Tool {
	return &Tool{
		ServiceChannel: 1,
		LogDir:         DefaultLogDir,
		ProcRoot:       "/proc",
		Logger:         logger,
	}
}

// LogPath returns the path of the bind diagnostics of the channel.
func (t *Tool) LogPath(channel tnc.Channel) string {
	return filepath.Join(t.LogDir, "bttnc-rfcomm"+channel.String()+".log")
}

// Bind starts `rfcomm connect` for the channel in the background.
func (t *Tool) Bind(_ context.Context, channel tnc.Channel, address tnc.Address) (Binder, error) {
	if err := os.MkdirAll(t.LogDir, 0o700); err != nil {
		return nil, fmt.Errorf("create bind log directory: %w", err)
	}

	logfile, err := os.OpenFile(t.LogPath(channel), os.O_CREATE|os.O_WRONLY|os.O_TRUNC|syscall.O_NOFOLLOW, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create bind log: %w", err)
	}

	defer logfile.Close()

	proc, err := StartProcess(
		logfile, Command,
		"connect", channel.Path(), address.String(), strconv.Itoa(t.ServiceChannel),
	)
	if err != nil {
		return nil, err
	}

	t.Logger.WithFields(logrus.Fields{
		"channel": channel.Path(),
		"address": address,
		"pid":     proc.Pid(),
	}).Debug("Bind process started")

	return proc, nil
}

// Bound reports whether the channel's serial device exists.
func (t *Tool) Bound(channel tnc.Channel) bool {
	_, err := os.Stat(channel.Path())

	return err == nil
}

// Diagnose reads the bind diagnostics of the channel.
func (t *Tool) Diagnose(channel tnc.Channel) Failure {
	data, err := os.ReadFile(t.LogPath(channel))
	if err != nil {
		return FailureNone
	}

	return ClassifyLog(string(data))
}

// Terminate sends SIGTERM to every process holding the channel's serial device.
func (t *Tool) Terminate(_ context.Context, channel tnc.Channel) error {
	pids, err := holders(t.ProcRoot, channel.Path())
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	var errs []error
	for _, pid := range pids {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			errs = append(errs, fmt.Errorf("terminate %d: %w", pid, err))
			continue
		}

		t.Logger.WithFields(logrus.Fields{"channel": channel.Path(), "pid": pid}).Debug("Terminated stale process")
	}

	return errors.Join(errs...)
}

// Release releases the channel with `rfcomm release`.
func (t *Tool) Release(ctx context.Context, channel tnc.Channel) error {
	out, err := exec.CommandContext(ctx, Command, "release", channel.String()).CombinedOutput()
	if err != nil {
		return fmt.Errorf("release %s: %w (%s)", channel.Path(), err, strings.TrimSpace(string(out)))
	}

	return nil
}
