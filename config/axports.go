package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/darkhz/bttnc/tnc"
)

// DefaultAxportsPath is the path of the AX.25 port configuration.
const DefaultAxportsPath = "/etc/ax25/axports"

// The link parameters of every generated port.
const (
	PortSpeed  = 1200
	PortPaclen = 255
	PortWindow = 2
)

// Port describes a single line of the axports file.
type Port struct {
	Name        string
	Callsign    string
	Speed       int
	Paclen      int
	Window      int
	Description string
}

// PortFor returns the port of the channel.
func PortFor(channel tnc.Channel, callsign string) Port {
	return Port{
		Name:        channel.Port(),
		Callsign:    callsign,
		Speed:       PortSpeed,
		Paclen:      PortPaclen,
		Window:      PortWindow,
		Description: "Bluetooth TNC (rfcomm" + channel.String() + ")",
	}
}

// String returns the axports line of the port.
func (p Port) String() string {
	return fmt.Sprintf("%s %s %d %d %d %s", p.Name, p.Callsign, p.Speed, p.Paclen, p.Window, p.Description)
}

// UpsertPort replaces the line of the port in the axports file, or appends it.
// Comments and other ports are kept as they are.
func UpsertPort(path string, port Port) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var (
		out      bytes.Buffer
		replaced bool
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()

		fields := strings.Fields(line)
		if len(fields) > 0 && !strings.HasPrefix(fields[0], "#") && fields[0] == port.Name {
			if replaced {
				continue
			}

			line, replaced = port.String(), true
		}

		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if !replaced {
		out.WriteString(port.String())
		out.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return os.Rename(tmp, path)
}
