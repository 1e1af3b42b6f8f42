package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/darkhz/bttnc/theme"
	"github.com/darkhz/bttnc/tnc"
)

// printDevices prints the compatible devices, followed by all devices.
func printDevices(w io.Writer, devices []tnc.Device) {
	compatible := tnc.FilterCompatible(devices)

	fmt.Fprintln(w, theme.ColorWrap(theme.ThemeHeader, fmt.Sprintf("Compatible devices (%d):", len(compatible))))
	printDeviceTable(w, compatible, theme.ThemeDeviceCompatible)

	fmt.Fprintln(w)

	fmt.Fprintln(w, theme.ColorWrap(theme.ThemeHeader, fmt.Sprintf("All devices (%d):", len(devices))))
	printDeviceTable(w, devices, theme.ThemeDevice)
}

// printDeviceTable prints the devices as an aligned table.
func printDeviceTable(w io.Writer, devices []tnc.Device, context theme.Context) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}

	nameWidth := runewidth.StringWidth("NAME")
	for _, device := range devices {
		nameWidth = max(nameWidth, runewidth.StringWidth(device.DisplayName()))
	}

	fmt.Fprintln(w, "  "+row("ADDRESS", "NAME", nameWidth, "STATE", "SERIAL"))

	for _, device := range devices {
		serial := ""
		if device.SerialPort {
			serial = "yes"
		}

		line := row(device.Address.String(), device.DisplayName(), nameWidth, device.Paired.String(), serial)

		rowContext := context
		if device.Paired == tnc.Paired {
			rowContext = theme.ThemeDevicePaired
		}

		fmt.Fprintln(w, "  "+theme.ColorWrap(rowContext, line))
	}
}

func row(address, name string, nameWidth int, state, serial string) string {
	columns := []string{
		runewidth.FillRight(address, 17),
		runewidth.FillRight(name, nameWidth),
		runewidth.FillRight(state, 10),
		serial,
	}

	return strings.TrimRight(strings.Join(columns, "  "), " ")
}
