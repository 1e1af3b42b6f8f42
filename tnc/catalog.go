package tnc

import "strings"

// KnownModels lists the name fragments of recognized Bluetooth TNCs and
// radios with a built-in Bluetooth KISS TNC.
var KnownModels = []string{
	"mobilinkd",
	"tnc",
	"picoaprs",
	"ninotnc",
	"kiss",
	"aprs",
	"th-d74",
	"th-d75",
	"vr-n76",
	"vr-n7500",
	"uv-pro",
	"ga-5wb",
	"btech",
	"radioddity",
}

// IsCompatible reports whether the device name matches a known model.
func IsCompatible(name string) bool {
	lower := strings.ToLower(name)

	for _, model := range KnownModels {
		if strings.Contains(lower, model) {
			return true
		}
	}

	return false
}

// FilterCompatible returns the devices whose names match a known model,
// in their original order.
func FilterCompatible(devices []Device) []Device {
	compatible := make([]Device, 0, len(devices))

	for _, device := range devices {
		if IsCompatible(device.Name) {
			compatible = append(compatible, device)
		}
	}

	return compatible
}
